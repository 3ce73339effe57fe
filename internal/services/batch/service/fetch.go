package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"cardbatch/internal/adapters/objectstore"
	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
)

// lines longer than this are counted malformed and skipped
const maxResultLine = 16 << 20

// Fetch downloads and parses every .jsonl blob of a job's output.
// outputDir is the provider reported directory; the persisted prefix is used when it is empty
func (s *Service) Fetch(ctx context.Context, job domain.Job, outputDir string) ([]domain.ResultRecord, int, error) {
	log := logger.NamedC(ctx, "fetcher")
	loc := outputDir
	if loc == "" {
		loc = job.OutputPrefix
	}
	if loc == "" {
		return nil, 0, perr.NotFoundf("job %s has no output location", job.ID)
	}
	bucket, prefix, err := objectstore.ParseURI(loc)
	if err != nil {
		return nil, 0, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	objs, err := s.Store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, 0, perr.WithOp(err, "list job output")
	}
	var names []string
	for _, o := range objs {
		if strings.HasSuffix(o.Name, ".jsonl") {
			names = append(names, o.Name)
		}
	}
	if len(names) == 0 {
		return nil, 0, perr.NotFoundf("no result files under %s", loc)
	}
	sort.Strings(names)

	var (
		records   []domain.ResultRecord
		malformed int
	)
	for _, name := range names {
		uri := objectstore.URI(bucket, name)
		data, err := s.Store.Get(ctx, uri)
		if err != nil {
			return nil, 0, perr.WithOp(err, "download "+uri)
		}
		recs, bad := ParseRecords(data, uri)
		for _, b := range bad {
			log.Warn().Str("file", uri).Int("line", b).Msg("skipping malformed result line")
		}
		records = append(records, recs...)
		malformed += len(bad)
	}
	log.Info().Int("files", len(names)).Int("records", len(records)).Int("malformed", malformed).Msg("results fetched")
	return records, malformed, nil
}

type resultLine struct {
	CustomID      *string                  `json:"customId"`
	CustomIDSnake *string                  `json:"custom_id"`
	Key           *string                  `json:"key"`
	Response      *domain.GenerateResponse `json:"response"`
	Status        json.RawMessage          `json:"status"`
	Error         json.RawMessage          `json:"error"`
}

// ParseRecords parses newline-delimited result lines from one file.
// It returns the usable records and the 1-based numbers of malformed lines
func ParseRecords(data []byte, source string) ([]domain.ResultRecord, []int) {
	var (
		out []domain.ResultRecord
		bad []int
	)
	r := bufio.NewReader(bytes.NewReader(data))
	n := 0
	for {
		raw, err := r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			break
		}
		n++
		if len(raw) > maxResultLine {
			bad = append(bad, n)
			continue
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		var rl resultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			bad = append(bad, n)
			continue
		}
		rec := domain.ResultRecord{Response: rl.Response, Source: source, Line: n}
		for _, id := range []*string{rl.CustomID, rl.CustomIDSnake, rl.Key} {
			if id != nil && strings.TrimSpace(*id) != "" {
				rec.CustomID = strings.TrimSpace(*id)
				rec.HasCustomID = true
				break
			}
		}
		rec.ErrorStatus = errorText(rl.Status)
		if rec.ErrorStatus == "" {
			rec.ErrorStatus = errorText(rl.Error)
		}
		if rec.Malformed() {
			bad = append(bad, n)
			continue
		}
		out = append(out, rec)
	}
	return out, bad
}

// errorText flattens a status or error field; empty strings, null and {} mean no error
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		if len(obj) == 0 {
			return ""
		}
		if m, ok := obj["message"].(string); ok && m != "" {
			return m
		}
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) == nil {
		return buf.String()
	}
	return string(raw)
}
