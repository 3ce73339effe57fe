package service

import (
	"bytes"
	"context"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
)

// InputPrefix is the object key prefix for staged request files
const InputPrefix = "batch_inputs/"

// InputKey names the staged input for a submission timestamp
func InputKey(ts string) string { return InputPrefix + "batch_input_" + ts + ".jsonl" }

// Stage uploads reqs as one newline-delimited file
func (s *Service) Stage(ctx context.Context, reqs []domain.BatchRequest, ts string) (domain.StagedInput, error) {
	if len(reqs) == 0 {
		return domain.StagedInput{}, perr.Submissionf("nothing to submit: every image was skipped")
	}
	var buf bytes.Buffer
	for _, r := range reqs {
		line, err := EncodeRequestLine(r)
		if err != nil {
			return domain.StagedInput{}, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	size := buf.Len()
	uri, err := s.Store.Put(ctx, s.Cfg.Bucket, InputKey(ts), "application/jsonl", &buf)
	if err != nil {
		return domain.StagedInput{}, perr.WithOp(err, "stage batch input")
	}
	logger.NamedC(ctx, "staging").Info().Str("uri", uri).Int("requests", len(reqs)).Int("bytes", size).Msg("batch input staged")
	return domain.StagedInput{URI: uri, Count: len(reqs)}, nil
}
