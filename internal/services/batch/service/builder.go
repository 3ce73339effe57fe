package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
	"cardbatch/internal/services/batch/guardrails"

	"golang.org/x/sync/errgroup"
)

// ImagePrefix is the object key prefix for uploaded images
const ImagePrefix = "images/"

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// MimeType classifies a filename by extension; unknown extensions are sent as jpeg
func MimeType(filename string) string {
	if m, ok := mimeByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	return "image/jpeg"
}

// Built is the outcome of one build pass
type Built struct {
	Requests []domain.BatchRequest
	// Uploaded are the images behind Requests, same order
	Uploaded []domain.ImageRef
	Skipped  int
}

// Build uploads every image and returns one request per successful upload, in input order.
// A failed upload skips that image only
func (s *Service) Build(ctx context.Context, images []domain.ImageRef) (Built, error) {
	log := logger.NamedC(ctx, "builder")
	reqs := make([]*domain.BatchRequest, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Cfg.UploadWorkers)
	for i, im := range images {
		g.Go(func() error {
			uctx, cancel := guardrails.ForUpload(gctx, s.Cfg.Timeouts)
			defer cancel()

			mime := MimeType(im.Filename)
			key := ImagePrefix + s.newID() + "-" + im.Filename
			uri, err := s.Store.PutFile(uctx, s.Cfg.Bucket, key, im.Path, mime)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn().Err(err).Str("image", im.Filename).Msg("upload failed; skipping image")
				return nil
			}
			reqs[i] = &domain.BatchRequest{
				CustomID: im.Filename,
				Prompt:   s.Cfg.Prompt,
				FileURI:  uri,
				MimeType: mime,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Built{}, err
	}

	var out Built
	for i, r := range reqs {
		if r == nil {
			out.Skipped++
			continue
		}
		out.Requests = append(out.Requests, *r)
		out.Uploaded = append(out.Uploaded, images[i])
	}
	log.Info().Int("requests", len(out.Requests)).Int("skipped", out.Skipped).Msg("batch requests built")
	return out, nil
}

type requestLine struct {
	CustomID string                 `json:"customId"`
	Request  domain.GenerateRequest `json:"request"`
}

// EncodeRequestLine serializes one request as a single JSON line without the trailing newline
func EncodeRequestLine(r domain.BatchRequest) ([]byte, error) {
	b, err := json.Marshal(requestLine{
		CustomID: r.CustomID,
		Request: domain.PromptRequest(r.Prompt, domain.Part{
			FileData: &domain.FileData{FileURI: r.FileURI, MimeType: r.MimeType},
		}),
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "encode request %s", r.CustomID)
	}
	return b, nil
}
