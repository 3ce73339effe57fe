package service

import (
	"context"
	"fmt"

	"cardbatch/internal/adapters/objectstore"
	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
	"cardbatch/internal/services/batch/guardrails"
)

// OutputPrefix is the object key prefix job outputs are written under
const OutputPrefix = "batch_outputs/"

// DisplayName names the job for a submission timestamp
func DisplayName(ts string) string { return "anki-batch-job-" + ts }

// SubmitJob creates the job for staged and resolves its identifier.
// CREATING ends in SUBMITTED (a Job is returned) or CREATE_FAILED (ErrorCodeSubmission)
func (s *Service) SubmitJob(ctx context.Context, staged domain.StagedInput, images []domain.ImageRef, ts string) (domain.Job, error) {
	sctx, cancel := guardrails.ForSubmit(ctx, s.Cfg.Timeouts)
	defer cancel()

	spec := domain.JobSpec{
		DisplayName:  DisplayName(ts),
		Model:        s.Cfg.Model,
		InputURI:     staged.URI,
		OutputPrefix: objectstore.URI(s.Cfg.Bucket, OutputPrefix+ts+"/"),
	}
	h, err := s.Jobs.Create(sctx, spec)
	if err != nil {
		return domain.Job{}, perr.Wrap(err, perr.ErrorCodeSubmission, "create batch job")
	}

	id, err := s.resolveID(sctx, h)
	if err != nil {
		return domain.Job{}, err
	}
	return domain.Job{
		ID:           id,
		SubmittedAt:  s.now(),
		OutputPrefix: spec.OutputPrefix,
		Images:       images,
		Status:       domain.StatusSubmitted,
	}, nil
}

// resolveID reads the job identifier. Async creates wait for the job to become addressable,
// retry a fixed number of times, then try the alternate identifier
func (s *Service) resolveID(ctx context.Context, h domain.JobHandle) (string, error) {
	log := logger.NamedC(ctx, "submitter")
	if s.Cfg.SyncCreate {
		id, err := h.Name(ctx)
		if err != nil || id == "" {
			return "", perr.Wrap(orEmpty(err), perr.ErrorCodeSubmission, "read job id")
		}
		return id, nil
	}

	if err := s.sleep(ctx, s.Cfg.SettleDelay); err != nil {
		return "", err
	}
	var last error
	for i := range s.Cfg.ResolveAttempts {
		id, err := h.Name(ctx)
		if err == nil && id != "" {
			return id, nil
		}
		last = orEmpty(err)
		log.Debug().Err(last).Int("attempt", i+1).Msg("job id not yet resolvable")
		if i == s.Cfg.ResolveAttempts-1 {
			break
		}
		if err := s.sleep(ctx, s.Cfg.ResolveBackoff); err != nil {
			return "", err
		}
	}

	id, err := h.ResourceName(ctx)
	if err == nil && id != "" {
		log.Warn().Err(last).Str("job_id", id).Msg("job id resolved through the alternate identifier")
		return id, nil
	}
	if err != nil {
		last = fmt.Errorf("%w; alternate identifier: %v", last, err)
	}
	return "", perr.Wrapf(last, perr.ErrorCodeSubmission, "job id unresolvable after %d attempts", s.Cfg.ResolveAttempts)
}

func orEmpty(err error) error {
	if err == nil {
		return perr.New(perr.ErrorCodeUnknown, "empty job id")
	}
	return err
}
