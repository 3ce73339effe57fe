package service

import (
	"context"
	"fmt"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
)

// Check reads the job status once. It never fails: an unreadable status is UNKNOWN with a reason
func (s *Service) Check(ctx context.Context, jobID string) domain.JobState {
	release, ok := s.inflight.Acquire(jobID)
	if !ok {
		return domain.JobState{Status: domain.StatusUnknown, Reason: "another poll for this job is in flight"}
	}
	defer release()
	return s.check(ctx, jobID)
}

func (s *Service) check(ctx context.Context, jobID string) domain.JobState {
	log := logger.NamedC(ctx, "poller")

	info, err := s.Jobs.Get(ctx, jobID)
	if err == nil {
		return stateOf(info)
	}
	reason := err.Error()
	if !s.Caps.CLIStatus || s.Status == nil {
		log.Warn().Err(err).Msg("status read failed")
		return domain.JobState{Status: domain.StatusUnknown, Reason: reason}
	}

	log.Debug().Err(err).Msg("status read failed; trying gcloud")
	info, err2 := s.Status.Describe(ctx, jobID)
	if err2 == nil {
		return stateOf(info)
	}
	log.Warn().Err(err).AnErr("secondary", err2).Msg("status unreadable from both paths")
	return domain.JobState{Status: domain.StatusUnknown, Reason: fmt.Sprintf("%s; gcloud: %s", reason, err2.Error())}
}

func stateOf(info domain.JobInfo) domain.JobState {
	st := info.Status
	if st == "" {
		st = domain.NormalizeStatus(info.RawState)
	}
	return domain.JobState{Status: st, OutputDir: info.OutputDir, Reason: info.Error}
}

// Wait polls until the job reaches a terminal state.
// SUCCEEDED returns the state; FAILED/CANCELLED fail with ErrorCodePolling; exceeding PollTimeout
// fails with ErrorCodeTimeout and leaves the registry untouched
func (s *Service) Wait(ctx context.Context, jobID string) (domain.JobState, error) {
	release, ok := s.inflight.Acquire(jobID)
	if !ok {
		return domain.JobState{Status: domain.StatusUnknown}, perr.Busyf("job %s is already being polled", jobID)
	}
	defer release()

	log := logger.NamedC(ctx, "poller")
	start := s.now()
	for polls := 1; ; polls++ {
		st := s.check(ctx, jobID)
		switch st.Status {
		case domain.StatusSucceeded:
			log.Info().Int("polls", polls).Dur("elapsed", s.now().Sub(start)).Msg("job succeeded")
			return st, nil
		case domain.StatusFailed, domain.StatusCancelled:
			err := perr.Pollingf("job %s ended %s", jobID, st.Status)
			if st.Reason != "" {
				err = perr.Pollingf("job %s ended %s: %s", jobID, st.Status, st.Reason)
			}
			return st, perr.WithField(err, string(st.Status))
		}

		elapsed := s.now().Sub(start)
		if elapsed > s.Cfg.PollTimeout {
			return st, perr.Timeoutf("job %s not terminal after %s (last status %s)", jobID, s.Cfg.PollTimeout, st.Status)
		}
		log.Debug().Str("status", string(st.Status)).Dur("elapsed", elapsed).Msg("waiting for job")
		if err := s.sleep(ctx, s.Cfg.PollInterval); err != nil {
			return st, err
		}
	}
}
