// Package service orchestrates batch submission, polling and result reconciliation
package service

import (
	"context"
	"time"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
	"cardbatch/internal/services/batch/guardrails"

	"github.com/google/uuid"
)

// DefaultPrompt asks for a study explanation of the image
const DefaultPrompt = "この画像の内容を詳しく解説してください。学習用のフラッシュカードの裏面に載せる説明として、" +
	"重要な概念・用語・数式があれば分かりやすく整理して日本語で記述してください。"

// Config holds the batch service settings
type Config struct {
	Bucket   string
	Location string
	Model    string
	Prompt   string

	// SyncCreate reads the job id once; otherwise it is resolved with settle + bounded retries
	SyncCreate      bool
	SettleDelay     time.Duration // <=0 -> 2s
	ResolveAttempts int           // <=0 -> 5
	ResolveBackoff  time.Duration // <=0 -> 2s

	// WaitForCompletion makes Submit poll and process the job in the same pass
	WaitForCompletion bool
	PollInterval      time.Duration // <=0 -> 30s
	PollTimeout       time.Duration // <=0 -> 30m

	UploadWorkers int // <=0 -> 1

	// DeckName prefixes assembled deck directories
	DeckName string

	Timeouts guardrails.Timeouts
}

func (c Config) withDefaults() Config {
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.ResolveAttempts <= 0 {
		c.ResolveAttempts = 5
	}
	if c.ResolveBackoff <= 0 {
		c.ResolveBackoff = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Minute
	}
	c.UploadWorkers = max(c.UploadWorkers, 1)
	if c.DeckName == "" {
		c.DeckName = "anki_batch_cards"
	}
	return c
}

// Service implements domain.RunnerPort
type Service struct {
	Store    domain.ObjectStore
	Jobs     domain.JobAPI
	Status   domain.StatusReader // optional; used only when Caps.CLIStatus
	Registry domain.Registry
	Deck     domain.Assembler
	Caps     domain.Capabilities
	Cfg      Config

	inflight *guardrails.Inflight
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newID    func() string
}

var _ domain.RunnerPort = (*Service)(nil)

// New constructs the batch service
func New(
	store domain.ObjectStore,
	jobs domain.JobAPI,
	status domain.StatusReader,
	reg domain.Registry,
	deck domain.Assembler,
	caps domain.Capabilities,
	cfg Config,
) *Service {
	if store == nil || jobs == nil {
		panic("batch.Service requires an object store and a job API")
	}
	if reg == nil {
		panic("batch.Service requires a non nil Registry")
	}
	return &Service{
		Store:    store,
		Jobs:     jobs,
		Status:   status,
		Registry: reg,
		Deck:     deck,
		Caps:     caps,
		Cfg:      cfg.withDefaults(),
		inflight: guardrails.NewInflight(),
		now:      time.Now,
		sleep:    sleepCtx,
		newID:    uuid.NewString,
	}
}

// Submit builds, stages and submits one job for images and registers it.
// With WaitForCompletion it also waits for the job and assembles its cards
func (s *Service) Submit(ctx context.Context, images []domain.ImageRef) (domain.Submission, error) {
	var sub domain.Submission
	if !s.Caps.Batch {
		return sub, perr.Configurationf("batch processing is not available: project, bucket or credentials missing")
	}
	if len(images) == 0 {
		return sub, perr.Submissionf("nothing to submit: no images")
	}
	ts := s.now().Format(tsLayout)
	runCtx := logger.WithRun(ctx, ts, "")
	log := logger.NamedC(runCtx, "batch")

	if err := s.Store.EnsureBucket(runCtx, s.Cfg.Bucket, s.Cfg.Location); err != nil {
		return sub, perr.WithOp(err, "ensure bucket")
	}

	// the registry lock is held from staging to registration so a busy
	// registry fails before anything billable is created
	var job domain.Job
	err := s.Registry.WithLock(runCtx, func(ctx context.Context) error {
		built, err := s.Build(ctx, images)
		if err != nil {
			return err
		}
		sub.Skipped = built.Skipped

		staged, err := s.Stage(ctx, built.Requests, ts)
		if err != nil {
			return err
		}

		job, err = s.SubmitJob(ctx, staged, built.Uploaded, ts)
		if err != nil {
			return err
		}
		sub.Job = job
		log.Info().Str("job_id", job.ID).Int("requests", staged.Count).Int("skipped", built.Skipped).Msg("batch job submitted")

		if err := s.Registry.Append(ctx, job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Str("output_prefix", job.OutputPrefix).Msg("job created but not registered")
			return perr.WithField(perr.Wrapf(err, perr.ErrorCodeUnregistered,
				"job %s was created but could not be registered; its results land under %s", job.ID, job.OutputPrefix), job.ID)
		}
		return nil
	})
	if err != nil {
		return sub, err
	}

	if !s.Cfg.WaitForCompletion {
		return sub, nil
	}

	jobCtx := logger.WithJob(runCtx, job.ID)
	st, err := s.Wait(jobCtx, job.ID)
	if err != nil {
		// timeout keeps the entry for a later -resume; terminal failures drop it
		if perr.IsCode(err, perr.ErrorCodePolling) {
			s.forget(jobCtx, job.ID)
		}
		return sub, err
	}
	rep, err := s.process(jobCtx, job, st.OutputDir, false)
	sub.Waited = true
	sub.Report = rep
	sub.Report.Skipped += sub.Skipped
	if err != nil {
		return sub, err
	}
	s.forget(jobCtx, job.ID)
	return sub, nil
}

// Resume checks every registered job once, processes the succeeded ones and keeps the rest
func (s *Service) Resume(ctx context.Context) (domain.ResumeReport, error) {
	var out domain.ResumeReport
	runCtx := logger.WithRun(ctx, s.now().Format(tsLayout), "")
	log := logger.NamedC(runCtx, "resume")

	err := s.Registry.WithLock(runCtx, func(ctx context.Context) error {
		pending, err := s.Registry.ListPending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			log.Info().Msg("no pending batch jobs")
			return nil
		}

		remaining := make([]domain.Job, 0, len(pending))
		for i, job := range pending {
			if err := ctx.Err(); err != nil {
				remaining = append(remaining, job)
				continue
			}
			out.Checked++
			jobCtx := logger.WithJob(ctx, job.ID)
			jlog := logger.NamedC(jobCtx, "resume")

			st := s.Check(jobCtx, job.ID)
			switch st.Status {
			case domain.StatusSucceeded:
				rep, err := s.process(jobCtx, job, st.OutputDir, false)
				if err != nil {
					jlog.Error().Err(err).Msg("processing succeeded job failed; keeping it for a later pass")
					job.Status = st.Status
					remaining = append(remaining, job)
					out.Kept++
					continue
				}
				out.Completed++
				out.Reports = append(out.Reports, rep)
				jlog.Info().Str("deck", rep.DeckPath).Msg("deck written")
				// persist now so a failed later write cannot replay this job
				rest := append(append([]domain.Job{}, remaining...), pending[i+1:]...)
				if err := s.Registry.Replace(ctx, rest); err != nil {
					return perr.WithField(perr.Wrapf(err, perr.ErrorCodeStorage,
						"deck %s for job %s was written but the job is still registered; remove it before the next -resume", rep.DeckPath, job.ID), job.ID)
				}
			case domain.StatusFailed, domain.StatusCancelled:
				jlog.Warn().Str("status", string(st.Status)).Str("reason", st.Reason).Msg("job ended without results; dropping")
				out.Dropped++
			default:
				if st.Reason != "" {
					jlog.Warn().Str("reason", st.Reason).Msg("job status unreadable; keeping")
				} else {
					jlog.Info().Str("status", string(st.Status)).Msg("job still running")
				}
				if st.Status != domain.StatusUnknown {
					job.Status = st.Status
				}
				remaining = append(remaining, job)
				out.Kept++
			}
		}
		return s.Registry.Replace(ctx, remaining)
	})
	return out, err
}

// Recover processes results under an explicit output prefix with the fallback matcher.
// Used for historical outputs whose records carry no identifier
func (s *Service) Recover(ctx context.Context, outputURI string, images []domain.ImageRef) (domain.Report, error) {
	job := domain.Job{
		ID:           "recover:" + outputURI,
		SubmittedAt:  s.now(),
		OutputPrefix: outputURI,
		Images:       images,
	}
	return s.process(logger.WithRun(ctx, s.now().Format(tsLayout), ""), job, outputURI, true)
}

// process fetches, reconciles and assembles one succeeded job
func (s *Service) process(ctx context.Context, job domain.Job, outputDir string, forceFallback bool) (domain.Report, error) {
	log := logger.NamedC(ctx, "batch")
	rep := domain.Report{JobID: job.ID}

	fctx, cancel := guardrails.ForFetch(ctx, s.Cfg.Timeouts)
	records, malformed, err := s.Fetch(fctx, job, outputDir)
	cancel()
	if err != nil {
		return rep, err
	}
	rep.Malformed = malformed

	var rec domain.Reconciliation
	if forceFallback {
		rec = MatchFallback(ctx, job.Images, records)
	} else {
		rec = Reconcile(ctx, job.Images, records)
	}
	rep.Dropped = len(rec.DroppedRecords)
	rep.Failed = len(rec.UnmatchedImages)

	cards := make([]domain.Card, 0, len(rec.Pairs))
	for _, p := range rec.Pairs {
		rep.Processed++
		if p.Record.Failed() {
			rep.Failed++
			log.Warn().Str("image", p.Image.Filename).Str("error", p.Record.ErrorStatus).Msg("result carries no usable description")
			continue
		}
		cards = append(cards, domain.Card{Image: p.Image, Description: p.Record.Description()})
	}
	for _, im := range rec.UnmatchedImages {
		log.Warn().Str("image", im.Filename).Msg("no result matched image")
	}

	if len(cards) > 0 && s.Deck != nil {
		path, err := s.Deck.Assemble(ctx, s.Cfg.DeckName, cards)
		if err != nil {
			return rep, err
		}
		rep.DeckPath = path
	}
	rep.Cards = len(cards)
	log.Info().
		Str("mode", string(rec.Mode)).
		Int("cards", rep.Cards).
		Int("failed", rep.Failed).
		Int("dropped", rep.Dropped).
		Int("malformed", rep.Malformed).
		Str("deck", rep.DeckPath).
		Msg("batch results processed")
	return rep, nil
}

// forget removes jobID from the registry
func (s *Service) forget(ctx context.Context, jobID string) {
	err := s.Registry.WithLock(ctx, func(ctx context.Context) error {
		pending, err := s.Registry.ListPending(ctx)
		if err != nil {
			return err
		}
		keep := pending[:0]
		for _, j := range pending {
			if j.ID != jobID {
				keep = append(keep, j)
			}
		}
		return s.Registry.Replace(ctx, keep)
	})
	if err != nil {
		logger.NamedC(ctx, "batch").Error().Err(err).Msg("removing job from registry failed; -resume will revisit it")
	}
}

const tsLayout = "20060102_150405"

// sleepCtx sleeps for d or returns early if ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
