package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

		"cardbatch/internal/adapters/gcp"
	"cardbatch/internal/adapters/imagefs"
	"cardbatch/internal/adapters/sysres"
	"cardbatch/internal/adapters/vertex"
	"cardbatch/internal/modkit"
	"cardbatch/internal/modkit/module"
	"cardbatch/internal/platform/config"
	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/platform/store/pg"
	"cardbatch/internal/services/batch/domain"
	batchmod "cardbatch/internal/services/batch/module"
	rtmod "cardbatch/internal/services/realtime/module"
	rtsvc "cardbatch/internal/services/realtime/service"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Modes accepted by -mode
const (
	ModeAuto        = "auto"
	ModeBatch       = "batch"
	ModeSync        = "sync"
	ModeInteractive = "interactive"
)

type runFlags struct {
	Mode          string
	Resume        bool
	RecoverPrefix string
}

type path int

const (
	pathRealtime path = iota
	pathBatch
)

type app struct {
	root   config.Conf
	log    *logger.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// seams for tests; nil uses the real implementation
	credentials  func(ctx context.Context) (oauth2.TokenSource, error)
	cliAvailable func() bool
}

func defaultCredentials(ctx context.Context) (oauth2.TokenSource, error) {
	creds, err := google.FindDefaultCredentials(ctx, gcp.CloudPlatformScope)
	if err != nil {
		return nil, err
	}
	return creds.TokenSource, nil
}

func (a *app) run(ctx context.Context, f runFlags) int {
	ctx = logger.WithRun(ctx, uuid.NewString(), "")
	if a.credentials == nil {
		a.credentials = defaultCredentials
	}
	if a.cliAvailable == nil {
		a.cliAvailable = vertex.CLIAvailable
	}

	switch f.Mode {
	case ModeAuto, ModeBatch, ModeSync, ModeInteractive:
	default:
		return a.fail(perr.Configurationf("unknown -mode %q (want auto, batch, sync or interactive)", f.Mode))
	}
	batchOnly := f.Mode == ModeBatch || f.Resume || f.RecoverPrefix != ""

	bo := batchmod.FromConfig(a.root)
	ro := rtmod.FromConfig(a.root)
	if err := ro.Validate(); err != nil {
		return a.fail(err)
	}
	batchErr := bo.Validate()
	if batchOnly && batchErr != nil {
		return a.fail(batchErr)
	}

	ts, err := a.credentials(ctx)
	if err != nil {
		if bo.VertexEndpoint == "" {
			return a.fail(perr.Wrap(err, perr.ErrorCodeConfiguration, "no usable Google credentials"))
		}
		a.log.Warn().Err(err).Msg("no credentials; sending unauthenticated requests to the configured endpoint")
	}

	caps := domain.Capabilities{Batch: batchErr == nil, CLIStatus: a.cliAvailable()}
	a.log.Info().Bool("batch", caps.Batch).Bool("cli_status", caps.CLIStatus).Msg("capabilities")

	deps := modkit.Deps{Log: *a.log, Cfg: a.root, Google: ts}
	if caps.Batch && bo.RegistryBackend == batchmod.BackendPG {
		db, err := pg.Open(ctx, pg.Config{
			URL:      bo.RegistryPGURL,
			MaxConns: int32(a.root.MayInt("REGISTRY_PG_MAX_CONNS", 4)),
			SlowMs:   a.root.MayInt("REGISTRY_PG_SLOW_MS", 500),
		}, pg.Tracer(*a.log), nil)
		if err != nil {
			return a.fail(err)
		}
		defer db.Close()
		deps.PG = db
	}

	mods := module.NewRegistry()
	rt := rtmod.New(deps)
	defer a.closeModule(rt.Name(), rt.Close)
	if err := mods.Add(rt); err != nil {
		return a.fail(err)
	}
	var runner domain.RunnerPort
	if caps.Batch {
		bm := batchmod.New(deps, modkit.WithPorts(caps))
		defer a.closeModule(bm.Name(), bm.Close)
		if err := bm.Start(ctx); err != nil {
			return a.fail(err)
		}
		if err := mods.Add(bm); err != nil {
			return a.fail(err)
		}
		if runner, err = module.Resolve[domain.RunnerPort](mods, bm.Name()); err != nil {
			return a.fail(err)
		}
	}

	if f.Resume {
		rep, err := runner.Resume(ctx)
		if err != nil {
			return a.fail(err)
		}
		a.printResume(rep)
		return 0
	}

	if err := os.MkdirAll(bo.OutputDir, 0o755); err != nil {
		return a.fail(perr.Wrap(err, perr.ErrorCodeStorage, "create output dir"))
	}
	for _, w := range sysres.NewChecker(sysres.DefaultThresholds).Check(ctx, bo.OutputDir) {
		fmt.Fprintf(a.stderr, "warning: %s\n", w)
	}

	images, rejected, err := imagefs.NewValidator(bo.MaxImageSize).Scan(bo.ImageFolder)
	if err != nil {
		return a.fail(err)
	}
	for _, r := range rejected {
		fmt.Fprintf(a.stderr, "skipped %s: %v\n", r.Path, r.Err)
	}

	if f.RecoverPrefix != "" {
		rep, err := runner.Recover(ctx, f.RecoverPrefix, images)
		if err != nil {
			return a.fail(err)
		}
		a.printReport(rep)
		return cardsExit(rep)
	}

	if len(images) == 0 {
		fmt.Fprintf(a.stdout, "no usable images in %s\n", bo.ImageFolder)
		return 1
	}
	fmt.Fprintf(a.stdout, "%d images found\n", len(images))

	switch a.choosePath(f.Mode, caps, len(images), bo.Threshold) {
	case pathBatch:
		sub, err := runner.Submit(ctx, images)
		if err != nil {
			return a.fail(err)
		}
		fmt.Fprintf(a.stdout, "batch job submitted: %s\n", sub.Job.ID)
		if sub.Skipped > 0 {
			fmt.Fprintf(a.stdout, "%d images skipped during upload\n", sub.Skipped)
		}
		if sub.Waited {
			a.printReport(sub.Report)
		} else {
			fmt.Fprintln(a.stdout, "run again with -resume to collect the results once the job finishes")
		}
		return 0
	default:
		rtRunner, err := module.Resolve[rtsvc.RunnerPort](mods, rt.Name())
		if err != nil {
			return a.fail(err)
		}
		rep, err := rtRunner.Process(ctx, images)
		if err != nil {
			return a.fail(err)
		}
		a.printReport(rep)
		return cardsExit(rep)
	}
}

func (a *app) closeModule(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		a.log.Warn().Err(err).Str("module", name).Msg("close module failed")
	}
}

// choosePath picks batch or realtime for n images
func (a *app) choosePath(mode string, caps domain.Capabilities, n, threshold int) path {
	switch mode {
	case ModeBatch:
		return pathBatch
	case ModeSync:
		return pathRealtime
	case ModeInteractive:
		est := domain.EstimateCost(n)
		fmt.Fprintf(a.stdout, "estimated cost for %d images (%d tokens): realtime $%.4f, batch $%.4f (saves $%.4f)\n",
			est.Images, est.Tokens, est.RealtimeUSD, est.BatchUSD, est.SavingsUSD)
		if !caps.Batch {
			fmt.Fprintln(a.stdout, "batch processing is not configured; using realtime")
			return pathRealtime
		}
		if a.confirm("use batch processing? [y/N] ") {
			return pathBatch
		}
		return pathRealtime
	default:
		if caps.Batch && n >= threshold {
			a.log.Info().Int("images", n).Int("threshold", threshold).Msg("using batch path")
			return pathBatch
		}
		return pathRealtime
	}
}

func (a *app) confirm(prompt string) bool {
	fmt.Fprint(a.stdout, prompt)
	line, _ := bufio.NewReader(a.stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (a *app) printReport(r domain.Report) {
	fmt.Fprintf(a.stdout, "processed %d, cards %d, failed %d, skipped %d, dropped %d, malformed %d\n",
		r.Processed, r.Cards, r.Failed, r.Skipped, r.Dropped, r.Malformed)
	if r.DeckPath != "" {
		fmt.Fprintf(a.stdout, "deck written to %s\n", r.DeckPath)
	}
}

func (a *app) printResume(r domain.ResumeReport) {
	fmt.Fprintf(a.stdout, "checked %d jobs: %d completed, %d dropped, %d still pending\n",
		r.Checked, r.Completed, r.Dropped, r.Kept)
	for _, x := range r.Reports {
		fmt.Fprintf(a.stdout, "%s: ", x.JobID)
		a.printReport(x)
	}
}

// fail prints what failed plus a remedy and returns the exit code
func (a *app) fail(err error) int {
	a.log.Error().Err(err).Str("code", perr.CodeOf(err).String()).Msg("run failed")
	fmt.Fprintf(a.stderr, "error: %v\n", err)
	if hint := perr.Remedy(err); hint != "" {
		fmt.Fprintf(a.stderr, "hint: %s\n", hint)
	}
	return perr.ExitCode(err)
}

func cardsExit(r domain.Report) int {
	if r.Cards > 0 {
		return 0
	}
	return 1
}
