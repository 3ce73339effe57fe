// Command cardbatch turns a folder of images into an Anki card deck
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cardbatch/internal/core/version"
	"cardbatch/internal/platform/config"
	"cardbatch/internal/platform/logger"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	config.LoadDotEnv()
	logger.Init(logger.FromEnv())

	var (
		fMode    = flag.String("mode", "auto", "processing mode: auto | batch | sync | interactive")
		fImages  = flag.String("images", "", "image folder (overrides IMAGE_FOLDER)")
		fResume  = flag.Bool("resume", false, "check registered batch jobs and process finished ones")
		fRecover = flag.String("recover-prefix", "", "gs:// output prefix of a finished job to rebuild a deck from")
		fWait    = flag.Bool("wait", false, "wait for a submitted batch job and build the deck")
		fVersion = flag.Bool("version", false, "print the build version and exit")
	)
	flag.Parse()

	if *fVersion {
		bi := version.Info()
		fmt.Printf("%s %s (%s, %s)\n", bi.Service, bi.Version, bi.Commit, bi.Date)
		return
	}

	// modules read FromConfig, so flags surface as env
	mustSetEnv("IMAGE_FOLDER", *fImages)
	if *fWait {
		mustSetEnv("CORE_BATCH_WAIT", "true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		root:   config.New(),
		log:    logger.Named("cli"),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	code := a.run(ctx, runFlags{
		Mode:          *fMode,
		Resume:        *fResume,
		RecoverPrefix: *fRecover,
	})
	stop()
	os.Exit(code)
}
