package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/strokeauth/internal/capturegen"
	"github.com/okian/strokeauth/pkg/logger"
)

// Default configuration constants.
const (
	defaultWorkers = 2 // multiplier for runtime.NumCPU()
	defaultRunTime = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		users      = flag.Int("users", capturegen.DefaultUsers, "Number of synthetic writers to enroll")
		genuine    = flag.Int("genuine", capturegen.DefaultGenuine, "Genuine challenges per writer")
		forgeries  = flag.Int("forgeries", capturegen.DefaultForgeries, "Forged challenges per writer")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of writers processed concurrently")
		timeout    = flag.Duration("timeout", capturegen.DefaultTimeout, "HTTP request timeout")
		seed       = flag.Uint64("seed", 1, "Seed of the first writer profile")
		bioType    = flag.String("type", "", "Biometric type (default signature)")
		mode       = flag.String("mode", "", "Comparison mode: authentication, verification or enrollment")
		outputFile = flag.String("output", "", "Write the JSON report to this file")
		cleanup    = flag.Bool("cleanup", false, "Delete generated baselines after the run")
		logFormat  = flag.String("log-format", logger.FormatText, "Log format: text or json")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	if err := logger.InitWithOptions(logger.WithFormat(*logFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	cfg := capturegen.Config{
		BaseURL:       *baseURL,
		Users:         *users,
		Genuine:       *genuine,
		Forgeries:     *forgeries,
		Workers:       *workers,
		Timeout:       *timeout,
		Seed:          *seed,
		BiometricType: *bioType,
		Mode:          *mode,
		OutputFile:    *outputFile,
		Cleanup:       *cleanup,
	}
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg capturegen.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTime)
	defer cancel()

	runner := capturegen.NewRunner(cfg, capturegen.WithLogger(logger.Get()))
	_, err := runner.Run(ctx)
	switch {
	case errors.Is(err, capturegen.ErrNoUsers):
		logger.Get().Error(ctx, "no writer could be enrolled; check quality settings", logger.Error(err))
	case err != nil:
		logger.Get().Error(ctx, "capture generator failed", logger.Error(err))
	}
	return err
}

func showHelp() {
	os.Stdout.WriteString(`strokeauth capture generator
============================

Enrolls synthetic writers against a running service, then challenges each
one with genuine and forged signatures and reports the decisions.

Usage:
  go run ./cmd/capture-gen [options]

Options:
  -url string         Base URL of the service (default "http://localhost:9080")
  -users int          Number of synthetic writers (default 20)
  -genuine int        Genuine challenges per writer (default 6)
  -forgeries int      Forged challenges per writer (default 6)
  -workers int        Writers processed concurrently (default CPU cores * 2)
  -timeout duration   HTTP request timeout (default 10s)
  -seed uint          Seed of the first writer profile (default 1)
  -type string        Biometric type (default signature)
  -mode string        authentication, verification or enrollment
  -output string      Write the JSON report to this file
  -cleanup            Delete generated baselines after the run
  -log-format string  text or json (default text)
  -verbose            Enable debug logging
  -help               Show this help message

The service decides on rules alone unless it runs with an ML mode, e.g.
STROKEAUTH_ML__MODE=simulated for the built-in simulated ensemble.

Examples:
  # Default run
  go run ./cmd/capture-gen

  # Larger, reproducible run in verification mode with a saved report
  go run ./cmd/capture-gen -users 100 -seed 42 -mode verification -output reports/run.json -cleanup
`)
}
