package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/workload/internal/loadgen"
	"github.com/okian/workload/pkg/logger"
)

// Default configuration constants.
const (
	defaultTrainers    = 100
	defaultEvents      = 20
	defaultDeleteRatio = 0.3
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultSettle      = time.Minute
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		trainers    = flag.Int("trainers", defaultTrainers, "Number of distinct trainers")
		events      = flag.Int("events", defaultEvents, "ADD events per trainer")
		deleteRatio = flag.Float64("delete-ratio", defaultDeleteRatio, "Share of ADD events followed by a DELETE")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle      = flag.Duration("settle", defaultSettle, "Max wait for summaries to converge per phase")
		outputFile  = flag.String("output", "", "Write generated events to this JSON file")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:          *baseURL,
		Trainers:         *trainers,
		EventsPerTrainer: *events,
		DeleteRatio:      *deleteRatio,
		Workers:          *workers,
		Timeout:          *timeout,
		Settle:           *settle,
		PollInterval:     250 * time.Millisecond,
		OutputFile:       *outputFile,
		Verbose:          *verbose,
	}

	if _, err := loadgen.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		os.Exit(1)
	}
}
