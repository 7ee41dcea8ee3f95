package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

// ErrMismatch is returned when summaries did not converge to the plan.
var ErrMismatch = errors.New("workload totals mismatch")

const directoryPermission = 0o750

// Run executes a full load run: health check, ADD phase, DELETE phase and
// verification after each phase. Deletes are only sent once every ADD is
// visible so their order across destinations cannot cause clamping.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	return run(ctx, cfg, nil)
}

func run(ctx context.Context, cfg *Config, rng *rand.Rand) (*Stats, error) {
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting workload load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("trainers", cfg.Trainers),
		logger.Int("eventsPerTrainer", cfg.EventsPerTrainer),
		logger.Int("workers", cfg.Workers))

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Healthy(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	plan := Generate(ctx, cfg, time.Now(), rng)
	stats.EventsGenerated = len(plan.Adds) + len(plan.Deletes)

	stats.add(submitAll(ctx, cfg, client, plan.Adds))
	if err := awaitTotals(ctx, cfg, client, plan.AfterAdds, stats); err != nil {
		return finish(ctx, stats), fmt.Errorf("add phase: %w", err)
	}

	stats.add(submitAll(ctx, cfg, client, plan.Deletes))
	if err := awaitTotals(ctx, cfg, client, plan.Final, stats); err != nil {
		return finish(ctx, stats), fmt.Errorf("delete phase: %w", err)
	}

	if cfg.OutputFile != "" {
		if err := saveEvents(cfg.OutputFile, plan.Events()); err != nil {
			log.Warn(ctx, "failed to save events to file", logger.Error(err))
		}
	}

	finish(ctx, stats)
	log.Info(ctx, "load run completed successfully")
	return stats, nil
}

func saveEvents(filename string, events []model.WorkloadEvent) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	return os.WriteFile(filename, data, 0o600)
}

func finish(ctx context.Context, stats *Stats) *Stats {
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}
	logger.Get().Named("loadgen").Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsRejected", stats.EventsRejected),
		logger.Int("eventsBackpressed", stats.EventsBackpressed),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("trainersVerified", stats.TrainersVerified),
		logger.Int("mismatches", stats.Mismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("eventsPerSecond", perSecond))
	return stats
}
