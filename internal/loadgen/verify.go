package loadgen

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/workload/pkg/logger"
)

// awaitTotals polls summaries until every trainer matches want or the settle
// window elapses.
func awaitTotals(ctx context.Context, cfg *Config, c *Client, want map[string]int64, stats *Stats) error {
	deadline := time.Now().Add(cfg.Settle)
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	for {
		mismatched := mismatches(ctx, c, want)
		if len(mismatched) == 0 {
			stats.TrainersVerified = len(want)
			stats.Mismatches = 0
			return nil
		}
		if time.Now().After(deadline) {
			stats.Mismatches = len(mismatched)
			return fmt.Errorf("%w: %d trainers, first %s", ErrMismatch, len(mismatched), mismatched[0])
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// mismatches returns the sorted usernames whose reported total differs from want.
func mismatches(ctx context.Context, c *Client, want map[string]int64) []string {
	log := logger.Get().Named("loadgen")
	var out []string
	for username, total := range want {
		s, err := c.Summary(ctx, username)
		if err != nil {
			log.Debug(ctx, "summary not ready", logger.String("username", username), logger.Error(err))
			out = append(out, username)
			continue
		}
		if got := s.TotalMinutes(); got != total {
			log.Debug(ctx, "total mismatch",
				logger.String("username", username),
				logger.Int64("want", total),
				logger.Int64("got", got))
			out = append(out, username)
		}
	}
	sort.Strings(out)
	return out
}
