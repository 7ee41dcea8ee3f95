package repository

import (
	"context"
	"time"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

// Option applies a configuration option to the TrainerCache.
type Option func(*TrainerCache)

// EvictFunc receives the final snapshot of an evicted trainer.
type EvictFunc func(ctx context.Context, snapshot model.TrainerWorkload)

// LoadFunc restores previously flushed buckets for a trainer on a cache miss.
type LoadFunc func(ctx context.Context, username string) ([]model.MonthlyWorkload, error)

// WithMaxEntries bounds the cache with an LRU policy. 0 keeps it unbounded.
func WithMaxEntries(n int) Option {
	return func(c *TrainerCache) {
		if n >= 0 {
			c.maxEntries = n
		}
	}
}

// WithEvictionHook is called, outside any cache lock, for each evicted trainer.
func WithEvictionHook(fn EvictFunc) Option {
	return func(c *TrainerCache) {
		c.onEvict = fn
	}
}

// WithSnapshotLoader restores buckets from the relational store on a miss.
func WithSnapshotLoader(fn LoadFunc) Option {
	return func(c *TrainerCache) {
		c.loader = fn
	}
}

// WithFetchTimeout bounds a shared miss: the remote fetch, the wait for an
// in-flight eviction snapshot and the snapshot restore.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *TrainerCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
// Defaults to metrics.RefreshInterval().
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(c *TrainerCache) {
		if interval > 0 {
			c.metricsUpdateInterval = interval
		}
	}
}

// WithLogger sets a custom logger for the cache.
func WithLogger(l logger.Logger) Option {
	return func(c *TrainerCache) {
		if l != nil {
			c.logger = l
		}
	}
}
