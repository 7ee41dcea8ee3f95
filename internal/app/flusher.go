package service

import (
	"context"
	"sync"
	"time"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

// SnapshotSource lists every cached aggregate.
type SnapshotSource interface {
	Snapshot() []model.TrainerWorkload
}

// SnapshotWriter persists aggregate snapshots.
type SnapshotWriter interface {
	UpsertWorkloads(ctx context.Context, snapshots []model.TrainerWorkload) (int, error)
}

// Flusher periodically copies the cache into the relational store.
type Flusher struct {
	source   SnapshotSource
	writer   SnapshotWriter
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger logger.Logger
}

// NewFlusher creates a flusher. Nothing runs until Start.
func NewFlusher(source SnapshotSource, writer SnapshotWriter, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Flusher{
		source:   source,
		writer:   writer,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.Get().Named("flusher"),
	}
}

// Start runs Flush on every tick until ctx is done or Stop is called.
func (f *Flusher) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stopChan:
				return
			case <-ticker.C:
				_, _ = f.Flush(ctx)
			}
		}
	}()
}

// Flush writes one snapshot of every aggregate and returns the rows written.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	start := time.Now()
	snaps := f.source.Snapshot()
	rows, err := f.writer.UpsertWorkloads(ctx, snaps)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordFlush("error", rows, latency)
		f.logger.Error(ctx, "flush failed", logger.Int("trainers", len(snaps)), logger.Error(err))
		return rows, err
	}
	metrics.RecordFlush("ok", rows, latency)
	f.logger.Debug(ctx, "flushed workloads", logger.Int("trainers", len(snaps)), logger.Int("rows", rows))
	return rows, nil
}

// FlushOne persists an evicted trainer's final snapshot.
func (f *Flusher) FlushOne(ctx context.Context, snap model.TrainerWorkload) {
	if _, err := f.writer.UpsertWorkloads(ctx, []model.TrainerWorkload{snap}); err != nil {
		metrics.RecordFlush("error", 0, 0)
		f.logger.Error(ctx, "evicted trainer flush failed",
			logger.String("username", snap.Profile.Username),
			logger.Error(err),
		)
	}
}

// Stop ends the loop and writes a final snapshot.
func (f *Flusher) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() { close(f.stopChan) })
	f.wg.Wait()
	_, err := f.Flush(ctx)
	return err
}
