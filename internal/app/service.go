// Package service wires the workload pipeline and exposes what the HTTP API
// needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/workload/internal/adapters/deadletter"
	"github.com/okian/workload/internal/adapters/mq/channel"
	"github.com/okian/workload/internal/adapters/mq/producer"
	"github.com/okian/workload/internal/adapters/mq/receiver"
	"github.com/okian/workload/internal/adapters/mq/worker"
	"github.com/okian/workload/internal/adapters/notify"
	"github.com/okian/workload/internal/adapters/profile"
	"github.com/okian/workload/internal/adapters/repository"
	"github.com/okian/workload/internal/adapters/scheduler"
	"github.com/okian/workload/internal/adapters/store/postgres"
	"github.com/okian/workload/internal/app/query"
	"github.com/okian/workload/internal/app/report"
	"github.com/okian/workload/internal/config"
	"github.com/okian/workload/internal/domain/dedupe"
	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

// Scheduled job names.
const (
	JobWeeklyReport = "weekly-report"
	JobTrainerList  = "trainer-list"
)

// ErrNotStarted is returned by operations that need a running service.
var ErrNotStarted = errors.New("service not started")

// Persistence is the relational store used for flushing and archiving.
type Persistence interface {
	UpsertWorkloads(ctx context.Context, snapshots []model.TrainerWorkload) (int, error)
	LoadWorkload(ctx context.Context, username string) ([]model.MonthlyWorkload, error)
	Archive(ctx context.Context, dl model.DeadLetter) error
	Ping(ctx context.Context) error
	Close()
}

// Service owns every pipeline component. The trainer cache is created once
// in Start and injected into the receiver, query service and report job.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Injected or built in Start.
	broker   channel.Broker
	fetcher  repository.ProfileFetcher
	notifier report.Notifier
	store    Persistence

	directory   *profile.Directory
	cache       *repository.TrainerCache
	deduper     dedupe.Deduper
	producer    *producer.Producer
	deadLetters *deadletter.Log
	receiver    *receiver.Receiver
	pool        *worker.Pool
	queries     *query.WorkloadQueryService
	reports     *report.WeeklyReportJob
	scheduler   *scheduler.Scheduler
	flusher     *Flusher

	started   bool
	startedAt time.Time
	cancel    context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithBroker replaces the broker selected by configuration.
func WithBroker(b channel.Broker) Option {
	return func(s *Service) {
		if b != nil {
			s.broker = b
		}
	}
}

// WithProfileFetcher replaces the remote profile fetcher used on cache misses.
func WithProfileFetcher(f repository.ProfileFetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithNotifier replaces the report notifier.
func WithNotifier(n report.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithPersistence replaces the store selected by postgres_url.
func WithPersistence(p Persistence) Option {
	return func(s *Service) {
		if p != nil {
			s.store = p
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts every component.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting workload service...")

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.build(runCtx); err != nil {
		cancel()
		s.release(ctx)
		return err
	}

	if err := s.pool.Start(runCtx); err != nil {
		cancel()
		s.release(ctx)
		return fmt.Errorf("start listeners: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Start(runCtx)
	}
	s.scheduler.Start()

	s.cancel = cancel
	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "workload service started",
		logger.String("broker", s.cfg.Broker),
		logger.Int("listeners", s.pool.Size()),
		logger.Int("trainers", s.directory.Len()),
		logger.Bool("persistence", s.store != nil),
	)
	return nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg

	seed := make([]model.TrainerProfile, 0, len(cfg.Trainers))
	for _, t := range cfg.Trainers {
		seed = append(seed, model.TrainerProfile{
			Username:  t.Username,
			FirstName: t.FirstName,
			LastName:  t.LastName,
			Status:    model.StatusFromActive(t.Active),
		})
	}
	s.directory = profile.NewDirectory(seed...)

	if s.fetcher == nil {
		if cfg.ProfileServiceURL != "" {
			s.fetcher = profile.NewHTTPFetcher(cfg.ProfileServiceURL, profile.WithTimeout(cfg.ProfileFetchTimeout))
		} else {
			s.fetcher = s.directory
		}
	}

	if s.broker == nil {
		switch cfg.Broker {
		case config.BrokerKafka:
			s.broker = channel.NewKafkaBroker(cfg.Brokers(),
				channel.WithTopicPrefix(cfg.TopicPrefix),
				channel.WithGroupID(cfg.KafkaGroupID),
			)
		default:
			s.broker = channel.NewInMemoryBroker(channel.WithCapacity(cfg.ChannelCapacity))
		}
	}

	if s.store == nil && cfg.PostgresURL != "" {
		store, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		s.store = store
	}

	cacheOpts := []repository.Option{repository.WithMaxEntries(cfg.CacheMaxEntries)}
	if s.store != nil {
		s.flusher = NewFlusher(nil, s.store, cfg.FlushInterval)
		cacheOpts = append(cacheOpts,
			repository.WithSnapshotLoader(s.store.LoadWorkload),
			repository.WithEvictionHook(s.flusher.FlushOne),
		)
	}
	s.cache = repository.NewTrainerCache(ctx, s.fetcher, cacheOpts...)
	if s.flusher != nil {
		s.flusher.source = s.cache
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.producer = producer.New(s.broker, s.directory)

	logOpts := []deadletter.Option{deadletter.WithSize(cfg.DeadLetterLogSize)}
	if s.store != nil {
		logOpts = append(logOpts, deadletter.WithSink(s.store))
	}
	s.deadLetters = deadletter.NewLog(logOpts...)

	s.receiver = receiver.New(s.cache, s.producer,
		receiver.WithDeduper(s.deduper),
		receiver.WithArchive(s.deadLetters),
	)
	s.pool = worker.NewPool(s.broker, s.receiver.Routes(), worker.WithListenerCount(cfg.ListenerCount))

	s.queries = query.New(s.cache)
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(nil)
	}
	s.reports = report.New(s.cache, s.queries, s.notifier,
		report.WithMailDomain(cfg.ReportMailDomain),
		report.WithWindow(cfg.ReportWindow),
	)

	s.scheduler = scheduler.New(ctx)
	if err := s.scheduler.AddJob(JobWeeklyReport, cfg.WeeklyReportSchedule, s.reports.Run); err != nil {
		return err
	}
	return s.scheduler.AddJob(JobTrainerList, cfg.TrainerListSchedule, s.producer.PublishTrainerList)
}

// release closes whatever build created. Callers hold s.mu.
func (s *Service) release(ctx context.Context) {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Error(ctx, "error closing broker", logger.Error(err))
		}
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping workload service...")

	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.Warn(ctx, "scheduler stop", logger.Error(err))
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "listener shutdown", logger.Error(err))
	}
	if s.flusher != nil {
		if err := s.flusher.Stop(ctx); err != nil {
			s.logger.Warn(ctx, "final flush", logger.Error(err))
		}
	}
	s.cancel()
	s.release(ctx)

	s.started = false
	s.logger.Info(ctx, "workload service stopped")
}

// Summary answers the summary read API.
func (s *Service) Summary(ctx context.Context, username string, start, end *model.Date) (model.TrainerWorkloadSummary, error) {
	q, err := s.queryService()
	if err != nil {
		return model.TrainerWorkloadSummary{}, err
	}
	return q.GetTrainerWorkloadByName(ctx, username, start, end)
}

func (s *Service) queryService() (*query.WorkloadQueryService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.queries, nil
}

// SubmitWorkload validates and publishes a workload request. Accepted
// requests refresh the trainer's profile in the directory.
func (s *Service) SubmitWorkload(ctx context.Context, ev *model.WorkloadEvent) error {
	s.mu.RLock()
	p, dir, started := s.producer, s.directory, s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	if err := p.PublishWorkloadEvent(ctx, ev); err != nil {
		return err
	}
	if err := dir.Upsert(ctx, ev.Profile()); err != nil {
		s.logger.Warn(ctx, "directory refresh failed", logger.String("username", ev.Username), logger.Error(err))
	}
	return nil
}

// PublishTrainer publishes username's profile onto the profile destination.
func (s *Service) PublishTrainer(ctx context.Context, username string) error {
	s.mu.RLock()
	p, started := s.producer, s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return p.PublishTrainerByUsername(ctx, username)
}

// Trainer returns the directory profile for username.
func (s *Service) Trainer(ctx context.Context, username string) (model.TrainerProfile, error) {
	s.mu.RLock()
	dir := s.directory
	s.mu.RUnlock()
	if dir == nil {
		return model.TrainerProfile{}, ErrNotStarted
	}
	return dir.FetchByUsername(ctx, username)
}

// DeadLetters returns up to limit recent dead letters, newest first.
func (s *Service) DeadLetters(limit int) []model.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deadLetters == nil {
		return nil
	}
	return s.deadLetters.Recent(limit)
}

// SendWeeklyReports runs the weekly report job immediately.
func (s *Service) SendWeeklyReports(ctx context.Context) (report.Result, error) {
	s.mu.RLock()
	r, started := s.reports, s.started
	s.mu.RUnlock()
	if !started {
		return report.Result{}, ErrNotStarted
	}
	return r.SendWeeklyReports(ctx), nil
}

// Healthy reports whether the service and its store are usable.
func (s *Service) Healthy(ctx context.Context) error {
	s.mu.RLock()
	started, store := s.started, s.store
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	if store != nil {
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"broker":        s.cfg.Broker,
		"listenerCount": s.cfg.ListenerCount,
		"persistence":   s.store != nil,
	}
	if !s.started {
		return stats
	}

	depths := make(map[string]int, len(channel.Destinations()))
	for _, d := range channel.Destinations() {
		depths[d.String()] = s.broker.Depth(d)
	}
	trainers := s.cache.Count()
	metrics.UpdateCacheEntries(trainers)

	stats["uptime"] = time.Since(s.startedAt).Round(time.Second).String()
	stats["trainers"] = trainers
	stats["knownProfiles"] = s.directory.Len()
	stats["listeners"] = s.pool.Size()
	stats["dedupeSize"] = s.deduper.Size()
	stats["channelDepth"] = depths
	stats["deadLetters"] = s.deadLetters.Total()
	stats["schedule"] = s.scheduler.Next()
	return stats
}
