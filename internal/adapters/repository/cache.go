// Package repository holds the in-process trainer cache: trainer identities
// and their workload aggregates, read through to a remote profile source.
package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/internal/domain/workload"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

const defaultFetchTimeout = 10 * time.Second

// ProfileFetcher resolves a trainer that is not cached. It returns an error
// wrapping model.ErrTrainerNotFound when the trainer does not exist.
type ProfileFetcher interface {
	FetchByUsername(ctx context.Context, username string) (model.TrainerProfile, error)
}

// entry is one trainer. mu serializes every read and mutation of profile and agg.
type entry struct {
	mu      sync.Mutex
	profile model.TrainerProfile
	agg     *workload.Aggregate
	evicted bool
}

func (e *entry) snapshotLocked() model.TrainerWorkload {
	return model.TrainerWorkload{Profile: e.profile, Buckets: e.agg.Buckets()}
}

// TrainerCache maps usernames to trainer identity and workload.
type TrainerCache struct {
	fetcher ProfileFetcher
	group   singleflight.Group

	maxEntries            int
	onEvict               EvictFunc
	loader                LoadFunc
	fetchTimeout          time.Duration
	metricsUpdateInterval time.Duration
	logger                logger.Logger

	mu       sync.Mutex
	entries  map[string]*entry          // unbounded mode
	bounded  *lru.Cache[string, *entry] // bounded mode
	evicted  []eviction                 // pending eviction hooks, guarded by mu
	flushing map[string]chan struct{}   // closed once the eviction hook returns, guarded by mu

	latestMu sync.RWMutex
	latest   map[string]model.WorkloadEvent

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTrainerCache builds a cache reading through to fetcher on misses. A nil
// fetcher treats every miss as not found.
func NewTrainerCache(ctx context.Context, fetcher ProfileFetcher, opts ...Option) *TrainerCache {
	c := &TrainerCache{
		fetcher:               fetcher,
		fetchTimeout:          defaultFetchTimeout,
		metricsUpdateInterval: metrics.RefreshInterval(),
		logger:                logger.Get().Named("trainer-cache"),
		flushing:              make(map[string]chan struct{}),
		latest:                make(map[string]model.WorkloadEvent),
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxEntries > 0 {
		// Runs under c.mu since every lru call is made while holding it.
		c.bounded, _ = lru.NewWithEvict[string, *entry](c.maxEntries, func(username string, e *entry) {
			c.evicted = append(c.evicted, eviction{username: username, entry: e})
		})
	} else {
		c.entries = make(map[string]*entry)
	}

	c.startMetricsUpdater(ctx)
	return c
}

// Close stops the background metrics updater.
func (c *TrainerCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	return nil
}

func normalize(username string) (string, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return "", model.ErrInvalidUsername
	}
	return u, nil
}

func (c *TrainerCache) lookup(username string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		return c.bounded.Get(username)
	}
	e, ok := c.entries[username]
	return e, ok
}

// insert stores e unless username is already cached and returns the entry
// that ended up in the cache.
func (c *TrainerCache) insert(ctx context.Context, username string, e *entry) *entry {
	c.mu.Lock()
	stored := e
	if c.bounded != nil {
		if cur, ok := c.bounded.Get(username); ok {
			stored = cur
		} else {
			c.bounded.Add(username, e)
		}
	} else {
		if cur, ok := c.entries[username]; ok {
			stored = cur
		} else {
			c.entries[username] = e
		}
	}
	pending := c.takeEvictedLocked()
	c.mu.Unlock()

	c.flushEvicted(ctx, pending)
	return stored
}

type eviction struct {
	username string
	entry    *entry
}

// pendingFlush is an eviction whose hook has not returned yet. prev is the
// earlier in-flight flush of the same username, if any.
type pendingFlush struct {
	eviction
	prev <-chan struct{}
	done chan struct{}
}

// takeEvictedLocked marks every pending eviction as flushing so misses for
// those usernames wait before restoring from the store.
func (c *TrainerCache) takeEvictedLocked() []pendingFlush {
	if len(c.evicted) == 0 {
		return nil
	}
	out := make([]pendingFlush, 0, len(c.evicted))
	for _, ev := range c.evicted {
		done := make(chan struct{})
		out = append(out, pendingFlush{eviction: ev, prev: c.flushing[ev.username], done: done})
		c.flushing[ev.username] = done
	}
	c.evicted = nil
	return out
}

func (c *TrainerCache) flushEvicted(ctx context.Context, pending []pendingFlush) {
	for _, p := range pending {
		p.entry.mu.Lock()
		p.entry.evicted = true
		snap := p.entry.snapshotLocked()
		p.entry.mu.Unlock()

		metrics.RecordCacheEviction()
		c.logger.Debug(ctx, "trainer evicted", logger.String("username", p.username))

		// Snapshots of one trainer reach the hook in eviction order.
		if p.prev != nil {
			<-p.prev
		}
		if c.onEvict != nil {
			c.onEvict(ctx, snap)
		}

		c.mu.Lock()
		if c.flushing[p.username] == p.done {
			delete(c.flushing, p.username)
		}
		c.mu.Unlock()
		close(p.done)
	}
}

// awaitFlush blocks until no eviction snapshot of username is being written.
func (c *TrainerCache) awaitFlush(ctx context.Context, username string) error {
	for {
		c.mu.Lock()
		ch := c.flushing[username]
		c.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("await eviction flush of %q: %w", username, ctx.Err())
		}
	}
}

// newEntry builds an entry for p, restoring flushed buckets when a loader is
// configured and replaying p's trainings when present. The restore waits for
// any in-flight eviction snapshot of the same trainer.
func (c *TrainerCache) newEntry(ctx context.Context, p model.TrainerProfile) (*entry, error) {
	agg := workload.New()
	if c.loader != nil {
		if err := c.awaitFlush(ctx, p.Username); err != nil {
			return nil, err
		}
		buckets, err := c.loader(ctx, p.Username)
		if err != nil {
			c.logger.Warn(ctx, "failed to restore flushed workload",
				logger.String("username", p.Username), logger.Error(err))
		} else {
			agg = workload.FromBuckets(buckets)
		}
	}
	if p.Trainings != nil {
		c.rebuild(ctx, p.Username, agg, p.Trainings)
	}
	return &entry{profile: p.IdentityOnly(), agg: agg}, nil
}

// rebuild replaces the aggregate's values with the given trainings. Existing
// buckets are kept at zero.
func (c *TrainerCache) rebuild(ctx context.Context, username string, agg *workload.Aggregate, trainings []model.Training) {
	agg.Reset()
	for _, t := range trainings {
		if t.Date.IsZero() {
			c.logger.Warn(ctx, "skipping training without date", logger.String("username", username))
			continue
		}
		if err := agg.AddMinutes(t.Duration, t.Date.Year(), t.Date.Month()); err != nil {
			c.logger.Warn(ctx, "skipping invalid training",
				logger.String("username", username), logger.Error(err))
		}
	}
}

// resolve returns the cached entry or fetches it. Concurrent misses for one
// username share a single remote fetch. Not-found results are never cached.
// The shared fetch is detached from every caller's context and bounded by the
// fetch timeout; each caller stops waiting when its own ctx is done.
func (c *TrainerCache) resolve(ctx context.Context, username string) (*entry, error) {
	if e, ok := c.lookup(username); ok {
		metrics.RecordCacheHit()
		return e, nil
	}
	metrics.RecordCacheMiss()

	ch := c.group.DoChan(username, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fctx, username)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entry), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch trainer %q: %w", username, ctx.Err())
	}
}

func (c *TrainerCache) fetch(ctx context.Context, username string) (*entry, error) {
	if e, ok := c.lookup(username); ok {
		return e, nil
	}
	if c.fetcher == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrTrainerNotFound, username)
	}

	start := time.Now()
	p, err := c.fetcher.FetchByUsername(ctx, username)
	latency := float64(time.Since(start).Milliseconds())
	switch {
	case errors.Is(err, model.ErrTrainerNotFound):
		metrics.RecordRemoteFetch("not_found", latency)
		return nil, err
	case err != nil:
		metrics.RecordRemoteFetch("error", latency)
		metrics.RecordErrorByComponent("trainer_cache", "remote_fetch")
		return nil, fmt.Errorf("fetch trainer %q: %w", username, err)
	}
	metrics.RecordRemoteFetch("found", latency)

	p.Username = username
	fresh, err := c.newEntry(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.insert(ctx, username, fresh), nil
}

// Get returns the trainer identity, fetching it on a miss.
func (c *TrainerCache) Get(ctx context.Context, username string) (model.TrainerProfile, error) {
	u, err := normalize(username)
	if err != nil {
		return model.TrainerProfile{}, err
	}
	e, err := c.resolve(ctx, u)
	if err != nil {
		return model.TrainerProfile{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile, nil
}

// Put upserts a trainer. Profile fields are replaced as a whole; a non-nil
// training list also rebuilds the aggregate from it.
func (c *TrainerCache) Put(ctx context.Context, p model.TrainerProfile) error {
	u, err := normalize(p.Username)
	if err != nil {
		return err
	}
	p.Username = u

	for {
		e, ok := c.lookup(u)
		if !ok {
			fresh, err := c.newEntry(ctx, p)
			if err != nil {
				return err
			}
			if e = c.insert(ctx, u, fresh); e == fresh {
				return nil
			}
		}

		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		e.profile = p.IdentityOnly()
		if p.Trainings != nil {
			c.rebuild(ctx, u, e.agg, p.Trainings)
		}
		e.mu.Unlock()
		return nil
	}
}

// PutAll upserts every profile, stopping at the first invalid one.
func (c *TrainerCache) PutAll(ctx context.Context, profiles []model.TrainerProfile) error {
	for i := range profiles {
		if err := c.Put(ctx, profiles[i]); err != nil {
			return fmt.Errorf("profile %d: %w", i, err)
		}
	}
	return nil
}

// RecordWorkload applies an ADD or DELETE event to the trainer's aggregate.
// A trainer unknown locally and remotely is created from the event's identity.
// The event's status overwrites the cached one.
func (c *TrainerCache) RecordWorkload(ctx context.Context, ev model.WorkloadEvent) error {
	if err := ev.ValidateForApply(); err != nil {
		return err
	}
	ev.Username = strings.TrimSpace(ev.Username)

	for {
		e, err := c.resolve(ctx, ev.Username)
		if errors.Is(err, model.ErrTrainerNotFound) {
			fresh, ferr := c.newEntry(ctx, ev.Profile())
			if ferr != nil {
				return ferr
			}
			e = c.insert(ctx, ev.Username, fresh)
		} else if err != nil {
			return err
		}

		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		e.profile.Status = ev.Status
		err = c.apply(ctx, e.agg, ev)
		e.mu.Unlock()
		return err
	}
}

func (c *TrainerCache) apply(ctx context.Context, agg *workload.Aggregate, ev model.WorkloadEvent) error {
	year, month := ev.Date.Year(), ev.Date.Month()
	switch ev.Action {
	case model.ActionAdd:
		if err := agg.AddMinutes(ev.Duration, year, month); err != nil {
			return err
		}
	case model.ActionDelete:
		r, err := agg.RemoveMinutes(ev.Duration, year, month)
		if err != nil {
			return err
		}
		if r.Exceeded() {
			metrics.RecordRemovalExceeded()
			c.logger.Warn(ctx, "removal exceeded recorded minutes",
				logger.String("username", ev.Username),
				logger.Int("year", year),
				logger.String("month", month.String()),
				logger.Int64("duration", ev.Duration),
				logger.String("outcome", r.String()),
			)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", model.ErrInvalidEvent, ev.Action)
	}
	metrics.RecordWorkloadMinutes(string(ev.Action), ev.Duration)
	return nil
}

// Summary projects the trainer's buckets within [start, end], fetching the
// trainer on a miss. Nil bounds are open.
func (c *TrainerCache) Summary(ctx context.Context, username string, start, end *model.Date) (model.TrainerWorkloadSummary, error) {
	u, err := normalize(username)
	if err != nil {
		return model.TrainerWorkloadSummary{}, err
	}
	e, err := c.resolve(ctx, u)
	if err != nil {
		return model.TrainerWorkloadSummary{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return model.TrainerWorkloadSummary{
		Username:      e.profile.Username,
		FirstName:     e.profile.FirstName,
		LastName:      e.profile.LastName,
		TrainerStatus: e.profile.Status,
		Summary:       e.agg.ProjectRange(start, end),
	}, nil
}

func (c *TrainerCache) all() []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		return c.bounded.Values()
	}
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Usernames lists cached trainers in ascending order.
func (c *TrainerCache) Usernames() []string {
	c.mu.Lock()
	var names []string
	if c.bounded != nil {
		names = c.bounded.Keys()
	} else {
		names = make([]string, 0, len(c.entries))
		for u := range c.entries {
			names = append(names, u)
		}
	}
	c.mu.Unlock()

	slices.Sort(names)
	return names
}

// Profiles returns every cached identity ordered by username.
func (c *TrainerCache) Profiles() []model.TrainerProfile {
	entries := c.all()
	out := make([]model.TrainerProfile, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.profile)
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b model.TrainerProfile) int { return strings.Compare(a.Username, b.Username) })
	return out
}

// Snapshot copies every cached trainer and its buckets, ordered by username.
func (c *TrainerCache) Snapshot() []model.TrainerWorkload {
	entries := c.all()
	out := make([]model.TrainerWorkload, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshotLocked())
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b model.TrainerWorkload) int {
		return strings.Compare(a.Profile.Username, b.Profile.Username)
	})
	return out
}

// Count returns the number of cached trainers.
func (c *TrainerCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		return c.bounded.Len()
	}
	return len(c.entries)
}

// SaveWorkloadEvent keeps ev as the latest raw event for its trainer.
func (c *TrainerCache) SaveWorkloadEvent(ev model.WorkloadEvent) {
	c.latestMu.Lock()
	c.latest[strings.TrimSpace(ev.Username)] = ev
	c.latestMu.Unlock()
}

// RemoveWorkloadEvent drops the latest raw event for username.
func (c *TrainerCache) RemoveWorkloadEvent(username string) {
	c.latestMu.Lock()
	delete(c.latest, strings.TrimSpace(username))
	c.latestMu.Unlock()
}

// LatestWorkloadEvent returns the latest raw event for username.
func (c *TrainerCache) LatestWorkloadEvent(username string) (model.WorkloadEvent, bool) {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	ev, ok := c.latest[strings.TrimSpace(username)]
	return ev, ok
}

// startMetricsUpdater periodically publishes the cache size.
func (c *TrainerCache) startMetricsUpdater(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateCacheEntries(c.Count())
			}
		}
	}()
}
