package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

type fakeFetcher struct {
	mu       sync.Mutex
	profiles map[string]model.TrainerProfile
	calls    atomic.Int64
	delay    time.Duration
	err      error
}

func (f *fakeFetcher) FetchByUsername(_ context.Context, username string) (model.TrainerProfile, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return model.TrainerProfile{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[username]
	if !ok {
		return model.TrainerProfile{}, fmt.Errorf("%w: %s", model.ErrTrainerNotFound, username)
	}
	return p, nil
}

func harry() model.TrainerProfile {
	return model.TrainerProfile{Username: "harry.potter", FirstName: "Harry", LastName: "Potter", Status: model.StatusActive}
}

func event(action model.ActionType, minutes int64, year int, month time.Month) model.WorkloadEvent {
	return model.WorkloadEvent{
		Username:  "harry.potter",
		FirstName: "Harry",
		LastName:  "Potter",
		Status:    model.StatusActive,
		Date:      model.NewDate(year, month, 2),
		Duration:  minutes,
		Action:    action,
	}
}

func TestTrainerCacheGet(t *testing.T) {
	_ = logger.Init()

	Convey("Given a cache backed by a remote fetcher", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fetcher := &fakeFetcher{profiles: map[string]model.TrainerProfile{"harry.potter": harry()}}
		c := NewTrainerCache(ctx, fetcher)
		defer func() { _ = c.Close() }()

		Convey("When a cached trainer is requested", func() {
			So(c.Put(ctx, harry()), ShouldBeNil)
			p, err := c.Get(ctx, "harry.potter")

			Convey("Then the fetcher is not contacted", func() {
				So(err, ShouldBeNil)
				So(p.FirstName, ShouldEqual, "Harry")
				So(fetcher.calls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When many goroutines miss on the same trainer", func() {
			fetcher.delay = 50 * time.Millisecond
			var wg sync.WaitGroup
			results := make([]model.TrainerProfile, 16)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], _ = c.Get(ctx, "harry.potter")
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one fetch happens and everyone sees it", func() {
				So(fetcher.calls.Load(), ShouldEqual, 1)
				for _, r := range results {
					So(r.Username, ShouldEqual, "harry.potter")
				}
				So(c.Count(), ShouldEqual, 1)
			})
		})

		Convey("When the trainer does not exist remotely", func() {
			_, err1 := c.Get(ctx, "nobody")
			_, err2 := c.Get(ctx, "nobody")

			Convey("Then not-found is returned and never cached", func() {
				So(errors.Is(err1, model.ErrTrainerNotFound), ShouldBeTrue)
				So(errors.Is(err2, model.ErrTrainerNotFound), ShouldBeTrue)
				So(fetcher.calls.Load(), ShouldEqual, 2)
				So(c.Count(), ShouldEqual, 0)
			})
		})

		Convey("When the fetcher fails", func() {
			fetcher.err = errors.New("connection refused")
			_, err := c.Get(ctx, "harry.potter")

			Convey("Then the error is propagated", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, model.ErrTrainerNotFound), ShouldBeFalse)
				So(c.Count(), ShouldEqual, 0)
			})
		})

		Convey("When the username is blank", func() {
			_, err := c.Get(ctx, "  ")

			Convey("Then it is rejected without a fetch", func() {
				So(errors.Is(err, model.ErrInvalidUsername), ShouldBeTrue)
				So(fetcher.calls.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestTrainerCachePut(t *testing.T) {
	_ = logger.Init()

	Convey("Given an empty cache", t, func() {
		ctx := context.Background()
		c := NewTrainerCache(ctx, nil)
		defer func() { _ = c.Close() }()

		Convey("When a profile is put twice", func() {
			So(c.Put(ctx, harry()), ShouldBeNil)
			updated := harry()
			updated.LastName = "Potter-Weasley"
			updated.Status = model.StatusInactive
			So(c.Put(ctx, updated), ShouldBeNil)

			Convey("Then the last write wins", func() {
				p, err := c.Get(ctx, "harry.potter")
				So(err, ShouldBeNil)
				So(p, ShouldResemble, updated)
			})
		})

		Convey("When a profile carries trainings", func() {
			p := harry()
			p.Trainings = []model.Training{
				{Date: model.NewDate(2024, time.February, 2), Duration: 60},
				{Date: model.NewDate(2024, time.February, 20), Duration: 30},
				{Date: model.NewDate(2024, time.March, 1), Duration: -5},
			}
			So(c.Put(ctx, p), ShouldBeNil)

			Convey("Then the aggregate is rebuilt from them", func() {
				s, err := c.Summary(ctx, "harry.potter", nil, nil)
				So(err, ShouldBeNil)
				So(s.TotalMinutes(), ShouldEqual, 90)

				p.Trainings = []model.Training{}
				So(c.Put(ctx, p), ShouldBeNil)
				s, _ = c.Summary(ctx, "harry.potter", nil, nil)
				So(s.TotalMinutes(), ShouldEqual, 0)
				So(s.Summary, ShouldHaveLength, 1)
			})
		})

		Convey("When PutAll meets a blank username", func() {
			err := c.PutAll(ctx, []model.TrainerProfile{harry(), {Username: ""}})

			Convey("Then earlier profiles are kept and the error is reported", func() {
				So(errors.Is(err, model.ErrInvalidUsername), ShouldBeTrue)
				So(c.Usernames(), ShouldResemble, []string{"harry.potter"})
			})
		})
	})
}

func TestTrainerCacheRecordWorkload(t *testing.T) {
	_ = logger.Init()

	Convey("Given a cache with harry.potter", t, func() {
		ctx := context.Background()
		c := NewTrainerCache(ctx, nil)
		defer func() { _ = c.Close() }()
		So(c.Put(ctx, harry()), ShouldBeNil)

		Convey("When two adds and a delete arrive for February 2024", func() {
			So(c.RecordWorkload(ctx, event(model.ActionAdd, 60, 2024, time.February)), ShouldBeNil)
			So(c.RecordWorkload(ctx, event(model.ActionAdd, 30, 2024, time.February)), ShouldBeNil)
			s, _ := c.Summary(ctx, "harry.potter", nil, nil)
			So(s.TotalMinutes(), ShouldEqual, 90)

			So(c.RecordWorkload(ctx, event(model.ActionDelete, 40, 2024, time.February)), ShouldBeNil)

			Convey("Then the bucket holds 50 minutes", func() {
				s, _ := c.Summary(ctx, "harry.potter", nil, nil)
				So(s.Summary, ShouldResemble, []model.YearSummary{{
					Year:   2024,
					Months: []model.MonthSummary{{Month: model.Month(time.February), TotalDuration: 50}},
				}})
			})
		})

		Convey("When an event carries a new status", func() {
			ev := event(model.ActionAdd, 10, 2024, time.May)
			ev.Status = model.StatusInactive
			So(c.RecordWorkload(ctx, ev), ShouldBeNil)

			Convey("Then the status is overwritten", func() {
				p, _ := c.Get(ctx, "harry.potter")
				So(p.Status, ShouldEqual, model.StatusInactive)
			})
		})

		Convey("When a delete arrives for a trainer nobody knows", func() {
			ev := event(model.ActionDelete, 10, 2024, time.May)
			ev.Username = "ron.weasley"
			ev.FirstName = "Ron"
			So(c.RecordWorkload(ctx, ev), ShouldBeNil)

			Convey("Then the trainer is created without buckets", func() {
				s, err := c.Summary(ctx, "ron.weasley", nil, nil)
				So(err, ShouldBeNil)
				So(s.FirstName, ShouldEqual, "Ron")
				So(s.Summary, ShouldBeEmpty)
			})
		})

		Convey("When the event is malformed", func() {
			ev := event(model.ActionAdd, 0, 2024, time.May)

			Convey("Then nothing is mutated", func() {
				So(errors.Is(c.RecordWorkload(ctx, ev), model.ErrInvalidEvent), ShouldBeTrue)
				s, _ := c.Summary(ctx, "harry.potter", nil, nil)
				So(s.Summary, ShouldBeEmpty)
			})
		})

		Convey("When adds and deletes race on one trainer", func() {
			So(c.RecordWorkload(ctx, event(model.ActionAdd, 100_000, 2024, time.June)), ShouldBeNil)
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_ = c.RecordWorkload(ctx, event(model.ActionAdd, 7, 2024, time.June))
				}()
				go func() {
					defer wg.Done()
					_ = c.RecordWorkload(ctx, event(model.ActionDelete, 3, 2024, time.June))
				}()
			}
			wg.Wait()

			Convey("Then no update is lost", func() {
				s, _ := c.Summary(ctx, "harry.potter", nil, nil)
				So(s.TotalMinutes(), ShouldEqual, 100_000+50*7-50*3)
			})
		})
	})
}

func TestTrainerCacheBounded(t *testing.T) {
	_ = logger.Init()

	Convey("Given a cache bounded to two trainers", t, func() {
		ctx := context.Background()
		var mu sync.Mutex
		flushed := map[string][]model.MonthlyWorkload{}
		c := NewTrainerCache(ctx, nil,
			WithMaxEntries(2),
			WithEvictionHook(func(_ context.Context, s model.TrainerWorkload) {
				mu.Lock()
				flushed[s.Profile.Username] = s.Buckets
				mu.Unlock()
			}),
			WithSnapshotLoader(func(_ context.Context, username string) ([]model.MonthlyWorkload, error) {
				mu.Lock()
				defer mu.Unlock()
				return flushed[username], nil
			}),
		)
		defer func() { _ = c.Close() }()

		So(c.RecordWorkload(ctx, event(model.ActionAdd, 60, 2024, time.February)), ShouldBeNil)
		for _, u := range []string{"a", "b"} {
			So(c.Put(ctx, model.TrainerProfile{Username: u, Status: model.StatusActive}), ShouldBeNil)
		}

		Convey("Then the least recently used trainer is flushed", func() {
			So(c.Count(), ShouldEqual, 2)
			mu.Lock()
			So(flushed["harry.potter"], ShouldResemble, []model.MonthlyWorkload{{Year: 2024, Month: time.February, Minutes: 60}})
			mu.Unlock()
		})

		Convey("When the evicted trainer receives more work", func() {
			So(c.RecordWorkload(ctx, event(model.ActionAdd, 30, 2024, time.February)), ShouldBeNil)

			Convey("Then its flushed buckets are restored first", func() {
				s, err := c.Summary(ctx, "harry.potter", nil, nil)
				So(err, ShouldBeNil)
				So(s.TotalMinutes(), ShouldEqual, 90)
			})
		})
	})
}

type slowFetcher struct {
	delay time.Duration
	calls atomic.Int64
}

func (f *slowFetcher) FetchByUsername(ctx context.Context, username string) (model.TrainerProfile, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return model.TrainerProfile{}, ctx.Err()
	}
	p := harry()
	p.Username = username
	return p, nil
}

func TestTrainerCacheEvictionRace(t *testing.T) {
	_ = logger.Init()

	Convey("Given a single-slot cache whose eviction flush is slow", t, func() {
		ctx := context.Background()
		var mu sync.Mutex
		stored := map[string][]model.MonthlyWorkload{}
		entered := make(chan struct{}, 1)
		release := make(chan struct{})

		c := NewTrainerCache(ctx, nil,
			WithMaxEntries(1),
			WithEvictionHook(func(_ context.Context, s model.TrainerWorkload) {
				if s.Profile.Username == "harry.potter" {
					select {
					case entered <- struct{}{}:
					default:
					}
					<-release
				}
				mu.Lock()
				stored[s.Profile.Username] = s.Buckets
				mu.Unlock()
			}),
			WithSnapshotLoader(func(_ context.Context, username string) ([]model.MonthlyWorkload, error) {
				mu.Lock()
				defer mu.Unlock()
				return stored[username], nil
			}),
		)
		defer func() { _ = c.Close() }()

		So(c.RecordWorkload(ctx, event(model.ActionAdd, 60, 2024, time.February)), ShouldBeNil)

		putDone := make(chan error, 1)
		go func() { putDone <- c.Put(ctx, model.TrainerProfile{Username: "ron", Status: model.StatusActive}) }()
		select {
		case <-entered:
		case <-time.After(time.Second):
			t.Fatal("eviction hook was not called")
		}

		Convey("When the evicted trainer gets more work while its snapshot is written", func() {
			recDone := make(chan error, 1)
			go func() { recDone <- c.RecordWorkload(ctx, event(model.ActionAdd, 30, 2024, time.February)) }()

			var waited bool
			select {
			case <-recDone:
			case <-time.After(50 * time.Millisecond):
				waited = true
			}
			close(release)

			Convey("Then the restore waits for the snapshot and no minutes are lost", func() {
				So(waited, ShouldBeTrue)
				So(<-putDone, ShouldBeNil)
				So(<-recDone, ShouldBeNil)

				s, err := c.Summary(ctx, "harry.potter", nil, nil)
				So(err, ShouldBeNil)
				So(s.TotalMinutes(), ShouldEqual, 90)

				mu.Lock()
				So(stored["harry.potter"], ShouldResemble, []model.MonthlyWorkload{{Year: 2024, Month: time.February, Minutes: 60}})
				mu.Unlock()
			})
		})
	})
}

func TestTrainerCacheSharedFetchContext(t *testing.T) {
	_ = logger.Init()

	Convey("Given a remote fetch slower than one caller's deadline", t, func() {
		ctx := context.Background()
		fetcher := &slowFetcher{delay: 100 * time.Millisecond}
		c := NewTrainerCache(ctx, fetcher)
		defer func() { _ = c.Close() }()

		Convey("When a short-lived reader and the consumer miss together", func() {
			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			getErr := make(chan error, 1)
			go func() {
				_, err := c.Get(short, "harry.potter")
				getErr <- err
			}()
			time.Sleep(5 * time.Millisecond)

			err := c.RecordWorkload(ctx, event(model.ActionAdd, 45, 2024, time.March))

			Convey("Then only the reader fails and the event is applied", func() {
				So(err, ShouldBeNil)
				So(errors.Is(<-getErr, context.DeadlineExceeded), ShouldBeTrue)
				So(fetcher.calls.Load(), ShouldEqual, 1)

				s, err := c.Summary(ctx, "harry.potter", nil, nil)
				So(err, ShouldBeNil)
				So(s.TotalMinutes(), ShouldEqual, 45)
			})
		})
	})

	Convey("Given a fetch timeout shorter than the remote fetch", t, func() {
		ctx := context.Background()
		c := NewTrainerCache(ctx, &slowFetcher{delay: 200 * time.Millisecond}, WithFetchTimeout(30*time.Millisecond))
		defer func() { _ = c.Close() }()

		Convey("Then the shared fetch is abandoned", func() {
			_, err := c.Get(ctx, "harry.potter")
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})
	})
}

func TestTrainerCacheLatestEvent(t *testing.T) {
	_ = logger.Init()

	Convey("Given the latest raw event store", t, func() {
		c := NewTrainerCache(context.Background(), nil)
		defer func() { _ = c.Close() }()

		ev := event(model.ActionAdd, 60, 2024, time.February)
		c.SaveWorkloadEvent(ev)
		got, ok := c.LatestWorkloadEvent("harry.potter")
		So(ok, ShouldBeTrue)
		So(got, ShouldResemble, ev)

		c.RemoveWorkloadEvent("harry.potter")
		_, ok = c.LatestWorkloadEvent("harry.potter")
		So(ok, ShouldBeFalse)
	})
}

func TestTrainerCacheSnapshot(t *testing.T) {
	_ = logger.Init()

	Convey("Given trainers with work", t, func() {
		ctx := context.Background()
		c := NewTrainerCache(ctx, nil)
		defer func() { _ = c.Close() }()

		So(c.Put(ctx, model.TrainerProfile{Username: "zed", Status: model.StatusActive}), ShouldBeNil)
		So(c.RecordWorkload(ctx, event(model.ActionAdd, 45, 2023, time.November)), ShouldBeNil)

		Convey("Then snapshots and listings are ordered by username", func() {
			snap := c.Snapshot()
			So(snap, ShouldHaveLength, 2)
			So(snap[0].Profile.Username, ShouldEqual, "harry.potter")
			So(snap[0].Buckets, ShouldHaveLength, 1)
			So(c.Usernames(), ShouldResemble, []string{"harry.potter", "zed"})
			So(c.Profiles()[1].Username, ShouldEqual, "zed")
		})
	})
}

func TestTrainerCacheRefreshInterval(t *testing.T) {
	Convey("Given a configured metrics refresh interval", t, func() {
		prev := metrics.RefreshInterval()
		Reset(func() { metrics.SetRefreshInterval(prev) })
		metrics.SetRefreshInterval(250 * time.Millisecond)

		Convey("When a cache is built without an explicit interval", func() {
			c := NewTrainerCache(context.Background(), nil)
			defer func() { _ = c.Close() }()

			Convey("Then its gauge refresher uses the shared interval", func() {
				So(c.metricsUpdateInterval, ShouldEqual, 250*time.Millisecond)
			})
		})

		Convey("When the interval is overridden", func() {
			c := NewTrainerCache(context.Background(), nil, WithMetricsUpdateInterval(time.Second))
			defer func() { _ = c.Close() }()

			Convey("Then the option wins", func() {
				So(c.metricsUpdateInterval, ShouldEqual, time.Second)
			})
		})
	})
}
