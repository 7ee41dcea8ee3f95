// Package workload holds the per-trainer year/month minute aggregate.
//
// An Aggregate is not safe for concurrent use; callers serialize access per
// trainer.
package workload

import (
	"fmt"
	"slices"
	"time"

	"github.com/okian/workload/internal/domain/model"
)

// Removal describes what RemoveMinutes did.
type Removal int

const (
	// Removed subtracted the full duration.
	Removed Removal = iota
	// Clamped hit zero before the full duration was subtracted.
	Clamped
	// Absent found no bucket and changed nothing.
	Absent
)

func (r Removal) String() string {
	switch r {
	case Removed:
		return "removed"
	case Clamped:
		return "clamped"
	case Absent:
		return "absent"
	default:
		return "unknown"
	}
}

// Exceeded reports whether the removal asked for more than was recorded.
func (r Removal) Exceeded() bool { return r != Removed }

// Aggregate buckets training minutes by year and month. Buckets are created
// on first contribution and never removed.
type Aggregate struct {
	years map[int]map[time.Month]int64
}

// New returns an empty aggregate.
func New() *Aggregate {
	return &Aggregate{years: make(map[int]map[time.Month]int64)}
}

// FromBuckets rebuilds an aggregate from a snapshot.
func FromBuckets(buckets []model.MonthlyWorkload) *Aggregate {
	a := New()
	for _, b := range buckets {
		if b.Month < time.January || b.Month > time.December || b.Minutes < 0 {
			continue
		}
		a.bucket(b.Year)[b.Month] += b.Minutes
	}
	return a
}

func (a *Aggregate) bucket(year int) map[time.Month]int64 {
	y, ok := a.years[year]
	if !ok {
		y = make(map[time.Month]int64, 12)
		a.years[year] = y
	}
	return y
}

func validate(duration int64, month time.Month) error {
	if duration <= 0 {
		return fmt.Errorf("%w: %d", ErrNonPositiveDuration, duration)
	}
	if month < time.January || month > time.December {
		return fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	return nil
}

// AddMinutes adds duration to the (year, month) bucket, creating it if needed.
func (a *Aggregate) AddMinutes(duration int64, year int, month time.Month) error {
	if err := validate(duration, month); err != nil {
		return err
	}
	a.bucket(year)[month] += duration
	return nil
}

// RemoveMinutes subtracts duration from the (year, month) bucket. A missing
// bucket is left absent and the stored value never drops below zero.
func (a *Aggregate) RemoveMinutes(duration int64, year int, month time.Month) (Removal, error) {
	if err := validate(duration, month); err != nil {
		return Absent, err
	}
	y, ok := a.years[year]
	if !ok {
		return Absent, nil
	}
	current, ok := y[month]
	if !ok {
		return Absent, nil
	}
	if duration > current {
		y[month] = 0
		return Clamped, nil
	}
	y[month] = current - duration
	return Removed, nil
}

// Minutes returns the bucket value and whether the bucket exists.
func (a *Aggregate) Minutes(year int, month time.Month) (int64, bool) {
	y, ok := a.years[year]
	if !ok {
		return 0, false
	}
	v, ok := y[month]
	return v, ok
}

// ProjectRange returns the buckets whose (year, month) lies within the
// inclusive range of the months of start and end, years and months ascending.
// A nil bound leaves that side open; with both nil every bucket is returned,
// zero-valued ones included.
func (a *Aggregate) ProjectRange(start, end *model.Date) []model.YearSummary {
	years := make([]int, 0, len(a.years))
	for y := range a.years {
		years = append(years, y)
	}
	slices.Sort(years)

	out := make([]model.YearSummary, 0, len(years))
	for _, year := range years {
		var months []model.MonthSummary
		for m := time.January; m <= time.December; m++ {
			v, ok := a.years[year][m]
			if !ok || !inRange(year, m, start, end) {
				continue
			}
			months = append(months, model.MonthSummary{Month: model.Month(m), TotalDuration: v})
		}
		if len(months) > 0 {
			out = append(out, model.YearSummary{Year: year, Months: months})
		}
	}
	return out
}

func inRange(year int, month time.Month, start, end *model.Date) bool {
	key := year*12 + int(month) - 1
	if start != nil && !start.IsZero() && key < start.Year()*12+int(start.Month())-1 {
		return false
	}
	if end != nil && !end.IsZero() && key > end.Year()*12+int(end.Month())-1 {
		return false
	}
	return true
}

// Reset zeroes every bucket while keeping the bucket structure.
func (a *Aggregate) Reset() {
	for _, y := range a.years {
		for m := range y {
			y[m] = 0
		}
	}
}

// Total sums every bucket.
func (a *Aggregate) Total() int64 {
	var total int64
	for _, y := range a.years {
		for _, v := range y {
			total += v
		}
	}
	return total
}

// Len returns the number of buckets.
func (a *Aggregate) Len() int {
	n := 0
	for _, y := range a.years {
		n += len(y)
	}
	return n
}

// Buckets returns a copy of every bucket, years and months ascending.
func (a *Aggregate) Buckets() []model.MonthlyWorkload {
	out := make([]model.MonthlyWorkload, 0, a.Len())
	for _, ys := range a.ProjectRange(nil, nil) {
		for _, m := range ys.Months {
			out = append(out, model.MonthlyWorkload{Year: ys.Year, Month: time.Month(m.Month), Minutes: m.TotalDuration})
		}
	}
	return out
}
