package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Month is a calendar month serialized by its upper-case English name.
type Month time.Month

// MarshalJSON encodes the month as e.g. "FEBRUARY".
func (m Month) MarshalJSON() ([]byte, error) {
	if m < 1 || m > 12 {
		return nil, fmt.Errorf("%w: month %d", ErrSerialization, int(m))
	}
	return json.Marshal(strings.ToUpper(time.Month(m).String()))
}

// UnmarshalJSON accepts a month name in any case or a number 1..12.
func (m *Month) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n < 1 || n > 12 {
			return fmt.Errorf("month out of range: %d", n)
		}
		*m = Month(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("month: %w", err)
	}
	for i := time.January; i <= time.December; i++ {
		if strings.EqualFold(i.String(), s) {
			*m = Month(i)
			return nil
		}
	}
	return fmt.Errorf("unknown month %q", s)
}

// MonthSummary is the total of one (year, month) bucket.
type MonthSummary struct {
	Month         Month `json:"month"`
	TotalDuration int64 `json:"totalDuration"`
}

// YearSummary groups month totals of one year, months ascending.
type YearSummary struct {
	Year   int            `json:"year"`
	Months []MonthSummary `json:"months"`
}

// TrainerWorkloadSummary is the read projection served by the summary API.
type TrainerWorkloadSummary struct {
	Username      string        `json:"username"`
	FirstName     string        `json:"firstName"`
	LastName      string        `json:"lastName"`
	TrainerStatus TrainerStatus `json:"trainerStatus"`
	Summary       []YearSummary `json:"summary"`
}

// TotalMinutes sums every month of the summary.
func (s *TrainerWorkloadSummary) TotalMinutes() int64 {
	var total int64
	for _, y := range s.Summary {
		for _, m := range y.Months {
			total += m.TotalDuration
		}
	}
	return total
}

// MonthlyWorkload is one bucket of a flushed snapshot.
type MonthlyWorkload struct {
	Year    int
	Month   time.Month
	Minutes int64
}

// TrainerWorkload is a point-in-time copy of one trainer's identity and
// buckets, used when persisting aggregates.
type TrainerWorkload struct {
	Profile TrainerProfile
	Buckets []MonthlyWorkload
}
