// Package loadgen drives a running workload service over HTTP: it submits
// generated ADD and DELETE events and checks the resulting summaries.
package loadgen

import (
	"time"

	"github.com/okian/workload/internal/domain/model"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL          string        // Base URL of the service
	Trainers         int           // Number of distinct trainers
	EventsPerTrainer int           // ADD events per trainer
	DeleteRatio      float64       // Share of ADD events followed by a DELETE
	Workers          int           // Number of concurrent submitters
	Timeout          time.Duration // HTTP request timeout
	Settle           time.Duration // Max wait for summaries to converge
	PollInterval     time.Duration // Summary polling period while settling
	OutputFile       string        // Output file for events, empty skips saving
	Verbose          bool          // Enable verbose logging
}

// Plan is a generated workload with the totals it should produce.
type Plan struct {
	Trainers []model.TrainerProfile
	Adds     []model.WorkloadEvent
	Deletes  []model.WorkloadEvent

	// AfterAdds and Final are expected total minutes per username.
	AfterAdds map[string]int64
	Final     map[string]int64
}

// Events returns every event of the plan, ADDs first.
func (p *Plan) Events() []model.WorkloadEvent {
	out := make([]model.WorkloadEvent, 0, len(p.Adds)+len(p.Deletes))
	out = append(out, p.Adds...)
	return append(out, p.Deletes...)
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated   int
	EventsSubmitted   int
	EventsAccepted    int
	EventsRejected    int
	EventsBackpressed int
	EventsFailed      int
	TrainersVerified  int
	Mismatches        int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}

func (s *Stats) add(o submitStats) {
	s.EventsSubmitted += o.submitted
	s.EventsAccepted += o.accepted
	s.EventsRejected += o.rejected
	s.EventsBackpressed += o.backpressed
	s.EventsFailed += o.failed
}
