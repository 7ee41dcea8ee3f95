package loadgen

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/internal/domain/workload"
	"github.com/okian/workload/pkg/logger"
)

// Generation ranges.
const (
	minDuration   = 15
	maxDuration   = 180
	horizonDays   = 120
	usernameChars = 8
)

// Generate builds a plan starting from the calendar day of now. Every DELETE
// removes at most the minutes its paired ADD contributed, so final totals
// never depend on clamping.
func Generate(ctx context.Context, cfg *Config, now time.Time, rng *rand.Rand) *Plan {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(now.UnixNano()), 0))
	}
	today := model.DateOf(now)

	plan := &Plan{
		AfterAdds: make(map[string]int64, cfg.Trainers),
		Final:     make(map[string]int64, cfg.Trainers),
	}

	for range cfg.Trainers {
		p := model.TrainerProfile{
			Username:  "trainer." + uuid.NewString()[:usernameChars],
			FirstName: firstNames[rng.IntN(len(firstNames))],
			LastName:  lastNames[rng.IntN(len(lastNames))],
			Status:    model.StatusFromActive(rng.IntN(5) > 0),
		}
		plan.Trainers = append(plan.Trainers, p)

		agg := workload.New()
		var deletes []model.WorkloadEvent
		for range cfg.EventsPerTrainer {
			day := today.AddDate(0, 0, rng.IntN(horizonDays))
			ev := model.WorkloadEvent{
				Username:  p.Username,
				FirstName: p.FirstName,
				LastName:  p.LastName,
				Status:    p.Status,
				Date:      model.DateOf(day),
				Duration:  int64(minDuration + rng.IntN(maxDuration-minDuration+1)),
				Action:    model.ActionAdd,
			}
			plan.Adds = append(plan.Adds, ev)
			_ = agg.AddMinutes(ev.Duration, ev.Date.Year(), ev.Date.Month())

			if rng.Float64() < cfg.DeleteRatio {
				del := ev
				del.Action = model.ActionDelete
				del.Duration = 1 + rng.Int64N(ev.Duration)
				deletes = append(deletes, del)
			}
		}
		plan.AfterAdds[p.Username] = agg.Total()

		for _, del := range deletes {
			_, _ = agg.RemoveMinutes(del.Duration, del.Date.Year(), del.Date.Month())
		}
		plan.Deletes = append(plan.Deletes, deletes...)
		plan.Final[p.Username] = agg.Total()
	}

	logger.Get().Info(ctx, "generated workload plan",
		logger.Int("trainers", len(plan.Trainers)),
		logger.Int("adds", len(plan.Adds)),
		logger.Int("deletes", len(plan.Deletes)))
	return plan
}

var firstNames = []string{"Harry", "Hermione", "Ron", "Ginny", "Neville", "Luna", "Cho", "Cedric"}

var lastNames = []string{"Potter", "Granger", "Weasley", "Longbottom", "Lovegood", "Chang", "Diggory"}
