// Package query answers date-range workload questions from the trainer cache.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

// ErrInvalidRange is returned when the start date is after the end date.
var ErrInvalidRange = errors.New("start date is after end date")

// Summarizer projects one trainer's buckets into a summary. Nil bounds are open.
type Summarizer interface {
	Summary(ctx context.Context, username string, start, end *model.Date) (model.TrainerWorkloadSummary, error)
}

// WorkloadQueryService is the synchronous read side.
type WorkloadQueryService struct {
	cache  Summarizer
	logger logger.Logger
}

// New creates a query service over cache.
func New(cache Summarizer) *WorkloadQueryService {
	return &WorkloadQueryService{
		cache:  cache,
		logger: logger.Get().Named("query"),
	}
}

// GetTrainerWorkloadByName returns username's workload between start and end,
// ordered by year then month. An unresolvable trainer returns
// model.ErrTrainerNotFound.
func (s *WorkloadQueryService) GetTrainerWorkloadByName(ctx context.Context, username string, start, end *model.Date) (model.TrainerWorkloadSummary, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return model.TrainerWorkloadSummary{}, model.ErrInvalidUsername
	}
	if start != nil && end != nil && start.After(end.Time) {
		return model.TrainerWorkloadSummary{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}

	summary, err := s.cache.Summary(ctx, u, start, end)
	if err != nil {
		if !errors.Is(err, model.ErrTrainerNotFound) {
			s.logger.Error(ctx, "summary failed", logger.String("username", u), logger.Error(err))
		}
		return model.TrainerWorkloadSummary{}, err
	}
	return summary, nil
}
