package api

import (
	"context"
	"net/http"

	"github.com/okian/workload/internal/domain/model"
)

// SummaryDependencies defines the interface for summary queries.
type SummaryDependencies interface {
	Summary(ctx context.Context, username string, start, end *model.Date) (model.TrainerWorkloadSummary, error)
}

// SummaryHandler handles summary requests.
type SummaryHandler struct {
	deps SummaryDependencies
}

// NewSummaryHandler creates a new summary handler.
func NewSummaryHandler(deps SummaryDependencies) *SummaryHandler {
	return &SummaryHandler{deps: deps}
}

// HandleGetSummary handles GET /summary/{username}?startDate=&endDate=.
// Both bounds are optional YYYY-MM-DD dates.
func (h *SummaryHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_summary"

	start, err := optionalDate(r, "startDate")
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	end, err := optionalDate(r, "endDate")
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	if start != nil && end != nil && start.After(end.Time) {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	summary, err := h.deps.Summary(r.Context(), r.PathValue("username"), start, end)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func optionalDate(r *http.Request, key string) (*model.Date, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
