package api

import (
	"net/http"
	"strconv"

	"github.com/okian/workload/internal/domain/model"
)

const defaultDeadLetterLimit = 100

// DeadLetterDependencies lists recent dead letters.
type DeadLetterDependencies interface {
	DeadLetters(limit int) []model.DeadLetter
}

// DeadLetterHandler handles dead-letter inspection.
type DeadLetterHandler struct {
	deps     DeadLetterDependencies
	maxLimit int
}

// NewDeadLetterHandler creates a new dead-letter handler.
func NewDeadLetterHandler(deps DeadLetterDependencies, maxLimit int) *DeadLetterHandler {
	return &DeadLetterHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetDeadLetters handles GET /dead-letters?limit=N requests.
func (h *DeadLetterHandler) HandleGetDeadLetters(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_dead_letters"

	n := h.maxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		if v > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
			return
		}
		n = v
	}

	records := h.deps.DeadLetters(n)
	if records == nil {
		records = []model.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, records)
}
