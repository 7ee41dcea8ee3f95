package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/workload/internal/domain/model"
)

const maxBodyBytes = 1 << 20

// WorkloadDependencies accepts workload requests for publishing.
type WorkloadDependencies interface {
	SubmitWorkload(ctx context.Context, ev *model.WorkloadEvent) error
}

// WorkloadHandler handles workload submissions.
type WorkloadHandler struct {
	deps WorkloadDependencies
}

// NewWorkloadHandler creates a new workload handler.
func NewWorkloadHandler(deps WorkloadDependencies) *WorkloadHandler {
	return &WorkloadHandler{deps: deps}
}

// HandlePostWorkload handles POST /workload requests. A JSON null body is
// passed through so it is dead-lettered like any other rejected event.
func (h *WorkloadHandler) HandlePostWorkload(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_workload"

	var ev *model.WorkloadEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.SubmitWorkload(r.Context(), ev); err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
