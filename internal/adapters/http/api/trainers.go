package api

import (
	"context"
	"net/http"

	"github.com/okian/workload/internal/domain/model"
)

// TrainerDependencies exposes the profile directory and trainer publishing.
type TrainerDependencies interface {
	Trainer(ctx context.Context, username string) (model.TrainerProfile, error)
	PublishTrainer(ctx context.Context, username string) error
}

// TrainerHandler handles trainer profile requests.
type TrainerHandler struct {
	deps TrainerDependencies
}

// NewTrainerHandler creates a new trainer handler.
func NewTrainerHandler(deps TrainerDependencies) *TrainerHandler {
	return &TrainerHandler{deps: deps}
}

// HandleGetTrainer handles GET /trainers/{username}. It is also the endpoint
// remote fetchers call on a cache miss.
func (h *TrainerHandler) HandleGetTrainer(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Trainer(r.Context(), r.PathValue("username"))
	if err != nil {
		writeDomainError(w, "api.get_trainer", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandlePublishTrainer handles POST /trainers/{username}/publish. An unknown
// trainer is dead-lettered and still accepted.
func (h *TrainerHandler) HandlePublishTrainer(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.PublishTrainer(r.Context(), r.PathValue("username")); err != nil {
		writeDomainError(w, "api.publish_trainer", err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
