// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/workload/internal/adapters/mq/channel"
	"github.com/okian/workload/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SummaryDependencies
	WorkloadDependencies
	TrainerDependencies
	DeadLetterDependencies
	HealthDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	summaryHandler    *SummaryHandler
	workloadHandler   *WorkloadHandler
	trainerHandler    *TrainerHandler
	deadLetterHandler *DeadLetterHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(deps),
		statsHandler:      NewStatsHandler(statsProvider),
		summaryHandler:    NewSummaryHandler(deps),
		workloadHandler:   NewWorkloadHandler(deps),
		trainerHandler:    NewTrainerHandler(deps),
		deadLetterHandler: NewDeadLetterHandler(deps, defaultDeadLetterLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /summary/{username}", MetricsMiddleware(s.summaryHandler.HandleGetSummary, "summary"))
	mux.HandleFunc("POST /workload", MetricsMiddleware(s.workloadHandler.HandlePostWorkload, "workload"))
	mux.HandleFunc("GET /trainers/{username}", MetricsMiddleware(s.trainerHandler.HandleGetTrainer, "trainer"))
	mux.HandleFunc("POST /trainers/{username}/publish", MetricsMiddleware(s.trainerHandler.HandlePublishTrainer, "trainer_publish"))
	mux.HandleFunc("GET /dead-letters", MetricsMiddleware(s.deadLetterHandler.HandleGetDeadLetters, "dead_letters"))
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	resp := errorResponse{Code: code, Message: http.StatusText(status)}
	if err != nil {
		resp.Message = err.Error()
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			resp.Fields = verr.Errors
		}
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain and transport errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, model.ErrTrainerNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, model.ErrInvalidUsername),
		errors.Is(err, model.ErrInvalidEvent),
		errors.Is(err, model.ErrInvalidDate),
		errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, channel.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
	case errors.Is(err, channel.ErrClosed), errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}
