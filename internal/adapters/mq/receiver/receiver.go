// Package receiver turns deliveries from the broker into cache mutations.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/workload/internal/adapters/mq/channel"
	"github.com/okian/workload/internal/adapters/mq/worker"
	"github.com/okian/workload/internal/domain/dedupe"
	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

// Consumption outcomes recorded per destination.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeArchived  = "archived"
	OutcomeIgnored   = "ignored"
)

// Cache is the trainer state the receiver mutates.
type Cache interface {
	Put(ctx context.Context, p model.TrainerProfile) error
	PutAll(ctx context.Context, profiles []model.TrainerProfile) error
	RecordWorkload(ctx context.Context, ev model.WorkloadEvent) error
	SaveWorkloadEvent(ev model.WorkloadEvent)
}

// Publisher answers trainer-name requests and dead-letters rejected messages.
type Publisher interface {
	PublishTrainerByUsername(ctx context.Context, username string) error
	DeadLetter(ctx context.Context, dl model.DeadLetter) error
}

// Archive stores records consumed from the dead-letter destination.
type Archive interface {
	Archive(ctx context.Context, dl model.DeadLetter) error
}

type discardArchive struct{}

func (discardArchive) Archive(context.Context, model.DeadLetter) error { return nil }

// Receiver dispatches deliveries by destination.
type Receiver struct {
	cache     Cache
	publisher Publisher
	archive   Archive
	deduper   dedupe.Deduper
	now       func() time.Time
	logger    logger.Logger
}

// New creates a receiver.
func New(cache Cache, publisher Publisher, opts ...Option) *Receiver {
	r := &Receiver{
		cache:     cache,
		publisher: publisher,
		archive:   discardArchive{},
		deduper:   dedupe.NewInMemoryDeduper(),
		now:       time.Now,
		logger:    logger.Get().Named("receiver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Routes maps every consumed destination to the receiver.
func (r *Receiver) Routes() map[channel.Destination]worker.Handler {
	routes := make(map[channel.Destination]worker.Handler, len(channel.Destinations()))
	for _, d := range channel.Destinations() {
		routes[d] = r
	}
	return routes
}

// Handle processes one delivery. Redeliveries of an applied message are
// skipped; a message that fails to apply is forgotten so a redelivery can
// apply it. Rejected payloads are dead-lettered and not returned.
func (r *Receiver) Handle(ctx context.Context, d channel.Delivery) error {
	dest := d.Destination.String()

	if d.ID != "" && r.deduper.SeenAndRecord(ctx, d.ID) {
		metrics.RecordMessageDuplicate()
		metrics.RecordMessageConsumed(dest, OutcomeDuplicate)
		r.logger.Debug(ctx, "skipping redelivered message",
			logger.String("destination", dest),
			logger.String("message_id", d.ID),
		)
		return nil
	}

	outcome, err := r.dispatch(ctx, d)
	metrics.RecordMessageConsumed(dest, outcome)
	if outcome == OutcomeFailed && d.ID != "" {
		r.deduper.Unrecord(ctx, d.ID)
	}
	return err
}

func (r *Receiver) dispatch(ctx context.Context, d channel.Delivery) (string, error) {
	switch d.Destination {
	case channel.TrainerProfile:
		return r.handleProfile(ctx, d)
	case channel.TrainerList:
		return r.handleProfileList(ctx, d)
	case channel.WorkloadAdd:
		return r.handleWorkload(ctx, d, model.ActionAdd)
	case channel.WorkloadDelete:
		return r.handleWorkload(ctx, d, model.ActionDelete)
	case channel.DeadLetter:
		return r.handleDeadLetter(ctx, d)
	case channel.TrainerNameRequest:
		return r.handleNameRequest(ctx, d)
	default:
		r.reject(ctx, d, model.DeadLetterRouting, fmt.Sprintf("no handler for destination %q", d.Destination))
		return OutcomeInvalid, nil
	}
}

func (r *Receiver) handleProfile(ctx context.Context, d channel.Delivery) (string, error) {
	var p model.TrainerProfile
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		r.reject(ctx, d, model.DeadLetterDecode, "malformed trainer profile: "+err.Error())
		return OutcomeInvalid, nil
	}
	if err := r.cache.Put(ctx, p); err != nil {
		return r.profileFailed(ctx, d, err)
	}
	return OutcomeApplied, nil
}

func (r *Receiver) handleProfileList(ctx context.Context, d channel.Delivery) (string, error) {
	var profiles []model.TrainerProfile
	if err := json.Unmarshal(d.Payload, &profiles); err != nil {
		r.reject(ctx, d, model.DeadLetterDecode, "malformed trainer list: "+err.Error())
		return OutcomeInvalid, nil
	}
	if len(profiles) == 0 {
		r.logger.Debug(ctx, "empty trainer list", logger.String("message_id", d.ID))
		return OutcomeIgnored, nil
	}
	if err := r.cache.PutAll(ctx, profiles); err != nil {
		return r.profileFailed(ctx, d, err)
	}
	r.logger.Info(ctx, "trainer list applied", logger.Int("trainers", len(profiles)))
	return OutcomeApplied, nil
}

func (r *Receiver) handleWorkload(ctx context.Context, d channel.Delivery, want model.ActionType) (string, error) {
	if isNull(d.Payload) {
		r.reject(ctx, d, model.DeadLetterInvalidEvent, model.ReasonNullEvent)
		return OutcomeInvalid, nil
	}

	var ev model.WorkloadEvent
	if err := json.Unmarshal(d.Payload, &ev); err != nil {
		r.reject(ctx, d, model.DeadLetterDecode, "malformed workload event: "+err.Error())
		return OutcomeInvalid, nil
	}
	if err := ev.ValidateForApply(); err != nil {
		r.reject(ctx, d, model.DeadLetterInvalidEvent, err.Error())
		return OutcomeInvalid, nil
	}
	if ev.Action != want {
		r.reject(ctx, d, model.DeadLetterRouting,
			fmt.Sprintf("action %s received on %s", ev.Action, d.Destination))
		return OutcomeInvalid, nil
	}

	if err := r.cache.RecordWorkload(ctx, ev); err != nil {
		if errors.Is(err, model.ErrInvalidEvent) {
			r.reject(ctx, d, model.DeadLetterInvalidEvent, err.Error())
			return OutcomeInvalid, nil
		}
		return r.applyFailed(ctx, d, err)
	}
	r.cache.SaveWorkloadEvent(ev)

	r.logger.Debug(ctx, "workload applied",
		logger.String("username", ev.Username),
		logger.String("action", string(ev.Action)),
		logger.String("date", ev.Date.String()),
		logger.Int64("duration", ev.Duration),
	)
	return OutcomeApplied, nil
}

// handleDeadLetter archives the record. Failures are logged and never
// dead-lettered again.
func (r *Receiver) handleDeadLetter(ctx context.Context, d channel.Delivery) (string, error) {
	var dl model.DeadLetter
	if err := json.Unmarshal(d.Payload, &dl); err != nil {
		dl = model.NewDeadLetter(model.DeadLetterDecode, "unreadable dead letter", "", string(d.Payload), r.now())
	}
	if dl.ID == "" {
		dl.ID = d.ID
	}
	if err := r.archive.Archive(ctx, dl); err != nil {
		metrics.RecordErrorByComponent("receiver", "archive_error")
		r.logger.Error(ctx, "failed to archive dead letter",
			logger.String("id", dl.ID),
			logger.Error(err),
		)
		return OutcomeFailed, fmt.Errorf("archive dead letter %s: %w", dl.ID, err)
	}
	return OutcomeArchived, nil
}

func (r *Receiver) handleNameRequest(ctx context.Context, d channel.Delivery) (string, error) {
	var username string
	if err := json.Unmarshal(d.Payload, &username); err != nil {
		// Plain-text usernames are accepted as well.
		username = strings.Trim(string(d.Payload), "\" \n")
	}

	err := r.publisher.PublishTrainerByUsername(ctx, username)
	switch {
	case errors.Is(err, model.ErrInvalidUsername):
		// Already dead-lettered by the publisher.
		return OutcomeInvalid, nil
	case err != nil:
		return r.applyFailed(ctx, d, err)
	}
	return OutcomeApplied, nil
}

func (r *Receiver) profileFailed(ctx context.Context, d channel.Delivery, err error) (string, error) {
	if errors.Is(err, model.ErrInvalidUsername) {
		r.reject(ctx, d, model.DeadLetterInvalidUsername, model.ReasonInvalidUsername)
		return OutcomeInvalid, nil
	}
	return r.applyFailed(ctx, d, err)
}

func (r *Receiver) applyFailed(ctx context.Context, d channel.Delivery, err error) (string, error) {
	metrics.RecordErrorByComponent("receiver", "apply_error")
	r.reject(ctx, d, model.DeadLetterProcessing, err.Error())
	return OutcomeFailed, fmt.Errorf("apply %s message %s: %w", d.Destination, d.ID, err)
}

func (r *Receiver) reject(ctx context.Context, d channel.Delivery, kind model.DeadLetterKind, reason string) {
	dl := model.NewDeadLetter(kind, reason, d.Destination.String(), string(d.Payload), r.now())
	if err := r.publisher.DeadLetter(ctx, dl); err != nil {
		r.logger.Error(ctx, "failed to dead-letter message",
			logger.String("destination", d.Destination.String()),
			logger.String("message_id", d.ID),
			logger.Error(err),
		)
	}
}

func isNull(payload []byte) bool {
	s := strings.TrimSpace(string(payload))
	return s == "" || s == "null"
}
