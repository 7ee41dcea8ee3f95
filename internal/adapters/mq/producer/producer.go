// Package producer validates domain objects and publishes them onto channel
// destinations, routing every rejection to the dead-letter destination.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/workload/internal/adapters/mq/channel"
	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

// ProfileSource is the user-management view the producer publishes from.
type ProfileSource interface {
	FetchByUsername(ctx context.Context, username string) (model.TrainerProfile, error)
	ListTrainers(ctx context.Context) ([]model.TrainerProfile, error)
}

// Producer publishes JSON payloads onto a broker. Every call blocks until the
// publish, or its dead-letter fallback, completes.
type Producer struct {
	broker  channel.Broker
	profile ProfileSource
	now     func() time.Time
	logger  logger.Logger
}

// New creates a producer.
func New(broker channel.Broker, profiles ProfileSource, opts ...Option) *Producer {
	p := &Producer{
		broker:  broker,
		profile: profiles,
		now:     time.Now,
		logger:  logger.Get().Named("producer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish serializes payload and sends it to dest. A serialization failure
// is dead-lettered and returned wrapping model.ErrSerialization.
func (p *Producer) Publish(ctx context.Context, dest channel.Destination, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		reason := fmt.Sprintf("failed to serialize %T for %s: %v", payload, dest, err)
		_ = p.DeadLetter(ctx, model.NewDeadLetter(model.DeadLetterSerialization, reason, dest.String(), fmt.Sprintf("%+v", payload), p.now()))
		return fmt.Errorf("%w: %w", model.ErrSerialization, err)
	}

	err = p.broker.Publish(ctx, channel.Message{
		Destination: dest,
		Key:         key,
		Payload:     body,
		Headers:     map[string]string{channel.HeaderContentType: "application/json"},
		Timestamp:   p.now().UTC(),
	})
	if err != nil {
		p.logger.Error(ctx, "publish failed",
			logger.String("destination", dest.String()),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("publish to %s: %w", dest, err)
	}
	return nil
}

// PublishTrainerByUsername resolves a profile and publishes it. A blank
// username is dead-lettered and returned without contacting the profile
// source; an unknown trainer is dead-lettered and not returned.
func (p *Producer) PublishTrainerByUsername(ctx context.Context, username string) error {
	u := strings.TrimSpace(username)
	if u == "" {
		return p.rejectUsername(ctx, channel.TrainerProfile, username)
	}

	profile, err := p.profile.FetchByUsername(ctx, u)
	switch {
	case errors.Is(err, model.ErrTrainerNotFound):
		reason := fmt.Sprintf("Trainer not found: %s", u)
		_ = p.DeadLetter(ctx, model.NewDeadLetter(model.DeadLetterNotFound, reason, channel.TrainerProfile.String(), u, p.now()))
		return nil
	case err != nil:
		return fmt.Errorf("resolve trainer %q: %w", u, err)
	}

	return p.Publish(ctx, channel.TrainerProfile, u, profile)
}

// RequestTrainerProfile asks user management to publish username's profile.
func (p *Producer) RequestTrainerProfile(ctx context.Context, username string) error {
	u := strings.TrimSpace(username)
	if u == "" {
		return p.rejectUsername(ctx, channel.TrainerNameRequest, username)
	}
	return p.Publish(ctx, channel.TrainerNameRequest, u, u)
}

func (p *Producer) rejectUsername(ctx context.Context, dest channel.Destination, username string) error {
	_ = p.DeadLetter(ctx, model.NewDeadLetter(model.DeadLetterInvalidUsername, model.ReasonInvalidUsername, dest.String(), username, p.now()))
	return model.ErrInvalidUsername
}

// PublishWorkloadEvent validates ev and routes it by action. A nil or invalid
// event is dead-lettered and returned as an error.
func (p *Producer) PublishWorkloadEvent(ctx context.Context, ev *model.WorkloadEvent) error {
	if ev == nil {
		_ = p.DeadLetter(ctx, model.NewDeadLetter(model.DeadLetterInvalidEvent, model.ReasonNullEvent, "", "", p.now()))
		return fmt.Errorf("%w: nil event", model.ErrInvalidEvent)
	}

	ev.Username = strings.TrimSpace(ev.Username)
	if err := ev.Validate(p.now()); err != nil {
		payload, _ := json.Marshal(ev)
		_ = p.DeadLetter(ctx, model.NewDeadLetter(model.DeadLetterInvalidEvent, err.Error(), "", string(payload), p.now()))
		return err
	}

	dest := channel.WorkloadAdd
	if ev.Action == model.ActionDelete {
		dest = channel.WorkloadDelete
	}
	return p.Publish(ctx, dest, ev.Username, ev)
}

// PublishTrainerList publishes every known trainer in one message. An empty
// population is dead-lettered with "Users Not Found".
func (p *Producer) PublishTrainerList(ctx context.Context) error {
	profiles, err := p.profile.ListTrainers(ctx)
	if err != nil {
		return fmt.Errorf("list trainers: %w", err)
	}
	if len(profiles) == 0 {
		_ = p.DeadLetter(ctx, model.NewDeadLetter(model.DeadLetterEmptyList, model.ReasonUsersNotFound, channel.TrainerList.String(), "", p.now()))
		return nil
	}
	return p.Publish(ctx, channel.TrainerList, "", profiles)
}

// DeadLetter publishes dl to the dead-letter destination.
func (p *Producer) DeadLetter(ctx context.Context, dl model.DeadLetter) error {
	metrics.RecordDeadLetter(string(dl.Kind))
	p.logger.Warn(ctx, "dead-lettering message",
		logger.String("kind", string(dl.Kind)),
		logger.String("reason", dl.Reason),
		logger.String("destination", dl.Destination),
	)

	body, err := json.Marshal(dl)
	if err != nil {
		p.logger.Error(ctx, "failed to serialize dead letter", logger.Error(err))
		return fmt.Errorf("%w: %w", model.ErrSerialization, err)
	}
	err = p.broker.Publish(ctx, channel.Message{
		ID:          dl.ID,
		Destination: channel.DeadLetter,
		Key:         string(dl.Kind),
		Payload:     body,
		Headers:     map[string]string{channel.HeaderContentType: "application/json"},
		Timestamp:   dl.OccurredAt,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to publish dead letter", logger.String("id", dl.ID), logger.Error(err))
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}
