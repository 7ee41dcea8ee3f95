package model

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetterKind classifies why a message was rejected.
type DeadLetterKind string

// Dead-letter kinds.
const (
	DeadLetterInvalidUsername DeadLetterKind = "invalid_username"
	DeadLetterNotFound        DeadLetterKind = "trainer_not_found"
	DeadLetterInvalidEvent    DeadLetterKind = "invalid_event"
	DeadLetterSerialization   DeadLetterKind = "serialization"
	DeadLetterDecode          DeadLetterKind = "decode"
	DeadLetterEmptyList       DeadLetterKind = "empty_trainer_list"
	DeadLetterRouting         DeadLetterKind = "routing"
	DeadLetterProcessing      DeadLetterKind = "processing"
)

// Human readable reasons for the common rejections.
const (
	ReasonInvalidUsername = "Invalid username received"
	ReasonUsersNotFound   = "Users Not Found"
	ReasonNullEvent       = "Workload event is null"
)

// DeadLetter is a structured record on the dead-letter destination.
type DeadLetter struct {
	ID          string         `json:"id"`
	Kind        DeadLetterKind `json:"kind"`
	Reason      string         `json:"reason"`
	Destination string         `json:"destination,omitempty"`
	Payload     string         `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// NewDeadLetter builds a record with a fresh id.
func NewDeadLetter(kind DeadLetterKind, reason, destination, payload string, at time.Time) DeadLetter {
	return DeadLetter{
		ID:          uuid.NewString(),
		Kind:        kind,
		Reason:      reason,
		Destination: destination,
		Payload:     payload,
		OccurredAt:  at.UTC(),
	}
}
