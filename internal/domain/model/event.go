// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionType discriminates workload events.
type ActionType string

// Workload actions.
const (
	ActionAdd    ActionType = "ADD"
	ActionDelete ActionType = "DELETE"
)

// Valid reports whether a is a known action.
func (a ActionType) Valid() bool {
	return a == ActionAdd || a == ActionDelete
}

// UnmarshalJSON accepts the action case-insensitively.
func (a *ActionType) UnmarshalJSON(b []byte) error {
	var raw *string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("action type: %w", err)
	}
	if raw == nil {
		*a = ""
		return nil
	}
	*a = ActionType(strings.ToUpper(strings.TrimSpace(*raw)))
	return nil
}

// WorkloadEvent adds or removes one training session from a trainer's workload.
type WorkloadEvent struct {
	Username  string        `json:"trainerUsername"`
	FirstName string        `json:"trainerFirstName"`
	LastName  string        `json:"trainerLastName"`
	Status    TrainerStatus `json:"status"`
	Date      Date          `json:"trainingDate"`
	Duration  int64         `json:"trainingDuration"`
	Action    ActionType    `json:"actionType"`
}

// Profile returns the identity carried by the event.
func (e WorkloadEvent) Profile() TrainerProfile {
	return TrainerProfile{
		Username:  e.Username,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Status:    e.Status,
	}
}

// Validate applies the publish-time rules: every field is required and the
// training date must not be in the past relative to now.
func (e *WorkloadEvent) Validate(now time.Time) error {
	errs := e.applyErrors()
	if strings.TrimSpace(e.FirstName) == "" {
		errs = append(errs, FieldError{Field: "trainerFirstName", Message: "must not be blank"})
	}
	if strings.TrimSpace(e.LastName) == "" {
		errs = append(errs, FieldError{Field: "trainerLastName", Message: "must not be blank"})
	}
	if !e.Date.IsZero() && e.Date.Before(DateOf(now).Time) {
		errs = append(errs, FieldError{Field: "trainingDate", Message: "must be today or in the future"})
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateForApply applies the consumer-side rules. Date freshness is not
// checked since redeliveries may legitimately arrive after the training day.
func (e *WorkloadEvent) ValidateForApply() error {
	if errs := e.applyErrors(); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (e *WorkloadEvent) applyErrors() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(e.Username) == "" {
		errs = append(errs, FieldError{Field: "trainerUsername", Message: "must not be blank"})
	}
	if !e.Status.Valid() {
		errs = append(errs, FieldError{Field: "status", Message: "must be ACTIVE or INACTIVE"})
	}
	if e.Date.IsZero() {
		errs = append(errs, FieldError{Field: "trainingDate", Message: "is required"})
	}
	if e.Duration <= 0 {
		errs = append(errs, FieldError{Field: "trainingDuration", Message: "must be positive"})
	}
	if !e.Action.Valid() {
		errs = append(errs, FieldError{Field: "actionType", Message: "must be ADD or DELETE"})
	}
	return errs
}
