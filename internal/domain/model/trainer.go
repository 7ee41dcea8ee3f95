package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TrainerStatus is the active flag carried on profiles and events.
type TrainerStatus string

// Trainer statuses.
const (
	StatusActive   TrainerStatus = "ACTIVE"
	StatusInactive TrainerStatus = "INACTIVE"
)

// Valid reports whether s is a known status.
func (s TrainerStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// StatusFromActive maps a boolean flag to a status.
func StatusFromActive(active bool) TrainerStatus {
	if active {
		return StatusActive
	}
	return StatusInactive
}

// UnmarshalJSON accepts the status case-insensitively.
func (s *TrainerStatus) UnmarshalJSON(b []byte) error {
	var raw *string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("trainer status: %w", err)
	}
	if raw == nil {
		*s = ""
		return nil
	}
	*s = TrainerStatus(strings.ToUpper(strings.TrimSpace(*raw)))
	return nil
}

// Training is one scheduled session attached to a trainer profile.
type Training struct {
	Name     string `json:"trainingName,omitempty"`
	Type     string `json:"trainingType,omitempty"`
	Date     Date   `json:"trainingDate"`
	Duration int64  `json:"trainingDuration"`
}

// TrainerProfile is the trainer identity as published by user management.
// A non-nil Trainings list is an authoritative snapshot of the trainer's
// sessions; nil means the snapshot carries identity only.
type TrainerProfile struct {
	Username  string        `json:"username"`
	FirstName string        `json:"firstName"`
	LastName  string        `json:"lastName"`
	Status    TrainerStatus `json:"status"`
	Trainings []Training    `json:"trainings,omitempty"`
}

// IdentityOnly returns a copy without the training list.
func (p TrainerProfile) IdentityOnly() TrainerProfile {
	p.Trainings = nil
	return p
}

// FullName joins first and last name.
func (p TrainerProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
