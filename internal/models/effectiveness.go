// Package models defines effectiveness observation records.
package models

import (
	"errors"
	"time"
)

// UserResponse classifies how the user reacted to an intervention.
type UserResponse string

const (
	ResponseEngaged   UserResponse = "engaged"
	ResponseIgnored   UserResponse = "ignored"
	ResponseDismissed UserResponse = "dismissed"
	ResponseCompleted UserResponse = "completed"
)

// IsValidUserResponse checks if the given user response is supported.
func IsValidUserResponse(r UserResponse) bool {
	switch r {
	case ResponseEngaged, ResponseIgnored, ResponseDismissed, ResponseCompleted:
		return true
	default:
		return false
	}
}

// Error variables for effectiveness validation.
var (
	ErrEmptyInterventionID = errors.New("intervention id cannot be empty")
	ErrInvalidUserResponse = errors.New("invalid user response")
	ErrInvalidSatisfaction = errors.New("satisfaction must be in [1, 5]")
)

// EffectivenessRecord captures a post-delivery observation. Created once,
// asynchronously, after the observation delay; if no external observation
// arrives within the grace window, a default ignored record is synthesized.
type EffectivenessRecord struct {
	ID              string          `json:"id"`
	InterventionID  string          `json:"intervention_id"`
	UserID          string          `json:"user_id"`
	TriggerID       string          `json:"trigger_id"`
	Context         ContextSnapshot `json:"context"`
	UserResponse    UserResponse    `json:"user_response"`
	BehaviorChange  bool            `json:"behavior_change"`
	ImmediateEffect float64         `json:"immediate_effect"` // [-100, 100]
	Satisfaction    int             `json:"satisfaction"`     // [1, 5]
	Interference    []string        `json:"interference,omitempty"`
	ObservedAt      time.Time       `json:"observed_at"`
	Defaulted       bool            `json:"defaulted"` // true when synthesized after the grace window
}

// Validate checks an effectiveness record before recording it.
func (e *EffectivenessRecord) Validate() error {
	if e.InterventionID == "" {
		return ErrEmptyInterventionID
	}
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidUserResponse(e.UserResponse) {
		return ErrInvalidUserResponse
	}
	if e.Satisfaction < 1 || e.Satisfaction > 5 {
		return ErrInvalidSatisfaction
	}
	return nil
}

// NormalizedEffect maps ImmediateEffect from [-100, 100] to [0, 100] for
// the effectiveness moving average.
func (e *EffectivenessRecord) NormalizedEffect() float64 {
	return ClampScore((e.ImmediateEffect + 100) / 2)
}
