// Package models defines intervention records and their lifecycle.
package models

import (
	"errors"
	"time"
)

// InterventionType classifies the intent of an intervention.
type InterventionType string

const (
	TypeEncouragement InterventionType = "encouragement"
	TypeReminder      InterventionType = "reminder"
	TypeSuggestion    InterventionType = "suggestion"
	TypeChallenge     InterventionType = "challenge"
	TypeCelebration   InterventionType = "celebration"
	TypeSupport       InterventionType = "support"
	TypeRedirection   InterventionType = "redirection"
)

// IsValidInterventionType checks if the given intervention type is supported.
func IsValidInterventionType(t InterventionType) bool {
	switch t {
	case TypeEncouragement, TypeReminder, TypeSuggestion, TypeChallenge,
		TypeCelebration, TypeSupport, TypeRedirection:
		return true
	default:
		return false
	}
}

// DeliveryMethod is the channel an intervention is delivered through.
type DeliveryMethod string

const (
	DeliveryPush      DeliveryMethod = "push"
	DeliveryInApp     DeliveryMethod = "in_app"
	DeliveryVoice     DeliveryMethod = "voice"
	DeliveryVisualCue DeliveryMethod = "visual_cue"
)

// InterventionStatus tracks the lifecycle of an intervention record:
// synthesized -> validated -> {delivered | rescheduled | dropped} ->
// effectiveness recorded -> archived.
type InterventionStatus string

const (
	StatusSynthesized InterventionStatus = "synthesized"
	StatusValidated   InterventionStatus = "validated"
	StatusDelivered   InterventionStatus = "delivered"
	StatusRescheduled InterventionStatus = "rescheduled"
	StatusDropped     InterventionStatus = "dropped"
	StatusArchived    InterventionStatus = "archived"
)

// ContextualRestriction limits where/how an intervention may be delivered.
// Restrictions are re-checked against the current context at send time.
type ContextualRestriction string

const (
	RestrictNoPersonalContent ContextualRestriction = "no_personal_content"
	RestrictGentleToneOnly    ContextualRestriction = "gentle_tone_only"
	RestrictQuietDelivery     ContextualRestriction = "quiet_delivery"
)

// Quiet-delivery and constraint defaults.
const (
	// QuietHourStart is the first hour of the allowed delivery window.
	QuietHourStart = 7
	// QuietHourEnd is the last hour of the allowed delivery window.
	QuietHourEnd = 22
	// DefaultValidityWindow is how long a synthesized intervention stays
	// deliverable after synthesis.
	DefaultValidityWindow = 4 * time.Hour
	// DefaultMinIntervalMinutes is the per-user global throttle between
	// delivered interventions of any trigger.
	DefaultMinIntervalMinutes = 60
	// GentleToneStressThreshold is the stress level above which only a
	// gentle tone is allowed.
	GentleToneStressThreshold = 80.0
)

// Error variables for intervention validation.
var (
	ErrInvalidInterventionType = errors.New("invalid intervention type")
	ErrEmptyContent            = errors.New("intervention content cannot be empty")
	ErrInterventionInFlight    = errors.New("an intervention is already in flight for this user")
)

// TimingInfo is the timing optimizer's snapshot attached to a record.
type TimingInfo struct {
	ContextScore           float64 `json:"context_score"`           // [0, 100]
	PredictedEffectiveness float64 `json:"predicted_effectiveness"` // [0, 100]
	Optimal                bool    `json:"optimal"`
}

// Personalization is the per-user adjustment snapshot attached to a record.
type Personalization struct {
	MotivationAlignment   float64 `json:"motivation_alignment"`   // [0, 100]
	HabituationRisk       float64 `json:"habituation_risk"`       // [0, 100]
	PreviousEffectiveness float64 `json:"previous_effectiveness"` // [0, 100]
}

// Constraints bound when and where an intervention may be delivered.
type Constraints struct {
	NotBefore          time.Time               `json:"not_before"`
	NotAfter           time.Time               `json:"not_after"`
	MinIntervalMinutes int                     `json:"min_interval_minutes"`
	Restrictions       []ContextualRestriction `json:"contextual_restrictions,omitempty"`
}

// InterventionRecord is the full synthesized intervention plus the state
// needed to validate, deliver, and later score it. Exactly one record may
// be in flight (not yet resolved) per user at a time.
type InterventionRecord struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	TriggerID       string             `json:"trigger_id"`
	Type            InterventionType   `json:"type"`
	Content         string             `json:"content"`
	DeliveryMethod  DeliveryMethod     `json:"delivery_method"`
	Tone            string             `json:"tone,omitempty"`
	Timing          TimingInfo         `json:"timing"`
	Personalization Personalization    `json:"personalization"`
	Constraints     Constraints        `json:"constraints"`
	Status          InterventionStatus `json:"status"`
	RetryCount      int                `json:"retry_count"`
	Generation      uint64             `json:"generation"`
	CreatedAt       time.Time          `json:"created_at"`
	DeliveredAt     *time.Time         `json:"delivered_at,omitempty"`
}

// AdaptiveIntervention is the outward-facing payload handed to the
// delivery transport.
type AdaptiveIntervention struct {
	Content        string           `json:"content"`
	DeliveryMethod DeliveryMethod   `json:"delivery_method"`
	Type           InterventionType `json:"type"`
}

// Payload returns the transport payload for a record.
func (r *InterventionRecord) Payload() AdaptiveIntervention {
	return AdaptiveIntervention{
		Content:        r.Content,
		DeliveryMethod: r.DeliveryMethod,
		Type:           r.Type,
	}
}

// Resolved reports whether the record has reached a terminal status from
// the delivery pipeline's point of view.
func (r *InterventionRecord) Resolved() bool {
	switch r.Status {
	case StatusDelivered, StatusDropped, StatusArchived:
		return true
	default:
		return false
	}
}

// MicroIntervention is a lightweight threshold-only nudge emitted outside
// the trigger pipeline. It carries no cooldown or persistence state.
type MicroIntervention struct {
	UserID          string  `json:"user_id"`
	Kind            string  `json:"kind"` // energy_boost, motivation, stress_relief, focus
	Content         string  `json:"content"`
	DurationSeconds int     `json:"duration_seconds"` // 10-20s
	TriggerValue    float64 `json:"trigger_value"`
}

// PredictedWindow is an advisory future high-receptiveness window emitted
// by the window predictor.
type PredictedWindow struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Receptiveness float64   `json:"receptiveness"` // [0, 100]
	Confidence    float64   `json:"confidence"`    // [20, 90]
}
