// Package models defines trigger definitions for NudgeLoop.
package models

import (
	"errors"
)

// Operator is a comparison operator usable in a trigger condition.
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpLessThan     Operator = "lt"
	OpGreaterEqual Operator = "gte"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
	OpBetween      Operator = "between"
)

// IsValidOperator checks if the given operator is supported.
func IsValidOperator(op Operator) bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual, OpEqual, OpBetween:
		return true
	default:
		return false
	}
}

// Validation constants for trigger definitions.
const (
	// MinTriggerPriority is the lowest allowed trigger priority.
	MinTriggerPriority = 1
	// MaxTriggerPriority is the highest allowed trigger priority.
	MaxTriggerPriority = 10
	// CandidateScoreThreshold is the weighted condition score a trigger
	// must exceed to become a candidate.
	CandidateScoreThreshold = 60.0
)

// Error variables for trigger validation.
var (
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrInvalidSocialContext = errors.New("invalid social context")
	ErrEmptyTriggerID       = errors.New("trigger id cannot be empty")
	ErrNoConditions         = errors.New("trigger must define at least one condition")
	ErrZeroWeightSum        = errors.New("trigger condition weights must sum to a positive value")
	ErrInvalidOperator      = errors.New("invalid condition operator")
	ErrInvalidWeight        = errors.New("condition weight must be in [0, 1]")
	ErrInvalidPriority      = errors.New("trigger priority must be in [1, 10]")
	ErrMissingBetweenBound  = errors.New("between operator requires a second value")
	ErrNegativeCooldown     = errors.New("cooldown minutes cannot be negative")
	ErrNoTemplates          = errors.New("trigger must define at least one content template")
	ErrUnknownParameter     = errors.New("unknown condition parameter")
)

// Condition is one weighted comparison against a context snapshot field.
// Parameter names map to typed accessors registered in the evaluator's
// dispatch table; unknown parameters are rejected at load time.
type Condition struct {
	Parameter string   `json:"parameter"`
	Operator  Operator `json:"operator"`
	Value     float64  `json:"value"`
	// ValueHigh is the upper bound for the between operator.
	ValueHigh *float64 `json:"value_high,omitempty"`
	Weight    float64  `json:"weight"` // [0, 1]
}

// Validate checks a single condition. Parameter existence is checked
// separately against the evaluator's dispatch table.
func (c *Condition) Validate() error {
	if !IsValidOperator(c.Operator) {
		return ErrInvalidOperator
	}
	if c.Weight < 0 || c.Weight > 1 {
		return ErrInvalidWeight
	}
	if c.Operator == OpBetween && c.ValueHigh == nil {
		return ErrMissingBetweenBound
	}
	return nil
}

// TriggerDefinition is a declarative rule mapping weighted context
// conditions to a candidate intervention. Definitions are immutable once
// loaded; operators update them out-of-band.
type TriggerDefinition struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name"`
	Conditions             []Condition      `json:"conditions"`
	Priority               int              `json:"priority"` // [1, 10]
	CooldownMinutes        int              `json:"cooldown_minutes"`
	MaxDailyFirings        int              `json:"max_daily_firings"`
	PersonalizationFactors []string         `json:"personalization_factors,omitempty"`
	Type                   InterventionType `json:"type"`
	Templates              []string         `json:"templates"`
	// Sensitive routes the trigger through the external safety screener
	// before synthesis completes.
	Sensitive bool `json:"sensitive,omitempty"`
}

// Validate performs load-time validation of a trigger definition.
// Malformed definitions are rejected here and never enter the library.
func (t *TriggerDefinition) Validate() error {
	if t.ID == "" {
		return ErrEmptyTriggerID
	}
	if len(t.Conditions) == 0 {
		return ErrNoConditions
	}
	var weightSum float64
	for i := range t.Conditions {
		if err := t.Conditions[i].Validate(); err != nil {
			return err
		}
		weightSum += t.Conditions[i].Weight
	}
	if weightSum <= 0 {
		return ErrZeroWeightSum
	}
	if t.Priority < MinTriggerPriority || t.Priority > MaxTriggerPriority {
		return ErrInvalidPriority
	}
	if t.CooldownMinutes < 0 {
		return ErrNegativeCooldown
	}
	if len(t.Templates) == 0 {
		return ErrNoTemplates
	}
	if t.Type != "" && !IsValidInterventionType(t.Type) {
		return ErrInvalidInterventionType
	}
	return nil
}
