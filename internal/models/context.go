// Package models defines the core data structures for NudgeLoop.
//
// It includes the context snapshot supplied per evaluation, trigger
// definitions, intervention records, and effectiveness records shared
// across modules.
package models

import (
	"time"
)

// Score bounds shared by every score/risk value in the engine.
const (
	ScoreMin = 0.0
	ScoreMax = 100.0
)

// ClampScore clamps v to the [ScoreMin, ScoreMax] range.
func ClampScore(v float64) float64 {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}

// SocialContext describes who the user is with at evaluation time.
type SocialContext string

const (
	SocialAlone       SocialContext = "alone"
	SocialWithFriends SocialContext = "with_friends"
	SocialWithFamily  SocialContext = "with_family"
	SocialPublic      SocialContext = "public"
	SocialWork        SocialContext = "work"
)

// IsValidSocialContext checks if the given social context is supported.
func IsValidSocialContext(sc SocialContext) bool {
	switch sc {
	case SocialAlone, SocialWithFriends, SocialWithFamily, SocialPublic, SocialWork:
		return true
	default:
		return false
	}
}

// RecentEvent records something that recently happened to the user along
// with its estimated impact in [-100, 100].
type RecentEvent struct {
	Event     string    `json:"event"`
	Impact    float64   `json:"impact"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvironmentalFactors captures the physical setting of the snapshot.
type EnvironmentalFactors struct {
	Weather   string `json:"weather,omitempty"`
	TimeOfDay int    `json:"time_of_day"` // hour of day, 0-23
	DayOfWeek int    `json:"day_of_week"` // 0 = Sunday
	IsWeekend bool   `json:"is_weekend"`
	IsHoliday bool   `json:"is_holiday"`
}

// GoalProximity expresses how close the user is to short and long term
// goals, both in [0, 100] percent.
type GoalProximity struct {
	ShortTerm float64 `json:"short_term"`
	LongTerm  float64 `json:"long_term"`
}

// BehaviorHistory summarizes the user's recent behavior pattern.
type BehaviorHistory struct {
	StreakCount  int       `json:"streak_count"`
	RecentLapse  bool      `json:"recent_lapse"`
	LastActivity time.Time `json:"last_activity"`
	Consistency  float64   `json:"consistency"` // [0, 100]
}

// ContextSnapshot is the immutable per-call view of a user's physical,
// emotional, and situational state. It is produced by an external
// state-inference service; the engine never mutates it.
type ContextSnapshot struct {
	UserID          string               `json:"user_id"`
	Timestamp       time.Time            `json:"timestamp"`
	Location        string               `json:"location,omitempty"`
	Activity        string               `json:"activity,omitempty"`
	EmotionalState  float64              `json:"emotional_state"`  // [-100, 100]
	StressLevel     float64              `json:"stress_level"`     // [0, 100]
	EnergyLevel     float64              `json:"energy_level"`     // [0, 100]
	MotivationLevel float64              `json:"motivation_level"` // [0, 100]
	Social          SocialContext        `json:"social_context"`
	Environment     EnvironmentalFactors `json:"environment"`
	RecentEvents    []RecentEvent        `json:"recent_events,omitempty"`
	Goals           GoalProximity        `json:"goal_proximity"`
	Behavior        BehaviorHistory      `json:"behavior_history"`
}

// Validate checks the snapshot fields the engine relies on.
func (c *ContextSnapshot) Validate() error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}
	if c.Social != "" && !IsValidSocialContext(c.Social) {
		return ErrInvalidSocialContext
	}
	return nil
}

// HourOfDay returns the snapshot's hour, preferring the environmental
// factor when set and falling back to the timestamp.
func (c *ContextSnapshot) HourOfDay() int {
	if c.Environment.TimeOfDay != 0 || c.Timestamp.IsZero() {
		return c.Environment.TimeOfDay
	}
	return c.Timestamp.Hour()
}
