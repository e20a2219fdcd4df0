// Package trigger provides the trigger library and the context evaluator
// for NudgeLoop.
//
// Condition parameters resolve through a closed, typed dispatch table
// rather than reflective field lookup; unknown parameters are rejected
// when the library is loaded.
package trigger

import (
	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// Accessor extracts a numeric condition input from a context snapshot.
// ok is false when the field is missing or unreadable, in which case the
// condition counts as unmet and scoring continues on the rest.
type Accessor func(c *models.ContextSnapshot) (value float64, ok bool)

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// accessors is the closed dispatch table of known condition parameters.
var accessors = map[string]Accessor{
	"emotional_state": func(c *models.ContextSnapshot) (float64, bool) {
		return c.EmotionalState, true
	},
	"stress_level": func(c *models.ContextSnapshot) (float64, bool) {
		return c.StressLevel, true
	},
	"energy_level": func(c *models.ContextSnapshot) (float64, bool) {
		return c.EnergyLevel, true
	},
	"motivation_level": func(c *models.ContextSnapshot) (float64, bool) {
		return c.MotivationLevel, true
	},
	"hour_of_day": func(c *models.ContextSnapshot) (float64, bool) {
		return float64(c.HourOfDay()), true
	},
	"day_of_week": func(c *models.ContextSnapshot) (float64, bool) {
		return float64(c.Environment.DayOfWeek), true
	},
	"is_weekend": func(c *models.ContextSnapshot) (float64, bool) {
		return boolToFloat(c.Environment.IsWeekend), true
	},
	"is_holiday": func(c *models.ContextSnapshot) (float64, bool) {
		return boolToFloat(c.Environment.IsHoliday), true
	},
	"goal_short_term": func(c *models.ContextSnapshot) (float64, bool) {
		return c.Goals.ShortTerm, true
	},
	"goal_long_term": func(c *models.ContextSnapshot) (float64, bool) {
		return c.Goals.LongTerm, true
	},
	"streak_count": func(c *models.ContextSnapshot) (float64, bool) {
		return float64(c.Behavior.StreakCount), true
	},
	"recent_lapse": func(c *models.ContextSnapshot) (float64, bool) {
		return boolToFloat(c.Behavior.RecentLapse), true
	},
	"consistency": func(c *models.ContextSnapshot) (float64, bool) {
		return c.Behavior.Consistency, true
	},
	"hours_since_activity": func(c *models.ContextSnapshot) (float64, bool) {
		if c.Behavior.LastActivity.IsZero() || c.Timestamp.IsZero() {
			return 0, false
		}
		return c.Timestamp.Sub(c.Behavior.LastActivity).Hours(), true
	},
	"recent_event_impact": func(c *models.ContextSnapshot) (float64, bool) {
		if len(c.RecentEvents) == 0 {
			return 0, false
		}
		latest := c.RecentEvents[0]
		for _, e := range c.RecentEvents[1:] {
			if e.Timestamp.After(latest.Timestamp) {
				latest = e
			}
		}
		return latest.Impact, true
	},
}

// KnownParameter reports whether the dispatch table can resolve name.
func KnownParameter(name string) bool {
	_, ok := accessors[name]
	return ok
}

// KnownParameters returns the names the dispatch table resolves. Useful
// for configuration error messages.
func KnownParameters() []string {
	out := make([]string, 0, len(accessors))
	for name := range accessors {
		out = append(out, name)
	}
	return out
}
