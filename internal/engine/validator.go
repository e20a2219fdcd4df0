package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

// Constraint violation sentinel errors. None of these are fatal: the
// coordinator routes them into the drop/reschedule path.
var (
	ErrOutsideTimeWindow   = errors.New("outside the intervention's delivery window")
	ErrRestrictionViolated = errors.New("contextual restriction failed against current context")
	ErrUserThrottled       = errors.New("minimum interval since last delivery not yet elapsed")
)

// ConstraintValidator enforces time windows, contextual restrictions, and
// the per-user global throttle immediately before delivery.
type ConstraintValidator struct {
	state store.UserStateRepo
	clock Clock
}

// NewConstraintValidator creates a validator over the given user state.
func NewConstraintValidator(state store.UserStateRepo, clock Clock) *ConstraintValidator {
	return &ConstraintValidator{state: state, clock: clock}
}

// checkRestriction re-evaluates one restriction against the current
// context, not the context the record was synthesized under.
func checkRestriction(r models.ContextualRestriction, snap *models.ContextSnapshot) error {
	switch r {
	case models.RestrictNoPersonalContent:
		if snap.Social == models.SocialWork {
			return fmt.Errorf("%w: %s requires a non-work context", ErrRestrictionViolated, r)
		}
	case models.RestrictGentleToneOnly:
		if snap.StressLevel > models.GentleToneStressThreshold {
			return fmt.Errorf("%w: %s requires stress at or below %.0f", ErrRestrictionViolated, r, models.GentleToneStressThreshold)
		}
	case models.RestrictQuietDelivery:
		hour := snap.HourOfDay()
		if hour < models.QuietHourStart || hour > models.QuietHourEnd {
			return fmt.Errorf("%w: %s requires delivery between %d:00 and %d:00",
				ErrRestrictionViolated, r, models.QuietHourStart, models.QuietHourEnd)
		}
	}
	return nil
}

// Validate rejects an intervention whose window has passed, whose
// restrictions fail against the current context, or whose user received
// another intervention too recently. A nil error means deliverable now.
func (v *ConstraintValidator) Validate(rec *models.InterventionRecord, snap *models.ContextSnapshot) error {
	now := v.clock.Now()
	if now.Before(rec.Constraints.NotBefore) || now.After(rec.Constraints.NotAfter) {
		return fmt.Errorf("%w: now=%s window=[%s, %s]", ErrOutsideTimeWindow,
			now.Format(time.RFC3339), rec.Constraints.NotBefore.Format(time.RFC3339),
			rec.Constraints.NotAfter.Format(time.RFC3339))
	}

	for _, r := range rec.Constraints.Restrictions {
		if err := checkRestriction(r, snap); err != nil {
			return err
		}
	}

	// Global per-user throttle, independent of per-trigger cooldowns.
	last, err := v.state.LastDelivered(rec.UserID)
	if err != nil {
		// Fail closed: without the last delivery time the throttle cannot
		// be verified.
		return fmt.Errorf("%w: last delivery unknown: %v", ErrUserThrottled, err)
	}
	if last != nil {
		minInterval := time.Duration(rec.Constraints.MinIntervalMinutes) * time.Minute
		if now.Sub(*last) < minInterval {
			return fmt.Errorf("%w: %.0f minutes since last delivery, need %d",
				ErrUserThrottled, now.Sub(*last).Minutes(), rec.Constraints.MinIntervalMinutes)
		}
	}
	return nil
}
