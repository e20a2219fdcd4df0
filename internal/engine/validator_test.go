package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

func deliverableRecord(now time.Time) *models.InterventionRecord {
	return &models.InterventionRecord{
		ID:      "iv1",
		UserID:  "user1",
		Content: "take a walk",
		Constraints: models.Constraints{
			NotBefore:          now.Add(-time.Minute),
			NotAfter:           now.Add(4 * time.Hour),
			MinIntervalMinutes: 60,
		},
	}
}

func validatorSnapshot(clock Clock) *models.ContextSnapshot {
	return &models.ContextSnapshot{
		UserID:      "user1",
		Timestamp:   clock.Now(),
		StressLevel: 30,
		Social:      models.SocialAlone,
		Environment: models.EnvironmentalFactors{TimeOfDay: 10},
	}
}

func TestValidateDeliverable(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock()
	v := NewConstraintValidator(st, clock)

	if err := v.Validate(deliverableRecord(clock.Now()), validatorSnapshot(clock)); err != nil {
		t.Errorf("expected deliverable record, got %v", err)
	}
}

func TestValidateTimeWindow(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock()
	v := NewConstraintValidator(st, clock)

	rec := deliverableRecord(clock.Now())
	rec.Constraints.NotBefore = clock.Now().Add(time.Hour)
	if err := v.Validate(rec, validatorSnapshot(clock)); !errors.Is(err, ErrOutsideTimeWindow) {
		t.Errorf("expected ErrOutsideTimeWindow before the window, got %v", err)
	}

	rec = deliverableRecord(clock.Now())
	rec.Constraints.NotAfter = clock.Now().Add(-time.Minute)
	if err := v.Validate(rec, validatorSnapshot(clock)); !errors.Is(err, ErrOutsideTimeWindow) {
		t.Errorf("expected ErrOutsideTimeWindow after the window, got %v", err)
	}
}

func TestValidateRestrictions(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock()
	v := NewConstraintValidator(st, clock)

	tests := []struct {
		name        string
		restriction models.ContextualRestriction
		mutate      func(*models.ContextSnapshot)
		wantErr     bool
	}{
		{"personal content at work", models.RestrictNoPersonalContent,
			func(s *models.ContextSnapshot) { s.Social = models.SocialWork }, true},
		{"personal content at home", models.RestrictNoPersonalContent,
			func(s *models.ContextSnapshot) { s.Social = models.SocialAlone }, false},
		{"gentle tone under high stress", models.RestrictGentleToneOnly,
			func(s *models.ContextSnapshot) { s.StressLevel = 90 }, true},
		{"gentle tone at the boundary", models.RestrictGentleToneOnly,
			func(s *models.ContextSnapshot) { s.StressLevel = 80 }, false},
		{"quiet delivery at night", models.RestrictQuietDelivery,
			func(s *models.ContextSnapshot) { s.Environment.TimeOfDay = 23 }, true},
		{"quiet delivery at noon", models.RestrictQuietDelivery,
			func(s *models.ContextSnapshot) { s.Environment.TimeOfDay = 12 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := deliverableRecord(clock.Now())
			rec.Constraints.Restrictions = []models.ContextualRestriction{tc.restriction}
			snap := validatorSnapshot(clock)
			tc.mutate(snap)

			err := v.Validate(rec, snap)
			if tc.wantErr && !errors.Is(err, ErrRestrictionViolated) {
				t.Errorf("expected ErrRestrictionViolated, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected pass, got %v", err)
			}
		})
	}
}

func TestValidateGlobalThrottle(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock()
	v := NewConstraintValidator(st, clock)

	st.RecordDelivery("user1", store.DeliveryEntry{
		Content:     "earlier nudge",
		DeliveredAt: clock.Now().Add(-30 * time.Minute),
	})

	rec := deliverableRecord(clock.Now())
	if err := v.Validate(rec, validatorSnapshot(clock)); !errors.Is(err, ErrUserThrottled) {
		t.Errorf("expected ErrUserThrottled within the interval, got %v", err)
	}

	clock.advance(31 * time.Minute)
	rec = deliverableRecord(clock.Now())
	if err := v.Validate(rec, validatorSnapshot(clock)); err != nil {
		t.Errorf("expected pass after the interval elapsed, got %v", err)
	}
}
