package engine

import (
	"testing"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

func seedObservation(t *testing.T, st store.Store, userID string, observedAt time.Time, energy, stress, motivation float64) {
	t.Helper()
	err := st.SaveEffectiveness(models.EffectivenessRecord{
		ID:             "e-" + observedAt.Format("150405"),
		InterventionID: "iv-" + observedAt.Format("150405"),
		UserID:         userID,
		TriggerID:      "t1",
		Context: models.ContextSnapshot{
			UserID:          userID,
			Timestamp:       observedAt,
			EnergyLevel:     energy,
			StressLevel:     stress,
			MotivationLevel: motivation,
		},
		UserResponse: models.ResponseEngaged,
		Satisfaction: 4,
		ObservedAt:   observedAt,
	})
	if err != nil {
		t.Fatalf("SaveEffectiveness failed: %v", err)
	}
}

func TestPredictNoHistoryNoWindows(t *testing.T) {
	st := store.NewInMemoryStore()
	p := NewWindowPredictor(st, newFakeClock())

	// The neutral 50/50/50 baseline scores exactly 50, below the bar.
	if windows := p.Predict("user1", 24); len(windows) != 0 {
		t.Errorf("expected no windows without history, got %d", len(windows))
	}
}

func TestPredictZeroHorizon(t *testing.T) {
	st := store.NewInMemoryStore()
	p := NewWindowPredictor(st, newFakeClock())
	if windows := p.Predict("user1", 0); windows != nil {
		t.Errorf("expected nil for a zero horizon, got %v", windows)
	}
}

func TestPredictReceptiveHour(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock() // 10:00
	p := NewWindowPredictor(st, clock)

	// Strong context observed at 14:00 on two prior days.
	for day := 1; day <= 2; day++ {
		at := clock.Now().Add(-time.Duration(day) * 24 * time.Hour).
			Truncate(time.Hour).Add(4 * time.Hour) // 14:00
		seedObservation(t, st, "user1", at, 90, 10, 85)
	}

	windows := p.Predict("user1", 24)
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	w := windows[0]

	// 14:00 is 4 hours ahead of the 10:00 clock.
	wantCenter := clock.Now().Add(4 * time.Hour)
	if !w.Start.Equal(wantCenter.Add(-WindowHalfWidth)) || !w.End.Equal(wantCenter.Add(WindowHalfWidth)) {
		t.Errorf("window = [%v, %v], want ±%v around %v", w.Start, w.End, WindowHalfWidth, wantCenter)
	}
	// 0.3*90 + 0.3*90 + 0.4*85 = 88
	if !almostEqual(w.Receptiveness, 88) {
		t.Errorf("receptiveness = %v, want 88", w.Receptiveness)
	}
	// 90 − 5·4 = 70
	if !almostEqual(w.Confidence, 70) {
		t.Errorf("confidence = %v, want 70", w.Confidence)
	}
}

func TestPredictConfidenceFloor(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock()
	p := NewWindowPredictor(st, clock)

	// Receptive pattern at every hour.
	for hour := 0; hour < 24; hour++ {
		at := clock.Now().Add(-24 * time.Hour).Truncate(24 * time.Hour).Add(time.Duration(hour) * time.Hour)
		seedObservation(t, st, "user1", at, 90, 10, 85)
	}

	windows := p.Predict("user1", 24)
	if len(windows) != 24 {
		t.Fatalf("expected 24 windows, got %d", len(windows))
	}
	last := windows[len(windows)-1]
	if !almostEqual(last.Confidence, MinPredictionConfidence) {
		t.Errorf("confidence 24h out = %v, want floored at %v", last.Confidence, MinPredictionConfidence)
	}
}

func TestPredictSkipsDefaultedObservations(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock()
	p := NewWindowPredictor(st, clock)

	// A defaulted observation has no context snapshot. If it were counted,
	// its zero levels would drag the hour bucket down.
	at := clock.Now().Add(-24 * time.Hour).Truncate(time.Hour).Add(4 * time.Hour)
	seedObservation(t, st, "user1", at, 90, 10, 85)
	st.SaveEffectiveness(models.EffectivenessRecord{
		ID: "defaulted", InterventionID: "ivx", UserID: "user1", TriggerID: "t1",
		UserResponse: models.ResponseIgnored, Satisfaction: 3,
		ObservedAt: at.Add(time.Minute), Defaulted: true,
	})

	windows := p.Predict("user1", 24)
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if !almostEqual(windows[0].Receptiveness, 88) {
		t.Errorf("receptiveness = %v, want 88 with the defaulted record skipped", windows[0].Receptiveness)
	}
}
