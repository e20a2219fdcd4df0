package engine

import (
	"log/slog"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

// Window predictor constants.
const (
	// ReceptivenessThreshold gates emitting a predicted window.
	ReceptivenessThreshold = 60.0
	// WindowHalfWidth is the ± spread around the predicted moment.
	WindowHalfWidth = 15 * time.Minute
	// MinPredictionConfidence floors the confidence decay.
	MinPredictionConfidence = 20.0
	// BasePredictionConfidence is the confidence one hour ahead.
	BasePredictionConfidence = 90.0
	// ConfidenceDecayPerHour is how fast confidence drops with distance.
	ConfidenceDecayPerHour = 5.0
)

// hourPattern is the per-hour-of-day average of observed context levels.
type hourPattern struct {
	energy     float64
	stress     float64
	motivation float64
	samples    int
}

// WindowPredictor forecasts future high-receptiveness windows from a
// user's historical per-hour observation patterns. Purely advisory: the
// main pipeline never consults it.
type WindowPredictor struct {
	effectiveness store.EffectivenessRepo
	clock         Clock
}

// NewWindowPredictor creates a predictor over recorded observations.
func NewWindowPredictor(effectiveness store.EffectivenessRepo, clock Clock) *WindowPredictor {
	return &WindowPredictor{effectiveness: effectiveness, clock: clock}
}

// patterns aggregates a user's observations into 24 hour-of-day buckets.
func (p *WindowPredictor) patterns(userID string) [24]hourPattern {
	var buckets [24]hourPattern
	recs, err := p.effectiveness.ListEffectivenessByUser(userID)
	if err != nil {
		slog.Warn("Failed to load observation history for prediction", "user", userID, "error", err)
		return buckets
	}
	for _, rec := range recs {
		// Defaulted observations carry no context snapshot.
		if rec.Context.Timestamp.IsZero() {
			continue
		}
		hour := rec.ObservedAt.Hour()
		b := &buckets[hour]
		b.energy += rec.Context.EnergyLevel
		b.stress += rec.Context.StressLevel
		b.motivation += rec.Context.MotivationLevel
		b.samples++
	}
	for i := range buckets {
		if buckets[i].samples > 0 {
			n := float64(buckets[i].samples)
			buckets[i].energy /= n
			buckets[i].stress /= n
			buckets[i].motivation /= n
		}
	}
	return buckets
}

// coarseSnapshot builds the predicted context for an hour bucket. Hours
// without history fall back to a neutral daytime baseline.
func coarseSnapshot(userID string, at time.Time, pattern hourPattern) models.ContextSnapshot {
	snap := models.ContextSnapshot{
		UserID:    userID,
		Timestamp: at,
		Environment: models.EnvironmentalFactors{
			TimeOfDay: at.Hour(),
			DayOfWeek: int(at.Weekday()),
			IsWeekend: at.Weekday() == time.Saturday || at.Weekday() == time.Sunday,
		},
	}
	if pattern.samples > 0 {
		snap.EnergyLevel = pattern.energy
		snap.StressLevel = pattern.stress
		snap.MotivationLevel = pattern.motivation
	} else {
		snap.EnergyLevel = 50
		snap.StressLevel = 50
		snap.MotivationLevel = 50
	}
	return snap
}

// Predict returns the receptive windows inside the next horizonHours,
// one candidate moment per hour offset. Confidence decays with distance:
// max(20, 90 − 5·hoursAhead).
func (p *WindowPredictor) Predict(userID string, horizonHours int) []models.PredictedWindow {
	if horizonHours <= 0 {
		return nil
	}
	now := p.clock.Now()
	buckets := p.patterns(userID)

	var out []models.PredictedWindow
	for h := 1; h <= horizonHours; h++ {
		at := now.Add(time.Duration(h) * time.Hour)
		snap := coarseSnapshot(userID, at, buckets[at.Hour()])
		receptiveness := ContextScore(&snap)
		if receptiveness <= ReceptivenessThreshold {
			continue
		}
		confidence := BasePredictionConfidence - ConfidenceDecayPerHour*float64(h)
		if confidence < MinPredictionConfidence {
			confidence = MinPredictionConfidence
		}
		out = append(out, models.PredictedWindow{
			Start:         at.Add(-WindowHalfWidth),
			End:           at.Add(WindowHalfWidth),
			Receptiveness: receptiveness,
			Confidence:    confidence,
		})
	}
	slog.Debug("Receptiveness windows predicted", "user", userID,
		"horizon_hours", horizonHours, "windows", len(out))
	return out
}
