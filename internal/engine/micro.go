package engine

import (
	"log/slog"

	"github.com/NudgeLoop/NudgeLoop/internal/metrics"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// Micro-intervention thresholds. These nudges bypass the full pipeline:
// no triggers, no cooldowns, no persistence of firing history.
const (
	MicroEnergyThreshold     = 40.0
	MicroMotivationThreshold = 50.0
	MicroStressThreshold     = 70.0
	MicroEmotionThreshold    = -30.0
)

// Micro-intervention kinds.
const (
	MicroKindEnergyBoost  = "energy_boost"
	MicroKindMotivation   = "motivation"
	MicroKindStressRelief = "stress_relief"
	MicroKindFocus        = "focus"
)

var microContents = map[string][]string{
	MicroKindEnergyBoost: {
		"Stand up and stretch for 15 seconds.",
		"Ten deep breaths. Quick energy reset.",
		"Shake out your arms and roll your shoulders.",
	},
	MicroKindMotivation: {
		"Picture how you'll feel when today's goal is done.",
		"One tiny step right now. That's all it takes.",
		"Remember why you started this.",
	},
	MicroKindStressRelief: {
		"Breathe in for 4, hold for 4, out for 4.",
		"Unclench your jaw and drop your shoulders.",
		"Fifteen seconds of slow breathing. Start now.",
	},
	MicroKindFocus: {
		"Name one thing you can control right now.",
		"Close your eyes for ten seconds and reset.",
		"Pick the very next action, nothing else.",
	},
}

// MicroGenerator emits lightweight threshold-only nudges straight from a
// context snapshot. Multiple kinds may fire at once, and they may
// co-occur with a full intervention.
type MicroGenerator struct {
	rng RNG
}

// NewMicroGenerator creates a generator with an injected RNG for
// reproducible content selection.
func NewMicroGenerator(rng RNG) *MicroGenerator {
	return &MicroGenerator{rng: rng}
}

func (g *MicroGenerator) emit(userID, kind string, value float64) models.MicroIntervention {
	contents := microContents[kind]
	metrics.MicroInterventions.WithLabelValues(kind).Inc()
	return models.MicroIntervention{
		UserID:          userID,
		Kind:            kind,
		Content:         contents[g.rng.IntN(len(contents))],
		DurationSeconds: 10 + g.rng.IntN(11), // 10-20s
		TriggerValue:    value,
	}
}

// Generate returns zero or more micro-interventions for the snapshot.
func (g *MicroGenerator) Generate(snap *models.ContextSnapshot) []models.MicroIntervention {
	var out []models.MicroIntervention
	if snap.EnergyLevel < MicroEnergyThreshold {
		out = append(out, g.emit(snap.UserID, MicroKindEnergyBoost, snap.EnergyLevel))
	}
	if snap.MotivationLevel < MicroMotivationThreshold {
		out = append(out, g.emit(snap.UserID, MicroKindMotivation, snap.MotivationLevel))
	}
	if snap.StressLevel > MicroStressThreshold {
		out = append(out, g.emit(snap.UserID, MicroKindStressRelief, snap.StressLevel))
	}
	if snap.EmotionalState < MicroEmotionThreshold {
		out = append(out, g.emit(snap.UserID, MicroKindFocus, snap.EmotionalState))
	}
	if len(out) > 0 {
		slog.Debug("Micro-interventions generated", "user", snap.UserID, "count", len(out))
	}
	return out
}
