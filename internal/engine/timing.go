package engine

import (
	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// Timing model weights. The computation is pure and is re-run at send
// time because context may have moved on since synthesis.
const (
	contextEnergyWeight     = 0.3
	contextCalmWeight       = 0.3
	contextMotivationWeight = 0.4

	effectivenessContextWeight  = 0.6
	effectivenessPreviousWeight = 0.3
	effectivenessNoveltyWeight  = 0.1

	// OptimalContextThreshold and OptimalEffectivenessThreshold gate the
	// "optimal now" flag.
	OptimalContextThreshold       = 70.0
	OptimalEffectivenessThreshold = 60.0
)

// ContextScore reduces a snapshot to a single delivery-quality score:
// 0.3·energy + 0.3·(100−stress) + 0.4·motivation, clamped to [0, 100].
func ContextScore(snap *models.ContextSnapshot) float64 {
	score := contextEnergyWeight*snap.EnergyLevel +
		contextCalmWeight*(models.ScoreMax-snap.StressLevel) +
		contextMotivationWeight*snap.MotivationLevel
	return models.ClampScore(score)
}

// ComputeTiming produces the timing snapshot for an intervention:
// predicted effectiveness blends context quality, the stored per-trigger
// effectiveness aggregate, and novelty (inverse habituation risk).
func ComputeTiming(snap *models.ContextSnapshot, previousEffectiveness, habituationRisk float64) models.TimingInfo {
	contextScore := ContextScore(snap)
	predicted := models.ClampScore(
		effectivenessContextWeight*contextScore +
			effectivenessPreviousWeight*previousEffectiveness +
			effectivenessNoveltyWeight*(models.ScoreMax-habituationRisk))
	return models.TimingInfo{
		ContextScore:           contextScore,
		PredictedEffectiveness: predicted,
		Optimal: contextScore > OptimalContextThreshold &&
			predicted > OptimalEffectivenessThreshold,
	}
}
