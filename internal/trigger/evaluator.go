// Package trigger provides trigger evaluation for NudgeLoop.
//
// The evaluator scores every library trigger against a context snapshot,
// filters by per-user cooldown and daily quota, and ranks the survivors
// deterministically.
package trigger

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

// floatEqualityEpsilon bounds the eq operator's float comparison.
const floatEqualityEpsilon = 1e-9

// Candidate is a trigger whose weighted condition score exceeded the
// candidate threshold for a snapshot.
type Candidate struct {
	Def   *models.TriggerDefinition
	Score float64
	Order int // registration order, final ranking tie-break
}

// Evaluator scores triggers against context snapshots using per-user
// firing history for cooldown and quota filtering.
type Evaluator struct {
	state store.UserStateRepo
}

// NewEvaluator creates an evaluator reading firing history from state.
func NewEvaluator(state store.UserStateRepo) *Evaluator {
	return &Evaluator{state: state}
}

// conditionMet evaluates a single condition. A missing or unreadable
// context field counts as unmet; scoring continues on the remaining
// conditions.
func conditionMet(cond *models.Condition, snap *models.ContextSnapshot) bool {
	accessor, ok := accessors[cond.Parameter]
	if !ok {
		// Unknown parameters are rejected at load time; an unknown name
		// here means a stale library entry, scored as unmet.
		slog.Warn("Condition references unknown parameter", "parameter", cond.Parameter)
		return false
	}
	value, ok := accessor(snap)
	if !ok {
		slog.Debug("Condition field unreadable, counting as unmet", "parameter", cond.Parameter)
		return false
	}
	switch cond.Operator {
	case models.OpGreaterThan:
		return value > cond.Value
	case models.OpLessThan:
		return value < cond.Value
	case models.OpGreaterEqual:
		return value >= cond.Value
	case models.OpLessEqual:
		return value <= cond.Value
	case models.OpEqual:
		return math.Abs(value-cond.Value) < floatEqualityEpsilon
	case models.OpBetween:
		if cond.ValueHigh == nil {
			return false
		}
		return value >= cond.Value && value <= *cond.ValueHigh
	default:
		return false
	}
}

// Score computes the weighted condition score for a trigger against a
// snapshot: 100 × Σ(weight·met) / Σ(weight). Pure and deterministic.
func Score(def *models.TriggerDefinition, snap *models.ContextSnapshot) float64 {
	var weightSum, metSum float64
	for i := range def.Conditions {
		cond := &def.Conditions[i]
		weightSum += cond.Weight
		if conditionMet(cond, snap) {
			metSum += cond.Weight
		}
	}
	if weightSum <= 0 {
		return 0
	}
	return models.ClampScore(100 * metSum / weightSum)
}

// startOfDay returns midnight of t's local calendar day, the boundary for
// daily firing quotas.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// Evaluate returns the ranked candidate list for a snapshot. Triggers
// inside their cooldown window or over their daily quota are excluded
// before scoring. Ranking is lexicographic: priority desc, score desc,
// habituation type boost desc, registration order asc.
func (e *Evaluator) Evaluate(lib *Library, snap *models.ContextSnapshot, now time.Time, typeBoost map[models.InterventionType]float64) []Candidate {
	dayStart := startOfDay(now)
	var candidates []Candidate

	for i := range lib.All() {
		def := &lib.All()[i]

		state, err := e.state.GetFiringState(snap.UserID, def.ID, dayStart)
		if err != nil {
			// Fail closed: without history the cooldown and quota checks
			// cannot be trusted, so the trigger sits this round out.
			slog.Warn("Failed to read firing state, skipping trigger",
				"user", snap.UserID, "trigger", def.ID, "error", err)
			continue
		}
		if !state.LastFired.IsZero() && now.Sub(state.LastFired) < time.Duration(def.CooldownMinutes)*time.Minute {
			slog.Debug("Trigger inside cooldown window", "user", snap.UserID, "trigger", def.ID)
			continue
		}
		if def.MaxDailyFirings > 0 && state.CountSince >= def.MaxDailyFirings {
			slog.Debug("Trigger over daily quota", "user", snap.UserID, "trigger", def.ID,
				"count", state.CountSince, "max", def.MaxDailyFirings)
			continue
		}

		score := Score(def, snap)
		if score <= models.CandidateScoreThreshold {
			continue
		}
		candidates = append(candidates, Candidate{
			Def:   def,
			Score: score,
			Order: lib.RegistrationOrder(def.ID),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Def.Priority != b.Def.Priority {
			return a.Def.Priority > b.Def.Priority
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(typeBoost) > 0 && typeBoost[a.Def.Type] != typeBoost[b.Def.Type] {
			return typeBoost[a.Def.Type] > typeBoost[b.Def.Type]
		}
		return a.Order < b.Order
	})

	return candidates
}
