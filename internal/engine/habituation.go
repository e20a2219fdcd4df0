package engine

import (
	"log/slog"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/metrics"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

// Habituation model constants.
const (
	// HabituationWindow is the rolling window repetition risk is computed over.
	HabituationWindow = 7 * 24 * time.Hour
	// HabituationRepeatLimit is how many occurrences of the same content
	// the window tolerates before those deliveries count as repetitive.
	HabituationRepeatLimit = 2
	// HabituationRiskThreshold triggers diversification and silence.
	HabituationRiskThreshold = 70.0
	// SilencePeriod suppresses all triggers for a user after the risk
	// threshold is crossed, regardless of per-trigger cooldowns.
	SilencePeriod = 6 * time.Hour
	// typeBoostStep is the ranking tie-break weight added per delivery a
	// trigger type is below the most-used type in the window.
	typeBoostStep = 1.0
)

// HabituationAssessment is the monitor's view of a user's recent
// exposure: the overall risk, the content templates to rotate away from,
// and the ranking boost for under-used trigger types.
type HabituationAssessment struct {
	Risk             float64
	ExcludedContents map[string]bool
	TypeBoost        map[models.InterventionType]float64
}

// HabituationMonitor computes repetition risk over each user's rolling
// delivery window and imposes silence periods when exposure gets stale.
type HabituationMonitor struct {
	state store.UserStateRepo
	clock Clock
}

// NewHabituationMonitor creates a monitor over the given user state.
func NewHabituationMonitor(state store.UserStateRepo, clock Clock) *HabituationMonitor {
	return &HabituationMonitor{state: state, clock: clock}
}

// Assess computes the user's habituation state from the rolling window.
// habituationRisk = 100 × (deliveries whose content appears more than
// HabituationRepeatLimit times in the window) / (total deliveries).
func (m *HabituationMonitor) Assess(userID string) (HabituationAssessment, error) {
	now := m.clock.Now()
	entries, err := m.state.RecentDeliveries(userID, now.Add(-HabituationWindow))
	if err != nil {
		return HabituationAssessment{}, err
	}

	assessment := HabituationAssessment{
		ExcludedContents: make(map[string]bool),
		TypeBoost:        make(map[models.InterventionType]float64),
	}
	if len(entries) == 0 {
		return assessment, nil
	}

	contentCounts := make(map[string]int)
	typeCounts := make(map[models.InterventionType]int)
	for _, e := range entries {
		contentCounts[e.Content]++
		typeCounts[e.Type]++
	}

	var repetitive int
	for content, count := range contentCounts {
		if count > HabituationRepeatLimit {
			repetitive += count
			assessment.ExcludedContents[content] = true
		}
	}
	assessment.Risk = models.ClampScore(100 * float64(repetitive) / float64(len(entries)))

	if assessment.Risk > HabituationRiskThreshold {
		// Boost under-used types proportionally to how far below the
		// most-used type they sit; applies only to ranking tie-breaks.
		maxCount := 0
		for _, c := range typeCounts {
			if c > maxCount {
				maxCount = c
			}
		}
		for t, c := range typeCounts {
			assessment.TypeBoost[t] = typeBoostStep * float64(maxCount-c)
		}
	} else {
		// Below the threshold the rotation alone is enough; no exclusions.
		assessment.ExcludedContents = make(map[string]bool)
	}

	return assessment, nil
}

// OnDelivery recomputes risk after a new delivery and imposes a silence
// period when the threshold is crossed.
func (m *HabituationMonitor) OnDelivery(userID string) {
	assessment, err := m.Assess(userID)
	if err != nil {
		slog.Warn("Habituation assessment failed after delivery", "user", userID, "error", err)
		return
	}
	if assessment.Risk <= HabituationRiskThreshold {
		return
	}

	until := m.clock.Now().Add(SilencePeriod)
	if err := m.state.SetSilenceUntil(userID, until); err != nil {
		slog.Error("Failed to impose silence period", "user", userID, "error", err)
		metrics.PersistenceFailures.Inc()
		return
	}
	metrics.SilencePeriods.Inc()
	slog.Info("Habituation silence period imposed", "user", userID,
		"risk", assessment.Risk, "until", until)
}

// Silenced reports whether the user is inside an active silence period.
func (m *HabituationMonitor) Silenced(userID string) bool {
	until, err := m.state.SilenceUntil(userID)
	if err != nil {
		slog.Warn("Failed to read silence period", "user", userID, "error", err)
		return false
	}
	return until != nil && m.clock.Now().Before(*until)
}
