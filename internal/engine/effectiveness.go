package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/metrics"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
	"github.com/NudgeLoop/NudgeLoop/internal/util"
)

// Effectiveness model constants.
const (
	// EffectivenessAlpha is the EMA blend factor for new observations.
	EffectivenessAlpha = 0.3
	// DefaultEffectiveness seeds the aggregate before any observation.
	DefaultEffectiveness = 50.0
	// ObservationDelay is how long after delivery the callback fires.
	ObservationDelay = 60 * time.Minute
	// ObservationGrace is how much longer an external observation may
	// still arrive before a default ignored record is synthesized.
	ObservationGrace = 30 * time.Minute
)

// EffectivenessTracker records post-delivery outcomes and folds them into
// the per-(user, trigger) moving average consumed by future evaluations.
// Observation records live in the durable store; the moving average lives
// in the hot user state, which may be a separate backend.
type EffectivenessTracker struct {
	store store.Store
	state store.UserStateRepo
	clock Clock
}

// NewEffectivenessTracker creates a tracker. A nil state repo keeps the
// moving average in the durable store.
func NewEffectivenessTracker(st store.Store, state store.UserStateRepo, clock Clock) *EffectivenessTracker {
	if state == nil {
		state = st
	}
	return &EffectivenessTracker{store: st, state: state, clock: clock}
}

// PreviousEffectiveness returns the stored aggregate for (user, trigger),
// defaulting to DefaultEffectiveness when absent.
func (t *EffectivenessTracker) PreviousEffectiveness(userID, triggerID string) float64 {
	value, ok, err := t.state.GetEffectivenessEMA(userID, triggerID)
	if err != nil {
		slog.Warn("Failed to read effectiveness aggregate, using default",
			"user", userID, "trigger", triggerID, "error", err)
		return DefaultEffectiveness
	}
	if !ok {
		return DefaultEffectiveness
	}
	return value
}

// Record validates and persists an observation, then updates the moving
// average: new = α·normalizedEffect + (1−α)·old.
func (t *EffectivenessTracker) Record(rec models.EffectivenessRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid effectiveness record: %w", err)
	}
	if rec.ID == "" {
		rec.ID = util.GenerateEffectivenessID()
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = t.clock.Now()
	}

	if err := t.store.SaveEffectiveness(rec); err != nil {
		// Persistence failures stay off the user-facing path.
		slog.Error("Failed to persist effectiveness record", "id", rec.ID, "error", err)
		metrics.PersistenceFailures.Inc()
	}

	old := t.PreviousEffectiveness(rec.UserID, rec.TriggerID)
	updated := EffectivenessAlpha*rec.NormalizedEffect() + (1-EffectivenessAlpha)*old
	if err := t.state.SetEffectivenessEMA(rec.UserID, rec.TriggerID, updated); err != nil {
		slog.Error("Failed to update effectiveness aggregate",
			"user", rec.UserID, "trigger", rec.TriggerID, "error", err)
		metrics.PersistenceFailures.Inc()
	}

	if err := t.store.UpdateInterventionStatus(rec.InterventionID, models.StatusArchived, nil); err != nil {
		slog.Warn("Failed to archive intervention after observation",
			"intervention", rec.InterventionID, "error", err)
		metrics.PersistenceFailures.Inc()
	}

	slog.Debug("Effectiveness recorded", "intervention", rec.InterventionID,
		"response", rec.UserResponse, "previous", old, "updated", updated)
	return nil
}

// Observed reports whether an observation already exists for the
// intervention.
func (t *EffectivenessTracker) Observed(userID, interventionID string) bool {
	recs, err := t.store.ListEffectivenessByUser(userID)
	if err != nil {
		slog.Warn("Failed to check for existing observation", "intervention", interventionID, "error", err)
		return false
	}
	for _, r := range recs {
		if r.InterventionID == interventionID {
			return true
		}
	}
	return false
}

// RecordDefault synthesizes the default ignored observation after the
// grace window lapses with no external report.
func (t *EffectivenessTracker) RecordDefault(rec *models.InterventionRecord) {
	if t.Observed(rec.UserID, rec.ID) {
		return
	}
	slog.Debug("No observation arrived, defaulting to ignored", "intervention", rec.ID)
	defaulted := models.EffectivenessRecord{
		InterventionID:  rec.ID,
		UserID:          rec.UserID,
		TriggerID:       rec.TriggerID,
		UserResponse:    models.ResponseIgnored,
		ImmediateEffect: 0,
		Satisfaction:    3,
		ObservedAt:      t.clock.Now(),
		Defaulted:       true,
	}
	if err := t.Record(defaulted); err != nil {
		slog.Error("Failed to record default observation", "intervention", rec.ID, "error", err)
	}
}

// ObserveReply maps an inbound transport reply onto the user's most
// recent delivered intervention. Used by the messaging response loop.
func (t *EffectivenessTracker) ObserveReply(userID, body string, at time.Time) error {
	recent, err := t.store.ListInterventionsByUser(userID, at.Add(-ObservationDelay-ObservationGrace))
	if err != nil {
		return fmt.Errorf("failed to find intervention for reply: %w", err)
	}
	var target *models.InterventionRecord
	for i := range recent {
		if recent[i].Status == models.StatusDelivered {
			target = &recent[i]
			break
		}
	}
	if target == nil {
		slog.Debug("Reply with no delivered intervention to attach to", "user", userID)
		return nil
	}
	if t.Observed(userID, target.ID) {
		return nil
	}

	response, effect, satisfaction := classifyReply(body)
	return t.Record(models.EffectivenessRecord{
		InterventionID:  target.ID,
		UserID:          userID,
		TriggerID:       target.TriggerID,
		UserResponse:    response,
		BehaviorChange:  response == models.ResponseCompleted,
		ImmediateEffect: effect,
		Satisfaction:    satisfaction,
		ObservedAt:      at,
	})
}

// classifyReply buckets a free-text reply into a user response.
func classifyReply(body string) (models.UserResponse, float64, int) {
	text := strings.ToLower(strings.TrimSpace(body))
	switch {
	case strings.Contains(text, "done") || strings.Contains(text, "did it") || strings.Contains(text, "finished"):
		return models.ResponseCompleted, 60, 4
	case strings.Contains(text, "stop") || strings.Contains(text, "no thanks") || strings.Contains(text, "leave me"):
		return models.ResponseDismissed, -40, 2
	case text == "":
		return models.ResponseIgnored, 0, 3
	default:
		return models.ResponseEngaged, 30, 4
	}
}
