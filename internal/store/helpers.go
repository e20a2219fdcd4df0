package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// joinRestrictions flattens contextual restrictions for a text column.
func joinRestrictions(rs []models.ContextualRestriction) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// splitRestrictions parses a flattened restrictions column.
func splitRestrictions(s string) []models.ContextualRestriction {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]models.ContextualRestriction, 0, len(parts))
	for _, p := range parts {
		out = append(out, models.ContextualRestriction(p))
	}
	return out
}

// interventionColumns is the select list shared by both SQL backends.
const interventionColumns = `id, user_id, trigger_id, type, content, delivery_method, tone,
	context_score, predicted_effectiveness, optimal,
	motivation_alignment, habituation_risk, previous_effectiveness,
	not_before, not_after, min_interval_minutes, restrictions,
	status, retry_count, generation, created_at, delivered_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanIntervention scans an InterventionRecord from a row.
func scanIntervention(row rowScanner) (models.InterventionRecord, error) {
	var rec models.InterventionRecord
	var toneTag, restrictions sql.NullString
	var notBefore, notAfter, deliveredAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.TriggerID, &rec.Type, &rec.Content, &rec.DeliveryMethod, &toneTag,
		&rec.Timing.ContextScore, &rec.Timing.PredictedEffectiveness, &rec.Timing.Optimal,
		&rec.Personalization.MotivationAlignment, &rec.Personalization.HabituationRisk,
		&rec.Personalization.PreviousEffectiveness,
		&notBefore, &notAfter, &rec.Constraints.MinIntervalMinutes, &restrictions,
		&rec.Status, &rec.RetryCount, &rec.Generation, &rec.CreatedAt, &deliveredAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan intervention failed: %w", err)
	}
	rec.Tone = toneTag.String
	rec.Constraints.Restrictions = splitRestrictions(restrictions.String)
	if notBefore.Valid {
		rec.Constraints.NotBefore = notBefore.Time
	}
	if notAfter.Valid {
		rec.Constraints.NotAfter = notAfter.Time
	}
	if deliveredAt.Valid {
		rec.DeliveredAt = &deliveredAt.Time
	}
	return rec, nil
}

// scanEffectiveness scans an EffectivenessRecord from a row.
func scanEffectiveness(row rowScanner) (models.EffectivenessRecord, error) {
	var rec models.EffectivenessRecord
	var triggerID, contextJSON, interference sql.NullString
	err := row.Scan(
		&rec.ID, &rec.InterventionID, &rec.UserID, &triggerID, &contextJSON,
		&rec.UserResponse, &rec.BehaviorChange, &rec.ImmediateEffect,
		&rec.Satisfaction, &interference, &rec.ObservedAt, &rec.Defaulted,
	)
	if err != nil {
		return rec, fmt.Errorf("scan effectiveness failed: %w", err)
	}
	rec.TriggerID = triggerID.String
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &rec.Context); err != nil {
			return rec, fmt.Errorf("decode effectiveness context failed: %w", err)
		}
	}
	if interference.Valid && interference.String != "" {
		rec.Interference = strings.Split(interference.String, ",")
	}
	return rec, nil
}
