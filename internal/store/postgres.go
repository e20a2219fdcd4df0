// Package store provides storage backends for NudgeLoop.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// SaveIntervention inserts a new intervention record.
func (s *PostgresStore) SaveIntervention(rec models.InterventionRecord) error {
	_, err := s.db.Exec(`INSERT INTO interventions (`+interventionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		rec.ID, rec.UserID, rec.TriggerID, rec.Type, rec.Content, rec.DeliveryMethod,
		nilIfEmpty(rec.Tone),
		rec.Timing.ContextScore, rec.Timing.PredictedEffectiveness, rec.Timing.Optimal,
		rec.Personalization.MotivationAlignment, rec.Personalization.HabituationRisk,
		rec.Personalization.PreviousEffectiveness,
		rec.Constraints.NotBefore, rec.Constraints.NotAfter, rec.Constraints.MinIntervalMinutes,
		nilIfEmpty(joinRestrictions(rec.Constraints.Restrictions)),
		rec.Status, rec.RetryCount, rec.Generation, rec.CreatedAt, rec.DeliveredAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveIntervention failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to insert intervention %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateInterventionStatus moves a record through its lifecycle.
func (s *PostgresStore) UpdateInterventionStatus(id string, status models.InterventionStatus, deliveredAt *time.Time) error {
	var err error
	if deliveredAt != nil {
		_, err = s.db.Exec(`UPDATE interventions SET status = $1, delivered_at = $2 WHERE id = $3`, status, *deliveredAt, id)
	} else {
		_, err = s.db.Exec(`UPDATE interventions SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		slog.Error("PostgresStore UpdateInterventionStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update intervention %s: %w", id, err)
	}
	return nil
}

// GetIntervention retrieves a single record by ID.
func (s *PostgresStore) GetIntervention(id string) (*models.InterventionRecord, error) {
	row := s.db.QueryRow(`SELECT `+interventionColumns+` FROM interventions WHERE id = $1`, id)
	rec, err := scanIntervention(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListInterventionsByUser returns a user's records created at or after since.
func (s *PostgresStore) ListInterventionsByUser(userID string, since time.Time) ([]models.InterventionRecord, error) {
	rows, err := s.db.Query(`SELECT `+interventionColumns+` FROM interventions
		WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at DESC`, userID, since)
	if err != nil {
		slog.Error("PostgresStore ListInterventionsByUser query failed", "error", err, "user", userID)
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()
	var out []models.InterventionRecord
	for rows.Next() {
		rec, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListInterventionsByStatus returns all records in one of the given statuses.
func (s *PostgresStore) ListInterventionsByStatus(statuses ...models.InterventionStatus) ([]models.InterventionRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = st
	}
	rows, err := s.db.Query(`SELECT `+interventionColumns+` FROM interventions
		WHERE status IN (`+strings.Join(placeholders, ", ")+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		slog.Error("PostgresStore ListInterventionsByStatus query failed", "error", err)
		return nil, fmt.Errorf("failed to query interventions by status: %w", err)
	}
	defer rows.Close()
	var out []models.InterventionRecord
	for rows.Next() {
		rec, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveEffectiveness inserts a new effectiveness record.
func (s *PostgresStore) SaveEffectiveness(rec models.EffectivenessRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("failed to encode effectiveness context: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO effectiveness
		(id, intervention_id, user_id, trigger_id, context_json, user_response,
		 behavior_change, immediate_effect, satisfaction, interference, observed_at, defaulted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.InterventionID, rec.UserID, nilIfEmpty(rec.TriggerID), string(contextJSON),
		rec.UserResponse, rec.BehaviorChange, rec.ImmediateEffect, rec.Satisfaction,
		nilIfEmpty(strings.Join(rec.Interference, ",")), rec.ObservedAt, rec.Defaulted,
	)
	if err != nil {
		slog.Error("PostgresStore SaveEffectiveness failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to insert effectiveness %s: %w", rec.ID, err)
	}
	return nil
}

// ListEffectivenessByUser returns a user's observations, newest first.
func (s *PostgresStore) ListEffectivenessByUser(userID string) ([]models.EffectivenessRecord, error) {
	rows, err := s.db.Query(`SELECT id, intervention_id, user_id, trigger_id, context_json,
		user_response, behavior_change, immediate_effect, satisfaction, interference,
		observed_at, defaulted
		FROM effectiveness WHERE user_id = $1 ORDER BY observed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query effectiveness: %w", err)
	}
	defer rows.Close()
	var out []models.EffectivenessRecord
	for rows.Next() {
		rec, err := scanEffectiveness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetFiringState returns the last firing and count since the given time.
func (s *PostgresStore) GetFiringState(userID, triggerID string, since time.Time) (FiringState, error) {
	var st FiringState
	var last sql.NullTime
	err := s.db.QueryRow(`SELECT MAX(fired_at) FROM trigger_firings
		WHERE user_id = $1 AND trigger_id = $2`, userID, triggerID).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return st, fmt.Errorf("failed to query last firing: %w", err)
	}
	if last.Valid {
		st.LastFired = last.Time
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM trigger_firings
		WHERE user_id = $1 AND trigger_id = $2 AND fired_at >= $3`, userID, triggerID, since).Scan(&st.CountSince)
	if err != nil {
		return st, fmt.Errorf("failed to count firings: %w", err)
	}
	return st, nil
}

// RecordFiring appends a firing event for (user, trigger).
func (s *PostgresStore) RecordFiring(userID, triggerID string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO trigger_firings (user_id, trigger_id, fired_at) VALUES ($1, $2, $3)`,
		userID, triggerID, at)
	if err != nil {
		return fmt.Errorf("failed to record firing: %w", err)
	}
	return nil
}

// LastDelivered returns the most recent delivery time for the user.
func (s *PostgresStore) LastDelivered(userID string) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRow(`SELECT MAX(delivered_at) FROM deliveries WHERE user_id = $1`, userID).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query last delivery: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

// RecordDelivery appends a habituation window entry for the user.
func (s *PostgresStore) RecordDelivery(userID string, entry DeliveryEntry) error {
	_, err := s.db.Exec(`INSERT INTO deliveries (user_id, content, type, delivered_at) VALUES ($1, $2, $3, $4)`,
		userID, entry.Content, entry.Type, entry.DeliveredAt)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the user's habituation window entries since the given time.
func (s *PostgresStore) RecentDeliveries(userID string, since time.Time) ([]DeliveryEntry, error) {
	rows, err := s.db.Query(`SELECT content, type, delivered_at FROM deliveries
		WHERE user_id = $1 AND delivered_at >= $2 ORDER BY delivered_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()
	var out []DeliveryEntry
	for rows.Next() {
		var e DeliveryEntry
		if err := rows.Scan(&e.Content, &e.Type, &e.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery failed: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEffectivenessEMA returns the stored moving average for (user, trigger).
func (s *PostgresStore) GetEffectivenessEMA(userID, triggerID string) (float64, bool, error) {
	var v float64
	err := s.db.QueryRow(`SELECT value FROM effectiveness_ema WHERE user_id = $1 AND trigger_id = $2`,
		userID, triggerID).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query effectiveness ema: %w", err)
	}
	return v, true, nil
}

// SetEffectivenessEMA stores the updated moving average.
func (s *PostgresStore) SetEffectivenessEMA(userID, triggerID string, value float64) error {
	_, err := s.db.Exec(`INSERT INTO effectiveness_ema (user_id, trigger_id, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, trigger_id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		userID, triggerID, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert effectiveness ema: %w", err)
	}
	return nil
}

// SilenceUntil returns the end of the user's silence period, if any.
func (s *PostgresStore) SilenceUntil(userID string) (*time.Time, error) {
	var until time.Time
	err := s.db.QueryRow(`SELECT silent_until FROM user_silence WHERE user_id = $1`, userID).Scan(&until)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query silence period: %w", err)
	}
	return &until, nil
}

// SetSilenceUntil imposes a silence period ending at until.
func (s *PostgresStore) SetSilenceUntil(userID string, until time.Time) error {
	_, err := s.db.Exec(`INSERT INTO user_silence (user_id, silent_until) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET silent_until = EXCLUDED.silent_until`,
		userID, until)
	if err != nil {
		return fmt.Errorf("failed to upsert silence period: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
