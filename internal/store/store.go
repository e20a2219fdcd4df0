// Package store provides storage backends for NudgeLoop.
//
// It defines the repository interfaces consumed by the engine and ships
// in-memory, SQLite, PostgreSQL, and Redis implementations.
package store

import (
	"strings"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// FiringState is the per-(user, trigger) slice of firing history the
// evaluator needs for cooldown and daily quota checks.
type FiringState struct {
	LastFired  time.Time `json:"last_fired"`
	CountSince int       `json:"count_since"`
}

// DeliveryEntry is one delivered intervention inside the habituation
// window: enough to compute repetition risk and rotate templates.
type DeliveryEntry struct {
	Content     string                  `json:"content"`
	Type        models.InterventionType `json:"type"`
	DeliveredAt time.Time               `json:"delivered_at"`
}

// InterventionRepo persists full intervention records.
type InterventionRepo interface {
	// SaveIntervention inserts a new intervention record.
	SaveIntervention(rec models.InterventionRecord) error

	// UpdateInterventionStatus moves a record through its lifecycle. A
	// non-nil deliveredAt is stored alongside the delivered status.
	UpdateInterventionStatus(id string, status models.InterventionStatus, deliveredAt *time.Time) error

	// GetIntervention retrieves a single record by ID.
	GetIntervention(id string) (*models.InterventionRecord, error)

	// ListInterventionsByUser returns a user's records created at or after
	// since, newest first.
	ListInterventionsByUser(userID string, since time.Time) ([]models.InterventionRecord, error)

	// ListInterventionsByStatus returns all records currently in one of
	// the given statuses. Used by startup recovery.
	ListInterventionsByStatus(statuses ...models.InterventionStatus) ([]models.InterventionRecord, error)
}

// EffectivenessRepo persists post-delivery observations.
type EffectivenessRepo interface {
	// SaveEffectiveness inserts a new effectiveness record.
	SaveEffectiveness(rec models.EffectivenessRecord) error

	// ListEffectivenessByUser returns a user's observations, newest first.
	ListEffectivenessByUser(userID string) ([]models.EffectivenessRecord, error)
}

// UserStateRepo holds the hot per-user state consulted on every
// evaluation: trigger firing history, the global delivery throttle, the
// habituation window, effectiveness aggregates, and silence periods.
// Implementations must be safe for concurrent use; the engine serializes
// read-check-write sequences per user above this layer.
type UserStateRepo interface {
	// GetFiringState returns the last firing time for (user, trigger) and
	// the number of firings at or after since.
	GetFiringState(userID, triggerID string, since time.Time) (FiringState, error)

	// RecordFiring appends a firing event for (user, trigger).
	RecordFiring(userID, triggerID string, at time.Time) error

	// LastDelivered returns the time of the user's most recent delivered
	// intervention of any trigger, or nil if none.
	LastDelivered(userID string) (*time.Time, error)

	// RecordDelivery appends an entry to the user's habituation window and
	// advances the global delivery throttle.
	RecordDelivery(userID string, entry DeliveryEntry) error

	// RecentDeliveries returns the user's habituation window entries at or
	// after since.
	RecentDeliveries(userID string, since time.Time) ([]DeliveryEntry, error)

	// GetEffectivenessEMA returns the stored moving average for
	// (user, trigger). ok is false when no value has been recorded yet.
	GetEffectivenessEMA(userID, triggerID string) (value float64, ok bool, err error)

	// SetEffectivenessEMA stores the updated moving average.
	SetEffectivenessEMA(userID, triggerID string, value float64) error

	// SilenceUntil returns the end of the user's habituation silence
	// period, or nil if none is active.
	SilenceUntil(userID string) (*time.Time, error)

	// SetSilenceUntil imposes a silence period ending at until.
	SetSilenceUntil(userID string, until time.Time) error
}

// Store is the full persistence surface required by the engine.
type Store interface {
	InterventionRepo
	EffectivenessRepo
	UserStateRepo

	// Close releases underlying resources.
	Close() error
}

// DetectDSNType returns "postgres" for PostgreSQL-style DSNs and "sqlite"
// otherwise. Used to auto-select a driver from a single DSN setting.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
