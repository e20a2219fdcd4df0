// Package store provides storage backends for NudgeLoop.
//
// This file implements an in-memory store used in tests and single-node
// development setups.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

// InMemoryStore is a mutex-guarded in-memory implementation of Store.
type InMemoryStore struct {
	mu            sync.RWMutex
	interventions map[string]models.InterventionRecord
	effectiveness map[string][]models.EffectivenessRecord // keyed by user ID
	firings       map[string][]time.Time                  // keyed by user|trigger
	deliveries    map[string][]DeliveryEntry              // keyed by user ID
	emas          map[string]float64                      // keyed by user|trigger
	silence       map[string]time.Time                    // keyed by user ID
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		interventions: make(map[string]models.InterventionRecord),
		effectiveness: make(map[string][]models.EffectivenessRecord),
		firings:       make(map[string][]time.Time),
		deliveries:    make(map[string][]DeliveryEntry),
		emas:          make(map[string]float64),
		silence:       make(map[string]time.Time),
	}
}

func userTriggerKey(userID, triggerID string) string {
	return userID + "|" + triggerID
}

// SaveIntervention inserts a new intervention record.
func (s *InMemoryStore) SaveIntervention(rec models.InterventionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interventions[rec.ID] = rec
	return nil
}

// UpdateInterventionStatus moves a record through its lifecycle.
func (s *InMemoryStore) UpdateInterventionStatus(id string, status models.InterventionStatus, deliveredAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.interventions[id]
	if !ok {
		return fmt.Errorf("intervention %s not found", id)
	}
	rec.Status = status
	if deliveredAt != nil {
		rec.DeliveredAt = deliveredAt
	}
	s.interventions[id] = rec
	return nil
}

// GetIntervention retrieves a single record by ID.
func (s *InMemoryStore) GetIntervention(id string) (*models.InterventionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.interventions[id]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// ListInterventionsByUser returns a user's records created at or after since.
func (s *InMemoryStore) ListInterventionsByUser(userID string, since time.Time) ([]models.InterventionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.InterventionRecord
	for _, rec := range s.interventions {
		if rec.UserID == userID && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListInterventionsByStatus returns all records in one of the given statuses.
func (s *InMemoryStore) ListInterventionsByStatus(statuses ...models.InterventionStatus) ([]models.InterventionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.InterventionRecord
	for _, rec := range s.interventions {
		for _, st := range statuses {
			if rec.Status == st {
				out = append(out, rec)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveEffectiveness inserts a new effectiveness record.
func (s *InMemoryStore) SaveEffectiveness(rec models.EffectivenessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effectiveness[rec.UserID] = append(s.effectiveness[rec.UserID], rec)
	return nil
}

// ListEffectivenessByUser returns a user's observations, newest first.
func (s *InMemoryStore) ListEffectivenessByUser(userID string) ([]models.EffectivenessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := append([]models.EffectivenessRecord(nil), s.effectiveness[userID]...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ObservedAt.After(recs[j].ObservedAt) })
	return recs, nil
}

// GetFiringState returns the last firing and count since the given time.
func (s *InMemoryStore) GetFiringState(userID, triggerID string, since time.Time) (FiringState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st FiringState
	for _, at := range s.firings[userTriggerKey(userID, triggerID)] {
		if at.After(st.LastFired) {
			st.LastFired = at
		}
		if !at.Before(since) {
			st.CountSince++
		}
	}
	return st, nil
}

// RecordFiring appends a firing event for (user, trigger).
func (s *InMemoryStore) RecordFiring(userID, triggerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userTriggerKey(userID, triggerID)
	s.firings[key] = append(s.firings[key], at)
	return nil
}

// LastDelivered returns the most recent delivery time for the user.
func (s *InMemoryStore) LastDelivered(userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, e := range s.deliveries[userID] {
		if e.DeliveredAt.After(last) {
			last = e.DeliveredAt
		}
	}
	if last.IsZero() {
		return nil, nil
	}
	out := last
	return &out, nil
}

// RecordDelivery appends a habituation window entry for the user.
func (s *InMemoryStore) RecordDelivery(userID string, entry DeliveryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[userID] = append(s.deliveries[userID], entry)
	return nil
}

// RecentDeliveries returns the user's habituation window entries since the given time.
func (s *InMemoryStore) RecentDeliveries(userID string, since time.Time) ([]DeliveryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DeliveryEntry
	for _, e := range s.deliveries[userID] {
		if !e.DeliveredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetEffectivenessEMA returns the stored moving average for (user, trigger).
func (s *InMemoryStore) GetEffectivenessEMA(userID, triggerID string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.emas[userTriggerKey(userID, triggerID)]
	return v, ok, nil
}

// SetEffectivenessEMA stores the updated moving average.
func (s *InMemoryStore) SetEffectivenessEMA(userID, triggerID string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emas[userTriggerKey(userID, triggerID)] = value
	return nil
}

// SilenceUntil returns the end of the user's silence period, if any.
func (s *InMemoryStore) SilenceUntil(userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.silence[userID]
	if !ok {
		return nil, nil
	}
	out := until
	return &out, nil
}

// SetSilenceUntil imposes a silence period ending at until.
func (s *InMemoryStore) SetSilenceUntil(userID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silence[userID] = until
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// Compile-time interface check.
var _ Store = (*InMemoryStore)(nil)
