// Package store provides storage backends for NudgeLoop.
//
// This file implements a Redis-backed hot user-state store. It covers only
// UserStateRepo: the cooldown, throttle, habituation, and aggregate state
// read on every evaluation. Full intervention and effectiveness records
// stay in the SQL store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout constants.
const (
	// DefaultRedisPrefix namespaces all NudgeLoop keys.
	DefaultRedisPrefix = "nudge"
	// maxFiringEntries bounds the per-(user,trigger) firing list.
	maxFiringEntries = 200
	// maxDeliveryEntries bounds the per-user habituation list.
	maxDeliveryEntries = 100
)

// RedisUserStateStore implements UserStateRepo on Redis.
type RedisUserStateStore struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

// NewRedisUserStateStore creates a UserStateRepo backed by the given Redis
// client. An empty prefix falls back to DefaultRedisPrefix.
func NewRedisUserStateStore(client *redis.Client, prefix string) *RedisUserStateStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	slog.Debug("NewRedisUserStateStore created", "prefix", prefix)
	return &RedisUserStateStore{
		client: client,
		prefix: prefix,
		ctx:    context.Background(),
	}
}

func (r *RedisUserStateStore) firingKey(userID, triggerID string) string {
	return fmt.Sprintf("%s:%s:firings:%s", r.prefix, userID, triggerID)
}

func (r *RedisUserStateStore) lastDeliveredKey(userID string) string {
	return fmt.Sprintf("%s:%s:last_delivered", r.prefix, userID)
}

func (r *RedisUserStateStore) deliveriesKey(userID string) string {
	return fmt.Sprintf("%s:%s:deliveries", r.prefix, userID)
}

func (r *RedisUserStateStore) emaKey(userID, triggerID string) string {
	return fmt.Sprintf("%s:%s:ema:%s", r.prefix, userID, triggerID)
}

func (r *RedisUserStateStore) silenceKey(userID string) string {
	return fmt.Sprintf("%s:%s:silence", r.prefix, userID)
}

// GetFiringState returns the last firing and count since the given time.
func (r *RedisUserStateStore) GetFiringState(userID, triggerID string, since time.Time) (FiringState, error) {
	var st FiringState
	entries, err := r.client.LRange(r.ctx, r.firingKey(userID, triggerID), 0, -1).Result()
	if err != nil {
		return st, fmt.Errorf("failed to read firing list: %w", err)
	}
	for _, raw := range entries {
		at, perr := time.Parse(time.RFC3339Nano, raw)
		if perr != nil {
			slog.Warn("RedisUserStateStore skipping malformed firing entry", "value", raw)
			continue
		}
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
func (r *RedisUserStateStore) RecordFiring(userID, triggerID string, at time.Time) error {
	key := r.firingKey(userID, triggerID)
	if err := r.client.RPush(r.ctx, key, at.Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to append firing: %w", err)
	}
	return r.client.LTrim(r.ctx, key, -maxFiringEntries, -1).Err()
}

// LastDelivered returns the most recent delivery time for the user.
func (r *RedisUserStateStore) LastDelivered(userID string) (*time.Time, error) {
	raw, err := r.client.Get(r.ctx, r.lastDeliveredKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last delivered: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("malformed last delivered value: %w", err)
	}
	return &at, nil
}

// RecordDelivery appends a habituation window entry and advances the
// global delivery throttle.
func (r *RedisUserStateStore) RecordDelivery(userID string, entry DeliveryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode delivery entry: %w", err)
	}
	key := r.deliveriesKey(userID)
	if err := r.client.RPush(r.ctx, key, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to append delivery: %w", err)
	}
	if err := r.client.LTrim(r.ctx, key, -maxDeliveryEntries, -1).Err(); err != nil {
		return fmt.Errorf("failed to trim delivery list: %w", err)
	}
	return r.client.Set(r.ctx, r.lastDeliveredKey(userID), entry.DeliveredAt.Format(time.RFC3339Nano), 0).Err()
}

// RecentDeliveries returns the user's habituation window entries since the given time.
func (r *RedisUserStateStore) RecentDeliveries(userID string, since time.Time) ([]DeliveryEntry, error) {
	items, err := r.client.LRange(r.ctx, r.deliveriesKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery list: %w", err)
	}
	var out []DeliveryEntry
	for _, raw := range items {
		var e DeliveryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			slog.Warn("RedisUserStateStore skipping malformed delivery entry", "error", err)
			continue
		}
		if !e.DeliveredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetEffectivenessEMA returns the stored moving average for (user, trigger).
func (r *RedisUserStateStore) GetEffectivenessEMA(userID, triggerID string) (float64, bool, error) {
	raw, err := r.client.Get(r.ctx, r.emaKey(userID, triggerID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read effectiveness ema: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed effectiveness ema value: %w", err)
	}
	return v, true, nil
}

// SetEffectivenessEMA stores the updated moving average.
func (r *RedisUserStateStore) SetEffectivenessEMA(userID, triggerID string, value float64) error {
	return r.client.Set(r.ctx, r.emaKey(userID, triggerID), strconv.FormatFloat(value, 'f', -1, 64), 0).Err()
}

// SilenceUntil returns the end of the user's silence period, if any.
// The key expires on its own once the period has passed.
func (r *RedisUserStateStore) SilenceUntil(userID string) (*time.Time, error) {
	raw, err := r.client.Get(r.ctx, r.silenceKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read silence period: %w", err)
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("malformed silence value: %w", err)
	}
	return &until, nil
}

// SetSilenceUntil imposes a silence period ending at until.
func (r *RedisUserStateStore) SetSilenceUntil(userID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl < 0 {
		ttl = time.Second
	}
	return r.client.Set(r.ctx, r.silenceKey(userID), until.Format(time.RFC3339Nano), ttl).Err()
}

// Close closes the underlying Redis client.
func (r *RedisUserStateStore) Close() error {
	return r.client.Close()
}

// Compile-time interface check.
var _ UserStateRepo = (*RedisUserStateStore)(nil)
