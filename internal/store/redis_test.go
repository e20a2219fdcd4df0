package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

func newTestRedisStore(t *testing.T) *RedisUserStateStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisUserStateStore(client, "test")
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRedisFiringState(t *testing.T) {
	st := newTestRedisStore(t)
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	dayStart := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

	state, err := st.GetFiringState("user1", "t1", dayStart)
	if err != nil {
		t.Fatalf("GetFiringState failed: %v", err)
	}
	if !state.LastFired.IsZero() || state.CountSince != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}

	if err := st.RecordFiring("user1", "t1", now.Add(-26*time.Hour)); err != nil {
		t.Fatalf("RecordFiring failed: %v", err)
	}
	if err := st.RecordFiring("user1", "t1", now.Add(-time.Hour)); err != nil {
		t.Fatalf("RecordFiring failed: %v", err)
	}

	state, err = st.GetFiringState("user1", "t1", dayStart)
	if err != nil {
		t.Fatalf("GetFiringState failed: %v", err)
	}
	if state.CountSince != 1 {
		t.Errorf("count since midnight = %d, want 1", state.CountSince)
	}
	if !state.LastFired.Equal(now.Add(-time.Hour)) {
		t.Errorf("last fired = %v, want %v", state.LastFired, now.Add(-time.Hour))
	}
}

func TestRedisDeliveries(t *testing.T) {
	st := newTestRedisStore(t)
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	last, err := st.LastDelivered("user1")
	if err != nil {
		t.Fatalf("LastDelivered failed: %v", err)
	}
	if last != nil {
		t.Error("expected nil before any delivery")
	}

	entries := []DeliveryEntry{
		{Content: "stretch", Type: models.TypeSuggestion, DeliveredAt: now.Add(-2 * time.Hour)},
		{Content: "walk", Type: models.TypeReminder, DeliveredAt: now},
	}
	for _, e := range entries {
		if err := st.RecordDelivery("user1", e); err != nil {
			t.Fatalf("RecordDelivery failed: %v", err)
		}
	}

	last, err = st.LastDelivered("user1")
	if err != nil {
		t.Fatalf("LastDelivered failed: %v", err)
	}
	if last == nil || !last.Equal(now) {
		t.Errorf("last delivered = %v, want %v", last, now)
	}

	recent, err := st.RecentDeliveries("user1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentDeliveries failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Content != "walk" {
		t.Errorf("expected only the recent entry, got %+v", recent)
	}
}

func TestRedisEffectivenessEMA(t *testing.T) {
	st := newTestRedisStore(t)

	_, ok, err := st.GetEffectivenessEMA("user1", "t1")
	if err != nil {
		t.Fatalf("GetEffectivenessEMA failed: %v", err)
	}
	if ok {
		t.Error("expected no aggregate before any observation")
	}

	if err := st.SetEffectivenessEMA("user1", "t1", 47.25); err != nil {
		t.Fatalf("SetEffectivenessEMA failed: %v", err)
	}
	v, ok, err := st.GetEffectivenessEMA("user1", "t1")
	if err != nil || !ok {
		t.Fatalf("GetEffectivenessEMA after set: v=%v ok=%v err=%v", v, ok, err)
	}
	if v != 47.25 {
		t.Errorf("aggregate = %v, want 47.25", v)
	}
}

func TestRedisSilencePeriod(t *testing.T) {
	st := newTestRedisStore(t)
	until := time.Now().Add(6 * time.Hour).Truncate(time.Millisecond)

	got, err := st.SilenceUntil("user1")
	if err != nil {
		t.Fatalf("SilenceUntil failed: %v", err)
	}
	if got != nil {
		t.Error("expected no silence period initially")
	}

	if err := st.SetSilenceUntil("user1", until); err != nil {
		t.Fatalf("SetSilenceUntil failed: %v", err)
	}
	got, err = st.SilenceUntil("user1")
	if err != nil {
		t.Fatalf("SilenceUntil failed: %v", err)
	}
	if got == nil || !got.Equal(until) {
		t.Errorf("silence until = %v, want %v", got, until)
	}
}

func TestRedisMalformedEntriesSkipped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisUserStateStore(client, "test")
	t.Cleanup(func() { st.Close() })

	// Corrupt entries alongside a valid one.
	mr.Lpush("test:user1:deliveries", "{not json")
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	if err := st.RecordDelivery("user1", DeliveryEntry{Content: "ok", DeliveredAt: now}); err != nil {
		t.Fatalf("RecordDelivery failed: %v", err)
	}

	recent, err := st.RecentDeliveries("user1", time.Time{})
	if err != nil {
		t.Fatalf("RecentDeliveries failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Content != "ok" {
		t.Errorf("expected the malformed entry to be skipped, got %+v", recent)
	}
}
