package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/delivery"
	"github.com/NudgeLoop/NudgeLoop/internal/messaging"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

type coordinatorFixture struct {
	store   *store.InMemoryStore
	service *messaging.MockService
	queue   *delivery.DelayQueue
	clock   *fakeClock
	coord   *Coordinator

	// latest, when set, is what retries see as the user's current context.
	latest SnapshotLookup
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	svc := messaging.NewMockService()
	clock := newFakeClock()
	queue := delivery.NewDelayQueue(clock.Now)
	tracker := NewEffectivenessTracker(st, st, clock)
	habituation := NewHabituationMonitor(st, clock)
	validator := NewConstraintValidator(st, clock)
	f := &coordinatorFixture{store: st, service: svc, queue: queue, clock: clock}
	f.coord = NewCoordinator(st, st, svc, validator, habituation, tracker, queue, clock, nil,
		func(userID string) (*models.ContextSnapshot, bool) {
			if f.latest == nil {
				return nil, false
			}
			return f.latest(userID)
		})
	return f
}

// drain runs the queue worker briefly so due entries execute.
func (f *coordinatorFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go f.queue.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
}

func optimalRecord(f *coordinatorFixture) *models.InterventionRecord {
	now := f.clock.Now()
	return &models.InterventionRecord{
		ID:        "iv1",
		UserID:    "user1",
		TriggerID: "t1",
		Type:      models.TypeSuggestion,
		Content:   "take a walk",
		Personalization: models.Personalization{
			PreviousEffectiveness: 50,
		},
		Constraints: models.Constraints{
			NotBefore:          now,
			NotAfter:           now.Add(4 * time.Hour),
			MinIntervalMinutes: 60,
		},
		Status:    models.StatusSynthesized,
		CreatedAt: now,
	}
}

func optimalSnapshot(f *coordinatorFixture) *models.ContextSnapshot {
	return &models.ContextSnapshot{
		UserID:          "user1",
		Timestamp:       f.clock.Now(),
		StressLevel:     20,
		EnergyLevel:     80,
		MotivationLevel: 70,
		Environment:     models.EnvironmentalFactors{TimeOfDay: 10},
	}
}

func TestCoordinatorDeliversOptimalRecord(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)

	f.coord.Deliver(context.Background(), rec, optimalSnapshot(f))

	if f.service.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", f.service.SentCount())
	}
	if f.service.Sent[0].To != "user1" || f.service.Sent[0].Body != "take a walk" {
		t.Errorf("sent message = %+v", f.service.Sent[0])
	}
	if rec.Status != models.StatusDelivered || rec.DeliveredAt == nil {
		t.Errorf("record status = %s, delivered at = %v", rec.Status, rec.DeliveredAt)
	}
	stored, _ := f.store.GetIntervention("iv1")
	if stored.Status != models.StatusDelivered {
		t.Errorf("stored status = %s, want delivered", stored.Status)
	}
	last, _ := f.store.LastDelivered("user1")
	if last == nil {
		t.Error("delivery should advance the global throttle")
	}
	if f.queue.Pending() != 1 {
		t.Errorf("pending = %d, want the observation check scheduled", f.queue.Pending())
	}
}

func TestCoordinatorDefersSuboptimalTiming(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)

	snap := optimalSnapshot(f)
	snap.EnergyLevel = 30
	snap.StressLevel = 70
	snap.MotivationLevel = 40

	f.coord.Deliver(context.Background(), rec, snap)

	if f.service.SentCount() != 0 {
		t.Fatalf("nothing should be sent, got %d", f.service.SentCount())
	}
	if rec.Status != models.StatusRescheduled || rec.RetryCount != 1 {
		t.Errorf("status = %s retry = %d, want rescheduled/1", rec.Status, rec.RetryCount)
	}
	if f.queue.Pending() != 1 {
		t.Errorf("pending = %d, want the retry scheduled", f.queue.Pending())
	}
}

func TestCoordinatorDropsExpiredRecord(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	rec.Constraints.NotAfter = f.clock.Now().Add(-time.Minute)
	f.store.SaveIntervention(*rec)

	f.coord.Deliver(context.Background(), rec, optimalSnapshot(f))

	if rec.Status != models.StatusDropped {
		t.Errorf("status = %s, want dropped", rec.Status)
	}
	if f.queue.Pending() != 0 {
		t.Errorf("pending = %d, want nothing scheduled", f.queue.Pending())
	}
}

func TestCoordinatorDropsWhenRetriesExhausted(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	rec.RetryCount = MaxDeliveryRetries
	f.store.SaveIntervention(*rec)

	snap := optimalSnapshot(f)
	snap.EnergyLevel = 10 // timing never optimal

	f.coord.Deliver(context.Background(), rec, snap)

	if rec.Status != models.StatusDropped {
		t.Errorf("status = %s, want dropped after the retry budget ran out", rec.Status)
	}
}

func TestCoordinatorDropsWhenRetryWouldExpire(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	// The next retry at +30min lands past the validity window.
	rec.Constraints.NotAfter = f.clock.Now().Add(10 * time.Minute)
	f.store.SaveIntervention(*rec)

	snap := optimalSnapshot(f)
	snap.EnergyLevel = 10

	f.coord.Deliver(context.Background(), rec, snap)

	if rec.Status != models.StatusDropped {
		t.Errorf("status = %s, want dropped", rec.Status)
	}
}

func TestCoordinatorReschedulesOnSendFailure(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)
	f.service.FailWith(errors.New("transport down"))

	f.coord.Deliver(context.Background(), rec, optimalSnapshot(f))

	if rec.Status != models.StatusRescheduled || rec.RetryCount != 1 {
		t.Errorf("status = %s retry = %d, want rescheduled/1", rec.Status, rec.RetryCount)
	}

	// The retry succeeds once the transport recovers and the throttle allows.
	f.service.FailWith(nil)
	f.clock.advance(RetryDelay + time.Minute)
	f.drain(t)

	if f.service.SentCount() != 1 {
		t.Errorf("sent = %d, want 1 after the retry", f.service.SentCount())
	}
	if rec.Status != models.StatusDelivered {
		t.Errorf("status = %s, want delivered after the retry", rec.Status)
	}
}

func TestCoordinatorSupersedeDropsAndCancels(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	rec.Generation = 1
	f.store.SaveIntervention(*rec)

	snap := optimalSnapshot(f)
	snap.EnergyLevel = 10
	f.coord.Deliver(context.Background(), rec, snap) // queued retry, generation 1

	f.coord.Supersede(rec, 2)
	if rec.Status != models.StatusDropped {
		t.Errorf("status = %s, want dropped after supersede", rec.Status)
	}

	// The stale retry is a silent no-op when it pops.
	f.clock.advance(RetryDelay + time.Minute)
	f.drain(t)
	if f.service.SentCount() != 0 {
		t.Errorf("superseded retry should never send, got %d", f.service.SentCount())
	}
}

func TestCoordinatorObservationDefaultsToIgnored(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)

	f.coord.Deliver(context.Background(), rec, optimalSnapshot(f))
	if rec.Status != models.StatusDelivered {
		t.Fatalf("precondition: record not delivered, status %s", rec.Status)
	}

	// First step: the observation check finds nothing and arms the grace timer.
	f.clock.advance(ObservationDelay + time.Minute)
	f.drain(t)
	if f.queue.Pending() != 1 {
		t.Fatalf("pending = %d, want the grace timer armed", f.queue.Pending())
	}

	// Second step: the grace window lapses and the default record lands.
	f.clock.advance(ObservationGrace + time.Minute)
	f.drain(t)

	recs, _ := f.store.ListEffectivenessByUser("user1")
	if len(recs) != 1 {
		t.Fatalf("expected 1 defaulted observation, got %d", len(recs))
	}
	if !recs[0].Defaulted || recs[0].UserResponse != models.ResponseIgnored {
		t.Errorf("observation = %+v, want defaulted ignored", recs[0])
	}
}

func TestCoordinatorObservationSkippedWhenReported(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)

	f.coord.Deliver(context.Background(), rec, optimalSnapshot(f))

	// An external observation arrives before the check fires.
	f.store.SaveEffectiveness(models.EffectivenessRecord{
		ID: "e1", InterventionID: rec.ID, UserID: "user1", TriggerID: "t1",
		UserResponse: models.ResponseCompleted, Satisfaction: 5, ObservedAt: f.clock.Now(),
	})

	f.clock.advance(ObservationDelay + time.Minute)
	f.drain(t)
	if f.queue.Pending() != 0 {
		t.Errorf("pending = %d, grace timer should not be armed once observed", f.queue.Pending())
	}
}

func TestCoordinatorRetrySeesFreshContext(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)

	stale := optimalSnapshot(f)
	stale.EnergyLevel = 30
	stale.StressLevel = 70
	stale.MotivationLevel = 40

	f.coord.Deliver(context.Background(), rec, stale)
	if rec.Status != models.StatusRescheduled {
		t.Fatalf("precondition: status = %s, want rescheduled", rec.Status)
	}

	// By the time the retry pops, the user's context has recovered and a
	// stronger effectiveness aggregate exists.
	f.latest = func(userID string) (*models.ContextSnapshot, bool) {
		snap := optimalSnapshot(f)
		snap.Timestamp = f.clock.Now()
		return snap, true
	}
	f.store.SetEffectivenessEMA("user1", "t1", 90)

	f.clock.advance(RetryDelay + time.Minute)
	f.drain(t)

	if f.service.SentCount() != 1 {
		t.Fatalf("sent = %d, want delivery once context recovered", f.service.SentCount())
	}
	if rec.Status != models.StatusDelivered {
		t.Errorf("status = %s, want delivered", rec.Status)
	}
	if rec.Personalization.PreviousEffectiveness != 90 {
		t.Errorf("previous effectiveness = %v, want the re-read aggregate 90",
			rec.Personalization.PreviousEffectiveness)
	}
}

func TestCoordinatorRetryKeepsSynthesisSnapshotWithoutLookup(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)

	snap := optimalSnapshot(f)
	snap.EnergyLevel = 10 // never optimal

	f.coord.Deliver(context.Background(), rec, snap)
	f.clock.advance(RetryDelay + time.Minute)
	f.drain(t)

	if f.service.SentCount() != 0 {
		t.Errorf("sent = %d, want deferral to continue on the frozen snapshot", f.service.SentCount())
	}
	if rec.Status != models.StatusRescheduled || rec.RetryCount != 2 {
		t.Errorf("status = %s retry = %d, want rescheduled/2", rec.Status, rec.RetryCount)
	}
}

func TestCoordinatorRetryWaitsForUserLock(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)
	f.service.FailWith(errors.New("transport down"))
	f.coord.Deliver(context.Background(), rec, optimalSnapshot(f))
	f.service.FailWith(nil)

	// Hold the user's serialization lock the way an in-progress
	// evaluation does, then let the retry pop.
	mu := f.coord.lockUser("user1")
	mu.Lock()
	f.clock.advance(RetryDelay + time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.queue.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	if f.service.SentCount() != 0 {
		mu.Unlock()
		t.Fatalf("retry delivered while the user lock was held, sent = %d", f.service.SentCount())
	}
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for f.service.SentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.service.SentCount() != 1 {
		t.Errorf("sent = %d, want 1 after the lock was released", f.service.SentCount())
	}
}

func TestCoordinatorRetrySkipsResolvedRecord(t *testing.T) {
	f := newCoordinatorFixture(t)
	rec := optimalRecord(f)
	f.store.SaveIntervention(*rec)
	f.service.FailWith(errors.New("transport down"))
	f.coord.Deliver(context.Background(), rec, optimalSnapshot(f))
	f.service.FailWith(nil)

	// The record settles before the retry pops.
	rec.Status = models.StatusDropped

	f.clock.advance(RetryDelay + time.Minute)
	f.drain(t)
	if f.service.SentCount() != 0 {
		t.Errorf("resolved record should never be re-sent, got %d", f.service.SentCount())
	}
}
