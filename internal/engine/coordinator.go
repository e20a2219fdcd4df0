package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/delivery"
	"github.com/NudgeLoop/NudgeLoop/internal/messaging"
	"github.com/NudgeLoop/NudgeLoop/internal/metrics"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
	"github.com/sony/gobreaker/v2"
)

// Delivery pipeline constants.
const (
	// MaxDeliveryRetries caps reschedules per intervention.
	MaxDeliveryRetries = 3
	// RetryDelay is the fixed backoff between delivery attempts.
	RetryDelay = 30 * time.Minute
	// SendTimeout bounds a single transport send.
	SendTimeout = 15 * time.Second
)

// Drop reasons for the interventions_dropped counter.
const (
	dropReasonExpired    = "expired"
	dropReasonExhausted  = "retries_exhausted"
	dropReasonSuperseded = "superseded"
	dropReasonRestart    = "restart"
)

// RecipientResolver maps a user ID to a transport recipient address.
// The default assumes user IDs are already phone numbers.
type RecipientResolver func(userID string) string

// SnapshotLookup returns the most recent context snapshot known for a
// user, so retries see where the context has moved rather than the state
// it was synthesized under.
type SnapshotLookup func(userID string) (*models.ContextSnapshot, bool)

// Coordinator owns the last hop of the pipeline: it validates a record
// against the current context, pushes it through the transport behind a
// circuit breaker, and drives the retry and observation schedules.
type Coordinator struct {
	store       store.Store
	state       store.UserStateRepo
	service     messaging.Service
	validator   *ConstraintValidator
	habituation *HabituationMonitor
	tracker     *EffectivenessTracker
	queue       *delivery.DelayQueue
	breaker     *gobreaker.CircuitBreaker[any]
	clock       Clock
	resolve     RecipientResolver
	latest      SnapshotLookup

	// userLocks serializes all mutation of a user's delivery state.
	// Retries from the queue worker take the same lock the engine holds
	// across its evaluate-synthesize-fire sequence.
	userLocks sync.Map // userID -> *sync.Mutex
}

// NewCoordinator wires the delivery coordinator. A nil resolver defaults
// to the identity mapping; a nil lookup makes retries reuse the
// synthesis-time snapshot.
func NewCoordinator(st store.Store, state store.UserStateRepo, service messaging.Service,
	validator *ConstraintValidator, habituation *HabituationMonitor, tracker *EffectivenessTracker,
	queue *delivery.DelayQueue, clock Clock, resolve RecipientResolver, latest SnapshotLookup) *Coordinator {
	if resolve == nil {
		resolve = func(userID string) string { return userID }
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "delivery",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Delivery circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return &Coordinator{
		store:       st,
		state:       state,
		service:     service,
		validator:   validator,
		habituation: habituation,
		tracker:     tracker,
		queue:       queue,
		breaker:     breaker,
		clock:       clock,
		resolve:     resolve,
		latest:      latest,
	}
}

// lockUser returns the serialization lock for a user. The engine uses
// the same locks for its evaluation sequence.
func (c *Coordinator) lockUser(userID string) *sync.Mutex {
	mu, _ := c.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Deliver attempts to push a validated record out now, rescheduling or
// dropping it when the moment is wrong. The snapshot is the most recent
// context known for the user; restrictions re-check against it.
func (c *Coordinator) Deliver(ctx context.Context, rec *models.InterventionRecord, snap *models.ContextSnapshot) {
	now := c.clock.Now()

	// Timing is recomputed at send time; the synthesis-time score may be
	// stale after a reschedule.
	rec.Timing = ComputeTiming(snap, rec.Personalization.PreviousEffectiveness, rec.Personalization.HabituationRisk)

	if err := c.validator.Validate(rec, snap); err != nil {
		if errors.Is(err, ErrOutsideTimeWindow) && now.After(rec.Constraints.NotAfter) {
			c.drop(rec, dropReasonExpired, err)
			return
		}
		slog.Debug("Coordinator delivery blocked by constraints", "intervention", rec.ID, "error", err)
		c.reschedule(rec, snap)
		return
	}

	if !rec.Timing.Optimal {
		slog.Debug("Coordinator deferring delivery, timing not optimal", "intervention", rec.ID,
			"context_score", rec.Timing.ContextScore, "predicted", rec.Timing.PredictedEffectiveness)
		c.reschedule(rec, snap)
		return
	}

	c.markValidated(rec)

	if err := c.send(ctx, rec); err != nil {
		metrics.DeliveryFailures.Inc()
		slog.Error("Coordinator transport send failed", "intervention", rec.ID, "error", err)
		c.reschedule(rec, snap)
		return
	}

	c.markDelivered(rec, snap)
}

// send pushes the payload through the transport behind the breaker.
func (c *Coordinator) send(ctx context.Context, rec *models.InterventionRecord) error {
	_, err := c.breaker.Execute(func() (any, error) {
		sendCtx, cancel := context.WithTimeout(ctx, SendTimeout)
		defer cancel()
		return nil, c.service.SendMessage(sendCtx, c.resolve(rec.UserID), rec.Content)
	})
	return err
}

func (c *Coordinator) markValidated(rec *models.InterventionRecord) {
	rec.Status = models.StatusValidated
	if err := c.store.UpdateInterventionStatus(rec.ID, models.StatusValidated, nil); err != nil {
		slog.Error("Failed to persist validated status", "intervention", rec.ID, "error", err)
		metrics.PersistenceFailures.Inc()
	}
}

// markDelivered records the delivery everywhere it matters and arms the
// observation schedule.
func (c *Coordinator) markDelivered(rec *models.InterventionRecord, snap *models.ContextSnapshot) {
	now := c.clock.Now()
	rec.Status = models.StatusDelivered
	rec.DeliveredAt = &now

	if err := c.store.UpdateInterventionStatus(rec.ID, models.StatusDelivered, &now); err != nil {
		slog.Error("Failed to persist delivered status", "intervention", rec.ID, "error", err)
		metrics.PersistenceFailures.Inc()
	}
	if err := c.state.RecordDelivery(rec.UserID, store.DeliveryEntry{
		Content:     rec.Content,
		Type:        rec.Type,
		DeliveredAt: now,
	}); err != nil {
		slog.Error("Failed to record delivery in user state", "user", rec.UserID, "error", err)
		metrics.PersistenceFailures.Inc()
	}

	c.habituation.OnDelivery(rec.UserID)
	metrics.InterventionsDelivered.Inc()
	slog.Info("Intervention delivered", "intervention", rec.ID, "user", rec.UserID,
		"trigger", rec.TriggerID, "method", rec.DeliveryMethod)

	c.scheduleObservation(rec)
}

// scheduleObservation arms the two-step observation timer: a check at the
// observation delay, then a defaulting sweep after the grace window.
func (c *Coordinator) scheduleObservation(rec *models.InterventionRecord) {
	now := c.clock.Now()
	c.queue.Schedule(now.Add(ObservationDelay), func(ctx context.Context) {
		if c.tracker.Observed(rec.UserID, rec.ID) {
			return
		}
		c.queue.Schedule(c.clock.Now().Add(ObservationGrace), func(ctx context.Context) {
			c.tracker.RecordDefault(rec)
		})
	})
}

// reschedule re-queues the record after the retry delay, dropping it once
// the retry budget or validity window runs out.
func (c *Coordinator) reschedule(rec *models.InterventionRecord, snap *models.ContextSnapshot) {
	if rec.RetryCount >= MaxDeliveryRetries {
		c.drop(rec, dropReasonExhausted, nil)
		return
	}
	runAt := c.clock.Now().Add(RetryDelay)
	if runAt.After(rec.Constraints.NotAfter) {
		c.drop(rec, dropReasonExpired, nil)
		return
	}

	rec.RetryCount++
	rec.Status = models.StatusRescheduled
	if err := c.store.UpdateInterventionStatus(rec.ID, models.StatusRescheduled, nil); err != nil {
		slog.Error("Failed to persist rescheduled status", "intervention", rec.ID, "error", err)
		metrics.PersistenceFailures.Inc()
	}
	metrics.Reschedules.Inc()
	slog.Debug("Intervention rescheduled", "intervention", rec.ID,
		"retry", rec.RetryCount, "run_at", runAt)

	// Keyed by user so a fresh evaluation can supersede the stale retry.
	c.queue.ScheduleKeyed(runAt, rec.UserID, rec.Generation, func(ctx context.Context) {
		mu := c.lockUser(rec.UserID)
		mu.Lock()
		defer mu.Unlock()
		// A concurrent evaluation may have superseded the record while
		// this closure waited for the lock.
		if rec.Resolved() {
			return
		}
		c.Deliver(ctx, rec, c.refreshForRetry(rec, snap))
	})
}

// refreshForRetry swaps in the user's latest known snapshot and re-reads
// the effectiveness and habituation aggregates. The synthesis-time values
// go stale across a deferral; without this a record deferred for bad
// timing could never become optimal.
func (c *Coordinator) refreshForRetry(rec *models.InterventionRecord, snap *models.ContextSnapshot) *models.ContextSnapshot {
	if c.latest != nil {
		if cur, ok := c.latest(rec.UserID); ok && cur.Timestamp.After(snap.Timestamp) {
			snap = cur
		}
	}
	rec.Personalization.PreviousEffectiveness = c.tracker.PreviousEffectiveness(rec.UserID, rec.TriggerID)
	if assessment, err := c.habituation.Assess(rec.UserID); err == nil {
		rec.Personalization.HabituationRisk = assessment.Risk
	}
	return snap
}

// Supersede cancels any pending retries older than generation and marks
// the given in-flight record dropped.
func (c *Coordinator) Supersede(rec *models.InterventionRecord, generation uint64) {
	c.queue.Supersede(rec.UserID, generation)
	c.drop(rec, dropReasonSuperseded, nil)
}

func (c *Coordinator) drop(rec *models.InterventionRecord, reason string, cause error) {
	rec.Status = models.StatusDropped
	if err := c.store.UpdateInterventionStatus(rec.ID, models.StatusDropped, nil); err != nil {
		slog.Error("Failed to persist dropped status", "intervention", rec.ID, "error", err)
		metrics.PersistenceFailures.Inc()
	}
	metrics.InterventionsDropped.WithLabelValues(reason).Inc()
	slog.Info("Intervention dropped", "intervention", rec.ID, "reason", reason, "cause", cause)
}
