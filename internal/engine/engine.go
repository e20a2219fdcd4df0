// Package engine orchestrates NudgeLoop's intervention pipeline: trigger
// evaluation, synthesis, timing, safety screening, delivery coordination,
// and the effectiveness feedback loop.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/delivery"
	"github.com/NudgeLoop/NudgeLoop/internal/messaging"
	"github.com/NudgeLoop/NudgeLoop/internal/metrics"
	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/safety"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
	"github.com/NudgeLoop/NudgeLoop/internal/tone"
	"github.com/NudgeLoop/NudgeLoop/internal/trigger"
)

// Engine is the top-level pipeline. Evaluation for a single user is
// serialized; different users evaluate concurrently.
type Engine struct {
	store       store.Store
	state       store.UserStateRepo
	service     messaging.Service
	screener    safety.Screener
	clock       Clock
	queue       *delivery.DelayQueue
	evaluator   *trigger.Evaluator
	synthesizer *Synthesizer
	habituation *HabituationMonitor
	tracker     *EffectivenessTracker
	coordinator *Coordinator
	micro       *MicroGenerator
	predictor   *WindowPredictor
	tones       *tone.Book

	resolve RecipientResolver

	libMu sync.RWMutex
	lib   *trigger.Library

	generation atomic.Uint64

	// lastSnaps holds the most recent snapshot seen per user, so delivery
	// retries recompute timing against current context.
	lastSnaps sync.Map // userID -> *models.ContextSnapshot

	// recipients maps transport addresses back to user IDs for inbound
	// reply attribution.
	recipients sync.Map // recipient -> userID

	inflightMu sync.Mutex
	inflight   map[string]*models.InterventionRecord // userID -> unresolved record
}

// NewEngine wires the full pipeline. A nil screener defaults to AllowAll;
// a nil resolver assumes user IDs are transport recipients. The hot user
// state may live in a separate backend (e.g. Redis) from the durable store.
func NewEngine(st store.Store, state store.UserStateRepo, lib *trigger.Library,
	service messaging.Service, screener safety.Screener, clock Clock, rng RNG,
	resolve RecipientResolver) *Engine {
	if screener == nil {
		screener = safety.AllowAll{}
	}
	if state == nil {
		state = st
	}
	if resolve == nil {
		resolve = func(userID string) string { return userID }
	}
	queue := delivery.NewDelayQueue(clock.Now)
	tracker := NewEffectivenessTracker(st, state, clock)
	habituation := NewHabituationMonitor(state, clock)
	validator := NewConstraintValidator(state, clock)
	tones := tone.NewBook()
	e := &Engine{
		store:       st,
		state:       state,
		service:     service,
		screener:    screener,
		clock:       clock,
		queue:       queue,
		evaluator:   trigger.NewEvaluator(state),
		synthesizer: NewSynthesizer(state, tracker, tones, clock, rng),
		habituation: habituation,
		tracker:     tracker,
		micro:       NewMicroGenerator(rng),
		predictor:   NewWindowPredictor(st, clock),
		tones:       tones,
		resolve:     resolve,
		lib:         lib,
		inflight:    make(map[string]*models.InterventionRecord),
	}
	e.coordinator = NewCoordinator(st, state, service, validator, habituation, tracker,
		queue, clock, resolve, e.latestSnapshot)
	return e
}

// latestSnapshot implements SnapshotLookup over the per-user cache.
func (e *Engine) latestSnapshot(userID string) (*models.ContextSnapshot, bool) {
	v, ok := e.lastSnaps.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*models.ContextSnapshot), true
}

// Start runs the delay queue worker, the transport, and the inbound reply
// loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.service.Start(ctx); err != nil {
		return err
	}
	go e.queue.Run(ctx)
	go e.replyLoop(ctx)
	slog.Info("Engine started")
	return nil
}

// Stop shuts down the transport. The queue worker stops with the Start
// context.
func (e *Engine) Stop() error {
	slog.Info("Engine stopping")
	return e.service.Stop()
}

// Library returns the current trigger library.
func (e *Engine) Library() *trigger.Library {
	e.libMu.RLock()
	defer e.libMu.RUnlock()
	return e.lib
}

// SetLibrary hot-swaps the trigger library. In-flight interventions keep
// the definitions they were synthesized from.
func (e *Engine) SetLibrary(lib *trigger.Library) {
	e.libMu.Lock()
	e.lib = lib
	e.libMu.Unlock()
	slog.Info("Trigger library reloaded", "triggers", lib.Len())
}

// userLock returns the per-user serialization lock. The locks live on
// the coordinator so delivery retries contend on the same mutex.
func (e *Engine) userLock(userID string) *sync.Mutex {
	return e.coordinator.lockUser(userID)
}

// EvaluateUser runs one full pipeline pass for a context snapshot. It
// returns the selected intervention record, or nil when no trigger fired
// or the user is inside a silence period.
func (e *Engine) EvaluateUser(ctx context.Context, snap *models.ContextSnapshot) (*models.InterventionRecord, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	metrics.EvaluationsTotal.Inc()
	e.lastSnaps.Store(snap.UserID, snap)

	mu := e.userLock(snap.UserID)
	mu.Lock()
	defer mu.Unlock()

	if e.habituation.Silenced(snap.UserID) {
		slog.Debug("User inside silence period, skipping evaluation", "user", snap.UserID)
		return nil, nil
	}

	assessment, err := e.habituation.Assess(snap.UserID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	candidates := e.evaluator.Evaluate(e.Library(), snap, now, assessment.TypeBoost)
	if len(candidates) == 0 {
		slog.Debug("No trigger candidates for snapshot", "user", snap.UserID)
		return nil, nil
	}

	rec := e.selectAndSynthesize(ctx, candidates, snap, assessment)
	if rec == nil {
		return nil, nil
	}

	e.fire(ctx, rec, snap, now)
	return rec, nil
}

// selectAndSynthesize walks the ranked candidates and returns the first
// one that survives safety screening. Screening failures allow the
// content through with a warning rather than starving sensitive triggers.
func (e *Engine) selectAndSynthesize(ctx context.Context, candidates []trigger.Candidate,
	snap *models.ContextSnapshot, assessment HabituationAssessment) *models.InterventionRecord {
	gen := e.generation.Add(1)
	for _, cand := range candidates {
		rec := e.synthesizer.Synthesize(cand.Def, snap, assessment, gen)
		if !cand.Def.Sensitive {
			return rec
		}
		allowed, err := e.screener.Screen(ctx, rec.Content)
		if err != nil {
			slog.Warn("Safety screening unavailable, allowing content", "trigger", cand.Def.ID, "error", err)
			return rec
		}
		if allowed {
			return rec
		}
		metrics.ScreenerBlocks.Inc()
		slog.Info("Safety screener blocked content, trying next candidate",
			"user", snap.UserID, "trigger", cand.Def.ID)
	}
	return nil
}

// fire commits the selection: supersedes any stale in-flight record,
// records the trigger firing, persists the record, and hands it to the
// delivery coordinator.
func (e *Engine) fire(ctx context.Context, rec *models.InterventionRecord, snap *models.ContextSnapshot, now time.Time) {
	e.inflightMu.Lock()
	if prev, ok := e.inflight[rec.UserID]; ok && !prev.Resolved() {
		e.coordinator.Supersede(prev, rec.Generation)
	}
	e.inflight[rec.UserID] = rec
	e.inflightMu.Unlock()

	e.recipients.Store(e.resolve(rec.UserID), rec.UserID)

	if err := e.state.RecordFiring(rec.UserID, rec.TriggerID, now); err != nil {
		slog.Error("Failed to record trigger firing", "user", rec.UserID, "trigger", rec.TriggerID, "error", err)
		metrics.PersistenceFailures.Inc()
	}
	if err := e.store.SaveIntervention(*rec); err != nil {
		slog.Error("Failed to persist intervention", "intervention", rec.ID, "error", err)
		metrics.PersistenceFailures.Inc()
	}
	metrics.InterventionsSelected.Inc()
	slog.Info("Intervention selected", "intervention", rec.ID, "user", rec.UserID,
		"trigger", rec.TriggerID, "type", rec.Type)

	e.coordinator.Deliver(ctx, rec, snap)
}

// Micro generates threshold-based micro-interventions for a snapshot.
// They bypass the trigger pipeline entirely: no cooldowns, no persistence.
func (e *Engine) Micro(snap *models.ContextSnapshot) ([]models.MicroIntervention, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return e.micro.Generate(snap), nil
}

// PredictWindows forecasts receptive delivery windows for a user.
func (e *Engine) PredictWindows(userID string, horizonHours int) []models.PredictedWindow {
	return e.predictor.Predict(userID, horizonHours)
}

// RecordEffectiveness ingests an external observation for a delivered
// intervention and feeds the tone preference loop.
func (e *Engine) RecordEffectiveness(rec models.EffectivenessRecord) error {
	if err := e.tracker.Record(rec); err != nil {
		return err
	}
	if iv, err := e.store.GetIntervention(rec.InterventionID); err == nil && iv != nil && iv.Tone != "" {
		e.tones.Observe(iv.UserID, iv.Tone, rec.Satisfaction, e.clock.Now())
	}
	return nil
}

// ListInterventions returns a user's intervention history since the
// given time.
func (e *Engine) ListInterventions(userID string, since time.Time) ([]models.InterventionRecord, error) {
	return e.store.ListInterventionsByUser(userID, since)
}

// RecoverUndelivered settles a record whose delivery timers were lost in
// a restart. The context it was synthesized under is gone, so it cannot
// be re-validated; it is dropped rather than delivered blind.
func (e *Engine) RecoverUndelivered(ctx context.Context, rec *models.InterventionRecord) {
	e.coordinator.drop(rec, dropReasonRestart, nil)
}

// RecoverUnobserved re-arms the observation schedule for a delivered
// record whose timer was lost in a restart.
func (e *Engine) RecoverUnobserved(ctx context.Context, rec *models.InterventionRecord) {
	if e.tracker.Observed(rec.UserID, rec.ID) {
		return
	}
	e.coordinator.scheduleObservation(rec)
}

// replyLoop maps inbound transport replies onto the effectiveness
// feedback loop.
func (e *Engine) replyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-e.service.Responses():
			if !ok {
				return
			}
			// The reply carries a transport address; map it back to the
			// user it was last contacted as.
			userID := resp.From
			if v, ok := e.recipients.Load(resp.From); ok {
				userID = v.(string)
			}
			if err := e.tracker.ObserveReply(userID, resp.Body, time.Unix(resp.Time, 0)); err != nil {
				slog.Debug("Inbound reply did not map to an intervention", "from", resp.From, "error", err)
			}
		}
	}
}
