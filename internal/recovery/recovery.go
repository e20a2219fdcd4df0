// Package recovery restores intervention pipeline state after an
// application restart. In-process timers (retry and observation
// schedules) do not survive a restart, so on startup the recoverer walks
// the durable store and hands every unsettled record back to the engine.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

// Handler receives the records the recoverer finds. The engine implements
// this interface.
type Handler interface {
	// RecoverUndelivered is called for records that never reached the
	// user: synthesized, validated, or waiting on a lost retry timer.
	RecoverUndelivered(ctx context.Context, rec *models.InterventionRecord)

	// RecoverUnobserved is called for delivered records whose observation
	// timer was lost before an effectiveness record was written.
	RecoverUnobserved(ctx context.Context, rec *models.InterventionRecord)
}

// Recoverer scans the durable store for unsettled interventions.
type Recoverer struct {
	store store.InterventionRepo
}

// New creates a recoverer over the intervention store.
func New(st store.InterventionRepo) *Recoverer {
	return &Recoverer{store: st}
}

// Run performs one recovery pass. It is called once, during startup,
// before the engine accepts new evaluations.
func (r *Recoverer) Run(ctx context.Context, h Handler) error {
	pending, err := r.store.ListInterventionsByStatus(
		models.StatusSynthesized, models.StatusValidated, models.StatusRescheduled)
	if err != nil {
		return fmt.Errorf("failed to list undelivered interventions: %w", err)
	}
	for i := range pending {
		h.RecoverUndelivered(ctx, &pending[i])
	}

	delivered, err := r.store.ListInterventionsByStatus(models.StatusDelivered)
	if err != nil {
		return fmt.Errorf("failed to list delivered interventions: %w", err)
	}
	for i := range delivered {
		h.RecoverUnobserved(ctx, &delivered[i])
	}

	slog.Info("Recovery pass complete", "undelivered", len(pending), "unobserved", len(delivered))
	return nil
}
