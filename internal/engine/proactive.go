package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/scheduler"
)

// DefaultProactiveCron runs the sweep at the top of every hour.
const DefaultProactiveCron = "0 * * * *"

// proactiveSnapshotMaxAge bounds how stale a cached snapshot may be and
// still drive a proactive evaluation.
const proactiveSnapshotMaxAge = 2 * time.Hour

// SnapshotSource exposes the most recent context snapshot seen per user.
// The API layer implements this over its submission cache.
type SnapshotSource interface {
	LatestSnapshots() []models.ContextSnapshot
}

// ProactiveLoop periodically re-evaluates users from their cached
// snapshots, catching cooldown expiries and quota resets that happen
// between context submissions.
type ProactiveLoop struct {
	engine *Engine
	source SnapshotSource
	sched  *scheduler.Scheduler
}

// NewProactiveLoop creates the loop; Run arms it.
func NewProactiveLoop(engine *Engine, source SnapshotSource, sched *scheduler.Scheduler) *ProactiveLoop {
	return &ProactiveLoop{engine: engine, source: source, sched: sched}
}

// Run registers the sweep on the given cron expression.
func (p *ProactiveLoop) Run(ctx context.Context, cronExpr string) error {
	if cronExpr == "" {
		cronExpr = DefaultProactiveCron
	}
	return p.sched.AddJob(cronExpr, func() {
		p.sweep(ctx)
	})
}

// sweep evaluates every user whose cached snapshot is fresh enough.
func (p *ProactiveLoop) sweep(ctx context.Context) {
	now := p.engine.clock.Now()
	snaps := p.source.LatestSnapshots()
	slog.Debug("Proactive sweep starting", "users", len(snaps))
	for i := range snaps {
		snap := snaps[i]
		if now.Sub(snap.Timestamp) > proactiveSnapshotMaxAge {
			continue
		}
		if _, err := p.engine.EvaluateUser(ctx, &snap); err != nil {
			slog.Warn("Proactive evaluation failed", "user", snap.UserID, "error", err)
		}
	}
}
