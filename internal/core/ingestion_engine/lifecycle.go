package ingestion_engine

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

// ProgressReporter persists and broadcasts progress tuples.
// Report writes to the store and pushes; Publish only pushes.
type ProgressReporter interface {
	Report(ctx context.Context, p models.Progress) error
	Publish(p models.Progress)
}

// EventPublisher announces terminal item events to other services.
type EventPublisher interface {
	ItemCompleted(ctx context.Context, p models.Progress) error
	ItemFailed(ctx context.Context, p models.Progress, cause error) error
}

type nopEvents struct{}

func (nopEvents) ItemCompleted(context.Context, models.Progress) error      { return nil }
func (nopEvents) ItemFailed(context.Context, models.Progress, error) error { return nil }

// lifecycle is shared by every stage so a task's terminal transitions are
// handled the same way wherever they happen.
type lifecycle struct {
	progress ProgressReporter
	events   EventPublisher
	locator  *LocatorResolver
	log      logger.ILogger

	active atomic.Int64 // admitted tasks without a terminal transition
}

func (l *lifecycle) admit() { l.active.Add(1) }

func (l *lifecycle) report(ctx context.Context, t Task, stage string, pct int, msg string) {
	p := t.progress(stage, pct, msg, models.StatusProcessing)
	if err := l.progress.Report(ctx, p); err != nil {
		l.log.Warn("pipeline", "progress write failed", map[string]interface{}{
			"item_id": t.ItemID, "stage": stage, "error": err.Error(),
		})
	}
}

// done announces a completion whose state the store already holds.
func (l *lifecycle) done(ctx context.Context, t Task) {
	p := t.progress(models.StageDone, 100, "Completed", models.StatusCompleted)
	l.progress.Publish(p)
	if err := l.events.ItemCompleted(ctx, p); err != nil {
		l.log.Warn("pipeline", "completion event not published", map[string]interface{}{
			"item_id": t.ItemID, "error": err.Error(),
		})
	}
	l.cleanup(t)
	l.active.Add(-1)
	l.log.Info("pipeline", "item completed", map[string]interface{}{"item_id": t.ItemID})
}

// fail marks the item failed. Other tasks are unaffected. A failure caused
// by shutdown is not the item's fault: the task is abandoned instead and the
// item keeps its unfinished status for Recover.
func (l *lifecycle) fail(ctx context.Context, t Task, cause error) {
	if shuttingDown(ctx, cause) {
		l.abandon(t, cause)
		return
	}
	p := t.progress(models.StageFailed, 0, "Failed", models.StatusFailed)
	if err := l.progress.Report(context.WithoutCancel(ctx), p); err != nil {
		l.log.Error("pipeline", "failed status not persisted", map[string]interface{}{
			"item_id": t.ItemID, "error": err.Error(),
		})
	}
	if err := l.events.ItemFailed(ctx, p, cause); err != nil {
		l.log.Warn("pipeline", "failure event not published", map[string]interface{}{
			"item_id": t.ItemID, "error": err.Error(),
		})
	}
	l.cleanup(t)
	l.active.Add(-1)

	details := map[string]interface{}{"item_id": t.ItemID, "type": string(t.Type)}
	if cause != nil {
		details["error"] = cause.Error()
	}
	l.log.Error("pipeline", "item failed", details)
}

// abandon drops a task without a terminal transition.
func (l *lifecycle) abandon(t Task, cause error) {
	l.cleanup(t)
	l.active.Add(-1)

	details := map[string]interface{}{"item_id": t.ItemID}
	if cause != nil {
		details["error"] = cause.Error()
	}
	l.log.Info("pipeline", "task abandoned on shutdown, left for recovery", details)
}

func shuttingDown(ctx context.Context, cause error) bool {
	return ctx.Err() != nil || errors.Is(cause, ErrQueueClosed)
}

func (l *lifecycle) cleanup(t Task) {
	if l.locator != nil {
		l.locator.Cleanup(t.ItemID)
	}
}
