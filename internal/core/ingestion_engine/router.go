package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

var tracer = otel.Tracer("dropvault/ingestion_engine")

// ItemReader is the slice of the store the router needs for notes.
type ItemReader interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
}

// Router classifies tasks, runs CPU extraction on a bounded pool and hands
// each task to exactly one downstream queue.
type Router struct {
	inbound *Queue[Task]
	pool    *ants.Pool
	pending atomic.Int64

	extractor core.Extractor
	locator   *LocatorResolver
	items     ItemReader

	visionQ *Queue[Task]
	speechQ *Queue[Task]
	embedQ  *Queue[Task]

	life *lifecycle
	log  logger.ILogger
	wg   sync.WaitGroup
}

func NewRouter(workers int, extractor core.Extractor, locator *LocatorResolver, items ItemReader,
	visionQ, speechQ, embedQ *Queue[Task], life *lifecycle, log logger.ILogger) (*Router, error) {

	if workers <= 0 {
		workers = 4
	}
	r := &Router{
		inbound:   NewQueue[Task](),
		extractor: extractor,
		locator:   locator,
		items:     items,
		visionQ:   visionQ,
		speechQ:   speechQ,
		embedQ:    embedQ,
		life:      life,
		log:       log,
	}

	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		log.Error("router", "extraction worker panicked", map[string]interface{}{"panic": fmt.Sprint(p)})
	}))
	if err != nil {
		return nil, fmt.Errorf("create extraction pool: %w", err)
	}
	r.pool = pool
	return r, nil
}

// Submit accepts a task. It never blocks on extraction.
func (r *Router) Submit(t Task) error {
	r.pending.Add(1)
	if err := r.inbound.Push(t); err != nil {
		r.pending.Add(-1)
		return err
	}
	return nil
}

// Pending counts tasks accepted but not yet routed, queued or in flight.
func (r *Router) Pending() int {
	return int(r.pending.Load())
}

// Run feeds the pool until ctx ends or the inbound queue is closed.
func (r *Router) Run(ctx context.Context) {
	for {
		t, err := r.inbound.Pop(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			r.pending.Add(-1)
			r.life.abandon(t, ctx.Err())
			return
		}

		r.wg.Add(1)
		task := t
		err = r.pool.Submit(func() {
			defer r.wg.Done()
			defer r.pending.Add(-1)
			r.route(ctx, task)
		})
		if err != nil {
			r.wg.Done()
			r.pending.Add(-1)
			r.life.fail(ctx, task, fmt.Errorf("schedule extraction: %w", err))
		}
	}
}

// Close stops accepting tasks and waits for in-flight routing.
func (r *Router) Close() {
	r.inbound.Close()
	r.wg.Wait()
	r.pool.Release()
}

func (r *Router) route(ctx context.Context, t Task) {
	ctx, span := tracer.Start(ctx, "router.route")
	span.SetAttributes(attribute.String("item.id", t.ItemID), attribute.String("item.type", string(t.Type)))
	defer span.End()

	r.life.report(ctx, t, models.StageOCR, 10, "Extracting text...")

	next, q := r.classify(ctx, t)
	if err := q.Push(next); err != nil {
		r.life.fail(ctx, next, fmt.Errorf("forward task: %w", err))
	}
}

// classify runs the extraction for t's type and picks its next queue.
// Extraction problems are logged and leave the fields empty.
func (r *Router) classify(ctx context.Context, t Task) (Task, *Queue[Task]) {
	switch t.Type {
	case models.ItemTypeImage:
		t = r.resolve(ctx, t)
		if t.LocalPath != "" {
			t = r.extract(ctx, t, t.LocalPath)
		}
		return t, r.visionQ

	case models.ItemTypeVideo:
		if r.locator.IsRemote(t.Locator) {
			return r.extract(ctx, t, t.Locator), r.embedQ
		}
		return r.resolve(ctx, t), r.visionQ

	case models.ItemTypeAudio:
		return r.resolve(ctx, t), r.speechQ

	case models.ItemTypePDF:
		t = r.resolve(ctx, t)
		if t.LocalPath != "" {
			t = r.extract(ctx, t, t.LocalPath)
		}
		return t, r.embedQ

	case models.ItemTypeLink:
		return r.extract(ctx, t, t.Locator), r.embedQ

	case models.ItemTypeNote, models.ItemTypeText:
		item, err := r.items.GetItem(ctx, t.ItemID)
		if err != nil || item == nil {
			r.warn(t, "stored content unavailable", err)
			return t, r.embedQ
		}
		return t.WithExtraction(core.Extraction{Text: item.Content}), r.embedQ
	}

	r.warn(t, "unknown item type", nil)
	return t, r.embedQ
}

func (r *Router) resolve(ctx context.Context, t Task) Task {
	path, err := r.locator.Resolve(ctx, t.ItemID, t.Locator)
	if err != nil {
		r.warn(t, "locator not readable", err)
	}
	thumb := ""
	if t.ThumbnailPath != "" {
		if thumb, err = r.locator.Resolve(ctx, t.ItemID, t.ThumbnailPath); err != nil {
			r.warn(t, "thumbnail not readable", err)
		}
	}
	return t.WithLocalPaths(path, thumb)
}

func (r *Router) extract(ctx context.Context, t Task, locator string) Task {
	ext, err := r.extractor.Extract(ctx, locator, t.Type)
	if err != nil {
		r.warn(t, "extraction failed", err)
		return t
	}
	return t.WithExtraction(ext)
}

func (r *Router) warn(t Task, msg string, err error) {
	details := map[string]interface{}{"item_id": t.ItemID, "type": string(t.Type)}
	if err != nil {
		details["error"] = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			details["timeout"] = true
		}
	}
	r.log.Warn("router", msg, details)
}
