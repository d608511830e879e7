package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

// ErrInvalidRequest wraps enqueue requests that fail validation.
var ErrInvalidRequest = errors.New("invalid enqueue request")

// PipelineStore is the part of the chunk store the pipeline touches.
type PipelineStore interface {
	ItemReader
	CompletionStore
	ListUnfinishedItems(ctx context.Context, ownerID string) ([]models.Item, error)
	ListCompletedItems(ctx context.Context, ownerID string) ([]models.Item, error)
	GetChunksByItem(ctx context.Context, itemID string) ([]models.Chunk, error)
}

type PipelineDeps struct {
	Store     PipelineStore
	Objects   core.ObjectClient // optional, needed for s3 locators
	Extractor core.Extractor
	Embedder  core.EmbeddingProvider
	Vision    core.VisionModel
	Speech    core.SpeechModel
	Progress  ProgressReporter
	Events    EventPublisher // optional
	Logger    logger.ILogger
}

type PipelineConfig struct {
	CPUWorkers      int
	VisionBatchSize int
	ChunkWords      int
	EmbedBatchSize  int
	DrainWait       time.Duration
	StorageRoot     string
	CacheDir        string
}

// Stats is a snapshot of queue depths for the admin CLI and health checks.
type Stats struct {
	Inbound int          `json:"inbound"`
	Vision  int          `json:"vision"`
	Speech  int          `json:"speech"`
	Embed   int          `json:"embed"`
	Active  int64        `json:"active"`
	Arbiter ArbiterState `json:"arbiter"`
}

// Pipeline owns the stage queues and the goroutines that move tasks between
// them: router -> (arbiter) -> embed stage -> chunk store.
type Pipeline struct {
	store    PipelineStore
	embedder core.EmbeddingProvider
	validate *validator.Validate
	log      logger.ILogger

	visionQ *Queue[Task]
	speechQ *Queue[Task]
	embedQ  *Queue[Task]

	life    *lifecycle
	router  *Router
	arbiter *Arbiter
	embed   *EmbedStage
	workers int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) (*Pipeline, error) {
	if deps.Store == nil || deps.Extractor == nil || deps.Embedder == nil || deps.Progress == nil {
		return nil, errors.New("pipeline: store, extractor, embedder and progress are required")
	}
	if deps.Vision == nil || deps.Speech == nil {
		return nil, errors.New("pipeline: vision and speech models are required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	events := deps.Events
	if events == nil {
		events = nopEvents{}
	}

	locator := NewLocatorResolver(cfg.StorageRoot, deps.Objects)
	if cfg.CacheDir != "" {
		locator.cacheDir = cfg.CacheDir
	}

	p := &Pipeline{
		store:    deps.Store,
		embedder: deps.Embedder,
		validate: validator.New(),
		log:      log,
		visionQ:  NewQueue[Task](),
		speechQ:  NewQueue[Task](),
		embedQ:   NewQueue[Task](),
		workers:  max(cfg.CPUWorkers, 1),
	}
	p.life = &lifecycle{progress: deps.Progress, events: events, locator: locator, log: log}

	router, err := NewRouter(cfg.CPUWorkers, deps.Extractor, locator, deps.Store,
		p.visionQ, p.speechQ, p.embedQ, p.life, log)
	if err != nil {
		return nil, err
	}
	p.router = router
	p.arbiter = NewArbiter(deps.Vision, deps.Speech, p.visionQ, p.speechQ, p.embedQ,
		router, cfg.VisionBatchSize, cfg.DrainWait, p.life, log)
	p.embed = NewEmbedStage(p.embedQ, NewWordChunker(cfg.ChunkWords), deps.Embedder,
		deps.Store, cfg.EmbedBatchSize, p.life, log)
	return p, nil
}

// Start launches the router, the arbiter and the embed consumers.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.router.Run(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.arbiter.Run(ctx)
	}()
	p.embed.Start(ctx, p.workers)

	p.log.Info("pipeline", "pipeline started", map[string]interface{}{"cpu_workers": p.workers})
}

// Enqueue admits an item at stage one. It returns as soon as the task is queued.
func (p *Pipeline) Enqueue(ctx context.Context, req EnqueueRequest) error {
	return p.enqueue(ctx, req, true)
}

// enqueue writes the pending/queued tuple only when markQueued is set, so a
// recovered item that already reached processing never moves back.
func (p *Pipeline) enqueue(ctx context.Context, req EnqueueRequest, markQueued bool) error {
	if err := p.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.Type)
	}

	t := NewTask(req)
	if markQueued {
		if err := p.life.progress.Report(ctx, t.progress(models.StageQueued, 0, "Queued", models.StatusPending)); err != nil {
			p.log.Warn("pipeline", "queued status not persisted", map[string]interface{}{"item_id": t.ItemID, "error": err.Error()})
		}
	}

	p.life.admit()
	if err := p.router.Submit(t); err != nil {
		p.life.active.Add(-1)
		return fmt.Errorf("enqueue %s: %w", t.ItemID, err)
	}
	return nil
}

// EnqueueEmbed hands a task whose text is already known straight to the
// embed stage, skipping extraction and inference.
func (p *Pipeline) EnqueueEmbed(_ context.Context, t Task) error {
	if t.ItemID == "" {
		return fmt.Errorf("%w: missing item id", ErrInvalidRequest)
	}
	p.life.admit()
	if err := p.embedQ.Push(t); err != nil {
		p.life.active.Add(-1)
		return fmt.Errorf("enqueue embed %s: %w", t.ItemID, err)
	}
	return nil
}

// Recover re-enqueues every pending or processing item from stage one.
// Processing items keep their status until the router reports again.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	items, err := p.store.ListUnfinishedItems(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list unfinished items: %w", err)
	}

	n := 0
	for _, it := range items {
		req := EnqueueRequest{
			ItemID:        it.ID,
			OwnerID:       it.OwnerID,
			Type:          it.Type,
			Locator:       it.Locator,
			ThumbnailPath: it.ThumbnailPath,
		}
		if err := p.enqueue(ctx, req, it.Status == models.StatusPending); err != nil {
			p.log.Warn("pipeline", "recovery skipped item", map[string]interface{}{"item_id": it.ID, "error": err.Error()})
			continue
		}
		n++
	}
	p.log.Info("pipeline", "recovered unfinished items", map[string]interface{}{"count": n})
	return n, nil
}

// Reembed recomputes the vectors of every completed item of owner (all owners
// when empty) from the chunk texts already stored. Items that fail keep
// their previous chunks.
func (p *Pipeline) Reembed(ctx context.Context, ownerID string) (int, error) {
	items, err := p.store.ListCompletedItems(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list completed items: %w", err)
	}

	n := 0
	for _, it := range items {
		if err := p.reembedOne(ctx, it); err != nil {
			p.log.Warn("pipeline", "re-embed failed", map[string]interface{}{"item_id": it.ID, "error": err.Error()})
			continue
		}
		n++
	}
	return n, nil
}

func (p *Pipeline) reembedOne(ctx context.Context, it models.Item) error {
	chunks, err := p.store.GetChunksByItem(ctx, it.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 && it.Content != "" {
		for i, part := range p.embed.chunker.Split(it.Content) {
			chunks = append(chunks, models.Chunk{ItemID: it.ID, Type: models.ChunkTypeOCR, Position: i, Text: part})
		}
	}

	texts := make([]string, 0, len(chunks)+1)
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	if it.Content != "" {
		texts = append(texts, truncateRunes(it.Content, defaultContentChars))
	}
	vectors, err := p.embed.embedAll(ctx, texts)
	if err != nil {
		return err
	}

	fresh := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		fresh[i] = models.Chunk{ItemID: it.ID, Type: c.Type, Position: c.Position, Text: c.Text, Embedding: vectors[i]}
	}
	comp := models.Completion{ItemID: it.ID, Content: it.Content}
	if it.Content != "" {
		comp.Embedding = vectors[len(chunks)]
	}
	return p.store.CompleteItem(ctx, comp, fresh)
}

// Drain blocks until every admitted task reached a terminal state or ctx ends.
func (p *Pipeline) Drain(ctx context.Context) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for p.life.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Inbound: p.router.Pending(),
		Vision:  p.visionQ.Len(),
		Speech:  p.speechQ.Len(),
		Embed:   p.embedQ.Len(),
		Active:  p.life.active.Load(),
		Arbiter: p.arbiter.State(),
	}
}

// Close stops all stages. Queued and in-flight work keeps its pending or
// processing status in the store and is picked up by Recover on the next start.
func (p *Pipeline) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.visionQ.Close()
	p.speechQ.Close()
	p.embedQ.Close()
	p.wg.Wait()
	p.router.Close()
	p.embed.Wait()
	p.log.Info("pipeline", "pipeline stopped", nil)
}
