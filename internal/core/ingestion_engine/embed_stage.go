package ingestion_engine

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

const (
	defaultEmbedBatch    = 16
	embedBatchesInFlight = 4
)

// CompletionStore is what the embed stage needs from the chunk store.
type CompletionStore interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	CompleteItem(ctx context.Context, c models.Completion, chunks []models.Chunk) error
}

// EmbedStage chunks a task's text, embeds chunks and the whole item, and
// commits the result together with the completed status.
type EmbedStage struct {
	queue     *Queue[Task]
	chunker   *WordChunker
	embedder  core.EmbeddingProvider
	store     CompletionStore
	batchSize int

	life *lifecycle
	log  logger.ILogger
	wg   sync.WaitGroup
}

func NewEmbedStage(queue *Queue[Task], chunker *WordChunker, embedder core.EmbeddingProvider,
	store CompletionStore, batchSize int, life *lifecycle, log logger.ILogger) *EmbedStage {

	if batchSize <= 0 {
		batchSize = defaultEmbedBatch
	}
	return &EmbedStage{
		queue:     queue,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		life:      life,
		log:       log,
	}
}

// Start launches the given number of consumers on the embed queue.
func (e *EmbedStage) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				t, err := e.queue.Pop(ctx)
				if err != nil {
					return
				}
				if ctx.Err() != nil {
					e.life.abandon(t, ctx.Err())
					return
				}
				e.Process(ctx, t)
			}
		}()
	}
}

// Wait blocks until every consumer has returned.
func (e *EmbedStage) Wait() { e.wg.Wait() }

// Process finishes one task. Any error marks the item failed and leaves the
// previous chunk set in place, unless ctx ended first.
func (e *EmbedStage) Process(ctx context.Context, t Task) {
	ctx, span := tracer.Start(ctx, "embed.process")
	span.SetAttributes(attribute.String("item.id", t.ItemID))
	defer span.End()

	e.life.report(ctx, t, models.StageEmbed, 90, "Finalizing...")

	if err := e.complete(ctx, t); err != nil {
		span.RecordError(err)
		e.life.fail(ctx, t, err)
		return
	}
	e.life.done(ctx, t)
}

func (e *EmbedStage) complete(ctx context.Context, t Task) error {
	chunks := e.chunker.BuildChunks(t)
	content := AggregateContent(t)

	texts := make([]string, 0, len(chunks)+1)
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	if content != "" {
		texts = append(texts, truncateRunes(content, defaultContentChars))
	}

	vectors, err := e.embedAll(ctx, texts)
	if err != nil {
		return err
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	c := models.Completion{ItemID: t.ItemID, Content: content, Thumbnail: t.MetaImage}
	if content != "" {
		c.Embedding = vectors[len(chunks)]
	}

	if t.MetaTitle != "" {
		item, err := e.store.GetItem(ctx, t.ItemID)
		if err != nil {
			return fmt.Errorf("load item: %w", err)
		}
		if item != nil && ShouldReplaceTitle(item.Title, item.Locator) {
			c.Title = t.MetaTitle
		}
	}

	if err := e.store.CompleteItem(ctx, c, chunks); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

// embedAll embeds texts in batches, a few batches at a time, keeping order.
func (e *EmbedStage) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedBatchesInFlight)
	for start := 0; start < len(texts); start += e.batchSize {
		start, end := start, min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.embedder.EmbedTexts(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
