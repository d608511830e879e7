package ingestion_engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

func newTestEmbedStage(store *fakeStore, emb *fakeEmbedder, progress *fakeProgress, batch int) *EmbedStage {
	return NewEmbedStage(NewQueue[Task](), NewWordChunker(300), emb, store, batch,
		newTestLifecycle(progress), logger.NewNopLogger())
}

func TestEmbedStage_InvoiceImage(t *testing.T) {
	store := newFakeStore(models.Item{ID: "i1", Locator: "/uploads/u1/invoice.png", Status: models.StatusProcessing})
	progress := &fakeProgress{}
	stage := newTestEmbedStage(store, &fakeEmbedder{}, progress, 16)

	stage.Process(context.Background(), Task{ItemID: "i1", OwnerID: "u1", Type: models.ItemTypeImage, OCRText: "invoice total 500"})

	chunks := store.chunksOf("i1")
	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkTypeOCR, chunks[0].Type)
	assert.Equal(t, "invoice total 500", chunks[0].Text)
	assert.Equal(t, []float32{3, 1}, chunks[0].Embedding)

	c, ok := store.completion("i1")
	require.True(t, ok)
	assert.Equal(t, "invoice total 500", c.Content)
	assert.NotEmpty(t, c.Embedding)

	last, _ := progress.last("i1")
	assert.Equal(t, models.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, []string{models.StageEmbed, models.StageDone}, progress.stages("i1"))
}

func TestEmbedStage_NoTextCompletesWithoutChunks(t *testing.T) {
	store := newFakeStore(models.Item{ID: "i1"})
	emb := &fakeEmbedder{}
	stage := newTestEmbedStage(store, emb, &fakeProgress{}, 16)

	stage.Process(context.Background(), Task{ItemID: "i1", Type: models.ItemTypeImage})

	c, ok := store.completion("i1")
	require.True(t, ok)
	assert.Empty(t, c.Content)
	assert.Nil(t, c.Embedding)
	assert.Empty(t, store.chunksOf("i1"))
	assert.Equal(t, 0, emb.calls)
}

func TestEmbedStage_EmbedFailureLeavesNoCompletion(t *testing.T) {
	store := newFakeStore(models.Item{ID: "i1"})
	progress := &fakeProgress{}
	stage := newTestEmbedStage(store, &fakeEmbedder{err: errBoom}, progress, 16)

	stage.Process(context.Background(), Task{ItemID: "i1", OCRText: "some text"})

	_, ok := store.completion("i1")
	assert.False(t, ok)
	last, _ := progress.last("i1")
	assert.Equal(t, models.StatusFailed, last.Status)
	assert.Equal(t, models.StageFailed, last.Stage)
}

func TestEmbedStage_CommitFailureMarksFailed(t *testing.T) {
	store := newFakeStore(models.Item{ID: "i1"})
	store.completeErr = errBoom
	progress := &fakeProgress{}
	stage := newTestEmbedStage(store, &fakeEmbedder{}, progress, 16)

	stage.Process(context.Background(), Task{ItemID: "i1", OCRText: "some text"})

	last, _ := progress.last("i1")
	assert.Equal(t, models.StatusFailed, last.Status)
}

func TestEmbedStage_BatchesKeepOrder(t *testing.T) {
	store := newFakeStore(models.Item{ID: "i1"})
	emb := &fakeEmbedder{}
	stage := newTestEmbedStage(store, emb, &fakeProgress{}, 2)

	// five 1-word chunks via a tiny chunker plus the item vector
	stage.chunker = NewWordChunker(1)
	stage.Process(context.Background(), Task{ItemID: "i1", OCRText: "a b c d e"})

	chunks := store.chunksOf("i1")
	require.Len(t, chunks, 5)
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, []float32{1, 1}, c.Embedding)
	}
	c, _ := store.completion("i1")
	assert.Equal(t, []float32{5, 1}, c.Embedding)
	assert.Equal(t, 3, emb.calls)
}

func TestEmbedStage_TitleCorrection(t *testing.T) {
	store := newFakeStore(
		models.Item{ID: "auto", Title: "https://example.com/post", Locator: "https://example.com/post"},
		models.Item{ID: "user", Title: "My reading list", Locator: "https://example.com/post"},
	)
	stage := newTestEmbedStage(store, &fakeEmbedder{}, &fakeProgress{}, 16)

	for _, id := range []string{"auto", "user"} {
		stage.Process(context.Background(), Task{ItemID: id, Type: models.ItemTypeLink, OCRText: "body", MetaTitle: "Real Title", MetaImage: "https://img/x.png"})
	}

	auto, _ := store.completion("auto")
	assert.Equal(t, "Real Title", auto.Title)
	assert.Equal(t, "https://img/x.png", auto.Thumbnail)

	user, _ := store.completion("user")
	assert.Empty(t, user.Title)
}

func TestEmbedStage_CancelledTaskIsNotFailed(t *testing.T) {
	store := newFakeStore(models.Item{ID: "i1", Status: models.StatusProcessing})
	progress := &fakeProgress{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stage := newTestEmbedStage(store, &fakeEmbedder{err: ctx.Err()}, progress, 16)

	stage.Process(ctx, Task{ItemID: "i1", Type: models.ItemTypeNote, OCRText: "half written"})

	assert.NotContains(t, progress.statuses("i1"), models.StatusFailed)
	_, ok := store.completion("i1")
	assert.False(t, ok)
	last, _ := progress.last("i1")
	assert.Equal(t, models.StatusProcessing, last.Status)
}
