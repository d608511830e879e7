package ingestion_engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type pipelineFixture struct {
	pipeline *Pipeline
	store    *fakeStore
	progress *fakeProgress
	calls    *callLog
	root     string
}

func newPipelineFixture(t *testing.T, ext core.Extractor, items ...models.Item) *pipelineFixture {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"talk.mp4", "talk.jpg", "memo.mp3", "scan.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}

	calls := &callLog{}
	f := &pipelineFixture{
		store:    newFakeStore(items...),
		progress: &fakeProgress{},
		calls:    calls,
		root:     root,
	}
	p, err := NewPipeline(PipelineDeps{
		Store:     f.store,
		Extractor: ext,
		Embedder:  &fakeEmbedder{},
		Vision:    &fakeVision{log: calls, caption: "a speaker at a whiteboard", tags: []string{"person", "whiteboard"}},
		Speech:    &fakeSpeech{log: calls, text: "today we discuss the roadmap"},
		Progress:  f.progress,
		Logger:    logger.NewNopLogger(),
	}, PipelineConfig{
		CPUWorkers:  2,
		DrainWait:   5 * time.Millisecond,
		StorageRoot: root,
		CacheDir:    t.TempDir(),
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func (f *pipelineFixture) run(t *testing.T) {
	t.Helper()
	f.pipeline.Start(context.Background())
	t.Cleanup(f.pipeline.Close)
}

func (f *pipelineFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.pipeline.Drain(ctx))
}

func TestPipeline_VideoRunsVisionBeforeSpeech(t *testing.T) {
	f := newPipelineFixture(t, &fakeExtractor{}, models.Item{ID: "v1", OwnerID: "u1", Status: models.StatusPending})
	f.run(t)

	require.NoError(t, f.pipeline.Enqueue(context.Background(), EnqueueRequest{
		ItemID: "v1", OwnerID: "u1", Type: models.ItemTypeVideo, Locator: "talk.mp4", ThumbnailPath: "talk.jpg",
	}))
	f.drain(t)

	calls := f.calls.all()
	require.Contains(t, calls, "vision.analyze")
	require.Contains(t, calls, "speech.transcribe")
	assert.Less(t, indexOf(calls, "vision.analyze"), indexOf(calls, "speech.transcribe"))

	c, ok := f.store.completion("v1")
	require.True(t, ok)
	assert.Contains(t, c.Content, "AI Description: a speaker at a whiteboard")
	assert.Contains(t, c.Content, "Transcript:\ntoday we discuss the roadmap")

	assert.Equal(t, []string{
		models.StageQueued, models.StageOCR, models.StageVisual,
		models.StageWhisper, models.StageEmbed, models.StageDone,
	}, f.progress.stages("v1"))
}

func TestPipeline_ImageWithOCROnly(t *testing.T) {
	ext := &fakeExtractor{byLocator: map[string]core.Extraction{"scan.png": {Text: "invoice total 500"}}}
	f := newPipelineFixture(t, ext, models.Item{ID: "i1", OwnerID: "u1", Status: models.StatusPending})
	f.pipeline.arbiter.vision = &fakeVision{log: f.calls}
	f.run(t)

	require.NoError(t, f.pipeline.Enqueue(context.Background(), EnqueueRequest{
		ItemID: "i1", OwnerID: "u1", Type: models.ItemTypeImage, Locator: "scan.png",
	}))
	f.drain(t)

	chunks := f.store.chunksOf("i1")
	require.Len(t, chunks, 1)
	assert.Equal(t, models.ChunkTypeOCR, chunks[0].Type)

	last, _ := f.progress.last("i1")
	assert.Equal(t, models.StatusCompleted, last.Status)
}

func TestPipeline_EnqueueValidates(t *testing.T) {
	f := newPipelineFixture(t, &fakeExtractor{})

	err := f.pipeline.Enqueue(context.Background(), EnqueueRequest{ItemID: "x", OwnerID: "u1", Type: "hologram"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = f.pipeline.Enqueue(context.Background(), EnqueueRequest{OwnerID: "u1", Type: models.ItemTypeNote})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPipeline_RecoverRequeuesUnfinished(t *testing.T) {
	f := newPipelineFixture(t, &fakeExtractor{},
		models.Item{ID: "n1", OwnerID: "u1", Type: models.ItemTypeNote, Content: "buy milk", Status: models.StatusProcessing},
		models.Item{ID: "n2", OwnerID: "u1", Type: models.ItemTypeNote, Content: "call bob", Status: models.StatusPending},
		models.Item{ID: "n3", OwnerID: "u1", Type: models.ItemTypeNote, Content: "old", Status: models.StatusCompleted},
	)
	f.run(t)

	n, err := f.pipeline.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	f.drain(t)

	for _, id := range []string{"n1", "n2"} {
		_, ok := f.store.completion(id)
		assert.True(t, ok, id)
	}
	_, ok := f.store.completion("n3")
	assert.False(t, ok)
}

func TestPipeline_EnqueueEmbedSkipsExtraction(t *testing.T) {
	f := newPipelineFixture(t, &fakeExtractor{err: errBoom}, models.Item{ID: "g1", OwnerID: "u1"})
	f.run(t)

	require.NoError(t, f.pipeline.EnqueueEmbed(context.Background(), Task{
		ItemID: "g1", OwnerID: "u1", Type: models.ItemTypeLink, OCRText: "repo readme", MetaTitle: "octo/repo",
	}))
	f.drain(t)

	c, ok := f.store.completion("g1")
	require.True(t, ok)
	assert.Equal(t, "octo/repo", c.Title)
	assert.Empty(t, f.calls.all())
}

func TestPipeline_ReembedKeepsChunkShape(t *testing.T) {
	f := newPipelineFixture(t, &fakeExtractor{},
		models.Item{ID: "d1", OwnerID: "u1", Content: "alpha beta", Status: models.StatusCompleted},
		models.Item{ID: "d2", OwnerID: "u1", Content: "gamma", Status: models.StatusCompleted},
	)
	f.store.chunks["d1"] = []models.Chunk{
		{ItemID: "d1", Type: models.ChunkTypeCaption, Position: 0, Text: "alpha beta"},
	}

	n, err := f.pipeline.Reembed(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d1 := f.store.chunksOf("d1")
	require.Len(t, d1, 1)
	assert.Equal(t, models.ChunkTypeCaption, d1[0].Type)
	assert.Equal(t, []float32{2, 1}, d1[0].Embedding)

	d2 := f.store.chunksOf("d2")
	require.Len(t, d2, 1)
	assert.Equal(t, models.ChunkTypeOCR, d2[0].Type)
}

func TestPipeline_Stats(t *testing.T) {
	f := newPipelineFixture(t, &fakeExtractor{})
	s := f.pipeline.Stats()
	assert.Equal(t, StateIdle, s.Arbiter)
	assert.Zero(t, s.Inbound+s.Vision+s.Speech+s.Embed)
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

func TestPipeline_ShutdownLeavesInFlightItemsUnfinished(t *testing.T) {
	ids := []string{"s1", "s2", "s3", "s4"}
	var items []models.Item
	for _, id := range ids {
		items = append(items, models.Item{ID: id, OwnerID: "u1", Type: models.ItemTypeNote, Content: "draft " + id, Status: models.StatusPending})
	}
	f := newPipelineFixture(t, &fakeExtractor{}, items...)
	emb := newStallingEmbedder()
	f.pipeline.embed.embedder = emb

	ctx, cancel := context.WithCancel(context.Background())
	f.pipeline.Start(ctx)
	for _, id := range ids {
		require.NoError(t, f.pipeline.Enqueue(ctx, EnqueueRequest{ItemID: id, OwnerID: "u1", Type: models.ItemTypeNote}))
	}

	select {
	case <-emb.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("embedder never called")
	}
	cancel()
	f.pipeline.Close()

	for _, id := range ids {
		assert.NotContains(t, f.progress.statuses(id), models.StatusFailed, id)
		_, ok := f.store.completion(id)
		assert.False(t, ok, id)
	}
}

func TestPipeline_RecoverNeverMovesStatusBackwards(t *testing.T) {
	f := newPipelineFixture(t, &fakeExtractor{},
		models.Item{ID: "r1", OwnerID: "u1", Type: models.ItemTypeNote, Content: "half done", Status: models.StatusProcessing},
		models.Item{ID: "r2", OwnerID: "u1", Type: models.ItemTypeNote, Content: "not started", Status: models.StatusPending},
	)
	f.run(t)

	_, err := f.pipeline.Recover(context.Background())
	require.NoError(t, err)
	f.drain(t)

	rank := map[models.ItemStatus]int{
		models.StatusPending:    0,
		models.StatusProcessing: 1,
		models.StatusCompleted:  2,
		models.StatusFailed:     2,
	}
	for _, id := range []string{"r1", "r2"} {
		seen := f.progress.statuses(id)
		require.NotEmpty(t, seen, id)
		for i := 1; i < len(seen); i++ {
			assert.LessOrEqual(t, rank[seen[i-1]], rank[seen[i]], "%s went %s -> %s", id, seen[i-1], seen[i])
		}
	}
	assert.Equal(t, models.StatusProcessing, f.progress.statuses("r1")[0])
	assert.Equal(t, models.StatusPending, f.progress.statuses("r2")[0])
}
