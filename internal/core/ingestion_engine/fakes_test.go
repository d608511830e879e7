package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type fakeStore struct {
	mu          sync.Mutex
	items       map[string]*models.Item
	chunks      map[string][]models.Chunk
	completions map[string]models.Completion
	completeErr error
}

func newFakeStore(items ...models.Item) *fakeStore {
	s := &fakeStore{
		items:       map[string]*models.Item{},
		chunks:      map[string][]models.Chunk{},
		completions: map[string]models.Completion{},
	}
	for i := range items {
		it := items[i]
		s.items[it.ID] = &it
	}
	return s
}

func (s *fakeStore) GetItem(_ context.Context, id string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (s *fakeStore) CompleteItem(_ context.Context, c models.Completion, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completions[c.ItemID] = c
	s.chunks[c.ItemID] = append([]models.Chunk(nil), chunks...)
	if it, ok := s.items[c.ItemID]; ok {
		it.Content = c.Content
		if c.Title != "" {
			it.Title = c.Title
		}
		it.Status = models.StatusCompleted
	}
	return nil
}

func (s *fakeStore) ListUnfinishedItems(_ context.Context, _ string) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, it := range s.items {
		if !it.Status.Terminal() {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *fakeStore) ListCompletedItems(_ context.Context, _ string) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, it := range s.items {
		if it.Status == models.StatusCompleted {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *fakeStore) GetChunksByItem(_ context.Context, itemID string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Chunk(nil), s.chunks[itemID]...), nil
}

func (s *fakeStore) completion(id string) (models.Completion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.completions[id]
	return c, ok
}

func (s *fakeStore) chunksOf(id string) []models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Chunk(nil), s.chunks[id]...)
}

// fakeEmbedder returns a vector whose first element is the text's word count.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(strings.Fields(t))), 1}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

type fakeExtractor struct {
	byLocator map[string]core.Extraction
	err       error
}

func (f *fakeExtractor) Extract(_ context.Context, locator string, _ models.ItemType) (core.Extraction, error) {
	if f.err != nil {
		return core.Extraction{}, f.err
	}
	for suffix, ext := range f.byLocator {
		if strings.HasSuffix(locator, suffix) {
			return ext, nil
		}
	}
	return core.Extraction{}, nil
}

// callLog records accelerator side effects in order, shared by both models.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeVision struct {
	log     *callLog
	caption string
	tags    []string
	err     error
	loadErr error

	mu      sync.Mutex
	batches [][]string
}

func (v *fakeVision) Load(context.Context) error {
	v.log.add("vision.load")
	return v.loadErr
}

func (v *fakeVision) Unload(context.Context) error {
	v.log.add("vision.unload")
	return nil
}

func (v *fakeVision) AnalyzeImages(_ context.Context, paths []string) ([]core.VisionResult, error) {
	v.log.add("vision.analyze")
	v.mu.Lock()
	v.batches = append(v.batches, append([]string(nil), paths...))
	v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	out := make([]core.VisionResult, len(paths))
	for i := range paths {
		out[i] = core.VisionResult{Caption: v.caption, Tags: v.tags}
	}
	return out, nil
}

type fakeSpeech struct {
	log  *callLog
	text string
	err  error
}

func (s *fakeSpeech) Load(context.Context) error {
	s.log.add("speech.load")
	return nil
}

func (s *fakeSpeech) Unload(context.Context) error {
	s.log.add("speech.unload")
	return nil
}

func (s *fakeSpeech) Transcribe(_ context.Context, path string) (string, error) {
	s.log.add("speech.transcribe")
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type fakeProgress struct {
	mu        sync.Mutex
	reported  []models.Progress
	published []models.Progress
}

func (p *fakeProgress) Report(_ context.Context, pr models.Progress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reported = append(p.reported, pr)
	p.published = append(p.published, pr)
	return nil
}

func (p *fakeProgress) Publish(pr models.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, pr)
}

// last returns the most recent pushed tuple for an item.
func (p *fakeProgress) last(itemID string) (models.Progress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.published) - 1; i >= 0; i-- {
		if p.published[i].ItemID == itemID {
			return p.published[i], true
		}
	}
	return models.Progress{}, false
}

func (p *fakeProgress) stages(itemID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, pr := range p.published {
		if pr.ItemID == itemID {
			out = append(out, pr.Stage)
		}
	}
	return out
}

type fakeUpstream struct{ n int }

func (u *fakeUpstream) Pending() int { return u.n }

var errBoom = errors.New("boom")

func newTestLifecycle(progress *fakeProgress) *lifecycle {
	return &lifecycle{progress: progress, events: nopEvents{}, log: logger.NewNopLogger()}
}

// statuses returns every persisted status of an item in write order.
func (p *fakeProgress) statuses(itemID string) []models.ItemStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.ItemStatus
	for _, pr := range p.reported {
		if pr.ItemID == itemID {
			out = append(out, pr.Status)
		}
	}
	return out
}

// stallingEmbedder blocks every call until its context ends.
type stallingEmbedder struct {
	entered chan struct{}
	once    sync.Once
}

func newStallingEmbedder() *stallingEmbedder {
	return &stallingEmbedder{entered: make(chan struct{})}
}

func (e *stallingEmbedder) EmbedTexts(ctx context.Context, _ []string) ([][]float32, error) {
	e.once.Do(func() { close(e.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (e *stallingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}
