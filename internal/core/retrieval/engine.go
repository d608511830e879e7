package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

// ErrEmptyQuery is returned when a query has neither text nor filters.
var ErrEmptyQuery = errors.New("empty search query")

var typeWeights = map[models.ChunkType]float64{
	models.ChunkTypeVisual:     1.2,
	models.ChunkTypeCaption:    1.1,
	models.ChunkTypeOCR:        1.0,
	models.ChunkTypeTranscript: 0.85,
}

const (
	admissionThreshold = 0.15
	recallLimit        = 60
	resultLimit        = 20

	keywordBoost    = 0.03
	keywordBoostCap = 0.15
	modalityBoost   = 0.1
	recentWeekBoost = 0.05
	recentMonBoost  = 0.02

	corroborationBase = 0.05
	corroborationCap  = 0.1

	queryWeight   = 0.85
	profileWeight = 0.15
)

// Store is what retrieval reads from the chunk store.
type Store interface {
	ProfileSource
	ListChunksForSearch(ctx context.Context, ownerID string, f models.ChunkFilter) ([]models.SearchChunk, error)
	RecordAccess(ctx context.Context, itemID, ownerID string) error
}

type SearchRequest struct {
	Query   string
	OwnerID string
	Tags    []string
}

// Result is one ranked item.
type Result struct {
	ItemID      string           `json:"item_id"`
	Title       string           `json:"title"`
	Type        models.ItemType  `json:"type"`
	Tags        string           `json:"tags"`
	Score       float64          `json:"score"`
	Explanation string           `json:"explanation"`
	MatchedType models.ChunkType `json:"matched_chunk_type,omitempty"`
	Snippet     string           `json:"snippet,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type SearchResponse struct {
	Query   string   `json:"query"`
	Filters string   `json:"filters,omitempty"`
	Results []Result `json:"results"`
}

// Engine ranks an owner's chunks against a free-text query in two stages:
// a type-weighted vector recall and a rerank with cheap text signals,
// followed by aggregation to items.
type Engine struct {
	store    Store
	embedder core.EmbeddingProvider
	profiles *ProfileStore
	log      logger.ILogger
	now      func() time.Time
}

func NewEngine(store Store, embedder core.EmbeddingProvider, profiles *ProfileStore, log logger.ILogger) *Engine {
	return &Engine{store: store, embedder: embedder, profiles: profiles, log: log, now: time.Now}
}

type candidate struct {
	chunk    models.SearchChunk
	base     float64
	keywords float64
	modality float64
	recency  float64
}

func (c candidate) score() float64 { return c.base + c.keywords + c.modality + c.recency }

func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	ctx, span := otel.Tracer("dropvault/retrieval").Start(ctx, "retrieval.search")
	defer span.End()

	now := e.now()
	intent := ParseSearchIntent(req.Query, now)
	filter := models.ChunkFilter{Type: intent.Type, Since: intent.Since, Until: intent.Until, Tags: req.Tags}
	span.SetAttributes(attribute.String("search.filters", intent.Description))

	if intent.Query == "" && !intent.HasFilters() && len(req.Tags) == 0 {
		return nil, ErrEmptyQuery
	}

	chunks, err := e.store.ListChunksForSearch(ctx, req.OwnerID, filter)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	resp := &SearchResponse{Query: intent.Query, Filters: intent.Description}
	if intent.Query == "" {
		resp.Results = filterOnly(chunks, intent.Description)
		return resp, nil
	}

	expanded := ExpandQuery(intent.Query)
	vec, err := e.queryVector(ctx, req.OwnerID, strings.Join(expanded, " "))
	if err != nil {
		return nil, err
	}

	cands := recall(vec, chunks)
	rerank(cands, expanded, queryModality(intent.Query), now)
	resp.Results = aggregate(cands, intent.Description)

	span.SetAttributes(attribute.Int("search.recalled", len(cands)), attribute.Int("search.results", len(resp.Results)))
	e.log.Debug("retrieval", "search served", map[string]interface{}{
		"owner_id": req.OwnerID, "chunks": len(chunks), "recalled": len(cands), "results": len(resp.Results),
	})
	return resp, nil
}

// RecordAccess bumps the item's usage counters and refreshes the owner profile.
func (e *Engine) RecordAccess(ctx context.Context, itemID, ownerID string) error {
	if err := e.store.RecordAccess(ctx, itemID, ownerID); err != nil {
		return err
	}
	if e.profiles != nil {
		e.profiles.Invalidate(ownerID)
	}
	return nil
}

// queryVector embeds the query and blends in the owner's profile if present.
func (e *Engine) queryVector(ctx context.Context, ownerID, text string) ([]float32, error) {
	q, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if e.profiles == nil {
		return q, nil
	}
	profile, err := e.profiles.Get(ctx, ownerID)
	if err != nil {
		e.log.Warn("retrieval", "profile unavailable", map[string]interface{}{"owner_id": ownerID, "error": err.Error()})
		return q, nil
	}
	return blend(q, profile), nil
}

func blend(q, profile []float32) []float32 {
	if len(profile) != len(q) {
		return q
	}
	qn, pn := norm(q), norm(profile)
	if qn == 0 || pn == 0 {
		return q
	}
	out := make([]float32, len(q))
	for i := range q {
		out[i] = float32(queryWeight*float64(q[i])/qn + profileWeight*float64(profile[i])/pn)
	}
	return out
}

func recall(q []float32, chunks []models.SearchChunk) []candidate {
	var out []candidate
	for _, c := range chunks {
		w, ok := typeWeights[c.Type]
		if !ok {
			w = 1.0
		}
		s := cosine(q, c.Embedding) * w
		if s > admissionThreshold {
			out = append(out, candidate{chunk: c, base: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].base > out[j].base })
	if len(out) > recallLimit {
		out = out[:recallLimit]
	}
	return out
}

func rerank(cands []candidate, expanded []string, mod modality, now time.Time) {
	want := keywords(strings.Join(expanded, " "))
	for i := range cands {
		c := &cands[i]

		shared := 0
		for w := range keywords(c.chunk.Text) {
			if _, ok := want[w]; ok {
				shared++
			}
		}
		c.keywords = math.Min(float64(shared)*keywordBoost, keywordBoostCap)

		switch {
		case mod == modalityVisual && (c.chunk.Type == models.ChunkTypeVisual || c.chunk.Type == models.ChunkTypeCaption):
			c.modality = modalityBoost
		case mod == modalityAudio && c.chunk.Type == models.ChunkTypeTranscript:
			c.modality = modalityBoost
		}

		age := now.Sub(c.chunk.ItemCreatedAt)
		switch {
		case age <= 7*24*time.Hour:
			c.recency = recentWeekBoost
		case age <= 30*24*time.Hour:
			c.recency = recentMonBoost
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score() > cands[j].score() })
}

func aggregate(cands []candidate, filters string) []Result {
	type group struct {
		best  candidate
		extra int
	}
	groups := map[string]*group{}
	var order []string
	for _, c := range cands {
		if g, ok := groups[c.chunk.ItemID]; ok {
			g.extra++
			continue
		}
		groups[c.chunk.ItemID] = &group{best: c}
		order = append(order, c.chunk.ItemID)
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		g := groups[id]
		bonus := corroboration(g.extra)
		pop := popularity(g.best.chunk.AccessCount)
		out = append(out, Result{
			ItemID:      id,
			Title:       g.best.chunk.ItemTitle,
			Type:        g.best.chunk.ItemType,
			Tags:        g.best.chunk.ItemTags,
			Score:       g.best.score() + bonus + pop,
			Explanation: explain(g.best, g.extra, pop, filters),
			MatchedType: g.best.chunk.Type,
			Snippet:     snippet(g.best.chunk.Text),
			CreatedAt:   g.best.chunk.ItemCreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	if len(out) > resultLimit {
		out = out[:resultLimit]
	}
	return out
}

// filterOnly lists the items matching the hard filters, newest first.
func filterOnly(chunks []models.SearchChunk, filters string) []Result {
	seen := map[string]bool{}
	var out []Result
	for _, c := range chunks {
		if seen[c.ItemID] {
			continue
		}
		seen[c.ItemID] = true
		out = append(out, Result{
			ItemID:      c.ItemID,
			Title:       c.ItemTitle,
			Type:        c.ItemType,
			Tags:        c.ItemTags,
			Explanation: "Matched filters: " + filters,
			CreatedAt:   c.ItemCreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > resultLimit {
		out = out[:resultLimit]
	}
	return out
}

// corroboration rewards k extra matching chunks with a halving series.
func corroboration(k int) float64 {
	total := 0.0
	for j := 0; j < k; j++ {
		total += corroborationBase * math.Pow(0.5, float64(j))
	}
	return math.Min(total, corroborationCap)
}

func popularity(accesses int) float64 {
	switch {
	case accesses >= 25:
		return 0.06
	case accesses >= 10:
		return 0.04
	case accesses >= 3:
		return 0.02
	}
	return 0
}

func explain(best candidate, extra int, pop float64, filters string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Best match in %s (%.2f)", best.chunk.Type, best.base)
	if best.keywords > 0 {
		fmt.Fprintf(&b, ", keywords +%.2f", best.keywords)
	}
	if best.modality > 0 {
		fmt.Fprintf(&b, ", modality +%.2f", best.modality)
	}
	if best.recency > 0 {
		fmt.Fprintf(&b, ", recent +%.2f", best.recency)
	}
	if extra > 0 {
		fmt.Fprintf(&b, "; %d supporting chunk%s", extra, plural("", extra))
	}
	if pop > 0 {
		fmt.Fprintf(&b, "; frequently opened +%.2f", pop)
	}
	if filters != "" {
		fmt.Fprintf(&b, " (%s)", filters)
	}
	return b.String()
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= 200 {
		return text
	}
	return string(r[:200]) + "..."
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
