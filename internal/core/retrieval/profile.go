package retrieval

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultProfileSize = 20

// ProfileSource supplies the embeddings of an owner's recently opened chunks.
type ProfileSource interface {
	RecentAccessedChunkEmbeddings(ctx context.Context, ownerID string, limit int) ([][]float32, error)
}

// ProfileStore caches per-owner profile vectors: the mean of the embeddings
// of the owner's most recently accessed chunks.
type ProfileStore struct {
	source ProfileSource
	cache  *cache.Cache
	size   int
}

func NewProfileStore(source ProfileSource, ttl time.Duration) *ProfileStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ProfileStore{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
		size:   defaultProfileSize,
	}
}

// Get returns the owner's profile vector, or nil when they have no history.
func (p *ProfileStore) Get(ctx context.Context, ownerID string) ([]float32, error) {
	if x, found := p.cache.Get(ownerID); found {
		return x.([]float32), nil
	}

	vecs, err := p.source.RecentAccessedChunkEmbeddings(ctx, ownerID, p.size)
	if err != nil {
		return nil, err
	}
	profile := meanVector(vecs)
	p.cache.Set(ownerID, profile, cache.DefaultExpiration)
	return profile, nil
}

// Invalidate forgets the cached profile so the next search recomputes it.
func (p *ProfileStore) Invalidate(ownerID string) {
	p.cache.Delete(ownerID)
}

// meanVector averages vectors of the first vector's dimension; others are skipped.
func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vecs {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}
