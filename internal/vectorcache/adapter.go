package vectorcache

import (
	"context"
	"fmt"

	"github.com/sibylhq/sibyl/internal/embed"
	"github.com/sibylhq/sibyl/internal/source"
)

// Adapter exposes the cache through the source.Adapter contract so the
// orchestrator fans out to it like any other source. Results carry the
// cache's similarity score as the native score and are attributed to
// vector_cache, not to the source the chunk originally came from.
type Adapter struct {
	cache    *Cache
	embedder embed.Embedder
	minScore float64
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter wraps cache for fan-out. minScore <= 0 uses the cache floor.
func NewAdapter(cache *Cache, embedder embed.Embedder, minScore float64) *Adapter {
	return &Adapter{cache: cache, embedder: embedder, minScore: minScore}
}

// Search embeds the query and returns the nearest cached chunks.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]source.Document, error) {
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorcache: embed query: %w", err)
	}

	hits, err := a.cache.Query(ctx, vec, limit, a.minScore)
	if err != nil {
		return nil, err
	}

	docs := make([]source.Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, source.Document{
			// Composite id keeps chunks of one origin document distinct.
			ID:     fmt.Sprintf("%s/%s/%d", h.Entry.Source, h.DocID, h.Ordinal),
			Source: source.VectorCache,
			Title:  h.Title,
			URL:    h.URL,
			Body:   h.Body,
			Score:  h.Score,
		})
	}
	return docs, nil
}

// Healthy implements source.Adapter. The cache is local; it is healthy as
// long as the process runs.
func (a *Adapter) Healthy() bool { return true }

// ID implements source.Adapter.
func (a *Adapter) ID() source.ID { return source.VectorCache }
