package vectorcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sibylhq/sibyl/internal/chunk"
	"github.com/sibylhq/sibyl/internal/embed"
	"github.com/sibylhq/sibyl/internal/source"
)

// Indexer turns fetched documents into cache entries: chunk, embed in
// batches, insert. It runs on the orchestrator's fire-and-forget path, so
// a failure here never affects the query that triggered it.
type Indexer struct {
	cache    *Cache
	splitter *chunk.Splitter
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(cache *Cache, splitter *chunk.Splitter, embedder embed.Embedder, logger *slog.Logger) *Indexer {
	return &Indexer{
		cache:    cache,
		splitter: splitter,
		embedder: embedder,
		logger:   logger.With("component", "indexer"),
	}
}

// Index chunks and stores docs. Documents already attributed to the cache
// are skipped; re-indexing a cache hit would nest attributions.
func (ix *Indexer) Index(ctx context.Context, docs []source.Document) error {
	var entries []Entry
	for _, d := range docs {
		if d.Source == source.VectorCache {
			continue
		}
		for ordinal, text := range ix.splitter.Split(d.Body) {
			entries = append(entries, Entry{
				Source:  d.Source,
				DocID:   d.ID,
				Ordinal: ordinal,
				Title:   d.Title,
				URL:     d.URL,
				Body:    text,
			})
		}
	}
	if len(entries) == 0 {
		return nil
	}

	for start := 0; start < len(entries); start += embed.MaxBatch {
		end := min(start+embed.MaxBatch, len(entries))

		texts := make([]string, 0, end-start)
		for _, e := range entries[start:end] {
			texts = append(texts, e.Body)
		}
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("vectorcache: embed batch: %w", err)
		}
		for i := range vecs {
			entries[start+i].Vector = vecs[i]
		}
	}

	if err := ix.cache.Insert(ctx, entries); err != nil {
		return err
	}
	ix.logger.Debug("indexed documents", "documents", len(docs), "chunks", len(entries))
	return nil
}
