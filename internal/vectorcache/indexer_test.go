package vectorcache

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/sibylhq/sibyl/internal/chunk"
	"github.com/sibylhq/sibyl/internal/embed"
	"github.com/sibylhq/sibyl/internal/source"
)

func newTestIndexer(t *testing.T) (*Indexer, *Cache, *embed.Local) {
	t.Helper()
	// A low floor keeps these tests about plumbing, not embedding quality.
	cache := openTestCache(t, Config{MinScore: 0.05})
	emb := embed.NewLocal()
	ix := NewIndexer(cache, chunk.NewSplitter(chunk.Config{MaxTokens: 64, OverlapTokens: 8}), emb, slog.Default())
	return ix, cache, emb
}

func TestIndexRoundTrip(t *testing.T) {
	t.Parallel()

	ix, cache, emb := newTestIndexer(t)
	ctx := context.Background()

	err := ix.Index(ctx, []source.Document{{
		ID:     "deploy-guide",
		Source: source.Confluence,
		Title:  "Deployment process",
		URL:    "https://wiki/deploy",
		Body:   "To deploy to production, run the release pipeline and confirm the canary.",
		Score:  -1,
	}})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	qvec, err := emb.Embed(ctx, "how do I deploy to production")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	hits, err := cache.Query(ctx, qvec, 5, 0.05)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits for indexed document")
	}
	if hits[0].DocID != "deploy-guide" || hits[0].Source != source.Confluence {
		t.Errorf("hit = %s/%s, want confluence/deploy-guide", hits[0].Source, hits[0].DocID)
	}
}

func TestIndexChunksLongDocuments(t *testing.T) {
	t.Parallel()

	ix, cache, _ := newTestIndexer(t)
	ctx := context.Background()

	err := ix.Index(ctx, []source.Document{{
		ID:     "long",
		Source: source.GitHub,
		Title:  "Runbook",
		Body:   strings.Repeat("restart the worker pool after scaling events. ", 80),
		Score:  -1,
	}})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	n, err := cache.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n < 2 {
		t.Errorf("Count = %d, want multiple chunks", n)
	}
}

func TestIndexSkipsCacheAttributedDocs(t *testing.T) {
	t.Parallel()

	ix, cache, _ := newTestIndexer(t)
	ctx := context.Background()

	err := ix.Index(ctx, []source.Document{{
		ID:     "jira/PROJ-1/0",
		Source: source.VectorCache,
		Title:  "Cached",
		Body:   "already cached content",
	}})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	n, err := cache.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestAdapterSearch(t *testing.T) {
	t.Parallel()

	ix, cache, emb := newTestIndexer(t)
	ctx := context.Background()

	err := ix.Index(ctx, []source.Document{{
		ID:     "PROJ-7",
		Source: source.Jira,
		Title:  "Billing outage",
		URL:    "https://jira/PROJ-7",
		Body:   "billing service outage caused by expired certificate",
		Score:  -1,
	}})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	a := NewAdapter(cache, emb, 0)
	docs, err := a.Search(ctx, "billing outage certificate", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("no documents from cache adapter")
	}
	if docs[0].Source != source.VectorCache {
		t.Errorf("Source = %s, want vector_cache", docs[0].Source)
	}
	if !strings.HasPrefix(docs[0].ID, "jira/PROJ-7/") {
		t.Errorf("ID = %q, want origin-composite id", docs[0].ID)
	}
	if docs[0].Score <= 0 {
		t.Errorf("Score = %f, want positive similarity", docs[0].Score)
	}
}
