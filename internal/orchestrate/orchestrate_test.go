package orchestrate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sibylhq/sibyl/internal/breaker"
	"github.com/sibylhq/sibyl/internal/rategate"
	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/source/sourcetest"
)

type captureIndexer struct {
	mu      sync.Mutex
	batches [][]source.Document
}

func (c *captureIndexer) Index(_ context.Context, docs []source.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, docs)
	return nil
}

func (c *captureIndexer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func docFor(id source.ID, docID string) source.Document {
	return source.Document{ID: docID, Source: id, Title: docID, Body: "body", Score: -1}
}

func newTestOrchestrator(t *testing.T, cfg Config, adapters []*sourcetest.MockAdapter, ix Indexer) (*Orchestrator, *breaker.Set) {
	t.Helper()

	reg := source.NewRegistry()
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			t.Fatalf("Register(%s): %v", a.IDValue, err)
		}
	}
	gate := rategate.New(rategate.Config{Burst: 100, RefillPerSec: 100, WindowLimit: 1000, Window: time.Minute}, nil)
	breakers := breaker.NewSet(breaker.Config{}, nil)
	return New(cfg, reg, gate, breakers, ix, slog.Default()), breakers
}

func TestFetchAggregatesInSelectionOrder(t *testing.T) {
	t.Parallel()

	// The slowest source is listed first; order must still follow the
	// selection, not completion time.
	slow := &sourcetest.MockAdapter{IDValue: source.Confluence, SearchFunc: func(ctx context.Context, _ string, _ int) ([]source.Document, error) {
		time.Sleep(50 * time.Millisecond)
		return []source.Document{docFor(source.Confluence, "page-1")}, nil
	}}
	fast := &sourcetest.MockAdapter{IDValue: source.Jira, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return []source.Document{docFor(source.Jira, "PROJ-1")}, nil
	}}

	o, _ := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{slow, fast}, nil)
	results := o.Fetch(context.Background(), []source.ID{source.Confluence, source.Jira}, "q")

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Source != source.Confluence || results[1].Source != source.Jira {
		t.Errorf("order = [%s %s], want [confluence jira]", results[0].Source, results[1].Source)
	}
	if results[0].Err != nil || results[1].Err != nil {
		t.Errorf("errors = [%v %v], want none", results[0].Err, results[1].Err)
	}
}

func TestFetchOneSourceFailsOthersSucceed(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := &sourcetest.MockAdapter{IDValue: source.Slack, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return nil, boom
	}}
	ok := &sourcetest.MockAdapter{IDValue: source.Jira, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return []source.Document{docFor(source.Jira, "PROJ-2")}, nil
	}}

	o, breakers := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{failing, ok}, nil)
	results := o.Fetch(context.Background(), []source.ID{source.Slack, source.Jira}, "q")

	if !errors.Is(results[0].Err, boom) {
		t.Errorf("slack err = %v, want boom", results[0].Err)
	}
	if results[1].Err != nil || len(results[1].Docs) != 1 {
		t.Errorf("jira result = %+v, want one doc", results[1])
	}

	// One failure is below the trip threshold.
	if got := breakers.State(source.Slack); got != breaker.Closed {
		t.Errorf("slack breaker = %v, want closed", got)
	}
}

func TestFetchDeadlineCancelsSlowBranch(t *testing.T) {
	t.Parallel()

	slow := &sourcetest.MockAdapter{IDValue: source.Web, SearchFunc: func(ctx context.Context, _ string, _ int) ([]source.Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := &sourcetest.MockAdapter{IDValue: source.Jira, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return []source.Document{docFor(source.Jira, "PROJ-3")}, nil
	}}

	o, _ := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{slow, fast}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	results := o.Fetch(ctx, []source.ID{source.Web, source.Jira}, "q")
	elapsed := time.Since(start)

	if elapsed > 400*time.Millisecond {
		t.Errorf("Fetch took %v, want prompt return after deadline", elapsed)
	}
	if results[0].Err == nil {
		t.Error("slow branch err = nil, want deadline error")
	}
	if results[1].Err != nil {
		t.Errorf("fast branch err = %v, want nil", results[1].Err)
	}
}

func TestCancelledFetchNotACircuitFailure(t *testing.T) {
	t.Parallel()

	hang := &sourcetest.MockAdapter{IDValue: source.GitHub, SearchFunc: func(ctx context.Context, _ string, _ int) ([]source.Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	o, breakers := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{hang}, nil)

	// Enough cancelled queries to trip the breaker if they counted.
	for range 6 {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		o.Fetch(ctx, []source.ID{source.GitHub}, "q")
		cancel()
	}

	if got := breakers.State(source.GitHub); got != breaker.Closed {
		t.Errorf("breaker = %v, want closed after cancellations", got)
	}
}

func TestRepeatedFailuresOpenCircuitAndSkip(t *testing.T) {
	t.Parallel()

	failing := &sourcetest.MockAdapter{IDValue: source.Notion, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return nil, source.ErrUnavailable
	}}

	o, breakers := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{failing}, nil)

	for range 5 {
		o.Fetch(context.Background(), []source.ID{source.Notion}, "q")
	}
	if got := breakers.State(source.Notion); got != breaker.Open {
		t.Fatalf("breaker = %v, want open after repeated failures", got)
	}

	// The next query is short-circuited without touching the adapter.
	before := failing.SearchCalls()
	results := o.Fetch(context.Background(), []source.ID{source.Notion}, "q")
	if !errors.Is(results[0].Err, breaker.ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", results[0].Err)
	}
	if failing.SearchCalls() != before {
		t.Error("adapter was called while circuit open")
	}
}

func TestRateLimitPenalizesGate(t *testing.T) {
	t.Parallel()

	limited := &sourcetest.MockAdapter{IDValue: source.Linear, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return nil, &source.RateLimitError{RetryAfter: time.Minute}
	}}

	o, _ := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{limited}, nil)
	o.Fetch(context.Background(), []source.ID{source.Linear}, "q")

	// The penalty blocks the next acquire past this short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	results := o.Fetch(ctx, []source.ID{source.Linear}, "q")
	if !errors.Is(results[0].Err, rategate.ErrDeadlineExceeded) {
		t.Errorf("err = %v, want rate gate refusal under penalty", results[0].Err)
	}
}

func TestRateLimitDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	limited := &sourcetest.MockAdapter{IDValue: source.Jira, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return nil, &source.RateLimitError{}
	}}

	o, breakers := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{limited}, nil)
	for range 6 {
		o.Fetch(context.Background(), []source.ID{source.Jira}, "q")
	}

	// 429 is a soft failure: it drives the gate, never the circuit.
	if got := breakers.State(source.Jira); got != breaker.Closed {
		t.Errorf("breaker = %v, want closed after sustained 429s", got)
	}
}

func TestSuccessfulFetchSchedulesIndex(t *testing.T) {
	t.Parallel()

	ok := &sourcetest.MockAdapter{IDValue: source.Jira, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return []source.Document{docFor(source.Jira, "PROJ-4")}, nil
	}}
	ix := &captureIndexer{}

	o, _ := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{ok}, ix)
	o.Fetch(context.Background(), []source.ID{source.Jira}, "q")
	o.Close()

	if ix.count() != 1 {
		t.Fatalf("index batches = %d, want 1", ix.count())
	}
}

func TestVectorCacheBypassesGateAndBreaker(t *testing.T) {
	t.Parallel()

	cacheAdapter := &sourcetest.MockAdapter{IDValue: source.VectorCache, SearchFunc: func(context.Context, string, int) ([]source.Document, error) {
		return []source.Document{docFor(source.VectorCache, "cached")}, nil
	}}

	reg := source.NewRegistry()
	if err := reg.Register(cacheAdapter); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// A gate that admits nothing within a test-sized deadline.
	gate := rategate.New(rategate.Config{Burst: 1, RefillPerSec: 0.0001, WindowLimit: 1, Window: time.Hour}, map[source.ID]rategate.Config{
		source.VectorCache: {Burst: 1, RefillPerSec: 0.0001, WindowLimit: 1, Window: time.Hour},
	})
	o := New(Config{}, reg, gate, breaker.NewSet(breaker.Config{}, nil), nil, slog.Default())

	// Multiple queries in a row all succeed: no gate, no breaker.
	for i := range 3 {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		results := o.Fetch(ctx, []source.ID{source.VectorCache}, "q")
		cancel()
		if results[0].Err != nil {
			t.Fatalf("query %d err = %v, want nil", i, results[0].Err)
		}
	}
}

func TestIndexerNotCalledForEmptyResults(t *testing.T) {
	t.Parallel()

	empty := &sourcetest.MockAdapter{IDValue: source.Slack}
	ix := &captureIndexer{}

	o, _ := newTestOrchestrator(t, Config{}, []*sourcetest.MockAdapter{empty}, ix)
	o.Fetch(context.Background(), []source.ID{source.Slack}, "q")
	o.Close()

	if ix.count() != 0 {
		t.Errorf("index batches = %d, want 0", ix.count())
	}
}
