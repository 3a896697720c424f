// Package orchestrate fans a query out to the selected sources in parallel
// and aggregates the results in selection order. Per-source failures are
// recovered locally: logged, fed to the circuit breaker, and reported as an
// empty result so the other sources keep going.
package orchestrate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sibylhq/sibyl/internal/breaker"
	"github.com/sibylhq/sibyl/internal/rategate"
	"github.com/sibylhq/sibyl/internal/source"
)

// Indexer receives successfully fetched documents for asynchronous
// chunk+embed+insert into the vector cache.
type Indexer interface {
	Index(ctx context.Context, docs []source.Document) error
}

// Result is one source's outcome.
type Result struct {
	Source source.ID
	Docs   []source.Document
	Err    error
}

// Config bounds the fan-out.
type Config struct {
	// PerSourceTimeout caps each source's branch. The query deadline still
	// applies; the effective deadline is whichever comes first.
	// Default: 8s.
	PerSourceTimeout time.Duration `yaml:"per_source_timeout"`

	// PerSourceLimit is the documents requested from each source.
	// Default: 5.
	PerSourceLimit int `yaml:"per_source_limit"`

	// IndexTimeout bounds the fire-and-forget cache write. Default: 30s.
	IndexTimeout time.Duration `yaml:"index_timeout"`
}

func (c *Config) defaults() {
	if c.PerSourceTimeout <= 0 {
		c.PerSourceTimeout = 8 * time.Second
	}
	if c.PerSourceLimit <= 0 {
		c.PerSourceLimit = 5
	}
	if c.IndexTimeout <= 0 {
		c.IndexTimeout = 30 * time.Second
	}
}

// Orchestrator drives the fan-out. Safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	registry *source.Registry
	gate     *rategate.Gate
	breakers *breaker.Set
	indexer  Indexer
	logger   *slog.Logger

	// OnResult, when set before the first Fetch, observes every branch
	// outcome. Metrics hang off this.
	OnResult func(id source.ID, err error)

	// wg tracks detached cache writes so Close can wait for them.
	wg sync.WaitGroup
}

// New creates an Orchestrator. indexer may be nil to disable cache writes.
func New(cfg Config, registry *source.Registry, gate *rategate.Gate, breakers *breaker.Set, indexer Indexer, logger *slog.Logger) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		gate:     gate,
		breakers: breakers,
		indexer:  indexer,
		logger:   logger.With("component", "orchestrate"),
	}
}

// Fetch queries every selected source in parallel and returns results in
// selection order. It returns when every branch has reported or ctx ends;
// branches still in flight at that point are cancelled and their slots
// carry ctx's error. Successful fetches schedule a cache write that
// outlives the query.
func (o *Orchestrator) Fetch(ctx context.Context, selected []source.ID, query string) []Result {
	results := make([]Result, len(selected))
	filled := make([]bool, len(selected))

	var mu sync.Mutex
	done := make(chan struct{})

	var branches sync.WaitGroup
	for i, id := range selected {
		branches.Add(1)
		go func(slot int, id source.ID) {
			defer branches.Done()
			res := o.fetchOne(ctx, id, query)
			if o.OnResult != nil {
				o.OnResult(res.Source, res.Err)
			}

			mu.Lock()
			results[slot] = res
			filled[slot] = true
			mu.Unlock()
		}(i, id)
	}

	go func() {
		branches.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	// Copy under the lock: a branch finishing after the deadline may still
	// write its slot, and the caller's slice must not change underneath it.
	mu.Lock()
	defer mu.Unlock()
	out := make([]Result, len(selected))
	for i := range results {
		if filled[i] {
			out[i] = results[i]
		} else {
			out[i] = Result{Source: selected[i], Err: ctx.Err()}
		}
	}
	return out
}

// fetchOne runs one source branch: rate gate, breaker, search, breaker
// accounting, cache write scheduling.
func (o *Orchestrator) fetchOne(ctx context.Context, id source.ID, query string) Result {
	adapter, err := o.registry.Get(id)
	if err != nil {
		return Result{Source: id, Err: err}
	}

	branchCtx, cancel := context.WithTimeout(ctx, o.cfg.PerSourceTimeout)
	defer cancel()

	// The local cache has no wire quota and no circuit; everything else
	// goes through the gate and the breaker.
	external := id != source.VectorCache

	var br *breaker.Breaker
	if external {
		if err := o.gate.Acquire(branchCtx, id); err != nil {
			o.logger.Debug("rate gate refused", "source", id, "error", err)
			return Result{Source: id, Err: err}
		}
		br = o.breakers.Get(id)
		if err := br.Allow(); err != nil {
			return Result{Source: id, Err: err}
		}
	}

	docs, err := adapter.Search(branchCtx, query, o.cfg.PerSourceLimit)
	if err != nil {
		if external {
			o.account(ctx, br, id, err)
		}
		o.logger.Warn("source fetch failed", "source", id, "error", err)
		return Result{Source: id, Err: err}
	}

	if external {
		br.Report(true)
		o.scheduleIndex(id, docs)
	}
	return Result{Source: id, Docs: docs}
}

// account feeds one failure to the breaker and the rate gate. A 429 is a
// soft failure: it penalizes the gate and stays out of circuit counting.
// Client cancellation and permanent 4xx-style failures are excluded from
// circuit counting too; a branch timeout still counts because the parent
// is alive.
func (o *Orchestrator) account(parent context.Context, br *breaker.Breaker, id source.ID, err error) {
	var rle *source.RateLimitError
	if errors.As(err, &rle) {
		o.gate.Penalize(id, rle.RetryAfter)
		return
	}

	if parent.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	if source.Permanent(err) {
		return
	}
	br.Report(false)
}

// scheduleIndex kicks off the fire-and-forget cache write. Detached from
// the query context so a finished or cancelled query never loses the fetch.
func (o *Orchestrator) scheduleIndex(id source.ID, docs []source.Document) {
	if o.indexer == nil || len(docs) == 0 {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.IndexTimeout)
		defer cancel()
		if err := o.indexer.Index(ctx, docs); err != nil {
			o.logger.Warn("cache write failed", "source", id, "error", err)
		}
	}()
}

// Close waits for in-flight cache writes to finish. Called on shutdown.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}
