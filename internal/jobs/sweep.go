package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sibylhq/sibyl/internal/observe"
)

// VectorCache is the slice of the cache the sweep drives.
type VectorCache interface {
	EvictOverCapacity(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// CacheSweepJob evicts the cache back under capacity and flushes pending
// writes. The entry count lands in the metrics gauge as a side effect.
type CacheSweepJob struct {
	Cache        VectorCache
	Metrics      *observe.Metrics
	Logger       *slog.Logger
	ScheduleExpr string // empty = hourly
}

var _ Job = (*CacheSweepJob)(nil)

// Name implements Job.
func (j *CacheSweepJob) Name() string { return "cache_sweep" }

// Schedule implements Job.
func (j *CacheSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run implements Job.
func (j *CacheSweepJob) Run(ctx context.Context) error {
	evicted, err := j.Cache.EvictOverCapacity(ctx)
	if err != nil {
		return fmt.Errorf("jobs: cache eviction: %w", err)
	}
	if evicted > 0 {
		j.Logger.Info("cache swept", "evicted", evicted)
	}

	if err := j.Cache.Flush(ctx); err != nil {
		return fmt.Errorf("jobs: cache flush: %w", err)
	}

	n, err := j.Cache.Count(ctx)
	if err != nil {
		return fmt.Errorf("jobs: cache count: %w", err)
	}
	if j.Metrics != nil {
		j.Metrics.SetCacheEntries(n)
	}
	return nil
}
