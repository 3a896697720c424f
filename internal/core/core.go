// Package core builds the object graph and owns its lifecycle: stores,
// vector cache, source adapters, fan-out, pipeline, gateway, background
// jobs. Everything is wired explicitly here; the other packages never
// import each other's constructors.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/sibylhq/sibyl/internal/breaker"
	"github.com/sibylhq/sibyl/internal/chunk"
	"github.com/sibylhq/sibyl/internal/config"
	"github.com/sibylhq/sibyl/internal/contextbuild"
	"github.com/sibylhq/sibyl/internal/embed"
	"github.com/sibylhq/sibyl/internal/gateway"
	"github.com/sibylhq/sibyl/internal/jobs"
	"github.com/sibylhq/sibyl/internal/observe"
	"github.com/sibylhq/sibyl/internal/orchestrate"
	"github.com/sibylhq/sibyl/internal/pipeline"
	"github.com/sibylhq/sibyl/internal/rategate"
	"github.com/sibylhq/sibyl/internal/router"
	"github.com/sibylhq/sibyl/internal/security"
	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
	"github.com/sibylhq/sibyl/internal/vectorcache"
	"github.com/sibylhq/sibyl/modules/source/web"
	"github.com/sibylhq/sibyl/modules/store/sqlite"
)

// defaultUser owns the credentialed adapters registered at startup. A
// settings write for any user rebuilds that user's adapters into the shared
// registry; single-tenant deployments only ever see this one.
const defaultUser = "default"

// cacheFile is the vector cache database inside Vector.Dir.
const cacheFile = "vectors.db"

// ErrStore marks an unrecoverable storage failure during startup. The CLI
// exits with a distinct status when it sees this.
var ErrStore = errors.New("store unavailable")

// Core is the wired application.
type Core struct {
	cfg      *config.Config
	logger   *slog.Logger
	redactor *security.Redactor
	metrics  *observe.Metrics

	db          *sql.DB
	settings    store.SettingsStore
	transcripts store.TranscriptStore
	cache       *vectorcache.Cache

	registry *source.Registry
	breakers *breaker.Set
	orch     *orchestrate.Orchestrator
	pipe     *pipeline.Pipeline
	gw       *gateway.Gateway
	sched    *jobs.Scheduler

	traceShutdown func(context.Context) error
}

// New wires the whole graph from cfg. redactor may be nil when log
// redaction is handled elsewhere (tests).
func New(cfg *config.Config, logger *slog.Logger, redactor *security.Redactor) (*Core, error) {
	c := &Core{
		cfg:      cfg,
		logger:   logger,
		redactor: redactor,
		metrics:  observe.NewMetrics(),
	}

	settings, transcripts, db, err := sqlite.Open(cfg.Store.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: open store: %v", ErrStore, err)
	}
	c.db = db
	c.settings = settings
	c.transcripts = transcripts

	cache, err := vectorcache.Open(filepath.Join(cfg.Vector.Dir, cacheFile), cfg.Vector.Config, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: open vector cache: %v", ErrStore, err)
	}
	c.cache = cache

	embedder := embed.NewLocal()
	splitter := chunk.NewSplitter(cfg.Chunk)
	estimator := chunk.NewCharEstimator()

	c.registry = source.NewRegistry()
	c.breakers = breaker.NewSet(cfg.Breaker, c.metrics.BreakerHook())
	gate := rategate.New(cfg.RateGate, nil)

	indexer := vectorcache.NewIndexer(cache, splitter, embedder, logger)
	c.orch = orchestrate.New(cfg.Orchestrate, c.registry, gate, c.breakers, indexer, logger)
	c.orch.OnResult = c.metrics.RecordFetch

	builder := contextbuild.New(cfg.ContextBuild, splitter, embedder, estimator, logger)
	rt := router.New(0)

	c.pipe = pipeline.New(cfg.Pipeline, rt, c.orch, builder, c.breakers, c.registry,
		c.newStreamer, c.settings, c.transcripts, logger)

	c.gw = gateway.New(
		gateway.Config{
			Bind:          cfg.Server.BindAddr,
			CORSOrigins:   cfg.Server.CORSOrigins,
			ShutdownGrace: cfg.Server.GracePeriod(),
		},
		gateway.Deps{
			Runner:            c.pipe,
			Settings:          c.settings,
			Transcripts:       c.transcripts,
			Registry:          c.registry,
			Breakers:          c.breakers,
			Tester:            c,
			Metrics:           c.metrics,
			OnSettingsChanged: c.onSettingsChanged,
		},
		logger,
	)

	c.sched = jobs.NewScheduler(logger)
	if err := c.sched.Register(&jobs.CacheSweepJob{
		Cache:        cache,
		Metrics:      c.metrics,
		Logger:       logger.With("component", "jobs"),
		ScheduleExpr: cfg.Maintenance.CacheSweep,
	}); err != nil {
		_ = cache.Close()
		_ = db.Close()
		return nil, err
	}

	// Always-on sources: the vector cache and the keyless web search.
	// Whether they join a query is the router policy's call.
	if err := c.registry.Register(vectorcache.NewAdapter(cache, embedder, cfg.Vector.MinScore)); err != nil {
		return nil, err
	}
	if err := c.registry.Register(web.New()); err != nil {
		return nil, err
	}

	if err := c.registerBaseline(); err != nil {
		_ = cache.Close()
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

// registerBaseline loads the default user's stored settings and builds the
// credentialed adapters, so a restart comes back with the same sources. A
// missing row just means no adapters yet.
func (c *Core) registerBaseline() error {
	st, err := c.settings.Get(context.Background(), defaultUser)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			st = store.Settings{}
		} else {
			return fmt.Errorf("core: load settings: %w", err)
		}
	}

	if c.redactor != nil {
		c.redactor.SyncSettings(st)
	}
	return c.rebuildAdapters(st)
}

// onSettingsChanged runs after every successful settings write: the
// redactor learns the new secrets and the adapter set is rebuilt.
func (c *Core) onSettingsChanged(_ context.Context, userID string, st store.Settings) error {
	if c.redactor != nil {
		c.redactor.SyncSettings(st)
	}
	c.logger.Info("settings updated, rebuilding adapters", "user_id", userID)
	return c.rebuildAdapters(st)
}
