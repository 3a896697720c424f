package core

import (
	"context"
	"errors"
	"time"

	"github.com/sibylhq/sibyl/internal/observe"
)

// closeTimeout bounds each teardown step so one stuck component cannot
// hang shutdown forever.
const closeTimeout = 5 * time.Second

// Start brings the process up: tracing, background jobs, then the
// listener. The listener comes last so /health never answers before the
// graph is live.
func (c *Core) Start(ctx context.Context) error {
	shutdown, err := observe.SetupTracing(ctx, c.cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	c.traceShutdown = shutdown

	if err := c.sched.Start(); err != nil {
		return err
	}

	return c.gw.Start(ctx)
}

// Run starts the core and blocks until ctx is cancelled, then tears down.
func (c *Core) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return c.Stop()
}

// Stop tears down in reverse dependency order: stop accepting requests,
// stop the jobs, drain in-flight cache writes, flush and close storage.
// Every step runs; the first error wins.
func (c *Core) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error

	if err := c.gw.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	c.sched.Stop()
	c.orch.Close()

	if err := c.cache.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}

	if c.traceShutdown != nil {
		if err := c.traceShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the gateway's listen address.
func (c *Core) Addr() string { return c.gw.Addr() }
