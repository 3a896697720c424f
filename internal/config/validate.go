package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Validate checks the structural validity of a Config. All problems are
// reported at once so the operator fixes the file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if _, _, err := net.SplitHostPort(cfg.Server.BindAddr); err != nil {
		errs = append(errs, fmt.Errorf("config: server.bind_addr %q: %w", cfg.Server.BindAddr, err))
	}
	if _, err := time.ParseDuration(cfg.Server.ShutdownGrace); err != nil {
		errs = append(errs, fmt.Errorf("config: server.shutdown_grace %q: %w", cfg.Server.ShutdownGrace, err))
	}

	if cfg.Store.URL == "" {
		errs = append(errs, errors.New("config: store.url is required"))
	}
	if cfg.Vector.Dir == "" {
		errs = append(errs, errors.New("config: vector.dir is required"))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("config: log.level %q: %w", cfg.Log.Level, err))
	}

	if cfg.Vector.MinScore < 0 || cfg.Vector.MinScore > 1 {
		errs = append(errs, fmt.Errorf("config: vector.min_score %v out of [0,1]", cfg.Vector.MinScore))
	}
	if cfg.Breaker.FailureThreshold < 0 || cfg.Breaker.FailureThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: breaker.failure_threshold %v out of [0,1]", cfg.Breaker.FailureThreshold))
	}
	if cfg.RateGate.RefillPerSec < 0 {
		errs = append(errs, fmt.Errorf("config: rate_gate.refill_per_sec %v is negative", cfg.RateGate.RefillPerSec))
	}

	return errors.Join(errs...)
}

// GracePeriod returns the parsed shutdown grace period.
func (c *ServerConfig) GracePeriod() time.Duration {
	d, err := time.ParseDuration(c.ShutdownGrace)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}
