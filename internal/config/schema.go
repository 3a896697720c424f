// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for sibyl.
package config

import (
	"github.com/sibylhq/sibyl/internal/breaker"
	"github.com/sibylhq/sibyl/internal/chunk"
	"github.com/sibylhq/sibyl/internal/contextbuild"
	"github.com/sibylhq/sibyl/internal/orchestrate"
	"github.com/sibylhq/sibyl/internal/pipeline"
	"github.com/sibylhq/sibyl/internal/rategate"
	"github.com/sibylhq/sibyl/internal/vectorcache"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`

	Vector       VectorConfig        `yaml:"vector"`
	RateGate     rategate.Config     `yaml:"rate_gate"`
	Breaker      breaker.Config      `yaml:"breaker"`
	Chunk        chunk.Config        `yaml:"chunk"`
	Orchestrate  orchestrate.Config  `yaml:"orchestrate"`
	ContextBuild contextbuild.Config `yaml:"context"`
	Pipeline     pipeline.Config     `yaml:"pipeline"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// VectorConfig locates and bounds the vector cache.
type VectorConfig struct {
	// Dir is the directory holding the cache database.
	Dir string `yaml:"dir"`

	vectorcache.Config `yaml:",inline"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// BindAddr is the listen address, host:port.
	BindAddr string `yaml:"bind_addr"`

	// CORSOrigins lists the origins allowed to call the API from a
	// browser. Empty means same-origin only.
	CORSOrigins []string `yaml:"cors_origins"`

	// ShutdownGrace is how long in-flight requests get to finish on
	// shutdown.
	ShutdownGrace string `yaml:"shutdown_grace"`
}

// StoreConfig locates the settings and transcript store.
type StoreConfig struct {
	// URL is the SQLite path or sqlite:// URL.
	URL string `yaml:"url"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// TracingConfig controls the OTLP trace exporter. Tracing stays off when
// Endpoint is empty.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// MaintenanceConfig holds the cron schedules for background upkeep.
type MaintenanceConfig struct {
	// CacheSweep is the cron expression for the vector cache eviction and
	// flush job.
	CacheSweep string `yaml:"cache_sweep"`
}
