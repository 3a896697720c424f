package config

import (
	"os"
	"strings"
)

// Environment variables that override file values. The file is the source
// of record; these exist so containerized deployments need no config file
// at all.
const (
	envBindAddr    = "BIND_ADDR"
	envStoreURL    = "STORE_URL"
	envVectorDir   = "VECTOR_DIR"
	envLogLevel    = "LOG_LEVEL"
	envCORSOrigins = "CORS_ORIGINS"
)

// applyEnv overlays environment values onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(envBindAddr); v != "" {
		c.Server.BindAddr = v
	}
	if v := os.Getenv(envStoreURL); v != "" {
		c.Store.URL = v
	}
	if v := os.Getenv(envVectorDir); v != "" {
		c.Vector.Dir = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(envCORSOrigins); v != "" {
		c.Server.CORSOrigins = splitOrigins(v)
	}
}

// splitOrigins parses a comma-separated origin list.
func splitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// defaults fills zero values after file load and env overlay.
func (c *Config) defaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = ":8080"
	}
	if c.Server.ShutdownGrace == "" {
		c.Server.ShutdownGrace = "200ms"
	}
	if c.Store.URL == "" {
		c.Store.URL = "sibyl.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Vector.Dir == "" {
		c.Vector.Dir = "vector"
	}
	if c.Maintenance.CacheSweep == "" {
		// Hourly, on the hour.
		c.Maintenance.CacheSweep = "0 * * * *"
	}
}
