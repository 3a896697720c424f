// Package anthropic implements the llm.Streamer contract against the
// Anthropic Messages API via the official SDK.
package anthropic

import (
	"errors"
	"fmt"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sibylhq/sibyl/internal/llm"
)

// Compile-time interface guard.
var _ llm.Streamer = (*Client)(nil)

// Config holds the configuration for the Anthropic client.
type Config struct {
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
}

// defaults fills zero-valued fields with sensible defaults.
func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "claude-3-5-haiku-latest"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == "" {
		c.Timeout = "60s"
	}
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("anthropic: api_key is required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("anthropic: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}

// Client talks to the Anthropic Messages API.
type Client struct {
	config Config
	client *sdkanthropic.Client
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// SDK-level retries are disabled; retry policy belongs to the caller.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := sdkanthropic.NewClient(opts...)
	return &Client{config: cfg, client: &client}, nil
}

// ModelName implements llm.Streamer.
func (c *Client) ModelName() string {
	return c.config.Model
}
