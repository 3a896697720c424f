// Package gemini implements the llm.Streamer contract against the Google
// Gemini generateContent API over raw HTTP with SSE streaming.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sibylhq/sibyl/internal/llm"
)

// maxResponseSize is the maximum response body size (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// scannerBufferSize is the max token size for the SSE line scanner.
const scannerBufferSize = 1 * 1024 * 1024

// streamChannelBuffer is the buffer size for the streaming channel.
const streamChannelBuffer = 64

// Compile-time interface guard.
var _ llm.Streamer = (*Client)(nil)

// Config holds the configuration for the Gemini client.
type Config struct {
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
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
		return errors.New("gemini: api_key is required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("gemini: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}

func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// Client talks to the Gemini generateContent API.
type Client struct {
	config       Config
	client       *http.Client
	streamClient *http.Client
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:       cfg,
		client:       &http.Client{Timeout: cfg.parsedTimeout()},
		streamClient: &http.Client{},
	}, nil
}

// Wire shapes for the generateContent API.
type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest converts an llm.Request. Gemini takes system text in a
// dedicated field and calls the assistant role "model".
func (c *Client) buildRequest(req llm.Request) generateRequest {
	gr := generateRequest{}

	var systemParts []part
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, part{Text: m.Content})
		case llm.RoleAssistant:
			gr.Contents = append(gr.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			gr.Contents = append(gr.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(systemParts) > 0 {
		gr.SystemInstruction = &content{Parts: systemParts}
	}

	gc := generationConfig{MaxOutputTokens: c.config.MaxTokens}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = req.MaxTokens
	}
	switch {
	case req.Temperature != nil:
		gc.Temperature = req.Temperature
	case c.config.Temperature != nil:
		gc.Temperature = c.config.Temperature
	}
	gr.GenerationConfig = &gc

	return gr
}

func (c *Client) newHTTPRequest(ctx context.Context, verb string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", c.config.BaseURL, c.config.Model, verb)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.config.APIKey)
	return httpReq, nil
}

// Complete implements llm.Streamer.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	httpReq, err := c.newHTTPRequest(ctx, "generateContent", c.buildRequest(req))
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}
	if err := mapHTTPError(resp.StatusCode, body); err != nil {
		return "", err
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("gemini: unmarshal response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidates", llm.ErrUpstreamError)
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

// Stream implements llm.Streamer using the streamGenerateContent SSE verb.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	httpReq, err := c.newHTTPRequest(ctx, "streamGenerateContent?alt=sse", c.buildRequest(req))
	if err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, mapConnectionError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, mapHTTPError(resp.StatusCode, body)
	}

	ch := make(chan llm.Chunk, streamChannelBuffer)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream reads Gemini SSE data lines and forwards candidate text. There
// is no terminal marker; a clean EOF ends the stream normally.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- llm.Chunk) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = body.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			emit(ctx, ch, llm.Chunk{Err: ctx.Err()})
			return
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var gr generateResponse
		if err := json.Unmarshal([]byte(data), &gr); err != nil {
			emit(ctx, ch, llm.Chunk{Err: err})
			return
		}
		for _, cand := range gr.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text == "" {
					continue
				}
				select {
				case ch <- llm.Chunk{Text: p.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	if ctx.Err() != nil {
		emit(ctx, ch, llm.Chunk{Err: ctx.Err()})
		return
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, ch, llm.Chunk{Err: mapConnectionError(err)})
		return
	}
	emit(ctx, ch, llm.Chunk{Done: true})
}

func emit(ctx context.Context, ch chan<- llm.Chunk, chunk llm.Chunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}

// ModelName implements llm.Streamer.
func (c *Client) ModelName() string {
	return c.config.Model
}
