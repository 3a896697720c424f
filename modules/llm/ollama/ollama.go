// Package ollama implements the llm.Streamer contract against a local
// Ollama server's chat API, which streams newline-delimited JSON.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sibylhq/sibyl/internal/llm"
)

// maxResponseSize is the maximum response body size (10 MB).
const maxResponseSize = 10 * 1024 * 1024

// scannerBufferSize is the max token size for the JSON-lines scanner.
const scannerBufferSize = 1 * 1024 * 1024

// streamChannelBuffer is the buffer size for the streaming channel.
const streamChannelBuffer = 64

// Compile-time interface guard.
var _ llm.Streamer = (*Client)(nil)

// Config holds the configuration for the Ollama client. No API key: the
// server is expected to be local or otherwise trusted.
type Config struct {
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "llama3.2"
	}
	if c.Timeout == "" {
		c.Timeout = "120s"
	}
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("ollama: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}

func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// Client talks to an Ollama server.
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

// Wire shapes for the Ollama chat API.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

func (c *Client) buildChatRequest(req llm.Request, stream bool) chatRequest {
	cr := chatRequest{
		Model:  c.config.Model,
		Stream: stream,
	}
	for _, m := range req.Messages {
		cr.Messages = append(cr.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	opts := chatOptions{}
	switch {
	case req.Temperature != nil:
		opts.Temperature = req.Temperature
	case c.config.Temperature != nil:
		opts.Temperature = c.config.Temperature
	}
	if req.MaxTokens > 0 {
		opts.NumPredict = req.MaxTokens
	}
	if opts.Temperature != nil || opts.NumPredict > 0 {
		cr.Options = &opts
	}
	return cr
}

func (c *Client) newHTTPRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// Complete implements llm.Streamer.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	httpReq, err := c.newHTTPRequest(ctx, c.buildChatRequest(req, false))
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
		return "", fmt.Errorf("ollama: read response: %w", err)
	}
	if err := mapHTTPError(resp.StatusCode, body); err != nil {
		return "", err
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("ollama: unmarshal response: %w", err)
	}
	if cr.Error != "" {
		return "", fmt.Errorf("%w: %s", llm.ErrUpstreamError, cr.Error)
	}
	return cr.Message.Content, nil
}

// Stream implements llm.Streamer. Ollama streams one JSON object per line;
// the object with done=true terminates the answer.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	httpReq, err := c.newHTTPRequest(ctx, c.buildChatRequest(req, true))
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

// readStream reads JSON lines from body and forwards message fragments.
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

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var cr chatResponse
		if err := json.Unmarshal(line, &cr); err != nil {
			emit(ctx, ch, llm.Chunk{Err: err})
			return
		}
		if cr.Error != "" {
			emit(ctx, ch, llm.Chunk{Err: fmt.Errorf("%w: %s", llm.ErrUpstreamError, cr.Error)})
			return
		}
		if cr.Message.Content != "" {
			select {
			case ch <- llm.Chunk{Text: cr.Message.Content}:
			case <-ctx.Done():
				return
			}
		}
		if cr.Done {
			emit(ctx, ch, llm.Chunk{Done: true})
			return
		}
	}

	if ctx.Err() != nil {
		emit(ctx, ch, llm.Chunk{Err: ctx.Err()})
		return
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, ch, llm.Chunk{Err: mapConnectionError(err)})
	}
	// EOF without a done object: channel closes without a Done marker and
	// the caller treats the stream as truncated.
}

func emit(ctx context.Context, ch chan<- llm.Chunk, chunk llm.Chunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}

// mapHTTPError maps an HTTP status code and response body to the llm
// sentinel set. Returns nil for 2xx status codes.
func mapHTTPError(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := string(body)
	var cr chatResponse
	if json.Unmarshal(body, &cr) == nil && cr.Error != "" {
		msg = cr.Error
	}
	return llm.ClassifyStatus(statusCode, msg)
}

// mapConnectionError maps network-level errors to the llm sentinel set.
func mapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", llm.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%w: %v", llm.ErrUpstreamError, err)
	}
	return fmt.Errorf("ollama: %w", err)
}

// ModelName implements llm.Streamer.
func (c *Client) ModelName() string {
	return c.config.Model
}
