// Package openai implements the llm.Streamer contract against the OpenAI
// Chat Completions API over raw HTTP with SSE streaming.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sibylhq/sibyl/internal/llm"
)

// maxResponseSize is the maximum response body size (10 MB).
// Protects against OOM from malformed or huge responses.
const maxResponseSize = 10 * 1024 * 1024

// streamChannelBuffer is the buffer size for the streaming channel.
const streamChannelBuffer = 64

// Compile-time interface guard.
var _ llm.Streamer = (*Client)(nil)

// Client talks to the OpenAI Chat Completions API.
type Client struct {
	config Config

	// Separate clients for non-streaming and streaming requests.
	// http.Client.Timeout is a hard deadline for the entire response body,
	// which would kill long-lived SSE streams. The streaming client uses no
	// timeout; cancellation is handled via context.
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

// chatRequest is the wire shape of a Chat Completions request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// apiError is the wire shape of an OpenAI error payload.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// buildChatRequest converts an llm.Request, merging request-level overrides
// with config defaults.
func (c *Client) buildChatRequest(req llm.Request, stream bool) chatRequest {
	cr := chatRequest{
		Model:    c.config.Model,
		Messages: toMessages(req.Messages),
		Stream:   stream,
	}

	switch {
	case req.MaxTokens > 0:
		cr.MaxTokens = req.MaxTokens
	case c.config.MaxTokens > 0:
		cr.MaxTokens = c.config.MaxTokens
	}

	switch {
	case req.Temperature != nil:
		cr.Temperature = req.Temperature
	case c.config.Temperature != nil:
		cr.Temperature = c.config.Temperature
	}

	return cr
}

func toMessages(in []llm.Message) []chatMessage {
	out := make([]chatMessage, len(in))
	for i, m := range in {
		out[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// newHTTPRequest creates an authenticated HTTP request for the OpenAI API.
func (c *Client) newHTTPRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	return httpReq, nil
}

// Complete implements llm.Streamer.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	httpReq, err := c.newHTTPRequest(ctx, "/chat/completions", c.buildChatRequest(req, false))
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
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	if err := mapHTTPError(resp.StatusCode, body); err != nil {
		return "", err
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("openai: unmarshal response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", llm.ErrUpstreamError)
	}
	return cr.Choices[0].Message.Content, nil
}

// Stream implements llm.Streamer. Initial connection errors are returned
// directly; mid-stream errors are delivered via Chunk.Err.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	httpReq, err := c.newHTTPRequest(ctx, "/chat/completions", c.buildChatRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, mapConnectionError(err)
	}

	// Check for HTTP errors before starting the stream.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, mapHTTPError(resp.StatusCode, body)
	}

	ch := make(chan llm.Chunk, streamChannelBuffer)
	go readStream(ctx, resp.Body, ch)

	return ch, nil
}

// ModelName implements llm.Streamer.
func (c *Client) ModelName() string {
	return c.config.Model
}
