package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/sibylhq/sibyl/internal/llm"
)

// scannerBufferSize is the max token size for the SSE line scanner.
// OpenAI SSE data lines can be large; the default bufio.Scanner limit of
// ~64 KiB is too small.
const scannerBufferSize = 1 * 1024 * 1024 // 1 MB

// chatStreamChunk is the wire shape of one SSE data payload.
type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// sendChunk sends a chunk on ch, respecting context cancellation.
// Returns false if the context was cancelled (caller should return).
func sendChunk(ctx context.Context, ch chan<- llm.Chunk, chunk llm.Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// readStream reads an SSE stream from body and sends parsed chunks on ch.
// The channel is closed when the stream ends, either normally ([DONE]), on
// error, or when ctx is cancelled. body is always closed.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- llm.Chunk) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	// Close body on context cancellation to unblock the scanner.
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
			sendChunk(ctx, ch, llm.Chunk{Err: ctx.Err()})
			return
		}

		line := scanner.Text()

		// SSE spec: lines starting with ":" are comments.
		if strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		// Terminal marker.
		if data == "[DONE]" {
			sendChunk(ctx, ch, llm.Chunk{Done: true})
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			sendChunk(ctx, ch, llm.Chunk{Err: err})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if !sendChunk(ctx, ch, llm.Chunk{Text: choice.Delta.Content}) {
				return
			}
		}
	}

	// If the scanner stopped because the body was closed on cancellation,
	// report the context error rather than the read error.
	if ctx.Err() != nil {
		sendChunk(ctx, ch, llm.Chunk{Err: ctx.Err()})
		return
	}
	if err := scanner.Err(); err != nil {
		sendChunk(ctx, ch, llm.Chunk{Err: mapConnectionError(err)})
	}
}
