// Package llmtest provides a scriptable Streamer for tests.
package llmtest

import (
	"context"
	"strings"

	"github.com/sibylhq/sibyl/internal/llm"
)

// MockStreamer implements llm.Streamer. Configure either Chunks (played
// back verbatim) or Response (split into word fragments). StreamErr, when
// set, is returned directly from Stream; MidStreamErr is delivered on the
// channel after FailAfter fragments.
type MockStreamer struct {
	Chunks       []string
	Response     string
	StreamErr    error
	MidStreamErr error
	FailAfter    int
	Model        string
}

// Stream implements llm.Streamer.
func (m *MockStreamer) Stream(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}

	fragments := m.Chunks
	if fragments == nil {
		for _, w := range strings.Fields(m.Response) {
			fragments = append(fragments, w+" ")
		}
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for i, f := range fragments {
			if m.MidStreamErr != nil && i >= m.FailAfter {
				select {
				case out <- llm.Chunk{Err: m.MidStreamErr}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- llm.Chunk{Text: f}:
			case <-ctx.Done():
				return
			}
		}
		if m.MidStreamErr != nil {
			select {
			case out <- llm.Chunk{Err: m.MidStreamErr}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- llm.Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Complete implements llm.Streamer.
func (m *MockStreamer) Complete(_ context.Context, _ llm.Request) (string, error) {
	if m.StreamErr != nil {
		return "", m.StreamErr
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return strings.Join(m.Chunks, ""), nil
}

// ModelName implements llm.Streamer.
func (m *MockStreamer) ModelName() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}
