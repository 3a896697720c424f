package llm

import (
	"context"
	"strings"
)

// Simulated wraps a Streamer so Stream is served from Complete, splitting
// the finished answer into word fragments. Used when a provider cannot
// stream or the user has disabled streaming: downstream code stays uniform.
type Simulated struct {
	Inner Streamer
}

// Compile-time interface check.
var _ Streamer = (*Simulated)(nil)

// Stream implements Streamer by completing the request and replaying the
// answer as fragments.
func (s *Simulated) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	text, err := s.Inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	ch := make(chan Chunk, len(words)+1)
	go func() {
		defer close(ch)
		for i, w := range words {
			if i < len(words)-1 {
				w += " "
			}
			select {
			case ch <- Chunk{Text: w}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Complete implements Streamer.
func (s *Simulated) Complete(ctx context.Context, req Request) (string, error) {
	return s.Inner.Complete(ctx, req)
}

// ModelName implements Streamer.
func (s *Simulated) ModelName() string { return s.Inner.ModelName() }
