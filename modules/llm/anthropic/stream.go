package anthropic

import (
	"context"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/sibylhq/sibyl/internal/llm"
)

// streamBufferSize is the channel buffer for streamed fragments.
const streamBufferSize = 16

// Complete implements llm.Streamer.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	msg, err := c.client.Messages.New(ctx, convertRequest(req, &c.config))
	if err != nil {
		return "", mapError(err)
	}
	return textContent(msg), nil
}

// Stream implements llm.Streamer. The channel is closed when the stream
// ends or an error occurs. Initial connection errors are returned directly;
// mid-stream errors arrive via Chunk.Err.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	stream := c.client.Messages.NewStreaming(ctx, convertRequest(req, &c.config))

	// Consume the first event synchronously to surface initial connection
	// errors (auth, network, 4xx) directly to the caller.
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, mapError(err)
		}
		// Stream ended without error or events.
		ch := make(chan llm.Chunk, 1)
		ch <- llm.Chunk{Done: true}
		close(ch)
		return ch, nil
	}

	firstEvent := stream.Current()

	ch := make(chan llm.Chunk, streamBufferSize)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()
		consumeStreamWithFirst(ctx, stream, firstEvent, ch)
	}()

	return ch, nil
}

// consumeStreamWithFirst processes the already-consumed first event, then
// continues consuming the rest of the stream.
func consumeStreamWithFirst(
	ctx context.Context,
	stream *ssestream.Stream[sdkanthropic.MessageStreamEventUnion],
	firstEvent sdkanthropic.MessageStreamEventUnion,
	ch chan<- llm.Chunk,
) {
	processEvent(ctx, firstEvent, ch)

	for stream.Next() {
		if ctx.Err() != nil {
			return
		}
		processEvent(ctx, stream.Current(), ch)
	}

	if err := stream.Err(); err != nil {
		emit(ctx, ch, llm.Chunk{Err: mapError(err)})
		return
	}
	emit(ctx, ch, llm.Chunk{Done: true})
}

// processEvent forwards text deltas; every other event type carries no
// answer text and is skipped.
func processEvent(ctx context.Context, event sdkanthropic.MessageStreamEventUnion, ch chan<- llm.Chunk) {
	ev, ok := event.AsAny().(sdkanthropic.ContentBlockDeltaEvent)
	if !ok {
		return
	}
	if delta, ok := ev.Delta.AsAny().(sdkanthropic.TextDelta); ok {
		emit(ctx, ch, llm.Chunk{Text: delta.Text})
	}
}

// emit sends a chunk to the channel, respecting context cancellation.
func emit(ctx context.Context, ch chan<- llm.Chunk, chunk llm.Chunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}
