// Package llm defines the provider-neutral generation contract. Concrete
// providers live in separate packages (modules/llm/openai, .../anthropic,
// .../gemini, .../ollama) and never leak SDK types through this interface.
package llm

import "context"

// Role identifies the sender of a message in a conversation.
type Role string

// Role constants for conversation messages.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the input to a Streamer.Stream or Streamer.Complete call.
type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Chunk is one incremental fragment of a streamed answer.
type Chunk struct {
	// Text is the fragment, empty on the final chunk.
	Text string

	// Done marks the last chunk of a normally completed stream.
	Done bool

	// Err carries a mid-stream failure. After a chunk with Err != nil the
	// channel is closed; no further fragments follow.
	Err error
}

// Streamer produces model output for a request.
//
// Stream returns a channel of chunks. Initial errors (bad credentials,
// refused connection) are returned directly; mid-stream errors arrive on
// Chunk.Err. Cancelling ctx stops the upstream request and closes the
// channel. Providers that cannot stream natively split the completed
// response into fragments so downstream code is uniform.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// Complete returns the full answer in one call.
	Complete(ctx context.Context, req Request) (string, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}
