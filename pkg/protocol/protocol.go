// Package protocol defines the wire format of the chat stream: typed events
// serialized as server-sent events, one JSON object per event. The same
// event values ride the WebSocket variant, minus the SSE framing.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// EventType discriminates the events on a stream.
type EventType string

// Event types, in the order they may appear on a stream. Exactly one of
// done/error terminates it.
const (
	EventStart   EventType = "start"
	EventSources EventType = "sources"
	EventContext EventType = "context"
	EventChunk   EventType = "chunk"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// ErrorKind is the closed set of wire-level failure classes.
type ErrorKind string

// Error kinds.
const (
	KindAuth            ErrorKind = "auth"
	KindConfig          ErrorKind = "config"
	KindRateLimited     ErrorKind = "rate_limited"
	KindUpstreamTimeout ErrorKind = "upstream_timeout"
	KindUpstreamError   ErrorKind = "upstream_error"
	KindDeadline        ErrorKind = "deadline"
	KindClientSlow      ErrorKind = "client_slow"
	KindInternal        ErrorKind = "internal"
)

// Document is the provenance of one context document as shown to clients.
type Document struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
}

// Event is one record on the stream. Fields are populated per type; unused
// fields are omitted from the encoding.
type Event struct {
	Type EventType `json:"type"`

	// sources
	Sources []string `json:"sources,omitempty"`

	// context and done
	Count       int        `json:"count,omitempty"`
	UsedSources []string   `json:"used_sources,omitempty"`
	Documents   []Document `json:"documents,omitempty"`

	// chunk
	Text string `json:"text,omitempty"`

	// error
	Message string    `json:"message,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Start builds the opening event.
func Start() Event { return Event{Type: EventStart} }

// Sources builds the selection announcement.
func Sources(sources []string) Event {
	return Event{Type: EventSources, Sources: sources}
}

// Context builds the context-ready event.
func Context(count int, usedSources []string, documents []Document) Event {
	return Event{Type: EventContext, Count: count, UsedSources: usedSources, Documents: documents}
}

// Chunk builds one answer fragment.
func Chunk(text string) Event { return Event{Type: EventChunk, Text: text} }

// Done builds the terminal success event.
func Done(sources, usedSources []string, documents []Document) Event {
	return Event{Type: EventDone, Sources: sources, UsedSources: usedSources, Documents: documents}
}

// Error builds the terminal failure event.
func Error(kind ErrorKind, message string) Event {
	return Event{Type: EventError, Kind: kind, Message: message}
}

// MarshalSSE encodes the event as one server-sent-event frame.
func (e Event) MarshalSSE() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", e.Type, err)
	}

	var buf bytes.Buffer
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// ParseSSE decodes one server-sent-event frame produced by MarshalSSE.
// Used by clients and tests.
func ParseSSE(frame []byte) (Event, error) {
	line := strings.TrimSpace(string(frame))
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return Event{}, fmt.Errorf("protocol: frame without data prefix: %q", line)
	}

	var e Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &e); err != nil {
		return Event{}, fmt.Errorf("protocol: decode event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("protocol: event without type: %q", line)
	}
	return e, nil
}
