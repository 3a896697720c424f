package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sibylhq/sibyl/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{Model: "llama3.2", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCompleteRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"full answer"},"done":true}`))
	})

	got, err := c.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "full answer" {
		t.Errorf("Complete = %q", got)
	}
}

func TestStreamJSONLines(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(
			`{"message":{"content":"one "},"done":false}` + "\n" +
				`{"message":{"content":"two"},"done":false}` + "\n" +
				`{"message":{"content":""},"done":true}` + "\n"))
	})

	chunks, err := c.Stream(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text strings.Builder
	sawDone := false
	for ch := range chunks {
		if ch.Err != nil {
			t.Fatalf("mid-stream error: %v", ch.Err)
		}
		if ch.Done {
			sawDone = true
			continue
		}
		text.WriteString(ch.Text)
	}
	if text.String() != "one two" {
		t.Errorf("text = %q", text.String())
	}
	if !sawDone {
		t.Error("done object not surfaced as Done marker")
	}
}

func TestStreamInlineError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model not found"}` + "\n"))
	})

	chunks, err := c.Stream(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var last llm.Chunk
	for ch := range chunks {
		last = ch
	}
	if !errors.Is(last.Err, llm.ErrUpstreamError) {
		t.Fatalf("last.Err = %v, want ErrUpstreamError", last.Err)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such model"}`))
	})

	_, err := c.Complete(context.Background(), llm.Request{})
	if !errors.Is(err, llm.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}
