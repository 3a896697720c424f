package gemini

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

	c, err := New(Config{APIKey: "key", Model: "gemini-2.0-flash", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCompleteRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "key" {
			t.Errorf("api key header = %q", got)
		}
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"an "},{"text":"answer"}]}}]}`))
	})

	got, err := c.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "q"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "an answer" {
		t.Errorf("Complete = %q", got)
	}
}

func TestStreamForwardsText(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"one \"}]}}]}\n\n" +
				"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"two\"}]}}]}\n\n"))
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
		t.Error("no Done marker on clean EOF")
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
	})

	_, err := c.Complete(context.Background(), llm.Request{})
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("detail lost: %v", err)
	}
}

func TestBuildRequestRoles(t *testing.T) {
	t.Parallel()

	c := &Client{config: Config{MaxTokens: 256}}
	gr := c.buildRequest(llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "sys"},
			{Role: llm.RoleUser, Content: "q1"},
			{Role: llm.RoleAssistant, Content: "a1"},
		},
	})

	if gr.SystemInstruction == nil || gr.SystemInstruction.Parts[0].Text != "sys" {
		t.Errorf("system instruction = %+v", gr.SystemInstruction)
	}
	if len(gr.Contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(gr.Contents))
	}
	if gr.Contents[1].Role != "model" {
		t.Errorf("assistant role = %q, want model", gr.Contents[1].Role)
	}
	if gr.GenerationConfig.MaxOutputTokens != 256 {
		t.Errorf("max tokens = %d", gr.GenerationConfig.MaxOutputTokens)
	}
}
