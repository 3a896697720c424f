package llm_test

import (
	"context"
	"strings"
	"testing"

	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/sibylhq/sibyl/internal/llm/llmtest"
)

func TestSimulatedStreamReplaysCompletion(t *testing.T) {
	t.Parallel()

	s := &llm.Simulated{Inner: &llmtest.MockStreamer{Response: "three word answer"}}

	chunks, err := s.Stream(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text strings.Builder
	sawDone := false
	n := 0
	for ch := range chunks {
		if ch.Done {
			sawDone = true
			continue
		}
		n++
		text.WriteString(ch.Text)
	}
	if text.String() != "three word answer" {
		t.Errorf("text = %q", text.String())
	}
	if n != 3 {
		t.Errorf("fragments = %d, want 3", n)
	}
	if !sawDone {
		t.Error("no Done marker")
	}
}

func TestSimulatedStreamPropagatesError(t *testing.T) {
	t.Parallel()

	s := &llm.Simulated{Inner: &llmtest.MockStreamer{StreamErr: llm.ErrAuth}}
	if _, err := s.Stream(context.Background(), llm.Request{}); err == nil {
		t.Fatal("Stream with failing Complete returned nil error")
	}
}
