package protocol

import (
	"strings"
	"testing"
)

func TestMarshalSSEFraming(t *testing.T) {
	t.Parallel()

	frame, err := Chunk("hello").MarshalSSE()
	if err != nil {
		t.Fatalf("MarshalSSE: %v", err)
	}
	s := string(frame)
	if !strings.HasPrefix(s, "data: ") {
		t.Errorf("frame = %q, want data: prefix", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Errorf("frame = %q, want blank-line terminator", s)
	}
	if !strings.Contains(s, `"type":"chunk"`) || !strings.Contains(s, `"text":"hello"`) {
		t.Errorf("frame payload = %q", s)
	}
}

func TestStartEventMinimalPayload(t *testing.T) {
	t.Parallel()

	frame, err := Start().MarshalSSE()
	if err != nil {
		t.Fatalf("MarshalSSE: %v", err)
	}
	if got := strings.TrimSpace(string(frame)); got != `data: {"type":"start"}` {
		t.Errorf("frame = %q, want bare start event", got)
	}
}

func TestRoundTripEvents(t *testing.T) {
	t.Parallel()

	docs := []Document{{Source: "jira", Title: "CTT-21761 Login bug", URL: "https://jira/CTT-21761"}}
	events := []Event{
		Start(),
		Sources([]string{"vector_cache", "jira"}),
		Context(1, []string{"jira"}, docs),
		Chunk("the login bug is"),
		Done([]string{"vector_cache", "jira"}, []string{"jira"}, docs),
		Error(KindDeadline, "query deadline exceeded"),
	}

	for _, want := range events {
		frame, err := want.MarshalSSE()
		if err != nil {
			t.Fatalf("MarshalSSE(%s): %v", want.Type, err)
		}
		got, err := ParseSSE(frame)
		if err != nil {
			t.Fatalf("ParseSSE(%s): %v", want.Type, err)
		}
		if got.Type != want.Type || got.Text != want.Text || got.Message != want.Message || got.Kind != want.Kind {
			t.Errorf("round trip %s: got %+v", want.Type, got)
		}
		if len(got.Sources) != len(want.Sources) || len(got.Documents) != len(want.Documents) {
			t.Errorf("round trip %s: collections differ: %+v", want.Type, got)
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	if !Done(nil, nil, nil).Terminal() || !Error(KindInternal, "x").Terminal() {
		t.Error("done/error should be terminal")
	}
	if Start().Terminal() || Chunk("x").Terminal() || Sources(nil).Terminal() || Context(0, nil, nil).Terminal() {
		t.Error("non-terminal events misreported")
	}
}

func TestParseSSERejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := ParseSSE([]byte("event: ping\n\n")); err == nil {
		t.Error("want error for frame without data prefix")
	}
	if _, err := ParseSSE([]byte("data: {not json}\n\n")); err == nil {
		t.Error("want error for invalid JSON")
	}
	if _, err := ParseSSE([]byte(`data: {"text":"x"}`)); err == nil {
		t.Error("want error for event without type")
	}
}
