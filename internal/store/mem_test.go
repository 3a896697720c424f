package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

func TestMemSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemSettings()
	ctx := context.Background()

	if _, err := s.Get(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get before Put = %v, want ErrNotFound", err)
	}

	want := Settings{
		LLMProvider:    ProviderAnthropic,
		LLMModel:       "claude-sonnet-4-5",
		LLMAPIKey:      "sk-test",
		EnabledSources: []source.ID{source.Jira},
		Credentials: map[source.ID]source.CredentialsBlob{
			source.Jira: {"atlassian_email": "a@b.c", "atlassian_api_token": "t"},
		},
	}
	if err := s.Put(ctx, "u1", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LLMProvider != want.LLMProvider || got.LLMModel != want.LLMModel {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
	if got.Credentials[source.Jira].Get("atlassian_email") != "a@b.c" {
		t.Errorf("credentials not preserved: %+v", got.Credentials)
	}
}

func TestSettingsSourceEnabled(t *testing.T) {
	t.Parallel()

	s := Settings{EnabledSources: []source.ID{source.Jira}, EnableWebSearch: true}

	cases := []struct {
		id   source.ID
		want bool
	}{
		{source.Jira, true},
		{source.Slack, false},
		{source.VectorCache, true},
		{source.Web, true},
	}
	for _, tc := range cases {
		if got := s.SourceEnabled(tc.id); got != tc.want {
			t.Errorf("SourceEnabled(%s) = %v, want %v", tc.id, got, tc.want)
		}
	}

	noWeb := Settings{EnableWebSearch: false}
	if noWeb.SourceEnabled(source.Web) {
		t.Error("web enabled despite EnableWebSearch=false")
	}
}

func TestMemTranscriptsAppendRecentDelete(t *testing.T) {
	t.Parallel()

	ts := NewMemTranscripts()
	ctx := context.Background()

	for i, msg := range []string{"first", "second", "third"} {
		turn := Turn{
			UserMessage: msg,
			BotResponse: "answer",
			Sources:     []source.ID{source.Jira},
			UsedSources: []source.ID{source.Jira},
			Timestamp:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := ts.Append(ctx, "s1", turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := ts.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 || turns[0].UserMessage != "second" || turns[1].UserMessage != "third" {
		t.Errorf("Recent(2) = %+v, want last two oldest-first", turns)
	}
	for _, turn := range turns {
		if turn.ID == "" {
			t.Error("turn id not assigned on append")
		}
	}

	all, err := ts.Recent(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Recent(0): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(0) len = %d, want 3", len(all))
	}

	if err := ts.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	after, err := ts.Recent(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Recent after delete: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("Recent after delete = %+v, want empty", after)
	}

	// Deleting an absent session is fine.
	if err := ts.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete absent = %v, want nil", err)
	}
}
