package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
)

func openTestStores(t *testing.T) (store.SettingsStore, store.TranscriptStore) {
	t.Helper()
	settings, transcripts, db, err := Open(filepath.Join(t.TempDir(), "sibyl.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return settings, transcripts
}

func TestSettingsUpsertRoundTrip(t *testing.T) {
	t.Parallel()

	settings, _ := openTestStores(t)
	ctx := context.Background()

	if _, err := settings.Get(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get before Put = %v, want ErrNotFound", err)
	}

	first := store.Settings{
		LLMProvider:    store.ProviderOpenAI,
		LLMModel:       "gpt-4o-mini",
		LLMAPIKey:      "sk-1",
		EnabledSources: []source.ID{source.Jira, source.Confluence},
		Credentials: map[source.ID]source.CredentialsBlob{
			source.Slack: {"slack_bot_token": "xoxb-1"},
		},
	}
	if err := settings.Put(ctx, "u1", first); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Upsert replaces.
	first.LLMModel = "gpt-4o"
	if err := settings.Put(ctx, "u1", first); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, err := settings.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LLMModel != "gpt-4o" {
		t.Errorf("LLMModel = %q, want gpt-4o", got.LLMModel)
	}
	if got.Credentials[source.Slack].Get("slack_bot_token") != "xoxb-1" {
		t.Errorf("credentials lost: %+v", got.Credentials)
	}
}

func TestTranscriptAppendRecentDelete(t *testing.T) {
	t.Parallel()

	_, transcripts := openTestStores(t)
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three"} {
		err := transcripts.Append(ctx, "s1", store.Turn{
			UserMessage: msg,
			BotResponse: "re: " + msg,
			Sources:     []source.ID{source.VectorCache, source.Jira},
			UsedSources: []source.ID{source.Jira},
		})
		if err != nil {
			t.Fatalf("Append(%s): %v", msg, err)
		}
	}

	turns, err := transcripts.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].UserMessage != "two" || turns[1].UserMessage != "three" {
		t.Errorf("turns = [%s %s], want [two three]", turns[0].UserMessage, turns[1].UserMessage)
	}
	if turns[0].ID == "" || turns[0].Timestamp.IsZero() {
		t.Error("id/timestamp not assigned on append")
	}
	if len(turns[1].UsedSources) != 1 || turns[1].UsedSources[0] != source.Jira {
		t.Errorf("UsedSources = %v, want [jira]", turns[1].UsedSources)
	}

	if err := transcripts.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	after, err := transcripts.Recent(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Recent after delete: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("turns after delete = %+v, want none", after)
	}
}

func TestTranscriptSessionsIsolated(t *testing.T) {
	t.Parallel()

	_, transcripts := openTestStores(t)
	ctx := context.Background()

	if err := transcripts.Append(ctx, "a", store.Turn{UserMessage: "ha"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := transcripts.Append(ctx, "b", store.Turn{UserMessage: "hb"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns, err := transcripts.Recent(ctx, "a", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 1 || turns[0].UserMessage != "ha" {
		t.Errorf("session a turns = %+v, want only its own", turns)
	}
}
