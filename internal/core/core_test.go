package core

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sibylhq/sibyl/internal/config"
	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/sibylhq/sibyl/internal/pipeline"
	"github.com/sibylhq/sibyl/internal/security"
	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCore(t *testing.T) *Core {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.URL = filepath.Join(dir, "sibyl.db")
	cfg.Vector.Dir = filepath.Join(dir, "vector")

	c, err := New(cfg, testLogger(), security.NewRedactor())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return c
}

func TestNewWiresAlwaysOnSources(t *testing.T) {
	t.Parallel()

	c := newTestCore(t)
	for _, id := range []source.ID{source.VectorCache, source.Web} {
		if _, err := c.registry.Get(id); err != nil {
			t.Errorf("Get(%s): %v", id, err)
		}
	}
	for _, id := range credentialed {
		if _, err := c.registry.Get(id); err == nil {
			t.Errorf("%s registered without credentials", id)
		}
	}
}

func TestRebuildAdaptersReconciles(t *testing.T) {
	t.Parallel()

	c := newTestCore(t)
	with := store.Settings{
		Credentials: map[source.ID]source.CredentialsBlob{
			source.Jira: {
				"jira_url":       "https://x.atlassian.net",
				"jira_email":     "a@b.c",
				"jira_api_token": "tok",
			},
		},
	}
	if err := c.rebuildAdapters(with); err != nil {
		t.Fatalf("rebuildAdapters: %v", err)
	}
	if _, err := c.registry.Get(source.Jira); err != nil {
		t.Fatalf("jira missing after rebuild: %v", err)
	}

	// Incomplete credentials drop the source instead of failing the call.
	bad := store.Settings{
		Credentials: map[source.ID]source.CredentialsBlob{
			source.Jira: {"jira_url": "https://x.atlassian.net"},
		},
	}
	if err := c.rebuildAdapters(bad); err != nil {
		t.Fatalf("rebuildAdapters with bad creds: %v", err)
	}
	if _, err := c.registry.Get(source.Jira); err == nil {
		t.Error("jira still registered after losing credentials")
	}
}

func TestBuildStreamer(t *testing.T) {
	t.Parallel()

	if _, err := buildStreamer(store.Settings{}); !errors.Is(err, pipeline.ErrMissingLLMConfig) {
		t.Errorf("no provider: err = %v, want ErrMissingLLMConfig", err)
	}
	if _, err := buildStreamer(store.Settings{LLMProvider: "grok"}); !errors.Is(err, pipeline.ErrMissingLLMConfig) {
		t.Errorf("unknown provider: err = %v, want ErrMissingLLMConfig", err)
	}
	// A keyless OpenAI config is still a config error.
	if _, err := buildStreamer(store.Settings{LLMProvider: store.ProviderOpenAI}); !errors.Is(err, pipeline.ErrMissingLLMConfig) {
		t.Errorf("keyless openai: err = %v, want ErrMissingLLMConfig", err)
	}

	s, err := buildStreamer(store.Settings{LLMProvider: store.ProviderOpenAI, LLMAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if s == nil {
		t.Fatal("openai: nil streamer")
	}

	// Ollama needs no key at all.
	if _, err := buildStreamer(store.Settings{LLMProvider: store.ProviderOllama}); err != nil {
		t.Fatalf("ollama: %v", err)
	}
}

func TestNewStreamerSimulatesWhenStreamingOff(t *testing.T) {
	t.Parallel()

	c := newTestCore(t)

	st := store.Settings{LLMProvider: store.ProviderOpenAI, LLMAPIKey: "sk-test"}
	s, err := c.newStreamer(st)
	if err != nil {
		t.Fatalf("newStreamer: %v", err)
	}
	if _, ok := s.(*llm.Simulated); !ok {
		t.Errorf("streamer type = %T, want *llm.Simulated when streaming is off", s)
	}

	st.UseStreaming = true
	s, err = c.newStreamer(st)
	if err != nil {
		t.Fatalf("newStreamer: %v", err)
	}
	if _, ok := s.(*llm.Simulated); ok {
		t.Error("streaming on, but got the simulated wrapper")
	}
}

func TestOnSettingsChangedSyncsRedactor(t *testing.T) {
	t.Parallel()

	c := newTestCore(t)

	st := store.Settings{LLMProvider: store.ProviderOpenAI, LLMAPIKey: "opaque-secret-value"}
	if err := c.onSettingsChanged(t.Context(), defaultUser, st); err != nil {
		t.Fatalf("onSettingsChanged: %v", err)
	}

	out := c.redactor.Redact("request with opaque-secret-value failed")
	if strings.Contains(out, "opaque-secret-value") {
		t.Errorf("redactor missed the new secret: %q", out)
	}
}
