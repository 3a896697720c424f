// Package store defines the persistence contracts for user settings and
// chat transcripts, with in-memory implementations for tests and for
// running without a database. The SQLite implementation lives in
// modules/store/sqlite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

// ErrNotFound is returned when the requested key has no stored value.
var ErrNotFound = errors.New("store: not found")

// LLM provider names accepted in settings.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Settings is one user's configuration. Credentials are opaque to the core;
// only the matching source adapter interprets its blob.
type Settings struct {
	LLMProvider     string                               `json:"llm_provider"`
	LLMModel        string                               `json:"llm_model"`
	LLMAPIKey       string                               `json:"llm_api_key"`
	Credentials     map[source.ID]source.CredentialsBlob `json:"credentials,omitempty"`
	EnableWebSearch bool                                 `json:"enable_web_search"`
	UseStreaming    bool                                 `json:"use_streaming"`
	EnabledSources  []source.ID                          `json:"enabled_sources"`
}

// SourceEnabled reports whether id is in the enabled set. vector_cache and
// web are enabled by default; web additionally honors EnableWebSearch.
func (s Settings) SourceEnabled(id source.ID) bool {
	if id == source.Web && !s.EnableWebSearch {
		return false
	}
	if id == source.VectorCache || id == source.Web {
		return true
	}
	for _, e := range s.EnabledSources {
		if e == id {
			return true
		}
	}
	return false
}

// Turn is one exchange in a session transcript.
type Turn struct {
	ID          string      `json:"id"`
	UserMessage string      `json:"user_message"`
	BotResponse string      `json:"bot_response"`
	Sources     []source.ID `json:"sources"`
	UsedSources []source.ID `json:"used_sources"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SettingsStore persists per-user settings. Put is an idempotent upsert.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (Settings, error)
	Put(ctx context.Context, userID string, s Settings) error
}

// TranscriptStore persists session transcripts in turn order.
type TranscriptStore interface {
	// Append adds a turn. An empty Turn.ID is assigned by the store.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Recent returns the last n turns, oldest first. n <= 0 returns all.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)

	// Delete removes the whole session. Deleting an absent session is not
	// an error.
	Delete(ctx context.Context, sessionID string) error
}
