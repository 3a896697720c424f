package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
)

// redacted replaces secret values in API responses. The stored value never
// leaves the server once written.
const redacted = "***REDACTED***"

// handleGetSettings returns the user's settings with credentials masked.
// A user with no stored row gets the zero settings, not a 404: the client
// renders the same form either way.
func (g *Gateway) handleGetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		s, err := g.deps.Settings.Get(r.Context(), userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("settings read failed", "user_id", userID, "error", err)
			http.Error(w, "settings read failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, redactSettings(s))
	}
}

// settingsRequest is the body of POST /settings.
type settingsRequest struct {
	UserID string `json:"user_id"`
	store.Settings
}

// handlePutSettings validates and stores the settings, then lets the core
// rebuild the credentialed adapters.
func (g *Gateway) handlePutSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		req.UserID = resolveUserID(r, req.UserID)
		if err := validateSettings(req.Settings); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := g.deps.Settings.Put(r.Context(), req.UserID, req.Settings); err != nil {
			g.logger.Error("settings write failed", "user_id", req.UserID, "error", err)
			http.Error(w, "settings write failed", http.StatusInternalServerError)
			return
		}

		if g.deps.OnSettingsChanged != nil {
			if err := g.deps.OnSettingsChanged(r.Context(), req.UserID, req.Settings); err != nil {
				g.logger.Warn("adapter rebuild failed", "user_id", req.UserID, "error", err)
			}
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// validateSettings rejects unknown providers and source ids before they
// reach the store.
func validateSettings(s store.Settings) error {
	switch s.LLMProvider {
	case "", store.ProviderOpenAI, store.ProviderAnthropic, store.ProviderGemini, store.ProviderOllama:
	default:
		return fmt.Errorf("unknown llm_provider %q", s.LLMProvider)
	}
	for _, id := range s.EnabledSources {
		if !source.Valid(id) {
			return fmt.Errorf("unknown source %q in enabled_sources", id)
		}
	}
	for id := range s.Credentials {
		if !source.Valid(id) {
			return fmt.Errorf("unknown source %q in credentials", id)
		}
	}
	return nil
}

// redactSettings masks every secret value, keeping the keys so clients can
// show which credentials are configured.
func redactSettings(s store.Settings) store.Settings {
	if s.LLMAPIKey != "" {
		s.LLMAPIKey = redacted
	}
	if len(s.Credentials) > 0 {
		masked := make(map[source.ID]source.CredentialsBlob, len(s.Credentials))
		for id, blob := range s.Credentials {
			mb := make(source.CredentialsBlob, len(blob))
			for k, v := range blob {
				if v != "" {
					mb[k] = redacted
				}
			}
			masked[id] = mb
		}
		s.Credentials = masked
	}
	return s
}
