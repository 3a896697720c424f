package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sibylhq/sibyl/internal/store"
)

// historyResponse is the body of GET /chat/history/{sessionID}.
type historyResponse struct {
	SessionID string       `json:"session_id"`
	History   []store.Turn `json:"history"`
}

// handleGetHistory returns the whole transcript, oldest turn first.
func (g *Gateway) handleGetHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		turns, err := g.deps.Transcripts.Recent(r.Context(), sessionID, 0)
		if err != nil {
			g.logger.Error("history read failed", "session_id", sessionID, "error", err)
			http.Error(w, "history read failed", http.StatusInternalServerError)
			return
		}
		if turns == nil {
			turns = []store.Turn{}
		}

		writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, History: turns})
	}
}

// handleDeleteHistory drops the whole session. Deleting an absent session
// still returns 204.
func (g *Gateway) handleDeleteHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		if err := g.deps.Transcripts.Delete(r.Context(), sessionID); err != nil {
			g.logger.Error("history delete failed", "session_id", sessionID, "error", err)
			http.Error(w, "history delete failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
