package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
	"github.com/sibylhq/sibyl/internal/store"
)

// probeTimeout bounds each connection test. These are user-initiated and
// interactive; nobody waits a minute for a form to validate.
const probeTimeout = 10 * time.Second

// probeResult is one credential check outcome.
type probeResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// testConnectionResponse reports one probe per configured credential plus
// the model.
type testConnectionResponse struct {
	LLM     probeResult               `json:"llm"`
	Sources map[source.ID]probeResult `json:"sources"`
}

// handleTestConnection probes the posted settings against the live
// services without storing anything. The body is the same settings shape
// POST /settings accepts.
func (g *Gateway) handleTestConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s store.Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := validateSettings(s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := testConnectionResponse{Sources: make(map[source.ID]probeResult)}

		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		resp.LLM = probe(g.deps.Tester.TestLLM(ctx, s))
		for id, creds := range s.Credentials {
			resp.Sources[id] = probe(g.deps.Tester.TestSource(ctx, id, creds))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func probe(err error) probeResult {
	if err != nil {
		return probeResult{Error: err.Error()}
	}
	return probeResult{OK: true}
}
