package gateway

import (
	"net/http"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

// sourceHealth is one registered adapter's live state.
type sourceHealth struct {
	ID      source.ID `json:"id"`
	Healthy bool      `json:"healthy"`
	Breaker string    `json:"breaker"`
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status  string         `json:"status"` // "ok" or "degraded"
	Time    string         `json:"time"`   // RFC 3339 UTC
	Sources []sourceHealth `json:"sources"`
}

// handleHealth reports readiness. 200 when every registered adapter is
// healthy and no circuit is open, 503 otherwise. Load balancers key off the
// status code; humans read the body.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{
			Status:  "ok",
			Time:    time.Now().UTC().Format(time.RFC3339),
			Sources: []sourceHealth{},
		}

		for _, id := range g.deps.Registry.IDs() {
			adapter, err := g.deps.Registry.Get(id)
			if err != nil {
				continue
			}

			sh := sourceHealth{
				ID:      id,
				Healthy: adapter.Healthy(),
				Breaker: g.deps.Breakers.State(id).String(),
			}
			if !sh.Healthy || sh.Breaker == "open" {
				resp.Status = "degraded"
			}
			resp.Sources = append(resp.Sources, sh)
		}

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
