package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router constructs the chi mux with all routes wired. Exported so tests
// drive the handlers without a listener.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware(g.cfg.CORSOrigins))

	r.Get("/health", g.handleHealth())
	if g.deps.Metrics != nil {
		r.Handle("/metrics", g.deps.Metrics.Handler())
	}

	r.Route("/chat", func(r chi.Router) {
		r.Post("/", g.handleChat())
		r.Post("/stream", g.handleChatStream())
		r.Get("/ws", g.handleChatWS())
		r.Get("/history/{sessionID}", g.handleGetHistory())
		r.Delete("/history/{sessionID}", g.handleDeleteHistory())
	})

	r.Get("/settings/{userID}", g.handleGetSettings())
	r.Post("/settings", g.handlePutSettings())
	r.Post("/test-connection", g.handleTestConnection())

	return r
}
