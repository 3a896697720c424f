package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sibylhq/sibyl/internal/observe"
	"github.com/sibylhq/sibyl/internal/pipeline"
	"github.com/sibylhq/sibyl/pkg/protocol"
)

// chatRequest is the body of POST /chat and POST /chat/stream, and of each
// WebSocket query frame.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// resolveUserID picks the acting user: the user_id query parameter wins,
// then the body field, then the default user.
func resolveUserID(r *http.Request, body string) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	if body != "" {
		return body
	}
	return "default"
}

// query validates the request and fills defaults. A fresh session id is
// minted when the client sends none.
func (c chatRequest) query() (pipeline.Query, bool) {
	if strings.TrimSpace(c.Message) == "" {
		return pipeline.Query{}, false
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.UserID == "" {
		c.UserID = "default"
	}
	return pipeline.Query{Text: c.Message, SessionID: c.SessionID, UserID: c.UserID}, true
}

// chatResponse wraps the pipeline response with the session id so clients
// that let the server mint one can keep the thread.
type chatResponse struct {
	SessionID string `json:"session_id"`
	pipeline.Response
}

// handleChat answers synchronously: the whole response in one JSON body.
func (g *Gateway) handleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		req.UserID = resolveUserID(r, req.UserID)
		q, ok := req.query()
		if !ok {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}

		started := time.Now()
		resp, err := g.deps.Runner.Answer(r.Context(), q)
		if err != nil {
			kind, msg := pipeline.Classify(err)
			g.record("sync", string(kind), started)
			writeError(w, kind, msg)
			return
		}

		g.record("sync", "ok", started)
		writeJSON(w, http.StatusOK, chatResponse{SessionID: q.SessionID, Response: resp})
	}
}

// handleChatStream answers over SSE. The 200 goes out with the first event;
// failures after that arrive as a terminal error event.
func (g *Gateway) handleChatStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		req.UserID = resolveUserID(r, req.UserID)
		q, ok := req.query()
		if !ok {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")

		sink := &sseSink{w: w, flusher: flusher, metrics: g.deps.Metrics}

		started := time.Now()
		err := g.deps.Runner.RunStream(r.Context(), q, sink)

		status := "ok"
		if err != nil {
			kind, _ := pipeline.Classify(err)
			status = string(kind)
		}
		g.record("stream", status, started)
	}
}

func (g *Gateway) record(mode, status string, started time.Time) {
	if g.deps.Metrics != nil {
		g.deps.Metrics.RecordQuery(mode, status, time.Since(started))
	}
}

// sseSink writes events as server-sent-event frames, flushing after each so
// fragments reach the client as they are produced.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	metrics *observe.Metrics
}

var _ pipeline.Sink = (*sseSink)(nil)

func (s *sseSink) Send(ev protocol.Event) error {
	frame, err := ev.MarshalSSE()
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()

	if ev.Type == protocol.EventChunk && s.metrics != nil {
		s.metrics.RecordChunk()
	}
	return nil
}
