package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/sibylhq/sibyl/internal/pipeline"
	"github.com/sibylhq/sibyl/pkg/protocol"
)

// handleChatWS answers over a WebSocket. Each text frame from the client is
// one chatRequest; the server replies with the same event sequence as the
// SSE endpoint, one JSON event per frame, and then waits for the next query.
func (g *Gateway) handleChatWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originHosts(g.cfg.CORSOrigins),
		})
		if err != nil {
			g.logger.Debug("websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		// A user_id on the upgrade URL carries over to frames that omit it.
		connUser := r.URL.Query().Get("user_id")

		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				// Normal closure or client gone; either way the
				// conversation is over.
				return
			}
			if typ != websocket.MessageText {
				continue
			}

			var req chatRequest
			if err := json.Unmarshal(data, &req); err != nil {
				g.wsSend(ctx, conn, protocol.Error(protocol.KindInternal, "invalid JSON query"))
				continue
			}
			if req.UserID == "" {
				req.UserID = connUser
			}
			q, ok := req.query()
			if !ok {
				g.wsSend(ctx, conn, protocol.Error(protocol.KindInternal, "message is required"))
				continue
			}

			started := time.Now()
			err = g.deps.Runner.RunStream(ctx, q, &wsSink{ctx: ctx, conn: conn, gw: g})

			status := "ok"
			if err != nil {
				kind, _ := pipeline.Classify(err)
				status = string(kind)
			}
			g.record("ws", status, started)
		}
	}
}

// originHosts converts the configured CORS origins to the host patterns
// websocket.Accept matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}

func (g *Gateway) wsSend(ctx context.Context, conn *websocket.Conn, ev protocol.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("marshal event failed", "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		g.logger.Debug("websocket write failed", "error", err)
	}
}

// wsSink delivers events as JSON text frames, without the SSE framing.
type wsSink struct {
	ctx  context.Context
	conn *websocket.Conn
	gw   *Gateway
}

var _ pipeline.Sink = (*wsSink)(nil)

func (s *wsSink) Send(ev protocol.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, payload); err != nil {
		return err
	}
	if ev.Type == protocol.EventChunk && s.gw.deps.Metrics != nil {
		s.gw.deps.Metrics.RecordChunk()
	}
	return nil
}
