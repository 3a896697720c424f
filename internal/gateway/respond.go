package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/sibylhq/sibyl/pkg/protocol"
)

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON error shape for the non-streaming endpoints. The
// kind field matches the streaming error event.
type errorBody struct {
	Kind    protocol.ErrorKind `json:"kind"`
	Message string             `json:"message"`
}

// writeError maps a wire error kind to an HTTP status.
func writeError(w http.ResponseWriter, kind protocol.ErrorKind, msg string) {
	writeJSON(w, kindStatus(kind), errorBody{Kind: kind, Message: msg})
}

// kindStatus assigns each failure class an HTTP status for the synchronous
// endpoints. Streaming endpoints never reach here: they have already sent
// 200 and report failures as error events.
func kindStatus(kind protocol.ErrorKind) int {
	switch kind {
	case protocol.KindAuth:
		return http.StatusUnauthorized
	case protocol.KindConfig:
		return http.StatusUnprocessableEntity
	case protocol.KindRateLimited:
		return http.StatusTooManyRequests
	case protocol.KindUpstreamTimeout, protocol.KindDeadline:
		return http.StatusGatewayTimeout
	case protocol.KindUpstreamError:
		return http.StatusBadGateway
	case protocol.KindClientSlow:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
