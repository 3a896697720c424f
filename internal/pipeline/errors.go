package pipeline

import (
	"context"
	"errors"

	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/sibylhq/sibyl/pkg/protocol"
)

// Internal sentinels for failure classes that do not originate in the llm
// package.
var (
	errClientGone  = errors.New("pipeline: client cannot keep up")
	errRateStarved = errors.New("pipeline: rate limited")
)

// Classify maps an error to its wire kind and a client-safe message.
// Internal errors get a generic message; the real one stays in the logs.
func Classify(err error) (protocol.ErrorKind, string) {
	switch {
	case errors.Is(err, ErrMissingLLMConfig):
		return protocol.KindConfig, "no language model is configured; set one in settings"
	case errors.Is(err, llm.ErrAuth):
		return protocol.KindAuth, "the language model rejected the configured credentials"
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, errRateStarved):
		return protocol.KindRateLimited, "rate limited; try again shortly"
	case errors.Is(err, llm.ErrUpstreamTimeout):
		return protocol.KindUpstreamTimeout, "the language model did not respond in time"
	case errors.Is(err, llm.ErrUpstreamError), errors.Is(err, llm.ErrBadRequest):
		return protocol.KindUpstreamError, "the language model request failed"
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.KindDeadline, "query deadline exceeded"
	case errors.Is(err, context.Canceled), errors.Is(err, errClientGone):
		return protocol.KindClientSlow, "client disconnected or cannot keep up"
	default:
		return protocol.KindInternal, "internal error"
	}
}
