package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors every provider maps its failures onto. The set is closed;
// the wire-level error kinds derive from it.
var (
	// ErrAuth indicates the provider rejected the configured credentials.
	ErrAuth = errors.New("llm: authentication rejected")

	// ErrRateLimited indicates the provider returned a rate limit response.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrBadRequest indicates the request itself was malformed or too large.
	ErrBadRequest = errors.New("llm: bad request")

	// ErrUpstreamTimeout indicates the stream did not begin in time.
	ErrUpstreamTimeout = errors.New("llm: upstream timeout")

	// ErrUpstreamError indicates the provider failed or the stream ended
	// abnormally partway through.
	ErrUpstreamError = errors.New("llm: upstream error")
)

// IsRetryable reports whether the error is transient and the same request
// may succeed after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamError)
}

// ClassifyStatus maps an HTTP response status to the sentinel set. Shared
// by the raw-HTTP providers.
func ClassifyStatus(status int, detail string) error {
	var sentinel error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = ErrAuth
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case status >= 400 && status < 500:
		sentinel = ErrBadRequest
	case status == http.StatusGatewayTimeout:
		sentinel = ErrUpstreamTimeout
	default:
		sentinel = ErrUpstreamError
	}
	if detail == "" {
		return fmt.Errorf("%w: status %d", sentinel, status)
	}
	return fmt.Errorf("%w: status %d: %s", sentinel, status, detail)
}
