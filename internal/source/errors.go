package source

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors adapters map wire failures onto. The orchestrator uses
// them to decide what feeds the circuit breaker and the rate gate.
var (
	// ErrUnauthorized indicates the source rejected the stored credentials.
	// Permanent until settings change; not counted as a circuit failure.
	ErrUnauthorized = errors.New("source: unauthorized")

	// ErrBadQuery indicates the source rejected the request itself.
	// Permanent; not counted as a circuit failure.
	ErrBadQuery = errors.New("source: bad query")

	// ErrUnavailable indicates a transient upstream failure.
	ErrUnavailable = errors.New("source: unavailable")
)

// RateLimitError indicates the source returned a rate limit response.
// RetryAfter is zero when the source did not say how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source: rate limited, retry after %s", e.RetryAfter)
	}
	return "source: rate limited"
}

// Permanent reports whether err is a client-side failure that retrying or
// circuit accounting cannot help with.
func Permanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBadQuery)
}
