package source

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// FromStatus maps an HTTP response status to the adapter error set. Returns
// nil for 2xx. retryAfter is the raw Retry-After header value, seconds or
// empty; HTTP-date values are ignored.
func FromStatus(service string, status int, retryAfter string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w", service, ErrUnauthorized)
	case status == http.StatusTooManyRequests:
		var wait time.Duration
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return &RateLimitError{RetryAfter: wait}
	case status >= 400 && status < 500:
		return fmt.Errorf("%s: status %d: %w", service, status, ErrBadQuery)
	default:
		return fmt.Errorf("%s: status %d: %w", service, status, ErrUnavailable)
	}
}
