package source

import (
	"errors"
	"testing"
	"time"
)

func TestFromStatus(t *testing.T) {
	t.Parallel()

	if err := FromStatus("jira", 200, ""); err != nil {
		t.Errorf("2xx mapped to %v", err)
	}
	if err := FromStatus("jira", 401, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("401 = %v, want ErrUnauthorized", err)
	}
	if err := FromStatus("jira", 404, ""); !errors.Is(err, ErrBadQuery) {
		t.Errorf("404 = %v, want ErrBadQuery", err)
	}
	if err := FromStatus("jira", 503, ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("503 = %v, want ErrUnavailable", err)
	}

	var rle *RateLimitError
	err := FromStatus("jira", 429, "30")
	if !errors.As(err, &rle) {
		t.Fatalf("429 = %v, want RateLimitError", err)
	}
	if rle.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %s, want 30s", rle.RetryAfter)
	}

	// Unparseable Retry-After degrades to zero.
	err = FromStatus("jira", 429, "Wed, 21 Oct 2026 07:28:00 GMT")
	if !errors.As(err, &rle) || rle.RetryAfter != 0 {
		t.Errorf("429 with date header = %v", err)
	}
}
