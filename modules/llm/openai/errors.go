package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/sibylhq/sibyl/internal/llm"
)

// mapHTTPError maps an HTTP status code and response body to the llm
// sentinel set. Returns nil for 2xx status codes.
func mapHTTPError(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	// Try to extract the error message from the response body.
	msg := string(body)
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	return llm.ClassifyStatus(statusCode, msg)
}

// mapConnectionError maps network-level errors to the llm sentinel set.
// Context errors pass through unchanged.
func mapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", llm.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%w: %v", llm.ErrUpstreamError, err)
	}
	return fmt.Errorf("openai: %w", err)
}
