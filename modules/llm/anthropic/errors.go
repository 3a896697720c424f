package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/sibylhq/sibyl/internal/llm"
)

// mapError converts an Anthropic SDK error into the llm sentinel set.
// Context errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", llm.ErrUpstreamError, err)
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", llm.ErrAuth, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %v", llm.ErrBadRequest, err)
	// 529 is Anthropic's "overloaded" status.
	case 529, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %v", llm.ErrUpstreamError, err)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %v", llm.ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %v", llm.ErrUpstreamError, err)
	}
}
