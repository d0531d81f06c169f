package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// HTTPStatusError is a non-2xx answer from a collaborator's HTTP API.
type HTTPStatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s http status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Status, e.Body)
}

// Retryable reports whether resubmitting the turn may succeed.
func (e *HTTPStatusError) Retryable() bool {
	return IsRetryableHTTPStatus(e.Status)
}

// Classify maps a collaborator error to a short, bounded label for metrics.
func Classify(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return "http_" + strconv.Itoa(statusErr.Status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	return "error"
}

// IsRetryable reports whether err is worth a fresh attempt by the caller.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
