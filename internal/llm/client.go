// Package llm abstracts the chat completion backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Client produces a completion for a fully assembled prompt.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// APIError is a non-2xx response from the model backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API error (status %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying: rate limiting, server
// errors, and network timeouts. Client errors like a bad request never
// succeed on retry.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
