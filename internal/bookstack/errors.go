package bookstack

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/starford/obsidian2bookstack/internal/apperr"
)

// APIError is a non-2xx response from the BookStack API.
type APIError struct {
	Method string
	Path   string
	Status int
	// Body is the (truncated) response body, usually {"error": {...}}.
	Body string

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bookstack: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is maps statuses onto the error taxonomy: 429 and 5xx are unavailability,
// every other status is a rejection of this single operation.
func (e *APIError) Is(target error) bool {
	switch target {
	case apperr.ErrRemoteUnavailable:
		return Retryable(e.Status)
	case apperr.ErrRemoteRejected:
		return !Retryable(e.Status)
	}
	return false
}

// Retryable reports whether a status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
