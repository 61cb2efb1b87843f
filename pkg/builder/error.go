package builder

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a builder backend failure.
type Error struct {
	// Status is the HTTP status code of the response.
	Status int `json:"-"`

	// Message describes the failure.
	Message string `json:"message"`

	// Body is the raw response body.
	Body string `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("builder: %s (status=%d)", e.Message, e.Status)
}

// IsAuthError reports whether the backend rejected the credentials.
func (e *Error) IsAuthError() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Retryable reports whether the call may succeed on retry.
func (e *Error) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// AsError attempts to convert an error to *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// wrapError wraps an error with a message.
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
