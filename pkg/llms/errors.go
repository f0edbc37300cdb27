package llms

import (
	"errors"
	"fmt"
	"net/http"
)

// StreamError is the payload of a terminal Error event.
type StreamError struct {
	// Kind is "transport" or "rejection".
	Kind string

	Message string

	// Retryable is true for connection resets, timeouts and rate limits,
	// false for 4xx-class rejections.
	Retryable bool
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

// TransportError wraps a retryable provider failure (network fault,
// timeout, rate limit, upstream overload).
type TransportError struct {
	Provider string
	Message  string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s transport error: %s", e.Provider, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError wraps a non-retryable provider rejection (bad model id,
// auth failure, quota, malformed request). Surfaced verbatim to callers.
type RejectionError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s rejected request (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s rejected request: %s", e.Provider, e.Message)
}

// IsRetryable reports whether err represents a condition worth resending.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// retryableStatus classifies HTTP status codes for stream error events.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// streamErrorEvent builds the terminal Error event for a failed stream.
func streamErrorEvent(provider string, statusCode int, err error) StreamEvent {
	kind := "rejection"
	retryable := false
	if statusCode == 0 || retryableStatus(statusCode) {
		// No status means the failure happened below HTTP (reset,
		// timeout) and is worth retrying.
		kind = "transport"
		retryable = true
	}
	return StreamEvent{
		Type: EventError,
		Err: &StreamError{
			Kind:      kind,
			Message:   fmt.Sprintf("%s: %v", provider, err),
			Retryable: retryable,
		},
	}
}
