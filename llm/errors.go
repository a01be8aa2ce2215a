package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderError is a failure reported by (or on the way to) an LLM vendor.
// Retryable distinguishes transient faults (rate limits, server errors,
// network) from permanent ones (bad request, auth).
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// AuthenticationError is never retried; a bad key does not get better.
type AuthenticationError struct {
	ProviderError
}

// RateLimitError is retried with backoff, honoring Retry-After when the
// vendor supplies one.
type RateLimitError struct {
	ProviderError
	RetryAfter time.Duration
}

// classifyStatus maps an HTTP status to the error taxonomy. Unknown statuses
// default to retryable; a transient infrastructure hiccup is the common
// case.
func classifyStatus(provider string, status int, msg string, cause error) error {
	pe := ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    msg,
		Cause:      cause,
	}
	switch status {
	case 401, 403:
		return &AuthenticationError{ProviderError: pe}
	case 400, 404, 413, 422:
		return &pe
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 408, 500, 502, 503, 504:
		pe.Retryable = true
		return &pe
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether the agent loop may retry the call.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var auth *AuthenticationError
	if errors.As(err, &auth) {
		return false
	}
	var rate *RateLimitError
	if errors.As(err, &rate) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	// Untyped errors are treated as transient network faults.
	return true
}
