package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures into the uniform taxonomy surfaced
// to callers.
type ErrorKind string

const (
	ErrKindAuthentication ErrorKind = "authentication_error"
	ErrKindRateLimit      ErrorKind = "rate_limit_error"
	ErrKindUnavailable    ErrorKind = "provider_unavailable"
	ErrKindInvalidRequest ErrorKind = "invalid_request_error"
	ErrKindContentFilter  ErrorKind = "content_filter_error"
)

// ProviderError is a typed upstream failure. RetryAfter is populated when
// the backend supplied a retry hint.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (http %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// NewProviderError constructs a typed provider error.
func NewProviderError(provider string, kind ErrorKind, status int, msg string) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, StatusCode: status, Message: msg}
}

// ClassifyStatus maps an HTTP status from an upstream into the taxonomy.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuthentication
	case status == 429:
		return ErrKindRateLimit
	case status >= 500:
		return ErrKindUnavailable
	default:
		return ErrKindInvalidRequest
	}
}

// KindOf extracts the taxonomy kind from an error chain, or "" when the
// error is not a provider error.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// RetryAfterOf returns the retry hint carried by a rate-limit error, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}
