package providergateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/opengovern/provider-gateway/internal"
)

var (
	// ErrProviderNotFound is returned for ids that were never registered.
	ErrProviderNotFound = errors.New("provider not configured")
	// ErrProviderNotSupported is returned by adapters for a provider choice they do not route.
	ErrProviderNotSupported = errors.New("provider not supported")
)

// ConfigurationError marks a call that can never succeed with the current provider setup.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Provider == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("provider %q misconfigured: %s", e.Provider, e.Reason)
}

// RateLimitExceededError is returned when the provider quota for the current window is spent.
type RateLimitExceededError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return "rate limit exceeded"
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (e *RateLimitExceededError) RetryAfterSeconds() int {
	if s := internal.CeilSeconds(e.RetryAfter); s > 0 {
		return s
	}
	return 1
}

// HTTPStatusError carries a non-2xx upstream response.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Message    string        // Best-effort error message extracted from the body
	RetryAfter time.Duration // Parsed from upstream hints, zero if absent
}

func (e *HTTPStatusError) Error() string {
	s := fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// Temporary reports whether the status is worth retrying: 429 and every 5xx.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AuthError wraps a failure to produce credentials for a request.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticating to %q: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DecodeError wraps a response body that could not be parsed into the requested type.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decoding response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable is the executor's retry predicate. Timeouts, connection failures,
// 5xx and 429 are transient; everything else is returned to the caller as is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cfgErr *ConfigurationError
	var authErr *AuthError
	var decErr *DecodeError
	if errors.As(err, &cfgErr) || errors.As(err, &authErr) || errors.As(err, &decErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
