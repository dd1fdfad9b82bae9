package providergateway

import (
	"net/http"
	"time"
)

// RequestOptions describes one call relative to a provider's base URL.
type RequestOptions struct {
	Method  string            // Defaults to GET
	Headers map[string]string // Override provider default headers
	// Body is sent as is when it is []byte, json.RawMessage or string, and JSON encoded
	// otherwise. Nil sends no body.
	Body any
}

func (o RequestOptions) method() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return o.Method
}

// APIResponse is the uniform result of every gateway call. The gateway never returns a Go
// error across its public boundary; failures are reported through Success and Error.
type APIResponse[T any] struct {
	Success            bool   `json:"success"`
	Data               T      `json:"data,omitempty"`
	Error              string `json:"error,omitempty"`
	RateLimitRemaining int    `json:"rateLimitRemaining"`
	RetryAfterSeconds  int    `json:"retryAfter,omitempty"`
	RequestID          string `json:"requestId,omitempty"`

	StatusCode int `json:"statusCode,omitempty"` // Last upstream status, zero if none was received
	Attempts   int `json:"attempts,omitempty"`
}

// Failure builds an unsuccessful response carrying err's message.
func Failure[T any](err error) APIResponse[T] {
	return APIResponse[T]{Error: err.Error()}
}

// ProviderStatus is one entry of the gateway status snapshot.
type ProviderStatus struct {
	DisplayName     string    `json:"displayName"`
	Category        Category  `json:"category"`
	RateLimit       int       `json:"rateLimit"`
	Remaining       int       `json:"remaining"`
	WindowResetTime time.Time `json:"windowResetTime"`
	AuthScheme      string    `json:"authScheme"`
	HasAPIKey       bool      `json:"hasApiKey"`
}

// Call outcomes reported to metrics and the call log.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeNotFound    = "not_found"
)

// CallRecord describes one finished gateway call for audit purposes.
type CallRecord struct {
	RequestID  string
	Provider   string
	Method     string
	Path       string
	StatusCode int
	Outcome    string
	Error      string
	Attempts   int
	Duration   time.Duration
	StartedAt  time.Time
}
