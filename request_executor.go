package providergateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/opengovern/provider-gateway/internal"
	"github.com/opengovern/provider-gateway/internal/metrics"
)

// RequestExecutor performs one logical call: auth injection, a per-attempt timeout, and
// retries with exponential backoff for transient failures.
type RequestExecutor struct {
	client      HTTPDoer
	baseBackoff time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	logger      zerolog.Logger
	metrics     *metrics.Collectors
	debug       atomic.Bool
}

func NewRequestExecutor(client HTTPDoer, logger zerolog.Logger) *RequestExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &RequestExecutor{
		client:      client,
		baseBackoff: DefaultBaseBackoff,
		sleep:       sleepContext,
		now:         time.Now,
		logger:      logger,
	}
}

// ExecResult is the outcome of a call, filled as far as the call got.
type ExecResult struct {
	Body       []byte
	StatusCode int
	Attempts   int
}

// ExecuteWithRetry runs the call described by path and opts against cfg. Attempt n
// (starting at 1) that fails transiently is followed by a wait of baseBackoff*2^n, unless
// attempts are exhausted or ctx is done.
func (re *RequestExecutor) ExecuteWithRetry(ctx context.Context, cfg ProviderConfig, path string, opts RequestOptions, requestID string) (*ExecResult, error) {
	result := &ExecResult{}

	if cfg.Auth.RequiresKey() && cfg.APIKey == "" {
		return result, &ConfigurationError{
			Provider: cfg.ID,
			Reason:   fmt.Sprintf("auth scheme %q requires an API key", cfg.Auth.Name()),
		}
	}

	target, err := resolveURL(cfg, path)
	if err != nil {
		return result, err
	}
	body, err := encodeBody(opts.Body)
	if err != nil {
		return result, err
	}

	maxAttempts := cfg.RetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		re.debugf(cfg.ID, requestID).Int("attempt", attempt).Str("path", path).Msg("sending request")

		data, status, err := re.attempt(ctx, cfg, target, opts, body, requestID)
		result.StatusCode = status
		if err == nil {
			re.metrics.ObserveAttempt(cfg.ID, "ok")
			result.Body = data
			if attempt > 1 {
				re.debugf(cfg.ID, requestID).Int("attempts", attempt).Msg("request succeeded after retries")
			}
			return result, nil
		}
		re.metrics.ObserveAttempt(cfg.ID, attemptResult(status))

		// Caller went away: no point in another attempt or a backoff sleep.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if !IsRetryable(err) {
			re.debugf(cfg.ID, requestID).Err(err).Msg("permanent failure, not retrying")
			return result, err
		}
		if attempt >= maxAttempts {
			re.debugf(cfg.ID, requestID).Err(err).Int("attempts", attempt).Msg("max attempts reached")
			return result, err
		}

		wait := re.calculateBackoff(attempt, err)
		re.debugf(cfg.ID, requestID).Err(err).Dur("backoff", wait).
			Msgf("retrying (attempt %d/%d)", attempt+1, maxAttempts)
		if err := re.sleep(ctx, wait); err != nil {
			return result, err
		}
	}
}

func (re *RequestExecutor) attempt(ctx context.Context, cfg ProviderConfig, target string, opts RequestOptions, body []byte, requestID string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.method(), target, reader)
	if err != nil {
		return nil, 0, &ConfigurationError{Provider: cfg.ID, Reason: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Request-Id", requestID)

	if err := cfg.Auth.Apply(ctx, req, cfg.APIKey); err != nil {
		return nil, 0, &AuthError{Provider: cfg.ID, Err: err}
	}

	resp, err := re.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Message:    errorMessage(data),
			RetryAfter: retryHint(resp.Header, re.now()),
		}
	}
	return data, resp.StatusCode, nil
}

// resolveURL joins path onto the provider's base URL. The result must stay on the base
// URL's scheme and host, since credentials are attached to whatever it points at.
func resolveURL(cfg ProviderConfig, path string) (string, error) {
	if path != "" && !strings.HasPrefix(path, "/") {
		return "", &ConfigurationError{Provider: cfg.ID, Reason: fmt.Sprintf("path %q must start with /", path)}
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", &ConfigurationError{Provider: cfg.ID, Reason: fmt.Sprintf("invalid base url: %v", err)}
	}
	target := cfg.BaseURL + path
	u, err := url.Parse(target)
	if err != nil {
		return "", &ConfigurationError{Provider: cfg.ID, Reason: fmt.Sprintf("invalid path %q: %v", path, err)}
	}
	if u.Scheme != base.Scheme || u.Host != base.Host {
		return "", &ConfigurationError{Provider: cfg.ID, Reason: fmt.Sprintf("path %q leaves host %s", path, base.Host)}
	}
	return target, nil
}

// calculateBackoff returns base*2^attempt capped at MaxBackoff. An upstream Retry-After
// hint longer than that wins, still under the cap.
func (re *RequestExecutor) calculateBackoff(attempt int, err error) time.Duration {
	backoff := re.baseBackoff * time.Duration(1<<attempt)
	if backoff <= 0 || backoff > MaxBackoff {
		backoff = MaxBackoff
	}

	if statusErr, ok := err.(*HTTPStatusError); ok && statusErr.RetryAfter > backoff {
		backoff = min(statusErr.RetryAfter, MaxBackoff)
	}
	return backoff
}

func (re *RequestExecutor) debugf(provider, requestID string) *zerolog.Event {
	if !re.debug.Load() {
		return nil
	}
	return re.logger.Debug().Str("provider", provider).Str("request_id", requestID)
}

func attemptResult(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return fmt.Sprintf("%d", status)
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case RawJSON:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return data, nil
	}
}

// errorMessage pulls a human readable message out of the common provider error shapes.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "error_description", "message", "errors.0.message", "detail", "error"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

// retryHint reads Retry-After, falling back to OpenAI style reset headers.
func retryHint(h http.Header, now time.Time) time.Duration {
	if d := internal.ParseRetryAfter(h.Get("Retry-After"), now); d > 0 {
		return d
	}
	return internal.ParseTimeStr(h.Get("X-Ratelimit-Reset-Requests"))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
