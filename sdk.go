// sdk.go
// ------
// The sdk.go file contains the core Gateway struct and its methods.
// This is the main entry point for application code.
//
// Key functionalities include:
// - Constructing an isolated gateway with New()
// - Registering providers with RegisterProvider() and rotating keys with UpdateAPIKey()
// - Making requests via Request() or the typed Do()
// - Reading the live quota of every provider via Status()
//
// The Gateway relies on a Registry, a RateLimiter and a RequestExecutor, ensuring consistent
// behavior across all providers. Limits are enforced per process: replicas running behind a
// load balancer each enforce their own quota.
package providergateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/opengovern/provider-gateway/internal/metrics"
)

// unknownProviderLabel is the metrics label for calls naming an unregistered provider.
const unknownProviderLabel = "unknown"

type Gateway struct {
	mu          sync.Mutex // Serializes registration and guards queues
	registry    *Registry
	rateLimiter *RateLimiter
	executor    *RequestExecutor
	queues      map[string]*semaphore.Weighted

	logger   zerolog.Logger
	metrics  *metrics.Collectors
	recorder CallRecorder
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithHTTPClient replaces the client used for outbound calls.
func WithHTTPClient(client HTTPDoer) Option {
	return func(g *Gateway) { g.executor.client = client }
}

// WithClock replaces the time source used for rate limit windows.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithSleeper replaces how the gateway waits between retries and for queued quota.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = sleep }
}

// WithBaseBackoff sets the retry base; the wait after attempt n is base*2^n.
func WithBaseBackoff(d time.Duration) Option {
	return func(g *Gateway) { g.executor.baseBackoff = d }
}

// WithCallRecorder sends a record of every call to rec.
func WithCallRecorder(rec CallRecorder) Option {
	return func(g *Gateway) { g.recorder = rec }
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		registry: NewRegistry(),
		queues:   make(map[string]*semaphore.Weighted),
		logger:   zerolog.Nop(),
		metrics:  metrics.New(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	g.executor = NewRequestExecutor(http.DefaultClient, g.logger)
	for _, opt := range opts {
		opt(g)
	}

	g.rateLimiter = NewRateLimiter(g.now)
	g.executor.logger = g.logger
	g.executor.metrics = g.metrics
	g.executor.now = g.now
	g.executor.sleep = g.sleep
	return g
}

// SetDebug enables or disables per-attempt debug logging.
func (g *Gateway) SetDebug(enabled bool) {
	g.executor.debug.Store(enabled)
}

// RegisterProvider stores cfg under id and creates its rate limit state. Registering an
// existing id replaces the configuration but keeps the counters of the current window.
func (g *Gateway) RegisterProvider(id string, cfg ProviderConfig) error {
	cfg.ID = id
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	if s, ok := cfg.Auth.(SignedJWT); ok && s.Now == nil {
		s.Now = g.now
		cfg.Auth = s
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Limiter state first: a config visible through the registry always has its state.
	g.rateLimiter.setLimit(id, cfg.RateLimit)
	g.registry.Register(cfg)
	if cfg.MaxQueued > 0 {
		g.queues[id] = semaphore.NewWeighted(int64(cfg.MaxQueued))
	} else {
		delete(g.queues, id)
	}

	if info, ok := g.rateLimiter.GetRateLimitInfo(id); ok {
		g.metrics.SetRemaining(id, info.Remaining)
	}
	g.logger.Info().Str("provider", id).Str("category", string(cfg.Category)).
		Int("rate_limit", cfg.RateLimit).Str("auth", cfg.Auth.Name()).Msg("registered provider")
	return nil
}

// UpdateAPIKey rotates the key of a registered provider.
func (g *Gateway) UpdateAPIKey(id, key string) error {
	if err := g.registry.UpdateAPIKey(id, key); err != nil {
		return fmt.Errorf("updating api key for %q: %w", id, err)
	}
	g.logger.Info().Str("provider", id).Msg("api key updated")
	return nil
}

// Lookup returns the provider's configuration.
func (g *Gateway) Lookup(id string) (ProviderConfig, error) {
	return g.registry.Lookup(id)
}

// ProvidersByCategory lists the ids registered under category.
func (g *Gateway) ProvidersByCategory(category Category) []string {
	return g.registry.ListByCategory(category)
}

// GetRateLimitInfo returns the current quota of a provider.
func (g *Gateway) GetRateLimitInfo(id string) (QuotaInfo, bool) {
	return g.rateLimiter.GetRateLimitInfo(id)
}

// Status returns a snapshot of every registered provider keyed by id. It only reads
// state, apart from rolling over windows that have already expired.
func (g *Gateway) Status() map[string]ProviderStatus {
	status := make(map[string]ProviderStatus)
	for _, cfg := range g.registry.All() {
		info, _ := g.rateLimiter.GetRateLimitInfo(cfg.ID)
		status[cfg.ID] = ProviderStatus{
			DisplayName:     cfg.DisplayName,
			Category:        cfg.Category,
			RateLimit:       cfg.RateLimit,
			Remaining:       info.Remaining,
			WindowResetTime: info.ResetAt,
			AuthScheme:      cfg.Auth.Name(),
			HasAPIKey:       cfg.APIKey != "",
		}
	}
	return status
}

// MetricsHandler serves the gateway's Prometheus metrics.
func (g *Gateway) MetricsHandler() http.Handler {
	return g.metrics.Handler()
}

// Request calls the provider and returns the raw response body on success.
func (g *Gateway) Request(ctx context.Context, providerID, path string, opts RequestOptions) APIResponse[RawJSON] {
	return Do[RawJSON](ctx, g, providerID, path, opts)
}

// Do calls the provider and decodes a successful response body into T.
func Do[T any](ctx context.Context, g *Gateway, providerID, path string, opts RequestOptions) (resp APIResponse[T]) {
	start := g.now()

	cfg, err := g.registry.Lookup(providerID)
	if err != nil {
		g.metrics.ObserveCall(unknownProviderLabel, OutcomeNotFound, 0)
		g.logger.Warn().Str("provider", providerID).Msg("request for unknown provider")
		return Failure[T](ErrProviderNotFound)
	}

	reservation, err := g.acquire(ctx, cfg)
	if err != nil {
		var limitErr *RateLimitExceededError
		if errors.As(err, &limitErr) {
			g.metrics.ObserveCall(providerID, OutcomeRateLimited, 0)
			g.logger.Warn().Str("provider", providerID).Int("retry_after", limitErr.RetryAfterSeconds()).
				Msg("rate limit exceeded")
			return APIResponse[T]{Error: limitErr.Error(), RetryAfterSeconds: limitErr.RetryAfterSeconds()}
		}
		return Failure[T](err)
	}

	requestID := newRequestID()
	var result *ExecResult
	defer func() {
		if r := recover(); r != nil {
			reservation.Release()
			g.logger.Error().Str("provider", providerID).Str("request_id", requestID).
				Interface("panic", r).Msg("recovered from panic during call")
			resp = APIResponse[T]{Error: fmt.Sprintf("internal error: %v", r), RequestID: requestID}
		}
		g.finish(ctx, cfg, path, opts, requestID, start, result, resp)
	}()

	result, err = g.executor.ExecuteWithRetry(ctx, cfg, path, opts, requestID)
	var data T
	if err == nil && len(result.Body) > 0 {
		if decodeErr := json.Unmarshal(result.Body, &data); decodeErr != nil {
			err = &DecodeError{Err: decodeErr}
		}
	}

	if err != nil {
		reservation.Release()
		return APIResponse[T]{
			Error:      err.Error(),
			RequestID:  requestID,
			StatusCode: result.StatusCode,
			Attempts:   result.Attempts,
		}
	}

	remaining := reservation.Commit()
	return APIResponse[T]{
		Success:            true,
		Data:               data,
		RateLimitRemaining: remaining,
		RequestID:          requestID,
		StatusCode:         result.StatusCode,
		Attempts:           result.Attempts,
	}
}

// acquire admits the call, waiting in the provider's bounded queue for the next window if
// one is configured and has room.
func (g *Gateway) acquire(ctx context.Context, cfg ProviderConfig) (*Reservation, error) {
	reservation, err := g.rateLimiter.TryAcquire(cfg.ID)
	var limitErr *RateLimitExceededError
	if err == nil || !errors.As(err, &limitErr) {
		return reservation, err
	}

	g.mu.Lock()
	queue := g.queues[cfg.ID]
	g.mu.Unlock()
	if queue == nil || !queue.TryAcquire(1) {
		return nil, err
	}
	defer queue.Release(1)

	for {
		wait := g.rateLimiter.delayBeforeNextRequest(cfg.ID)
		g.logger.Debug().Str("provider", cfg.ID).Dur("wait", wait).Msg("queued for next rate limit window")
		// The window rolls over strictly after its end, so wait one tick past it.
		if err := g.sleep(ctx, wait+time.Millisecond); err != nil {
			return nil, err
		}
		reservation, err = g.rateLimiter.TryAcquire(cfg.ID)
		if err == nil || !errors.As(err, &limitErr) {
			return reservation, err
		}
	}
}

func (g *Gateway) finish(ctx context.Context, cfg ProviderConfig, path string, opts RequestOptions, requestID string, start time.Time, result *ExecResult, resp any) {
	elapsed := g.now().Sub(start)

	rec := CallRecord{
		RequestID: requestID,
		Provider:  cfg.ID,
		Method:    opts.method(),
		Path:      path,
		Duration:  elapsed,
		StartedAt: start,
	}
	if result != nil {
		rec.StatusCode = result.StatusCode
		rec.Attempts = result.Attempts
	}

	outcome, errMsg := responseOutcome(resp)
	rec.Outcome, rec.Error = outcome, errMsg

	g.metrics.ObserveCall(cfg.ID, outcome, elapsed)
	if info, ok := g.rateLimiter.GetRateLimitInfo(cfg.ID); ok {
		g.metrics.SetRemaining(cfg.ID, info.Remaining)
	}

	event := g.logger.Info()
	if outcome != OutcomeSuccess {
		event = g.logger.Warn().Str("error", errMsg)
	}
	event.Str("provider", cfg.ID).Str("request_id", requestID).Int("status", rec.StatusCode).
		Int("attempts", rec.Attempts).Dur("elapsed", elapsed).Msg("provider call finished")

	if g.recorder != nil {
		if err := g.recorder.RecordCall(context.WithoutCancel(ctx), rec); err != nil {
			g.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to record call")
		}
	}
}

// outcomeReporter is satisfied by every APIResponse instantiation.
type outcomeReporter interface {
	outcome() (string, string)
}

func (r APIResponse[T]) outcome() (string, string) {
	if r.Success {
		return OutcomeSuccess, ""
	}
	return OutcomeError, r.Error
}

func responseOutcome(resp any) (string, string) {
	if r, ok := resp.(outcomeReporter); ok {
		return r.outcome()
	}
	return OutcomeError, ""
}

func newRequestID() string {
	return "req_" + uuid.Must(uuid.NewV7()).String()
}
