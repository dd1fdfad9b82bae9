package providergateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengovern/provider-gateway/mock"
)

type recorder struct {
	mu      sync.Mutex
	records []CallRecord
}

func (r *recorder) RecordCall(_ context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) all() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallRecord(nil), r.records...)
}

type panicDoer struct{}

func (panicDoer) Do(*http.Request) (*http.Response, error) { panic("boom") }

func registerDemo(t *testing.T, g *Gateway, url string) {
	t.Helper()
	require.NoError(t, g.RegisterProvider("demo", ProviderConfig{
		BaseURL:       url,
		RateLimit:     2,
		RetryAttempts: 1,
		Timeout:       time.Second,
		Category:      CategoryAI,
	}))
}

func TestDemoScenario(t *testing.T) {
	p := mock.NewProvider(mock.Config{Body: `{"pong":true}`})
	defer p.Close()
	g, _ := newTestGateway()
	registerDemo(t, g, p.URL())

	ctx := context.Background()
	first := g.Request(ctx, "demo", "/ping", RequestOptions{})
	require.True(t, first.Success, first.Error)
	assert.Equal(t, 1, first.RateLimitRemaining)
	assert.JSONEq(t, `{"pong":true}`, string(first.Data))
	assert.True(t, strings.HasPrefix(first.RequestID, "req_"))

	second := g.Request(ctx, "demo", "/ping", RequestOptions{})
	require.True(t, second.Success, second.Error)
	assert.Equal(t, 0, second.RateLimitRemaining)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	third := g.Request(ctx, "demo", "/ping", RequestOptions{})
	assert.False(t, third.Success)
	assert.Equal(t, "rate limit exceeded", third.Error)
	assert.Equal(t, 60, third.RetryAfterSeconds)
	assert.Empty(t, third.RequestID)
	assert.Equal(t, 2, p.Hits())
}

func TestRemainingAfterSuccessfulCalls(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, clock := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 5, Category: CategoryCRM}))

	for n := 1; n <= 5; n++ {
		resp := g.Request(context.Background(), "p", "/", RequestOptions{})
		require.True(t, resp.Success)
		assert.Equal(t, 5-n, resp.RateLimitRemaining)
	}

	clock.Advance(15 * time.Second)
	denied := g.Request(context.Background(), "p", "/", RequestOptions{})
	assert.False(t, denied.Success)
	assert.Equal(t, 45, denied.RetryAfterSeconds)

	clock.Advance(45*time.Second + time.Millisecond)
	resp := g.Request(context.Background(), "p", "/", RequestOptions{})
	require.True(t, resp.Success)
	assert.Equal(t, 4, resp.RateLimitRemaining)
}

func TestUnknownProvider(t *testing.T) {
	g, _ := newTestGateway()
	resp := g.Request(context.Background(), "nope", "/", RequestOptions{})
	assert.False(t, resp.Success)
	assert.Equal(t, "provider not configured", resp.Error)
	assert.Empty(t, resp.RequestID)
}

func TestFailedCallsDoNotConsumeQuota(t *testing.T) {
	p := mock.NewProvider(mock.Config{StatusCode: http.StatusInternalServerError, Body: `{"error":"down"}`})
	defer p.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 3, RetryAttempts: 3, Category: CategoryEmail}))

	resp := g.Request(context.Background(), "p", "/", RequestOptions{})
	assert.False(t, resp.Success)
	assert.Equal(t, "HTTP 500: Internal Server Error: down", resp.Error)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, 3, p.Hits())

	info, ok := g.GetRateLimitInfo("p")
	require.True(t, ok)
	assert.Equal(t, 3, info.Remaining)
	assert.Equal(t, 0, info.Used)
}

func TestTypedDecode(t *testing.T) {
	p := mock.NewProvider(mock.Config{Body: `{"id":"pi_123","amount":500}`})
	defer p.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("stripe", ProviderConfig{BaseURL: p.URL(), RateLimit: 2, Category: CategoryFinance}))

	type intent struct {
		ID     string `json:"id"`
		Amount int    `json:"amount"`
	}
	resp := Do[intent](context.Background(), g, "stripe", "/payment_intents", RequestOptions{Method: http.MethodPost})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, intent{ID: "pi_123", Amount: 500}, resp.Data)
}

func TestDecodeFailureReleasesQuota(t *testing.T) {
	p := mock.NewProvider(mock.Config{Body: `not json`})
	defer p.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 2, Category: CategoryAI}))

	resp := Do[map[string]any](context.Background(), g, "p", "/", RequestOptions{})
	assert.False(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Error, "decoding response"), resp.Error)
	assert.Equal(t, 1, p.Hits())

	info, _ := g.GetRateLimitInfo("p")
	assert.Equal(t, 2, info.Remaining)
}

func TestAuthInjection(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway()

	require.NoError(t, g.RegisterProvider("bearer", ProviderConfig{
		BaseURL: p.URL(), Auth: BearerToken{}, APIKey: "abc", RateLimit: 5, Category: CategoryAI,
	}))
	require.NoError(t, g.RegisterProvider("open", ProviderConfig{
		BaseURL: p.URL(), Auth: NoAuth{}, APIKey: "abc", RateLimit: 5, Category: CategoryAI,
	}))

	require.True(t, g.Request(context.Background(), "bearer", "/", RequestOptions{}).Success)
	last, _ := p.LastRequest()
	assert.Equal(t, "Bearer abc", last.Header.Get("Authorization"))

	require.True(t, g.Request(context.Background(), "open", "/", RequestOptions{}).Success)
	last, _ = p.LastRequest()
	assert.Empty(t, last.Header.Values("Authorization"))
}

func TestUpdateAPIKey(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), Auth: BearerToken{}, RateLimit: 5, Category: CategoryAI}))

	resp := g.Request(context.Background(), "p", "/", RequestOptions{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "requires an API key")
	assert.Equal(t, 0, p.Hits())

	require.NoError(t, g.UpdateAPIKey("p", "rotated"))
	require.True(t, g.Request(context.Background(), "p", "/", RequestOptions{}).Success)
	last, _ := p.LastRequest()
	assert.Equal(t, "Bearer rotated", last.Header.Get("Authorization"))

	assert.ErrorIs(t, g.UpdateAPIKey("missing", "x"), ErrProviderNotFound)
}

func TestRegisterProviderValidation(t *testing.T) {
	g, _ := newTestGateway()

	var cfgErr *ConfigurationError
	err := g.RegisterProvider("p", ProviderConfig{BaseURL: "http://x", Category: CategoryAI})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "p", cfgErr.Provider)

	err = g.RegisterProvider("p", ProviderConfig{RateLimit: 1, Category: CategoryAI})
	assert.True(t, errors.As(err, &cfgErr))

	err = g.RegisterProvider("p", ProviderConfig{BaseURL: "http://x", RateLimit: 1, Category: "games"})
	assert.True(t, errors.As(err, &cfgErr))

	_, err = g.Lookup("p")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegisterProviderDefaults(t *testing.T) {
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: "http://x", RateLimit: 1, Category: CategoryAI}))

	cfg, err := g.Lookup("p")
	require.NoError(t, err)
	assert.Equal(t, "p", cfg.ID)
	assert.Equal(t, "p", cfg.DisplayName)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "none", cfg.Auth.Name())
}

func TestReRegisterKeepsWindowCounters(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 3, Category: CategoryAI}))
	require.True(t, g.Request(context.Background(), "p", "/", RequestOptions{}).Success)

	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 10, Category: CategoryAI}))
	info, _ := g.GetRateLimitInfo("p")
	assert.Equal(t, 10, info.Limit)
	assert.Equal(t, 9, info.Remaining)
}

func TestStatus(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, clock := newTestGateway()
	require.NoError(t, g.RegisterProvider("openai", ProviderConfig{
		DisplayName: "OpenAI", BaseURL: p.URL(), Auth: BearerToken{}, APIKey: "k", RateLimit: 60, Category: CategoryAI,
	}))
	require.NoError(t, g.RegisterProvider("zapier", ProviderConfig{BaseURL: p.URL(), RateLimit: 60, Category: CategoryAutomation}))

	require.True(t, g.Request(context.Background(), "openai", "/", RequestOptions{}).Success)

	first := g.Status()
	second := g.Status()
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	openai := first["openai"]
	assert.Equal(t, "OpenAI", openai.DisplayName)
	assert.Equal(t, CategoryAI, openai.Category)
	assert.Equal(t, 60, openai.RateLimit)
	assert.Equal(t, 59, openai.Remaining)
	assert.Equal(t, clock.Now().Add(RateLimitWindow), openai.WindowResetTime)
	assert.Equal(t, "bearer", openai.AuthScheme)
	assert.True(t, openai.HasAPIKey)
	assert.False(t, first["zapier"].HasAPIKey)

	clock.Advance(RateLimitWindow + time.Second)
	assert.Equal(t, 60, g.Status()["openai"].Remaining)
}

func TestProvidersByCategory(t *testing.T) {
	g, _ := newTestGateway()
	require.NoError(t, RegisterDefaults(g))
	assert.Equal(t, []string{"anthropic", "google-ai", "openai"}, g.ProvidersByCategory(CategoryAI))
	assert.Equal(t, []string{"google-analytics", "mixpanel"}, g.ProvidersByCategory(CategoryAnalytics))
	assert.Empty(t, g.ProvidersByCategory(CategorySocial))
}

func TestConcurrentCallsNeverOverAdmit(t *testing.T) {
	const limit = 20
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: limit, Category: CategoryAI}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		limited int
	)
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := g.Request(context.Background(), "p", "/", RequestOptions{})
			mu.Lock()
			defer mu.Unlock()
			if resp.Success {
				success++
			} else if resp.Error == "rate limit exceeded" {
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, success)
	assert.Equal(t, limit, limited)
	assert.Equal(t, limit, p.Hits())
}

func TestBoundedQueueWaitsForNextWindow(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, clock := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 1, MaxQueued: 1, Category: CategoryAI}))

	require.True(t, g.Request(context.Background(), "p", "/", RequestOptions{}).Success)

	clock.Advance(10 * time.Second)
	resp := g.Request(context.Background(), "p", "/", RequestOptions{})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, []time.Duration{50*time.Second + time.Millisecond}, clock.Sleeps())
	assert.Equal(t, 2, p.Hits())
}

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 1, MaxQueued: 1, Category: CategoryAI}))
	require.True(t, g.Request(context.Background(), "p", "/", RequestOptions{}).Success)

	// Occupy the only queue slot.
	require.True(t, g.queues["p"].TryAcquire(1))
	defer g.queues["p"].Release(1)

	resp := g.Request(context.Background(), "p", "/", RequestOptions{})
	assert.False(t, resp.Success)
	assert.Equal(t, "rate limit exceeded", resp.Error)
	assert.Equal(t, 60, resp.RetryAfterSeconds)
}

func TestQueuedCallerCancelled(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway(WithSleeper(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 1, MaxQueued: 5, Category: CategoryAI}))
	require.True(t, g.Request(context.Background(), "p", "/", RequestOptions{}).Success)

	resp := g.Request(context.Background(), "p", "/", RequestOptions{})
	assert.False(t, resp.Success)
	assert.Equal(t, context.Canceled.Error(), resp.Error)
}

func TestPanicIsRecovered(t *testing.T) {
	rec := &recorder{}
	g, _ := newTestGateway(WithHTTPClient(panicDoer{}), WithCallRecorder(rec))
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: "http://upstream.invalid", RateLimit: 1, Category: CategoryAI}))

	var resp APIResponse[RawJSON]
	require.NotPanics(t, func() {
		resp = g.Request(context.Background(), "p", "/", RequestOptions{})
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "internal error: boom", resp.Error)
	assert.NotEmpty(t, resp.RequestID)

	info, _ := g.GetRateLimitInfo("p")
	assert.Equal(t, 1, info.Remaining)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeError, records[0].Outcome)
}

func TestCallRecorder(t *testing.T) {
	p := mock.NewProvider(mock.Config{FailuresBeforeSuccess: 1})
	defer p.Close()
	rec := &recorder{}
	g, _ := newTestGateway(WithCallRecorder(rec))
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{BaseURL: p.URL(), RateLimit: 1, Category: CategoryAI}))

	ok := g.Request(context.Background(), "p", "/things", RequestOptions{Method: http.MethodPost})
	require.True(t, ok.Success)
	denied := g.Request(context.Background(), "p", "/things", RequestOptions{})
	require.False(t, denied.Success)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, ok.RequestID, records[0].RequestID)
	assert.Equal(t, "p", records[0].Provider)
	assert.Equal(t, http.MethodPost, records[0].Method)
	assert.Equal(t, "/things", records[0].Path)
	assert.Equal(t, http.StatusOK, records[0].StatusCode)
	assert.Equal(t, OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, 2, records[0].Attempts)
}

func TestMetricsHandler(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway()
	registerDemo(t, g, p.URL())
	for i := 0; i < 3; i++ {
		g.Request(context.Background(), "demo", "/ping", RequestOptions{})
	}

	srv := httptest.NewServer(g.MetricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `provider_gateway_calls_total{outcome="success",provider="demo"} 2`)
	assert.Contains(t, text, `provider_gateway_calls_total{outcome="rate_limited",provider="demo"} 1`)
	assert.Contains(t, text, `provider_gateway_quota_remaining{provider="demo"} 0`)
}

func TestHungTokenEndpointReleasesQuota(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	release := make(chan struct{})
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer tokenServer.Close()
	defer close(release)

	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("crm", ProviderConfig{
		BaseURL:       p.URL(),
		Auth:          &OAuth2ClientCredentials{ClientID: "id", TokenURL: tokenServer.URL},
		APIKey:        "secret",
		RateLimit:     5,
		RetryAttempts: 1,
		Timeout:       200 * time.Millisecond,
		Category:      CategoryCRM,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan APIResponse[RawJSON], 1)
	go func() { done <- g.Request(ctx, "crm", "/sobjects/Contact", RequestOptions{}) }()

	select {
	case resp := <-done:
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Error)
	case <-time.After(3 * time.Second):
		t.Fatal("call blocked on the token endpoint")
	}
	info, _ := g.GetRateLimitInfo("crm")
	assert.Equal(t, 5, info.Remaining)
	assert.Equal(t, 0, p.Hits())
}

func TestPathCannotRedirectCredentials(t *testing.T) {
	attacker := mock.NewProvider(mock.Config{})
	defer attacker.Close()
	g, _ := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{
		BaseURL:   "http://api.example.invalid",
		Auth:      BearerToken{},
		APIKey:    "sk-secret",
		RateLimit: 5,
		Category:  CategoryAI,
	}))

	path := "@" + strings.TrimPrefix(attacker.URL(), "http://") + "/x"
	resp := g.Request(context.Background(), "p", path, RequestOptions{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "must start with /")
	assert.Equal(t, 0, attacker.Hits())

	info, _ := g.GetRateLimitInfo("p")
	assert.Equal(t, 5, info.Remaining)
}

func TestUnknownProvidersShareOneMetricSeries(t *testing.T) {
	g, _ := newTestGateway()
	for i := 0; i < 50; i++ {
		g.Request(context.Background(), fmt.Sprintf("bogus-%d", i), "/", RequestOptions{})
	}

	count, err := testutil.GatherAndCount(g.metrics.Registry(), "provider_gateway_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegisteredProviderAlwaysHasLimiterState(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, _ := newTestGateway()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = g.RegisterProvider(fmt.Sprintf("p%d", i), ProviderConfig{BaseURL: p.URL(), RateLimit: 1, Category: CategoryAI})
		}
	}()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%d", i)
		for {
			if _, err := g.Lookup(id); err == nil {
				break
			}
			runtime.Gosched()
		}
		resp := g.Request(context.Background(), id, "/", RequestOptions{})
		assert.NotEqual(t, ErrProviderNotFound.Error(), resp.Error, id)
	}
	wg.Wait()
}

func TestRegisterRejectsHeaderKeyWithoutName(t *testing.T) {
	g, _ := newTestGateway()
	err := g.RegisterProvider("p", ProviderConfig{
		BaseURL:   "http://x",
		Auth:      HeaderKey{},
		RateLimit: 1,
		Category:  CategoryAI,
	})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Reason, "header name")
}

func TestSignedJWTUsesGatewayClock(t *testing.T) {
	p := mock.NewProvider(mock.Config{})
	defer p.Close()
	g, clock := newTestGateway()
	require.NoError(t, g.RegisterProvider("p", ProviderConfig{
		BaseURL:   p.URL(),
		Auth:      SignedJWT{Issuer: "gateway", TTL: time.Minute},
		APIKey:    "shared-secret",
		RateLimit: 1,
		Category:  CategoryAutomation,
	}))

	require.True(t, g.Request(context.Background(), "p", "/", RequestOptions{}).Success)
	last, ok := p.LastRequest()
	require.True(t, ok)

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(strings.TrimPrefix(last.Header.Get("Authorization"), "Bearer "), claims,
		func(*jwt.Token) (any, error) { return []byte("shared-secret"), nil })
	require.NoError(t, err)
	assert.True(t, claims.IssuedAt.Time.Equal(clock.Now()))
	assert.True(t, claims.ExpiresAt.Time.Equal(clock.Now().Add(time.Minute)))
}
