package mock

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

const (
	MockDefaultStatus = http.StatusOK
	MockDefaultBody   = `{"success":true}`
)

// Config scripts the fake provider's behavior. The zero value answers every request
// with 200 and MockDefaultBody.
type Config struct {
	RequestsUntilRateLimit int  // How many requests until we start returning 429
	ShouldReturn429Always  bool // If true, always return 429

	FailuresBeforeSuccess int // Leading requests answered with FailureStatus
	FailureStatus         int // Defaults to 503

	StatusCode int    // Status of a normal answer
	Body       string // Body of a normal answer

	Delay      time.Duration // Applied before every answer, aborted if the client goes away
	RetryAfter string        // Sent as Retry-After on 429 and failure answers
}

// Request is what the fake provider saw for one hit.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Provider is an upstream API on a local listener.
type Provider struct {
	cfg    Config
	server *httptest.Server

	mu       sync.Mutex
	requests []Request
}

func NewProvider(cfg Config) *Provider {
	if cfg.FailureStatus == 0 {
		cfg.FailureStatus = http.StatusServiceUnavailable
	}
	if cfg.StatusCode == 0 {
		cfg.StatusCode = MockDefaultStatus
	}
	if cfg.Body == "" {
		cfg.Body = MockDefaultBody
	}
	p := &Provider{cfg: cfg}
	p.server = httptest.NewServer(http.HandlerFunc(p.serve))
	return p
}

// URL is the base URL to register the provider with.
func (p *Provider) URL() string { return p.server.URL }

func (p *Provider) Close() { p.server.Close() }

// Hits returns the number of requests received so far.
func (p *Provider) Hits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns a copy of everything received so far.
func (p *Provider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// LastRequest returns the most recent request, or false if none arrived.
func (p *Provider) LastRequest() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return Request{}, false
	}
	return p.requests[len(p.requests)-1], true
}

func (p *Provider) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	p.mu.Lock()
	p.requests = append(p.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	count := len(p.requests)
	p.mu.Unlock()

	if p.cfg.Delay > 0 {
		select {
		case <-time.After(p.cfg.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Mock-Request-Count", strconv.Itoa(count))

	switch {
	case p.cfg.ShouldReturn429Always || (p.cfg.RequestsUntilRateLimit > 0 && count > p.cfg.RequestsUntilRateLimit):
		p.fail(w, http.StatusTooManyRequests, `{"error":{"message":"Rate limited"}}`)
	case count <= p.cfg.FailuresBeforeSuccess:
		p.fail(w, p.cfg.FailureStatus, `{"error":{"message":"upstream unavailable"}}`)
	default:
		w.WriteHeader(p.cfg.StatusCode)
		_, _ = io.WriteString(w, p.cfg.Body)
	}
}

func (p *Provider) fail(w http.ResponseWriter, status int, body string) {
	if p.cfg.RetryAfter != "" {
		w.Header().Set("Retry-After", p.cfg.RetryAfter)
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
