// rate_limiter.go
// ----------------
// This file defines the RateLimiter type, which owns the per-provider fixed-window quota.
//
// Responsibilities:
// - One state per registered provider, created together with its ProviderConfig.
// - Lazy window rollover: a window that ended before "now" is reset on the next read.
// - Atomic admission: TryAcquire checks and reserves a slot under the provider's lock, so
//   concurrent callers can never be admitted past the limit.
// - Settlement: a Reservation is committed on success (the slot counts as used) or
//   released on failure (the slot is returned). Only successful calls consume quota.
// - Calculating how long a rejected caller has to wait for the next window.
package providergateway

import (
	"sync"
	"time"
)

type rateLimitState struct {
	mu          sync.Mutex
	limit       int
	windowStart time.Time
	generation  uint64 // Bumped on every rollover
	used        int
	reserved    int
}

// rollover must be called with mu held.
func (s *rateLimitState) rollover(now time.Time) {
	if now.After(s.windowStart.Add(RateLimitWindow)) {
		s.windowStart = now
		s.generation++
		s.used = 0
		s.reserved = 0
	}
}

func (s *rateLimitState) remaining() int {
	if r := s.limit - s.used - s.reserved; r > 0 {
		return r
	}
	return 0
}

// QuotaInfo is a point-in-time view of one provider's window.
type QuotaInfo struct {
	Limit       int
	Used        int
	InFlight    int
	Remaining   int
	WindowStart time.Time
	ResetAt     time.Time
}

type RateLimiter struct {
	mu     sync.RWMutex
	states map[string]*rateLimitState
	now    func() time.Time
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		states: make(map[string]*rateLimitState),
		now:    now,
	}
}

// setLimit creates the state for a new provider, or updates the limit of an existing
// one while keeping the current window's counters.
func (r *RateLimiter) setLimit(provider string, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[provider]
	if !ok {
		r.states[provider] = &rateLimitState{
			limit:       limit,
			windowStart: r.now(),
		}
		return
	}

	s.mu.Lock()
	s.limit = limit
	if s.used > limit {
		s.used = limit
	}
	s.mu.Unlock()
}

func (r *RateLimiter) state(provider string) (*rateLimitState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[provider]
	return s, ok
}

// TryAcquire admits one call if the current window has quota left. The returned
// Reservation must be settled with Commit or Release.
func (r *RateLimiter) TryAcquire(provider string) (*Reservation, error) {
	s, ok := r.state(provider)
	if !ok {
		return nil, ErrProviderNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := r.now()
	s.rollover(now)
	if s.remaining() <= 0 {
		return nil, &RateLimitExceededError{
			Provider:   provider,
			RetryAfter: s.windowStart.Add(RateLimitWindow).Sub(now),
		}
	}

	s.reserved++
	return &Reservation{limiter: r, state: s, generation: s.generation}, nil
}

// GetRateLimitInfo returns a snapshot of the provider's quota, rolling the window over first
// if it has expired.
func (r *RateLimiter) GetRateLimitInfo(provider string) (QuotaInfo, bool) {
	s, ok := r.state(provider)
	if !ok {
		return QuotaInfo{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover(r.now())
	return QuotaInfo{
		Limit:       s.limit,
		Used:        s.used,
		InFlight:    s.reserved,
		Remaining:   s.remaining(),
		WindowStart: s.windowStart,
		ResetAt:     s.windowStart.Add(RateLimitWindow),
	}, true
}

// delayBeforeNextRequest calculates how long a caller must wait before the provider's
// window resets. It returns zero if quota is available now.
func (r *RateLimiter) delayBeforeNextRequest(provider string) time.Duration {
	info, ok := r.GetRateLimitInfo(provider)
	if !ok || info.Remaining > 0 {
		return 0
	}
	if d := info.ResetAt.Sub(r.now()); d > 0 {
		return d
	}
	return 0
}

// Reservation is one admitted slot in a provider's window.
type Reservation struct {
	limiter    *RateLimiter
	state      *rateLimitState
	generation uint64
	settled    bool
}

// Commit charges the slot to the window and returns the quota left afterwards. A slot
// admitted in a window that has since rolled over is dropped instead of being carried
// into the new one.
func (res *Reservation) Commit() int {
	s := res.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if !res.settled {
		res.settled = true
		if s.generation == res.generation {
			s.reserved--
			s.used++
		}
	}
	s.rollover(res.limiter.now())
	return s.remaining()
}

// Release returns the slot without charging it. Releasing after Commit is a no-op.
func (res *Reservation) Release() {
	s := res.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.settled {
		return
	}
	res.settled = true
	if s.generation == res.generation {
		s.reserved--
	}
}
