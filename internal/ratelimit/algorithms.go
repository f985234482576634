package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindowLimiter implements the sliding window log algorithm: a log of
// request timestamps, pruned on every decision, admits a request only when
// fewer than Limit requests happened inside the window.
type SlidingWindowLimiter struct {
	cfg Config

	mu         sync.Mutex
	timestamps []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewSlidingWindowLimiter creates a new sliding window limiter.
func NewSlidingWindowLimiter(cfg Config) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		cfg: cfg,
		now: time.Now,
	}
}

// Allow consumes one slot if available.
func (s *SlidingWindowLimiter) Allow() Info {
	return s.AllowN(1)
}

// AllowN consumes n slots if all of them are available.
func (s *SlidingWindowLimiter) AllowN(n int) Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)

	allowed := len(s.timestamps)+n <= s.cfg.Limit
	if allowed {
		for i := 0; i < n; i++ {
			s.timestamps = append(s.timestamps, now)
		}
	}

	remaining := s.cfg.Limit - len(s.timestamps)
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed && len(s.timestamps) > 0 {
		// Wait until the oldest request leaves the window.
		retryAfter = s.timestamps[0].Add(s.cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return Info{
		Allowed:    allowed,
		Limit:      s.cfg.Limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}

// Info reports the current state without consuming a slot.
func (s *SlidingWindowLimiter) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(s.now())
	remaining := s.cfg.Limit - len(s.timestamps)

	return Info{
		Allowed:   remaining > 0,
		Limit:     s.cfg.Limit,
		Remaining: remaining,
	}
}

// Reset clears the timestamp log.
func (s *SlidingWindowLimiter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestamps = nil
}

// prune drops timestamps that have fallen out of the window. Must be called
// with the mutex held.
func (s *SlidingWindowLimiter) prune(now time.Time) {
	cutoff := 0
	for cutoff < len(s.timestamps) && now.Sub(s.timestamps[cutoff]) > s.cfg.Window {
		cutoff++
	}
	if cutoff > 0 {
		s.timestamps = append(s.timestamps[:0], s.timestamps[cutoff:]...)
	}
}

// TokenBucketLimiter implements the token bucket algorithm. Tokens refill
// continuously at Limit per Window; the bucket holds Limit+Burst tokens.
type TokenBucketLimiter struct {
	cfg Config

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

// NewTokenBucketLimiter creates a new token bucket limiter.
func NewTokenBucketLimiter(cfg Config) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		cfg:        cfg,
		tokens:     float64(cfg.Limit + cfg.Burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow consumes one token if available.
func (t *TokenBucketLimiter) Allow() Info {
	return t.AllowN(1)
}

// AllowN consumes n tokens if all of them are available.
func (t *TokenBucketLimiter) AllowN(n int) Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.refill(now)

	refillRate := float64(t.cfg.Limit) / t.cfg.Window.Seconds()

	allowed := t.tokens >= float64(n)
	if allowed {
		t.tokens -= float64(n)
	}

	var retryAfter time.Duration
	if !allowed {
		needed := float64(n) - t.tokens
		retryAfter = time.Duration(needed / refillRate * float64(time.Second))
	}

	return Info{
		Allowed:    allowed,
		Limit:      t.cfg.Limit + t.cfg.Burst,
		Remaining:  int(t.tokens),
		RetryAfter: retryAfter,
	}
}

// Info reports the current state without consuming tokens.
func (t *TokenBucketLimiter) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill(t.now())

	return Info{
		Allowed:   t.tokens >= 1,
		Limit:     t.cfg.Limit + t.cfg.Burst,
		Remaining: int(t.tokens),
	}
}

// Reset refills the bucket completely.
func (t *TokenBucketLimiter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = float64(t.cfg.Limit + t.cfg.Burst)
	t.lastRefill = t.now()
}

// refill adds tokens earned since the last refill. Must be called with the
// mutex held.
func (t *TokenBucketLimiter) refill(now time.Time) {
	elapsed := now.Sub(t.lastRefill)
	if elapsed <= 0 {
		return
	}

	refillRate := float64(t.cfg.Limit) / t.cfg.Window.Seconds()
	t.tokens += refillRate * elapsed.Seconds()

	max := float64(t.cfg.Limit + t.cfg.Burst)
	if t.tokens > max {
		t.tokens = max
	}
	t.lastRefill = now
}
