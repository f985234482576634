package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm selects the admission control strategy.
type Algorithm string

const (
	// AlgorithmSlidingWindow keeps a log of request timestamps and admits a
	// request only when fewer than Limit requests happened inside the window.
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	// AlgorithmTokenBucket refills tokens continuously and allows short bursts.
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// Config holds the admission control parameters for a single agent.
type Config struct {
	// Algorithm to use. Defaults to sliding window.
	Algorithm Algorithm

	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Window duration.
	Window time.Duration

	// Burst allowance on top of Limit (token bucket only).
	Burst int
}

// Info describes the limiter state after an admission decision.
type Info struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Limit is the maximum number of requests per window.
	Limit int

	// Remaining is the number of requests still admissible right now.
	Remaining int

	// RetryAfter is how long to wait before retrying (zero when allowed).
	RetryAfter time.Duration
}

// Limiter is the admission control interface used by agents before every
// provider call.
type Limiter interface {
	// Allow consumes one slot if available and reports the decision.
	Allow() Info

	// AllowN consumes n slots if all of them are available.
	AllowN(n int) Info

	// Info reports the current state without consuming anything.
	Info() Info

	// Reset clears all recorded usage.
	Reset()
}

// New builds a limiter from config. A zero or negative limit means the
// limiter is disabled and Allow always succeeds.
func New(cfg Config) (Limiter, error) {
	if cfg.Limit <= 0 {
		return noopLimiter{}, nil
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %v", cfg.Window)
	}

	switch cfg.Algorithm {
	case AlgorithmSlidingWindow, "":
		return NewSlidingWindowLimiter(cfg), nil
	case AlgorithmTokenBucket:
		return NewTokenBucketLimiter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm: %s", cfg.Algorithm)
	}
}

// noopLimiter admits everything.
type noopLimiter struct{}

func (noopLimiter) Allow() Info     { return Info{Allowed: true, Limit: -1, Remaining: -1} }
func (noopLimiter) AllowN(int) Info { return Info{Allowed: true, Limit: -1, Remaining: -1} }
func (noopLimiter) Info() Info      { return Info{Allowed: true, Limit: -1, Remaining: -1} }
func (noopLimiter) Reset()          {}

// RateLimitError is returned by agents when a call is rejected by their
// limiter. The provider call never ran, so health metrics are not touched.
type RateLimitError struct {
	Agent string
	Info  Info
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for agent %s: retry after %v", e.Agent, e.Info.RetryAfter)
}

// IsRateLimitError checks if an error is a rate limit rejection.
func IsRateLimitError(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
