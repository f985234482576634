package ratelimit

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWindowLimiter(limit int, window time.Duration) (*SlidingWindowLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewSlidingWindowLimiter(Config{Limit: limit, Window: window})
	l.now = clock.now
	return l, clock
}

func TestSlidingWindow_AdmitsExactlyLimit(t *testing.T) {
	l, _ := newTestWindowLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		if info := l.Allow(); !info.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	info := l.Allow()
	if info.Allowed {
		t.Fatal("request beyond limit must be rejected")
	}
	if info.Remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", info.Remaining)
	}
	if info.RetryAfter <= 0 {
		t.Errorf("rejection must carry a positive retry-after, got %v", info.RetryAfter)
	}
}

func TestSlidingWindow_RecoversWhenWindowAdvances(t *testing.T) {
	l, clock := newTestWindowLimiter(2, time.Second)

	l.Allow()
	l.Allow()
	if l.Allow().Allowed {
		t.Fatal("third request inside window must be rejected")
	}

	// Just inside the window: still rejected.
	clock.advance(900 * time.Millisecond)
	if l.Allow().Allowed {
		t.Fatal("request at 0.9s must still be rejected")
	}

	// Past the window: the old timestamps expire.
	clock.advance(200 * time.Millisecond)
	if !l.Allow().Allowed {
		t.Fatal("request after window advanced must be allowed")
	}
}

func TestSlidingWindow_PartialExpiry(t *testing.T) {
	l, clock := newTestWindowLimiter(2, time.Second)

	l.Allow()
	clock.advance(600 * time.Millisecond)
	l.Allow()

	// First timestamp expires at t+1s, second at t+1.6s.
	clock.advance(500 * time.Millisecond)
	if !l.Allow().Allowed {
		t.Fatal("slot freed by the expired first request must be admissible")
	}
	if l.Allow().Allowed {
		t.Fatal("window still holds two requests, third must be rejected")
	}
}

func TestSlidingWindow_AllowN(t *testing.T) {
	l, _ := newTestWindowLimiter(5, time.Second)

	if info := l.AllowN(5); !info.Allowed {
		t.Fatal("batch of 5 within limit must be allowed")
	}
	if info := l.AllowN(1); info.Allowed {
		t.Fatal("limit exhausted, single request must be rejected")
	}

	l.Reset()
	if info := l.Allow(); !info.Allowed {
		t.Fatal("Reset must clear the log")
	}
}

func TestSlidingWindow_InfoDoesNotConsume(t *testing.T) {
	l, _ := newTestWindowLimiter(1, time.Second)

	for i := 0; i < 3; i++ {
		if info := l.Info(); !info.Allowed {
			t.Fatalf("Info call %d consumed a slot", i)
		}
	}
	if !l.Allow().Allowed {
		t.Fatal("slot should still be free after Info calls")
	}
}

func TestTokenBucket_Burst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewTokenBucketLimiter(Config{Limit: 2, Window: time.Second, Burst: 1})
	l.now = clock.now
	l.lastRefill = clock.t

	// Bucket starts full: limit + burst tokens.
	for i := 0; i < 3; i++ {
		if !l.Allow().Allowed {
			t.Fatalf("request %d within burst capacity should pass", i)
		}
	}
	if l.Allow().Allowed {
		t.Fatal("empty bucket must reject")
	}

	// Refill rate is 2 tokens/s, so after 500ms one token is back.
	clock.advance(500 * time.Millisecond)
	if !l.Allow().Allowed {
		t.Fatal("refilled token should admit one request")
	}
	if l.Allow().Allowed {
		t.Fatal("only one token was refilled")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "sliding window", cfg: Config{Algorithm: AlgorithmSlidingWindow, Limit: 1, Window: time.Second}},
		{name: "default algorithm", cfg: Config{Limit: 1, Window: time.Second}},
		{name: "token bucket", cfg: Config{Algorithm: AlgorithmTokenBucket, Limit: 1, Window: time.Second}},
		{name: "disabled", cfg: Config{Limit: 0}},
		{name: "bad window", cfg: Config{Limit: 1}, wantErr: true},
		{name: "unknown algorithm", cfg: Config{Algorithm: "leaky", Limit: 1, Window: time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
		})
	}
}

func TestNew_DisabledAlwaysAllows(t *testing.T) {
	l, err := New(Config{Limit: 0})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 100; i++ {
		if !l.Allow().Allowed {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestRateLimitError(t *testing.T) {
	var err error = &RateLimitError{Agent: "test", Info: Info{RetryAfter: time.Second}}

	if !IsRateLimitError(err) {
		t.Error("IsRateLimitError must match RateLimitError")
	}
	if IsRateLimitError(errors.New("boom")) {
		t.Error("IsRateLimitError must not match other errors")
	}
	if !IsRateLimitError(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsRateLimitError must unwrap")
	}
}
