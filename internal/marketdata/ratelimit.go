// ratelimit.go implements token-bucket rate limiting for venue REST APIs.
//
// Public market-data endpoints are generous but not unlimited; the probe,
// the threshold controller, and alert enrichment all share one client, so
// requests are smoothed through per-category buckets that refill
// continuously rather than in window bursts.
package marketdata

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by endpoint category.
type RateLimiter struct {
	Ticker *TokenBucket // ticker + availability probes
	Trades *TokenBucket // recent-trades history (heavier responses)
}

// NewRateLimiter creates buckets tuned to typical public-API allowances
// (10 requests/second sustained with small bursts).
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Ticker: NewTokenBucket(20, 10),
		Trades: NewTokenBucket(10, 5),
	}
}
