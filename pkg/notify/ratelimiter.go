package notify

import (
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting per endpoint
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*tokenBucket
	maxTokens    int
	refillPeriod time.Duration
}

type tokenBucket struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per period for
// each endpoint
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: period,
	}
}

// Allow reports whether a request is allowed for the given endpoint
func (rl *RateLimiter) Allow(endpointID string) bool {
	rl.mu.Lock()
	bucket, ok := rl.buckets[endpointID]
	if !ok {
		bucket = &tokenBucket{
			tokens:       rl.maxTokens,
			maxTokens:    rl.maxTokens,
			refillPeriod: rl.refillPeriod,
			lastRefill:   time.Now(),
		}
		rl.buckets[endpointID] = bucket
	}
	rl.mu.Unlock()

	return bucket.take()
}

// Reset clears the bucket for an endpoint
func (rl *RateLimiter) Reset(endpointID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, endpointID)
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed >= tb.refillPeriod {
		periods := int(elapsed / tb.refillPeriod)
		tb.tokens = min(tb.tokens+periods, tb.maxTokens)
		tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
