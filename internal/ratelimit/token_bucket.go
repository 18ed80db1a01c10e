// Package ratelimit provides the token bucket used to bound inbound
// signaling message rates per connection.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall-clock Clock used in production.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer rate (tokens/sec). Token accounting uses
// nanosecond-granularity fixed point, so no float rounding is involved: one
// token is 1e9 nano-tokens, and a rate of R tokens/sec adds R nano-tokens
// per elapsed nanosecond.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	available int64 // nano-tokens
	last      time.Time
}

const nanoPerToken = int64(time.Second)

// NewTokenBucket returns a bucket that starts full. A nil clock uses the
// wall clock. Non-positive capacity or rate yields a bucket that only allows
// zero-cost requests.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity * nanoPerToken,
		rate:      rate,
		available: capacity * nanoPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := tokens * nanoPerToken

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if !now.After(b.last) {
		// Time stalled or went backwards; move the reference point without
		// refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if b.rate <= 0 || b.available >= b.capacity {
		return
	}

	need := b.capacity - b.available
	// Guard elapsed*rate overflow: enough elapsed time just fills the bucket.
	if elapsed >= need/b.rate+1 {
		b.available = b.capacity
		return
	}
	b.available += elapsed * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}
