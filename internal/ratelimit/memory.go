package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type bucket struct {
	mu      sync.Mutex
	tokens  float64
	last    time.Time
	strikes int
}

// MemoryLimiter keeps one bucket per key in process memory. The table is an
// LRU bounded by maxKeys; buckets idle longer than the window plus the
// largest back-off are dropped, by which point they would be full again.
type MemoryLimiter struct {
	policy Policy

	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]

	now func() time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(policy Policy, maxKeys int) *MemoryLimiter {
	policy = policy.normalized()
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	idle := policy.Window + policy.BackoffMax
	return &MemoryLimiter{
		policy:  policy,
		buckets: expirable.NewLRU[string, *bucket](maxKeys, nil, idle),
		now:     time.Now,
	}
}

// Admit takes cost tokens from key's bucket, creating a full bucket on first use.
func (l *MemoryLimiter) Admit(_ context.Context, key string, cost int) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}
	if cost <= 0 {
		cost = 1
	}
	now := l.now()
	b := l.bucketFor(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	return take(b, l.policy, now, cost), nil
}

// Reset forgets key's bucket so its next request starts at full capacity.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(key)
	return nil
}

// Len reports how many identities are currently tracked.
func (l *MemoryLimiter) Len() int {
	return l.buckets.Len()
}

func (l *MemoryLimiter) bucketFor(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: float64(l.policy.Capacity), last: now}
	}
	// re-adding renews the idle TTL
	l.buckets.Add(key, b)
	return b
}

// take refills b up to capacity for the elapsed time and then tries to
// remove cost tokens. Caller holds b.mu.
func take(b *bucket, p Policy, now time.Time, cost int) Decision {
	interval := p.refillInterval()
	capacity := float64(p.Capacity)

	elapsed := now.Sub(b.last)
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = math.Min(capacity, b.tokens+float64(elapsed)/float64(interval))
	b.last = now

	d := Decision{Limit: p.Capacity}
	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		b.strikes = 0
		d.Allowed = true
	} else {
		b.strikes++
		untilToken := time.Duration(math.Ceil((float64(cost) - b.tokens) * float64(interval)))
		d.RetryAfter = denialRetry(p, untilToken, b.strikes)
	}
	d.Remaining = int(math.Floor(b.tokens))
	d.ResetAt = now.Add(time.Duration(math.Ceil((capacity - b.tokens) * float64(interval))))
	return d
}
