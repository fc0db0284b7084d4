// Package ratelimit implements per-identity token buckets with exponential
// back-off hints for denied callers.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrEmptyKey is returned when Admit is called without an identity.
var ErrEmptyKey = errors.New("rate limit key is empty")

// Policy configures a bucket. Capacity tokens refill evenly over Window.
type Policy struct {
	Capacity    int
	Window      time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultPolicy is five requests per minute, backing off from one second up to five minutes.
func DefaultPolicy() Policy {
	return Policy{
		Capacity:    5,
		Window:      time.Minute,
		BackoffBase: time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

func (p Policy) normalized() Policy {
	if p.Capacity <= 0 {
		p.Capacity = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}
	if p.BackoffMax < p.BackoffBase {
		p.BackoffMax = p.BackoffBase
	}
	return p
}

// refillInterval is the time needed to regain one token.
func (p Policy) refillInterval() time.Duration {
	return p.Window / time.Duration(p.Capacity)
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter admits or denies requests per key.
type Limiter interface {
	Admit(ctx context.Context, key string, cost int) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// Backoff returns min(base * 2^attempts, ceiling). It is non-decreasing in attempts.
func Backoff(attempts int, base, ceiling time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		return 0
	}
	if attempts >= 62 || base > time.Duration(math.MaxInt64>>uint(attempts)) {
		return ceiling
	}
	d := base << uint(attempts)
	if d > ceiling {
		return ceiling
	}
	return d
}

// denialRetry combines the time until enough tokens exist with the back-off
// for the current run of consecutive denials.
func denialRetry(p Policy, untilToken time.Duration, strikes int) time.Duration {
	backoff := Backoff(strikes-1, p.BackoffBase, p.BackoffMax)
	if untilToken > backoff {
		return untilToken
	}
	return backoff
}
