package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript refills and takes from one bucket atomically.
// Returns {allowed, remaining, wait_ms, strikes, full_ms}.
var redisTokenBucketScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

if interval_ms <= 0 then
  interval_ms = 1
end

local tokens = capacity
local last_ms = now_ms
local strikes = 0

local stored_tokens = redis.call("HGET", KEYS[1], "tokens")
local stored_last = redis.call("HGET", KEYS[1], "last_ms")
local stored_strikes = redis.call("HGET", KEYS[1], "strikes")
if stored_tokens then
  tokens = tonumber(stored_tokens)
end
if stored_last then
  last_ms = tonumber(stored_last)
end
if stored_strikes then
  strikes = tonumber(stored_strikes)
end
if now_ms < last_ms then
  last_ms = now_ms
end

tokens = math.min(capacity, tokens + ((now_ms - last_ms) / interval_ms))

local allowed = 0
local wait_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  strikes = 0
  allowed = 1
else
  strikes = strikes + 1
  wait_ms = math.ceil((cost - tokens) * interval_ms)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_ms", tostring(now_ms), "strikes", tostring(strikes))
redis.call("PEXPIRE", KEYS[1], ttl_ms)

local full_ms = math.ceil((capacity - tokens) * interval_ms)
return {allowed, math.floor(tokens), wait_ms, strikes, full_ms}
`)

// RedisLimiter shares buckets between server instances. Buckets expire after
// the window plus the largest back-off of inactivity.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	policy Policy

	now func() time.Time
}

// NewRedisLimiter creates a limiter storing buckets under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, policy Policy) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		policy: policy.normalized(),
		now:    time.Now,
	}
}

// Admit takes cost tokens from key's bucket.
func (l *RedisLimiter) Admit(ctx context.Context, key string, cost int) (Decision, error) {
	if l.client == nil {
		return Decision{}, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return Decision{}, ErrEmptyKey
	}
	if cost <= 0 {
		cost = 1
	}

	now := l.now()
	intervalMS := float64(l.policy.refillInterval()) / float64(time.Millisecond)
	ttl := l.policy.Window + l.policy.BackoffMax

	raw, err := redisTokenBucketScript.Run(
		ctx,
		l.client,
		[]string{l.bucketKey(key)},
		now.UnixMilli(),
		l.policy.Capacity,
		intervalMS,
		cost,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 5 {
		return Decision{}, fmt.Errorf("unexpected redis script response %T", raw)
	}

	ints := make([]int64, len(values))
	for i, v := range values {
		n, err := parseRedisInt64(v)
		if err != nil {
			return Decision{}, err
		}
		ints[i] = n
	}
	allowed, remaining, waitMS, strikes, fullMS := ints[0], ints[1], ints[2], ints[3], ints[4]

	d := Decision{
		Allowed:   allowed == 1,
		Limit:     l.policy.Capacity,
		Remaining: int(max(remaining, 0)),
		ResetAt:   now.Add(time.Duration(fullMS) * time.Millisecond),
	}
	if !d.Allowed {
		d.RetryAfter = denialRetry(l.policy, time.Duration(waitMS)*time.Millisecond, int(strikes))
	}
	return d, nil
}

// Reset deletes key's bucket.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := l.client.Del(ctx, l.bucketKey(key)).Err(); err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}

func (l *RedisLimiter) bucketKey(key string) string {
	return l.prefix + ":" + key
}

func parseRedisInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("redis integer overflows int64")
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected redis value type %T", v)
	}
}
