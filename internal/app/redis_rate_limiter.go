package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments KEYS[1], starting a window of ARGV[1] ms on first use,
// and returns {count, remaining ttl in ms}.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// SubmitRateLimiter decides whether a client may submit another payout.
type SubmitRateLimiter interface {
	Allow(ctx context.Context, clientKey string) (allowed bool, retryAfter time.Duration, err error)
}

// RedisSubmitRateLimiter counts submissions per client in a fixed Redis window shared by
// every service replica.
type RedisSubmitRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisSubmitRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisSubmitRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "payout:rate_limit"
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisSubmitRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow consumes one slot for clientKey. A nil limiter, a non-positive limit or an empty key
// always allows.
func (r *RedisSubmitRateLimiter) Allow(ctx context.Context, clientKey string) (bool, time.Duration, error) {
	clientKey = strings.TrimSpace(clientKey)
	if r == nil || r.client == nil || r.limit <= 0 || clientKey == "" {
		return true, 0, nil
	}

	windowMs := r.window.Milliseconds()
	key := r.prefix + ":submit:" + clientKey
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return true, 0, fmt.Errorf("run rate limit script: %w", err)
	}

	count, ttlMs, err := parseWindowResult(raw)
	if err != nil {
		return true, 0, err
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	if count <= int64(r.limit) {
		return true, 0, nil
	}

	retryAfter := time.Duration(ttlMs) * time.Millisecond
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter.Round(time.Second), nil
}

func parseWindowResult(raw interface{}) (count int64, ttlMs int64, err error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	if count, ok = values[0].(int64); !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	if ttlMs, ok = values[1].(int64); !ok {
		return count, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	return count, ttlMs, nil
}
