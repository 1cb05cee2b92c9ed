// Package redisrate implements a per-tenant token bucket on Redis. A Lua
// script keeps refill and spend atomic so every API replica shares one
// bucket per company.
package redisrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether a tenant may spend cost tokens right now.
type Limiter interface {
	Allow(ctx context.Context, companyID int64, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// bucketTTL bounds idle bucket lifetime; a full bucket and a missing bucket
// are indistinguishable, so expiry is free.
const bucketTTL = time.Hour

const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] then
  tokens = tonumber(data[1])
end
if data[2] then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end
tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_after = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
elseif refill_rate > 0 then
  retry_after = (cost - tokens) / refill_rate
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", key, ttl)

return { allowed, retry_after }
`

// TokenBucket is a Redis-backed Limiter. All tenants share one bucket shape;
// each tenant gets its own bucket keyed by company id.
type TokenBucket struct {
	rdb      *redis.Client
	script   *redis.Script
	capacity int64
	refill   float64
}

// NewTokenBucket sizes buckets from a per-minute budget. A non-positive
// budget disables limiting.
func NewTokenBucket(rdb *redis.Client, perMinute int) *TokenBucket {
	if rdb == nil || perMinute <= 0 {
		return nil
	}
	return &TokenBucket{
		rdb:      rdb,
		script:   redis.NewScript(tokenBucketScript),
		capacity: int64(perMinute),
		refill:   float64(perMinute) / 60.0,
	}
}

// Allow spends cost tokens from the company bucket. Redis errors fail open:
// a degraded cache must not take the API down with it.
func (l *TokenBucket) Allow(ctx context.Context, companyID int64, cost int64) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	key := fmt.Sprintf("rate:company:%d", companyID)
	nowSec := float64(time.Now().UnixNano()) / 1e9

	res, err := l.script.Run(ctx, l.rdb, []string{key},
		l.capacity, l.refill, nowSec, cost, int64(bucketTTL.Seconds())).Result()
	if err != nil {
		slog.Error("rate limit script failed", slog.Int64("company_id", companyID), slog.Any("error", err))
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("rate limit script returned unexpected shape", slog.Any("result", res))
		return true, 0, nil
	}

	allowed := asInt64(vals[0]) == 1
	retryAfter := time.Duration(asFloat64(vals[1]) * float64(time.Second))
	return allowed, retryAfter, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		var f float64
		_, _ = fmt.Sscanf(t, "%g", &f)
		return f
	default:
		return 0
	}
}
