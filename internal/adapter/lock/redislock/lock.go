// Package redislock implements the distributed lock on Redis. Acquisition is
// SET NX PX; release and extension are scripted compare-and-act so they are
// atomic relative to other holders.
package redislock

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/latticehq/lattice/internal/domain"
)

const keyPrefix = "lock:"

// Compare-and-delete: remove the key only when held by this token.
const luaRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Compare-and-extend: push the expiry only when held by this token.
const luaExtend = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Lock is the Redis-backed distributed lock.
type Lock struct {
	redis   *redis.Client
	release *redis.Script
	extend  *redis.Script
}

// New constructs a Lock over the given Redis client.
func New(rdb *redis.Client) *Lock {
	return &Lock{
		redis:   rdb,
		release: redis.NewScript(luaRelease),
		extend:  redis.NewScript(luaExtend),
	}
}

// Acquire attempts to take the lock, returning (token, true) on success and
// ("", false) when another holder owns the key.
func (l *Lock) Acquire(ctx domain.Context, key string, ttl time.Duration) (string, bool, error) {
	token := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	ok, err := l.redis.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("op=lock.acquire: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release is a compare-and-delete; a stale token is a no-op returning false.
func (l *Lock) Release(ctx domain.Context, key, token string) (bool, error) {
	res, err := l.release.Run(ctx, l.redis, []string{keyPrefix + key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("op=lock.release: %w", err)
	}
	return res == 1, nil
}

// Extend pushes the expiry forward for the holding token.
func (l *Lock) Extend(ctx domain.Context, key, token string, additional time.Duration) (bool, error) {
	res, err := l.extend.Run(ctx, l.redis, []string{keyPrefix + key}, token, additional.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("op=lock.extend: %w", err)
	}
	return res == 1, nil
}

// AcquireWithRetry polls every retryInterval until timeout elapses.
func (l *Lock) AcquireWithRetry(ctx domain.Context, key string, ttl, retryInterval, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		token, ok, err := l.Acquire(ctx, key, ttl)
		if err != nil || ok {
			return token, ok, err
		}
		if time.Now().After(deadline) {
			slog.Debug("lock acquire timed out", slog.String("key", key))
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}
