// Package bloom keeps a per-tenant bloom filter of document checksums in
// Redis bitmaps. The filter is advisory only: a miss skips the duplicate
// lookup, a hit still goes to the database for the authoritative answer.
package bloom

import (
	"fmt"
	"hash/fnv"

	"github.com/redis/go-redis/v9"

	"github.com/latticehq/lattice/internal/domain"
)

const (
	// 8 MiB of bits per tenant; with k=7 this keeps the false-positive
	// rate under 1% up to roughly 7M entries.
	filterBits = 8 * 1024 * 1024 * 8
	hashCount  = 7
)

// Filter is the Redis-bitmap bloom filter.
type Filter struct {
	redis *redis.Client
}

// New constructs a Filter over the given Redis client.
func New(rdb *redis.Client) *Filter { return &Filter{redis: rdb} }

func filterKey(companyID int64) string {
	return fmt.Sprintf("bf:company_%d", companyID)
}

// offsets derives k bit positions via double hashing of the checksum.
func offsets(checksum string) [hashCount]int64 {
	h1 := fnv.New64a()
	_, _ = h1.Write([]byte(checksum))
	a := h1.Sum64()
	h2 := fnv.New64()
	_, _ = h2.Write([]byte(checksum))
	b := h2.Sum64() | 1

	var out [hashCount]int64
	for i := 0; i < hashCount; i++ {
		out[i] = int64((a + uint64(i)*b) % filterBits)
	}
	return out
}

// Add sets the checksum's bits in the tenant filter.
func (f *Filter) Add(ctx domain.Context, companyID int64, checksum string) error {
	key := filterKey(companyID)
	pipe := f.redis.Pipeline()
	for _, off := range offsets(checksum) {
		pipe.SetBit(ctx, key, off, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=bloom.add: %w", err)
	}
	return nil
}

// MayContain reports whether the checksum may have been added. False is
// definitive; true requires a database check.
func (f *Filter) MayContain(ctx domain.Context, companyID int64, checksum string) (bool, error) {
	key := filterKey(companyID)
	pipe := f.redis.Pipeline()
	cmds := make([]*redis.IntCmd, 0, hashCount)
	for _, off := range offsets(checksum) {
		cmds = append(cmds, pipe.GetBit(ctx, key, off))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("op=bloom.check: %w", err)
	}
	for _, c := range cmds {
		if c.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}
