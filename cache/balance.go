/*
Package cache provides the short-TTL read-through balance cache.

CONTRACT:
  The durable store is the single source of truth. The cache is a derived,
  best-effort accelerator: mutations INVALIDATE it (never update it), and
  only after the mutating transaction has durably committed. Invalidating
  before commit would let a reader repopulate the cache with stale data in
  between.
*/
package cache

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/warp/point-engine/kv"
	"github.com/warp/point-engine/point"
)

const keyPrefix = "cache:point:balance:"

// BalanceCache caches member balances with a short TTL.
type BalanceCache struct {
	store kv.Store
	ttl   time.Duration
}

// NewBalanceCache builds a cache; a zero TTL falls back to 30 seconds.
func NewBalanceCache(store kv.Store, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{store: store, ttl: ttl}
}

// GetBalance returns the cached balance or loads it through the loader and
// caches the result. Cache failures degrade to the loader; they never fail
// the read.
func (c *BalanceCache) GetBalance(ctx context.Context, memberID uuid.UUID, load func(ctx context.Context) (point.Amount, error)) (point.Amount, error) {
	key := keyPrefix + memberID.String()

	if raw, ok, err := c.store.Get(ctx, key); err == nil && ok {
		if v, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			return point.Amount(v), nil
		}
	} else if err != nil {
		log.Printf("cache: balance read failed, falling through. memberId=%s err=%v", memberID, err)
	}

	balance, err := load(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.store.Set(ctx, key, strconv.FormatInt(balance.Int64(), 10), c.ttl); err != nil {
		log.Printf("cache: balance store failed. memberId=%s err=%v", memberID, err)
	}
	return balance, nil
}

// Evict drops the member's cached balance. Called exactly once per
// committed mutation, after commit.
func (c *BalanceCache) Evict(ctx context.Context, memberID uuid.UUID) {
	if err := c.store.Del(ctx, keyPrefix+memberID.String()); err != nil {
		log.Printf("cache: balance evict failed. memberId=%s err=%v", memberID, err)
	}
}
