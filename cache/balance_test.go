package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/point-engine/cache"
	"github.com/warp/point-engine/kv"
	"github.com/warp/point-engine/point"
)

func TestGetBalance_CacheMiss_LoadsAndCaches(t *testing.T) {
	// GIVEN: An empty cache
	// WHEN: Reading the same member's balance twice
	// THEN: The loader runs only once

	ctx := context.Background()
	c := cache.NewBalanceCache(kv.NewMemoryKV(), 30*time.Second)
	memberID := uuid.Must(uuid.NewV7())

	loads := 0
	load := func(context.Context) (point.Amount, error) {
		loads++
		return 1500, nil
	}

	balance, err := c.GetBalance(ctx, memberID, load)
	require.NoError(t, err)
	assert.Equal(t, point.Amount(1500), balance)

	balance, err = c.GetBalance(ctx, memberID, load)
	require.NoError(t, err)
	assert.Equal(t, point.Amount(1500), balance)

	assert.Equal(t, 1, loads)
}

func TestGetBalance_TTLExpiry_Reloads(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryKV()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	c := cache.NewBalanceCache(store, 30*time.Second)
	memberID := uuid.Must(uuid.NewV7())

	loads := 0
	load := func(context.Context) (point.Amount, error) {
		loads++
		return 100, nil
	}

	_, err := c.GetBalance(ctx, memberID, load)
	require.NoError(t, err)

	now = now.Add(31 * time.Second)

	_, err = c.GetBalance(ctx, memberID, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestEvict_ForcesNextReadThrough(t *testing.T) {
	// GIVEN: A cached balance that has since changed in the store
	// WHEN: Evicting after the mutating commit
	// THEN: The next read sees the fresh value

	ctx := context.Background()
	c := cache.NewBalanceCache(kv.NewMemoryKV(), 30*time.Second)
	memberID := uuid.Must(uuid.NewV7())

	current := point.Amount(1000)
	load := func(context.Context) (point.Amount, error) { return current, nil }

	balance, err := c.GetBalance(ctx, memberID, load)
	require.NoError(t, err)
	require.Equal(t, point.Amount(1000), balance)

	current = 400 // committed mutation
	c.Evict(ctx, memberID)

	balance, err = c.GetBalance(ctx, memberID, load)
	require.NoError(t, err)
	assert.Equal(t, point.Amount(400), balance)
}

func TestGetBalance_LoaderError_Propagated(t *testing.T) {
	ctx := context.Background()
	c := cache.NewBalanceCache(kv.NewMemoryKV(), 30*time.Second)

	boom := errors.New("db down")
	_, err := c.GetBalance(ctx, uuid.Must(uuid.NewV7()), func(context.Context) (point.Amount, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}
