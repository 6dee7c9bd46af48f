package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/point-engine/point"
	"github.com/warp/point-engine/point/store"
)

func TestMemory_ApplyAndReload(t *testing.T) {
	// GIVEN: An earn and a use persisted through Apply
	// WHEN: Reloading the member
	// THEN: Ledger state and order-scoped entries round-trip

	ctx := context.Background()
	s := store.NewMemory()
	memberID := uuid.Must(uuid.NewV7())
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	mp, err := s.LoadMember(ctx, memberID)
	require.NoError(t, err)

	earnRes, err := mp.Earn(1000, point.EarnSystem, nil, point.DefaultEarnPolicy(), now)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, earnRes.Mutation))

	useRes, err := mp.Use(300, "order-1", now)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, useRes.Mutation))

	reloaded, err := s.LoadMemberForOrder(ctx, memberID, "order-1")
	require.NoError(t, err)
	require.Len(t, reloaded.Ledgers, 1)
	assert.Equal(t, point.Amount(700), reloaded.Ledgers[0].AvailableAmount)

	entries := reloaded.Entries[earnRes.Ledger.ID]
	require.Len(t, entries, 1)
	assert.Equal(t, point.EntryUse, entries[0].Type)
}

func TestMemory_SumAvailable_HonorsExpiry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	memberID := uuid.Must(uuid.NewV7())
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	mp, _ := s.LoadMember(ctx, memberID)
	days := 1
	r, err := mp.Earn(500, point.EarnSystem, &days, point.DefaultEarnPolicy(), now)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, r.Mutation))

	sum, err := s.SumAvailable(ctx, memberID, now)
	require.NoError(t, err)
	assert.Equal(t, point.Amount(500), sum)

	sum, err = s.SumAvailable(ctx, memberID, now.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestMemory_CheckConsistency_FlagsOrphanLedger(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	memberID := uuid.Must(uuid.NewV7())
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	orphan := point.NewLedger(memberID, 250, point.EarnSystem, now.AddDate(0, 0, 30), nil, now)
	require.NoError(t, s.Apply(ctx, point.Mutation{MemberID: memberID, NewLedgers: []point.Ledger{orphan}}))

	drifts, err := s.CheckConsistency(ctx, memberID)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, orphan.ID, drifts[0].LedgerID)
}
