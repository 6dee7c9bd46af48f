// Package store provides an in-memory point.Store for tests and dev.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/point-engine/point"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	ledgers map[uuid.UUID][]point.Ledger // by member id
	entries map[uuid.UUID][]point.Entry  // by member id, insertion order
}

func NewMemory() *Memory {
	return &Memory{
		ledgers: make(map[uuid.UUID][]point.Ledger),
		entries: make(map[uuid.UUID][]point.Entry),
	}
}

func (m *Memory) LoadMember(_ context.Context, memberID uuid.UUID) (*point.MemberPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp := point.NewMemberPoint(memberID)
	mp.Ledgers = append(mp.Ledgers, m.ledgers[memberID]...)
	return mp, nil
}

func (m *Memory) LoadMemberForOrder(_ context.Context, memberID uuid.UUID, orderID string) (*point.MemberPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp := point.NewMemberPoint(memberID)
	mp.Ledgers = append(mp.Ledgers, m.ledgers[memberID]...)
	for _, e := range m.entries[memberID] {
		if e.OrderID == orderID {
			mp.Entries[e.LedgerID] = append(mp.Entries[e.LedgerID], e)
		}
	}
	return mp, nil
}

// Apply persists a mutation atomically under one lock acquisition.
func (m *Memory) Apply(_ context.Context, mu point.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ledgers := m.ledgers[mu.MemberID]
	for _, u := range mu.UpdatedLedgers {
		for i := range ledgers {
			if ledgers[i].ID == u.ID {
				ledgers[i] = u
				break
			}
		}
	}
	ledgers = append(ledgers, mu.NewLedgers...)
	m.ledgers[mu.MemberID] = ledgers
	m.entries[mu.MemberID] = append(m.entries[mu.MemberID], mu.NewEntries...)
	return nil
}

func (m *Memory) SumAvailable(_ context.Context, memberID uuid.UUID, now time.Time) (point.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return point.AvailableBalance(m.ledgers[memberID], now), nil
}

func (m *Memory) EntriesByMember(_ context.Context, memberID uuid.UUID, limit, offset int) ([]point.Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.entries[memberID]
	total := len(all)

	// Newest first.
	reversed := make([]point.Entry, 0, total)
	for i := total - 1; i >= 0; i-- {
		reversed = append(reversed, all[i])
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return reversed[offset:end], total, nil
}

// CheckConsistency reports ledgers whose available amount disagrees with the
// signed sum of their journal. A cancel against an expired ledger journals
// its USE_CANCEL on the original while the restoration lands on the
// replacement ledger, so the original legitimately reports derived > stored
// by the recreated amount.
func (m *Memory) CheckConsistency(_ context.Context, memberID uuid.UUID) ([]point.Drift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Entries are the source of truth: the signed sum of a ledger's journal
	// is exactly its available amount.
	derived := make(map[uuid.UUID]int64)
	for _, e := range m.entries[memberID] {
		derived[e.LedgerID] += e.Amount
	}

	var drifts []point.Drift
	for _, l := range m.ledgers[memberID] {
		if derived[l.ID] != l.AvailableAmount.Int64() {
			drifts = append(drifts, point.Drift{LedgerID: l.ID, Stored: l.AvailableAmount, Derived: derived[l.ID]})
		}
	}
	return drifts, nil
}
