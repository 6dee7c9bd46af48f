/*
store.go - Persistence contract for ledgers and entries

PURPOSE:
  Defines the interface between the domain and the durable store. The store
  is the single source of truth; the balance cache is a derived accelerator
  invalidated after commit.

APPEND-ONLY CONTRACT:
  Entries are only ever inserted. Ledgers are inserted and have exactly two
  mutable columns (available_amount, canceled); rows are never deleted.

ATOMICITY:
  Apply persists one command's ledger updates, new ledgers and new entries
  in a single transaction. A reader must never observe a ledger balance
  inconsistent with its entries.

IMPLEMENTATIONS:
  - store/sqlite: production store (SQLite, WAL)
  - point/store:  in-memory store for tests/dev
*/
package point

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mutation is the atomic unit of persistence produced by one aggregate
// operation: all-or-nothing ledger updates, new ledgers and journal rows.
type Mutation struct {
	MemberID       uuid.UUID
	UpdatedLedgers []Ledger
	NewLedgers     []Ledger
	NewEntries     []Entry
}

// IsEmpty reports whether the mutation would write nothing.
func (mu Mutation) IsEmpty() bool {
	return len(mu.UpdatedLedgers) == 0 && len(mu.NewLedgers) == 0 && len(mu.NewEntries) == 0
}

// Store persists ledgers and entries.
type Store interface {
	// LoadMember returns the member's full set of ledgers. The entry journal
	// is not loaded; operations that need it load a scoped view instead.
	LoadMember(ctx context.Context, memberID uuid.UUID) (*MemberPoint, error)

	// LoadMemberForOrder returns the member's ledgers together with the
	// journal entries that reference the given order, in insertion order.
	// Used by cancel-use to compute cancelable amounts.
	LoadMemberForOrder(ctx context.Context, memberID uuid.UUID, orderID string) (*MemberPoint, error)

	// Apply persists a mutation atomically.
	Apply(ctx context.Context, mu Mutation) error

	// SumAvailable computes the member's usable balance directly in the store.
	SumAvailable(ctx context.Context, memberID uuid.UUID, now time.Time) (Amount, error)

	// EntriesByMember returns a page of the member's journal, newest first,
	// plus the total row count.
	EntriesByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]Entry, int, error)

	// CheckConsistency re-derives each ledger's available amount from its
	// entries and reports any drift. Empty result means the materialized
	// amounts match the journal.
	CheckConsistency(ctx context.Context, memberID uuid.UUID) ([]Drift, error)
}

// Drift is one ledger whose materialized available amount disagrees with
// the sum re-derived from its entries.
type Drift struct {
	LedgerID uuid.UUID
	Stored   Amount
	Derived  int64
}
