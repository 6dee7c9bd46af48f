/*
ledger.go - Ledger (earn grant) and Entry (journal row) data model

PURPOSE:
  A Ledger is one grant of points with its own expiration and remaining
  balance. An Entry is an immutable journal row recording one amount change
  against one ledger. Entries are the source of truth; a ledger's
  AvailableAmount is a materialized cache of their sum.

SIGN CONVENTION (entries):
  EARN        positive
  USE_CANCEL  positive (recovery)
  USE         negative
  EARN_CANCEL negative

  For any ledger: available == earned + sum of USE and USE_CANCEL amounts.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never updated or deleted. EVER.
  2. 0 <= AvailableAmount <= EarnedAmount at all times
  3. Expiry is a computed predicate (ExpiresAt < now), not a row mutation
  4. Ledgers are never physically deleted

SEE ALSO:
  - member.go: Aggregate that mutates ledgers through entry-writing paths
  - store.go: Persistence contract (atomic ledger+entry writes)
*/
package point

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER - One earn grant
// =============================================================================

// EarnType classifies how a ledger came to exist.
type EarnType string

const (
	EarnManual    EarnType = "MANUAL"     // granted by an operator
	EarnSystem    EarnType = "SYSTEM"     // granted by the platform
	EarnUseCancel EarnType = "USE_CANCEL" // derived from canceling a use against an expired ledger
)

// Ledger is one grant of points. EarnedAmount is immutable once created;
// AvailableAmount is adjusted only by use/cancel-use operations.
type Ledger struct {
	ID              uuid.UUID
	MemberID        uuid.UUID
	EarnedAmount    Amount
	AvailableAmount Amount
	EarnType        EarnType
	SourceLedgerID  *uuid.UUID // set when derived from another ledger (cancel-of-expired)
	ExpiresAt       time.Time
	Canceled        bool
	EarnedAt        time.Time
}

// NewLedger creates a fresh grant with full availability.
func NewLedger(memberID uuid.UUID, amount Amount, earnType EarnType, expiresAt time.Time, sourceLedgerID *uuid.UUID, now time.Time) Ledger {
	return Ledger{
		ID:              NewID(),
		MemberID:        memberID,
		EarnedAmount:    amount,
		AvailableAmount: amount,
		EarnType:        earnType,
		SourceLedgerID:  sourceLedgerID,
		ExpiresAt:       expiresAt,
		Canceled:        false,
		EarnedAt:        now,
	}
}

// Expired reports whether the grant's basis has lapsed at the given time.
func (l Ledger) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// Usable reports whether the ledger can participate in allocation.
func (l Ledger) Usable(now time.Time) bool {
	return !l.Canceled && !l.Expired(now) && l.AvailableAmount.IsPositive()
}

// IsManual reports whether the grant was manually issued. Manual grants
// outrank system grants during allocation.
func (l Ledger) IsManual() bool {
	return l.EarnType == EarnManual
}

// =============================================================================
// ENTRY - Immutable journal row
// =============================================================================

// EntryType identifies the kind of amount change an entry records.
type EntryType string

const (
	EntryEarn       EntryType = "EARN"
	EntryEarnCancel EntryType = "EARN_CANCEL"
	EntryUse        EntryType = "USE"
	EntryUseCancel  EntryType = "USE_CANCEL"
)

// Entry records one amount change against one ledger. Amount is signed per
// the package sign convention. OrderID is set only for USE/USE_CANCEL.
type Entry struct {
	ID        uuid.UUID
	LedgerID  uuid.UUID
	Type      EntryType
	Amount    int64
	OrderID   string
	CreatedAt time.Time
}

func newEarnEntry(ledgerID uuid.UUID, amount Amount, now time.Time) Entry {
	return Entry{ID: NewID(), LedgerID: ledgerID, Type: EntryEarn, Amount: amount.Int64(), CreatedAt: now}
}

func newEarnCancelEntry(ledgerID uuid.UUID, amount Amount, now time.Time) Entry {
	return Entry{ID: NewID(), LedgerID: ledgerID, Type: EntryEarnCancel, Amount: -amount.Int64(), CreatedAt: now}
}

func newUseEntry(ledgerID uuid.UUID, amount Amount, orderID string, now time.Time) Entry {
	return Entry{ID: NewID(), LedgerID: ledgerID, Type: EntryUse, Amount: -amount.Int64(), OrderID: orderID, CreatedAt: now}
}

func newUseCancelEntry(ledgerID uuid.UUID, amount Amount, orderID string, now time.Time) Entry {
	return Entry{ID: NewID(), LedgerID: ledgerID, Type: EntryUseCancel, Amount: amount.Int64(), OrderID: orderID, CreatedAt: now}
}

// AbsAmount returns the magnitude of the entry's amount.
func (e Entry) AbsAmount() int64 {
	if e.Amount < 0 {
		return -e.Amount
	}
	return e.Amount
}

// NewID returns a time-sortable unique identifier (UUIDv7).
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
