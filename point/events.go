/*
events.go - Domain events published after commit

PURPOSE:
  One event per committed state transition, consumed by external
  collaborators (cache eviction, analytics, notifications). Implemented as
  a closed set of variants sharing a common envelope; consumers dispatch
  with an exhaustive type switch on the concrete types.

ORDERING:
  Events for one member are produced under that member's lock, so the
  publisher observes them in mutation order.
*/
package point

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the common envelope of every point domain event. The concrete
// variants are EarnedEvent, EarnCanceledEvent, UsedEvent and UseCanceledEvent.
type Event interface {
	Kind() string
	Member() uuid.UUID
	OccurredAt() time.Time
}

// Publisher delivers events to external collaborators after the mutating
// transaction has durably committed.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// envelope carries the fields shared by all events.
type envelope struct {
	MemberID uuid.UUID
	At       time.Time
}

func (e envelope) Member() uuid.UUID     { return e.MemberID }
func (e envelope) OccurredAt() time.Time { return e.At }

// EarnedEvent records a new grant.
type EarnedEvent struct {
	envelope
	LedgerID  uuid.UUID
	Amount    Amount
	EarnType  EarnType
	ExpiresAt time.Time
}

func (EarnedEvent) Kind() string { return "point.earned" }

// EarnCanceledEvent records the reversal of an entirely-unused grant.
type EarnCanceledEvent struct {
	envelope
	LedgerID uuid.UUID
	Amount   Amount
}

func (EarnCanceledEvent) Kind() string { return "point.earn_canceled" }

// LedgerUsage is the per-ledger breakdown of one use.
type LedgerUsage struct {
	LedgerID uuid.UUID
	Amount   Amount
}

// UsedEvent records a spend across one or more ledgers.
type UsedEvent struct {
	envelope
	Amount  Amount
	OrderID string
	Usages  []LedgerUsage
}

func (UsedEvent) Kind() string { return "point.used" }

// RestoredLedger is one ledger whose availability was restored by a cancel.
type RestoredLedger struct {
	LedgerID uuid.UUID
	Amount   Amount
}

// CreatedLedger is one replacement ledger created by a cancel against an
// expired ledger.
type CreatedLedger struct {
	LedgerID       uuid.UUID
	SourceLedgerID uuid.UUID
	Amount         Amount
	ExpiresAt      time.Time
}

// UseCanceledEvent records the reversal of all or part of a spend.
type UseCanceledEvent struct {
	envelope
	Amount   Amount
	OrderID  string
	Restored []RestoredLedger
	Created  []CreatedLedger
}

func (UseCanceledEvent) Kind() string { return "point.use_canceled" }
