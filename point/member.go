/*
member.go - MemberPoint aggregate and allocation engine

PURPOSE:
  The transactional unit of the engine: one member's ledgers plus (for the
  operations that need it) their journal entries. The aggregate enforces
  every invariant, computes which ledgers a use draws from and which a
  cancel restores or recreates, and emits the journal entries and domain
  event for each operation.

ALL-OR-NOTHING:
  Every operation validates before touching state. On a business-rule
  violation the aggregate is unchanged and no entries are produced.

OWNERSHIP:
  The aggregate is owned exclusively by the writer holding the member's
  distributed lock for the duration of one command. Nothing here is safe
  for concurrent use; serialization happens a layer up.

SEE ALSO:
  - rules.go: The pure rules these operations are built on
  - service/: Lock acquisition, persistence, event publication
*/
package point

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// MemberPoint is the aggregate root: a member's ledgers and, when loaded for
// a cancel, the journal entries relevant to the order being canceled.
type MemberPoint struct {
	MemberID uuid.UUID
	Ledgers  []Ledger
	Entries  map[uuid.UUID][]Entry // journal rows keyed by ledger id
}

// NewMemberPoint creates an empty aggregate for a member with no history.
func NewMemberPoint(memberID uuid.UUID) *MemberPoint {
	return &MemberPoint{MemberID: memberID, Entries: make(map[uuid.UUID][]Entry)}
}

// TotalBalance sums available amounts over usable ledgers at the given time.
func (m *MemberPoint) TotalBalance(now time.Time) Amount {
	return AvailableBalance(m.Ledgers, now)
}

// =============================================================================
// EARN
// =============================================================================

// EarnResult reports a successful earn.
type EarnResult struct {
	Ledger   Ledger
	Mutation Mutation
	Event    EarnedEvent
}

// Earn validates the grant against policy and creates a new ledger with a
// matching EARN entry.
func (m *MemberPoint) Earn(amount Amount, earnType EarnType, expirationDays *int, policy EarnPolicy, now time.Time) (*EarnResult, error) {
	if err := ValidateEarn(amount, m.TotalBalance(now), expirationDays, policy); err != nil {
		return nil, err
	}

	ledger := NewLedger(m.MemberID, amount, earnType, policy.ExpiresAt(expirationDays, now), nil, now)
	entry := newEarnEntry(ledger.ID, amount, now)

	m.applyNewLedgers([]Ledger{ledger})
	m.applyEntries([]Entry{entry})

	return &EarnResult{
		Ledger: ledger,
		Mutation: Mutation{
			MemberID:   m.MemberID,
			NewLedgers: []Ledger{ledger},
			NewEntries: []Entry{entry},
		},
		Event: EarnedEvent{
			envelope:  envelope{MemberID: m.MemberID, At: now},
			LedgerID:  ledger.ID,
			Amount:    amount,
			EarnType:  earnType,
			ExpiresAt: ledger.ExpiresAt,
		},
	}, nil
}

// =============================================================================
// USE - Allocation across ledgers by priority
// =============================================================================

// UseResult reports a successful use with its per-ledger breakdown.
type UseResult struct {
	Usages   []LedgerUsage
	Mutation Mutation
	Event    UsedEvent
}

// Use draws the requested amount across usable ledgers in priority order:
// manual grants first, then earliest expiration. Exactly one USE entry is
// written per ledger actually drawn from.
func (m *MemberPoint) Use(amount Amount, orderID string, now time.Time) (*UseResult, error) {
	if amount.IsZero() {
		return nil, &InvalidAmountError{Value: 0, Reason: "use amount must be positive"}
	}

	available := m.TotalBalance(now)
	if available.LessThan(amount) {
		return nil, &InsufficientBalanceError{MemberID: m.MemberID, Requested: amount, Available: available}
	}

	var (
		updated []Ledger
		entries []Entry
		usages  []LedgerUsage
	)
	remaining := amount
	for _, l := range UsableLedgersSorted(m.Ledgers, now) {
		if remaining.IsZero() {
			break
		}
		draw := remaining.Min(l.AvailableAmount)

		// Guaranteed non-negative: draw <= l.AvailableAmount.
		l.AvailableAmount -= draw
		remaining -= draw

		updated = append(updated, l)
		entries = append(entries, newUseEntry(l.ID, draw, orderID, now))
		usages = append(usages, LedgerUsage{LedgerID: l.ID, Amount: draw})
	}

	m.applyLedgerUpdates(updated)
	m.applyEntries(entries)

	return &UseResult{
		Usages: usages,
		Mutation: Mutation{
			MemberID:       m.MemberID,
			UpdatedLedgers: updated,
			NewEntries:     entries,
		},
		Event: UsedEvent{
			envelope: envelope{MemberID: m.MemberID, At: now},
			Amount:   amount,
			OrderID:  orderID,
			Usages:   usages,
		},
	}, nil
}

// =============================================================================
// CANCEL USE - Restore or recreate balance
// =============================================================================

// CancelUseResult reports a successful cancel-use.
type CancelUseResult struct {
	Restored []RestoredLedger
	Created  []CreatedLedger
	Mutation Mutation
	Event    UseCanceledEvent
}

// cancelCandidate pairs a ledger with its outstanding cancelable amount for
// the order and the timestamp of its first USE entry.
type cancelCandidate struct {
	ledger     Ledger
	cancelable Amount
	firstUseAt time.Time
}

// CancelUse reverses up to cancelAmount of the order's usage. Per drawn
// ledger, a USE_CANCEL entry is always journaled against the original
// ledger; the amount is restored into the ledger when it has not expired,
// otherwise a replacement ledger is created under the current default
// expiration policy with an EARN entry of its own.
func (m *MemberPoint) CancelUse(orderID string, cancelAmount Amount, defaultExpirationDays int, now time.Time) (*CancelUseResult, error) {
	if cancelAmount.IsZero() {
		return nil, &InvalidAmountError{Value: 0, Reason: "cancel amount must be positive"}
	}

	candidates, totalCancelable := m.cancelCandidates(orderID)
	if len(candidates) == 0 && !m.hasUsage(orderID) {
		return nil, ErrOrderNotFound
	}
	if cancelAmount.GreaterThan(totalCancelable) {
		return nil, &InvalidCancelAmountError{OrderID: orderID, Requested: cancelAmount, Cancelable: totalCancelable}
	}

	var (
		updated    []Ledger
		created    []Ledger
		entries    []Entry
		restored   []RestoredLedger
		newLedgers []CreatedLedger
	)
	remaining := cancelAmount
	for _, c := range candidates {
		if remaining.IsZero() {
			break
		}
		take := remaining.Min(c.cancelable)
		remaining -= take

		// The journal always reflects the reversal against the original
		// ledger, expired or not.
		entries = append(entries, newUseCancelEntry(c.ledger.ID, take, orderID, now))

		if c.ledger.Expired(now) {
			// The expired grant's basis has lapsed; the amount moves into a
			// fresh ledger under the current default expiration policy.
			source := c.ledger.ID
			nl := NewLedger(m.MemberID, take, EarnUseCancel, NewExpiration(now, defaultExpirationDays), &source, now)
			created = append(created, nl)
			entries = append(entries, newEarnEntry(nl.ID, take, now))
			newLedgers = append(newLedgers, CreatedLedger{
				LedgerID:       nl.ID,
				SourceLedgerID: source,
				Amount:         take,
				ExpiresAt:      nl.ExpiresAt,
			})
		} else {
			l := c.ledger
			l.AvailableAmount += take
			updated = append(updated, l)
			restored = append(restored, RestoredLedger{LedgerID: l.ID, Amount: take})
		}
	}

	m.applyLedgerUpdates(updated)
	m.applyNewLedgers(created)
	m.applyEntries(entries)

	return &CancelUseResult{
		Restored: restored,
		Created:  newLedgers,
		Mutation: Mutation{
			MemberID:       m.MemberID,
			UpdatedLedgers: updated,
			NewLedgers:     created,
			NewEntries:     entries,
		},
		Event: UseCanceledEvent{
			envelope: envelope{MemberID: m.MemberID, At: now},
			Amount:   cancelAmount,
			OrderID:  orderID,
			Restored: restored,
			Created:  newLedgers,
		},
	}, nil
}

// cancelCandidates computes each ledger's outstanding cancelable amount for
// the order and returns the participating ledgers in the order their USE
// entries were originally recorded.
func (m *MemberPoint) cancelCandidates(orderID string) ([]cancelCandidate, Amount) {
	var candidates []cancelCandidate
	var total Amount
	for _, l := range m.Ledgers {
		entries := m.Entries[l.ID]
		cancelable := CancelableAmount(entries, orderID)
		if !cancelable.IsPositive() {
			continue
		}
		firstUse, ok := earliestUseAt(entries, orderID)
		if !ok {
			continue
		}
		candidates = append(candidates, cancelCandidate{ledger: l, cancelable: cancelable, firstUseAt: firstUse})
		total += cancelable
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].firstUseAt.Before(candidates[j].firstUseAt)
	})
	return candidates, total
}

// hasUsage reports whether any USE entry was ever recorded for the order.
// Distinguishes an unknown order from one whose usage is fully canceled.
func (m *MemberPoint) hasUsage(orderID string) bool {
	for _, entries := range m.Entries {
		for _, e := range entries {
			if e.Type == EntryUse && e.OrderID == orderID {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// CANCEL EARN
// =============================================================================

// CancelEarnResult reports a successful earn reversal.
type CancelEarnResult struct {
	Ledger   Ledger
	Amount   Amount
	Mutation Mutation
	Event    EarnCanceledEvent
}

// CancelEarn reverses an entirely-unused grant: the ledger is marked
// canceled, its availability zeroed, and an EARN_CANCEL entry journaled.
func (m *MemberPoint) CancelEarn(ledgerID uuid.UUID, now time.Time) (*CancelEarnResult, error) {
	l, ok := findLedger(m.Ledgers, ledgerID)
	if !ok {
		return nil, ErrLedgerNotFound
	}
	if err := ValidateCancelEarn(l); err != nil {
		return nil, err
	}

	canceledAmount := l.EarnedAmount
	l.Canceled = true
	l.AvailableAmount = 0
	entry := newEarnCancelEntry(l.ID, canceledAmount, now)

	m.applyLedgerUpdates([]Ledger{l})
	m.applyEntries([]Entry{entry})

	return &CancelEarnResult{
		Ledger: l,
		Amount: canceledAmount,
		Mutation: Mutation{
			MemberID:       m.MemberID,
			UpdatedLedgers: []Ledger{l},
			NewEntries:     []Entry{entry},
		},
		Event: EarnCanceledEvent{
			envelope: envelope{MemberID: m.MemberID, At: now},
			LedgerID: l.ID,
			Amount:   canceledAmount,
		},
	}, nil
}

// =============================================================================
// IN-MEMORY APPLICATION
// =============================================================================

func (m *MemberPoint) applyNewLedgers(ledgers []Ledger) {
	m.Ledgers = append(m.Ledgers, ledgers...)
}

func (m *MemberPoint) applyLedgerUpdates(updated []Ledger) {
	for _, u := range updated {
		for i := range m.Ledgers {
			if m.Ledgers[i].ID == u.ID {
				m.Ledgers[i] = u
				break
			}
		}
	}
}

func (m *MemberPoint) applyEntries(entries []Entry) {
	if m.Entries == nil {
		m.Entries = make(map[uuid.UUID][]Entry)
	}
	for _, e := range entries {
		m.Entries[e.LedgerID] = append(m.Entries[e.LedgerID], e)
	}
}
