/*
rules.go - Pure allocation and validation rules

PURPOSE:
  Stateless functions implementing the business rules of the engine:
  which ledgers may be drawn from and in what order, how much of an order's
  usage can still be canceled, and the policy checks on earn.

ALLOCATION PRIORITY:
  Manually-granted ledgers before system-granted ledgers; within the same
  category, earliest expiration first. Category outranks expiry.

SEE ALSO:
  - member.go: Aggregate operations built on these rules
  - policy.go: EarnPolicy values referenced by the earn checks
*/
package point

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// BALANCE RULES
// =============================================================================

// AvailableBalance sums available amounts over usable ledgers.
func AvailableBalance(ledgers []Ledger, now time.Time) Amount {
	var total Amount
	for _, l := range ledgers {
		if l.Usable(now) {
			total += l.AvailableAmount
		}
	}
	return total
}

// UsableLedgersSorted filters to usable ledgers and orders them by
// allocation priority. The input slice is not modified.
func UsableLedgersSorted(ledgers []Ledger, now time.Time) []Ledger {
	usable := make([]Ledger, 0, len(ledgers))
	for _, l := range ledgers {
		if l.Usable(now) {
			usable = append(usable, l)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].IsManual() != usable[j].IsManual() {
			return usable[i].IsManual()
		}
		return usable[i].ExpiresAt.Before(usable[j].ExpiresAt)
	})
	return usable
}

// =============================================================================
// CANCEL-USE RULES
// =============================================================================

// CancelableAmount computes, from one ledger's entries, how much of the
// given order's usage against that ledger can still be canceled:
// net = sum of signed USE and USE_CANCEL amounts for the order; a negative
// net means that much is still outstanding.
func CancelableAmount(entries []Entry, orderID string) Amount {
	var net int64
	for _, e := range entries {
		if e.OrderID != orderID || orderID == "" {
			continue
		}
		if e.Type == EntryUse || e.Type == EntryUseCancel {
			net += e.Amount
		}
	}
	if net >= 0 {
		return 0
	}
	return Amount(-net)
}

// earliestUseAt returns the timestamp of the first USE entry for the order,
// used to process cancels in the same order the uses were recorded.
func earliestUseAt(entries []Entry, orderID string) (time.Time, bool) {
	var first time.Time
	found := false
	for _, e := range entries {
		if e.Type == EntryUse && e.OrderID == orderID {
			if !found || e.CreatedAt.Before(first) {
				first = e.CreatedAt
				found = true
			}
		}
	}
	return first, found
}

// =============================================================================
// EARN VALIDATION RULES
// =============================================================================

// ValidateEarn applies the full set of earn-time policy checks: per-grant
// amount range, expiration-day range (when the caller supplies one), and the
// member's maximum standing balance.
func ValidateEarn(amount Amount, currentBalance Amount, expirationDays *int, policy EarnPolicy) error {
	if amount.LessThan(policy.MinAmount) {
		return &InvalidAmountError{Value: amount.Int64(), Reason: "below policy minimum"}
	}
	if amount.GreaterThan(policy.MaxAmount) {
		return &InvalidAmountError{Value: amount.Int64(), Reason: "above policy maximum"}
	}
	if expirationDays != nil {
		if *expirationDays < policy.MinExpirationDays || *expirationDays > policy.MaxExpirationDays {
			return &InvalidExpirationError{
				Days: *expirationDays,
				Min:  policy.MinExpirationDays,
				Max:  policy.MaxExpirationDays,
			}
		}
	}
	if sum, err := currentBalance.Add(amount); err != nil || sum.GreaterThan(policy.MaxBalance) {
		return &MaxBalanceExceededError{
			Current:    currentBalance,
			EarnAmount: amount,
			MaxBalance: policy.MaxBalance,
		}
	}
	return nil
}

// ValidateCancelEarn checks the cancel-earn precondition: the ledger must be
// entirely unused and not already canceled.
func ValidateCancelEarn(l Ledger) error {
	if l.Canceled {
		return ErrLedgerAlreadyCanceled
	}
	if l.AvailableAmount != l.EarnedAmount {
		return ErrLedgerAlreadyUsed
	}
	return nil
}

// NewExpiration computes the expiry for a ledger created during cancel-use
// recovery. The current default policy applies, not the original ledger's.
func NewExpiration(now time.Time, defaultExpirationDays int) time.Time {
	return now.AddDate(0, 0, defaultExpirationDays)
}

// findLedger locates a ledger by id.
func findLedger(ledgers []Ledger, id uuid.UUID) (Ledger, bool) {
	for _, l := range ledgers {
		if l.ID == id {
			return l, true
		}
	}
	return Ledger{}, false
}
