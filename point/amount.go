/*
Package point provides the core member point engine.

PURPOSE:
  This package contains the domain types and algorithms for managing a
  member's redeemable point balance as a set of discrete, expiring earn
  grants (ledgers), each with an append-only journal of amount-changing
  events (entries).

KEY CONCEPTS IN THIS FILE (amount.go):
  - Amount: A non-negative integral point quantity with guarded arithmetic

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Safety: Amount arithmetic can never produce a negative or overflowed value
  3. Derivability: A ledger's available amount is always re-derivable from
     its entries alone

SEE ALSO:
  - ledger.go: Ledger and Entry data model
  - member.go: MemberPoint aggregate and allocation engine
  - rules.go: Pure allocation and validation rules
*/
package point

import "fmt"

// =============================================================================
// AMOUNT - Non-negative integral point quantity
// =============================================================================

// Amount is a point quantity. It is always >= 0 and <= MaxAmount; the
// constructors and arithmetic methods enforce this.
type Amount int64

// MaxAmount is the system-wide ceiling for any single amount value.
const MaxAmount Amount = 100_000_000_000

// NewAmount validates v and returns it as an Amount.
func NewAmount(v int64) (Amount, error) {
	if v < 0 {
		return 0, &InvalidAmountError{Value: v, Reason: "amount must not be negative"}
	}
	if Amount(v) > MaxAmount {
		return 0, &InvalidAmountError{Value: v, Reason: "amount exceeds system maximum"}
	}
	return Amount(v), nil
}

// Add returns a+b, guarding against overflow and the system maximum.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a + b
	if sum < a || sum > MaxAmount {
		return 0, &InvalidAmountError{
			Value:  int64(a),
			Reason: fmt.Sprintf("addition of %d exceeds system maximum", b),
		}
	}
	return sum, nil
}

// Sub returns a-b, guarding against negative results.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, &InvalidAmountError{
			Value:  int64(a),
			Reason: fmt.Sprintf("subtraction of %d would be negative", b),
		}
	}
	return a - b, nil
}

func (a Amount) Min(b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

func (a Amount) IsZero() bool              { return a == 0 }
func (a Amount) IsPositive() bool          { return a > 0 }
func (a Amount) GreaterThan(b Amount) bool { return a > b }
func (a Amount) LessThan(b Amount) bool    { return a < b }
func (a Amount) Int64() int64              { return int64(a) }
