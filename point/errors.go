/*
errors.go - Centralized error types for the point engine

PURPOSE:
  All domain error types in one place for consistency and discoverability.
  Callers match with errors.Is against the sentinels; the structured types
  carry the figures needed for error responses.

ERROR CATEGORIES:
  1. Policy violations on earn (amount / expiration / max balance)
  2. Allocation failures (insufficient balance, invalid cancel amount)
  3. Ledger state violations (already used, already canceled, not found)

SEE ALSO:
  - rules.go: Produces these errors during validation
  - member.go: Produces these errors during allocation
*/
package point

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a use exceeds the usable total.
	ErrInsufficientBalance = errors.New("insufficient point balance")

	// ErrInvalidCancelAmount is returned when a cancel exceeds the cancelable
	// total for the order.
	ErrInvalidCancelAmount = errors.New("invalid cancel amount")

	// ErrInvalidAmount is returned for amounts outside the allowed range,
	// including zero-amount use requests.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidExpiration is returned for expiration days outside the policy range.
	ErrInvalidExpiration = errors.New("invalid expiration days")

	// ErrMaxBalanceExceeded is returned when an earn would push the member's
	// standing balance over the policy cap.
	ErrMaxBalanceExceeded = errors.New("max balance exceeded")

	// ErrLedgerAlreadyUsed is returned when canceling an earn whose ledger has
	// been partially or fully consumed.
	ErrLedgerAlreadyUsed = errors.New("ledger already used")

	// ErrLedgerAlreadyCanceled is returned when canceling an earn twice.
	ErrLedgerAlreadyCanceled = errors.New("ledger already canceled")

	// ErrLedgerNotFound is returned when a referenced ledger doesn't exist.
	ErrLedgerNotFound = errors.New("ledger not found")

	// ErrOrderNotFound is returned when a cancel references an order with no
	// recorded usage.
	ErrOrderNotFound = errors.New("no usage found for order")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage on use.
type InsufficientBalanceError struct {
	MemberID  uuid.UUID
	Requested Amount
	Available Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d",
		e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidCancelAmountError reports a cancel exceeding the cancelable total.
type InvalidCancelAmountError struct {
	OrderID    string
	Requested  Amount
	Cancelable Amount
}

func (e *InvalidCancelAmountError) Error() string {
	return fmt.Sprintf("invalid cancel amount for order %s: requested %d, cancelable %d",
		e.OrderID, e.Requested, e.Cancelable)
}

func (e *InvalidCancelAmountError) Unwrap() error { return ErrInvalidCancelAmount }

// InvalidAmountError reports an amount outside the allowed range.
type InvalidAmountError struct {
	Value  int64
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: %s", e.Value, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// InvalidExpirationError reports expiration days outside the policy range.
type InvalidExpirationError struct {
	Days int
	Min  int
	Max  int
}

func (e *InvalidExpirationError) Error() string {
	return fmt.Sprintf("invalid expiration days %d: allowed range [%d, %d]", e.Days, e.Min, e.Max)
}

func (e *InvalidExpirationError) Unwrap() error { return ErrInvalidExpiration }

// MaxBalanceExceededError reports an earn that would exceed the balance cap.
type MaxBalanceExceededError struct {
	Current    Amount
	EarnAmount Amount
	MaxBalance Amount
}

func (e *MaxBalanceExceededError) Error() string {
	return fmt.Sprintf("max balance exceeded: current %d + earn %d > max %d",
		e.Current, e.EarnAmount, e.MaxBalance)
}

func (e *MaxBalanceExceededError) Unwrap() error { return ErrMaxBalanceExceeded }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// (HTTP 4xx equivalent). Business-rule violations leave state untouched.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidCancelAmount) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidExpiration) ||
		errors.Is(err, ErrMaxBalanceExceeded) ||
		errors.Is(err, ErrLedgerAlreadyUsed) ||
		errors.Is(err, ErrLedgerAlreadyCanceled)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLedgerNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}
