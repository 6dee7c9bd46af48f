/*
policy.go - Earn policy values

PURPOSE:
  Bundles the configurable policy values consulted on earn and on
  cancel-use recovery. Values come from configuration; the zero value is
  not usable, construct with DefaultEarnPolicy or from config.
*/
package point

import "time"

// EarnPolicy holds the policy values enforced on earn and used when a
// cancel-use must create a replacement ledger.
type EarnPolicy struct {
	MinAmount             Amount
	MaxAmount             Amount
	MaxBalance            Amount
	DefaultExpirationDays int
	MinExpirationDays     int
	MaxExpirationDays     int
}

// DefaultEarnPolicy returns the standing production policy values.
func DefaultEarnPolicy() EarnPolicy {
	return EarnPolicy{
		MinAmount:             1,
		MaxAmount:             100_000,
		MaxBalance:            10_000_000,
		DefaultExpirationDays: 365,
		MinExpirationDays:     1,
		MaxExpirationDays:     1825, // 5 years
	}
}

// ExpirationDays resolves the requested days, falling back to the default.
func (p EarnPolicy) ExpirationDays(requested *int) int {
	if requested != nil {
		return *requested
	}
	return p.DefaultExpirationDays
}

// ExpiresAt computes the expiry timestamp for a new grant.
func (p EarnPolicy) ExpiresAt(requested *int, now time.Time) time.Time {
	return now.AddDate(0, 0, p.ExpirationDays(requested))
}
