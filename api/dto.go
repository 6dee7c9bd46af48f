/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response / *DTO: Response types returned to clients
  Command results (service.EarnResult etc.) are serialized directly; they
  already carry stable JSON tags.

VALIDATION:
  Validation is done in handlers and the domain, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - service/service.go: Result types serialized in responses
*/
package api

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// EarnRequest grants points to a member.
type EarnRequest struct {
	MemberID       string `json:"memberId"`
	Amount         int64  `json:"amount"`
	EarnType       string `json:"earnType,omitempty"`
	ExpirationDays *int   `json:"expirationDays,omitempty"`
}

// UseRequest spends points against an order.
type UseRequest struct {
	MemberID string `json:"memberId"`
	Amount   int64  `json:"amount"`
	OrderID  string `json:"orderId"`
}

// CancelUseRequest reverses all or part of an order's usage.
type CancelUseRequest struct {
	MemberID     string `json:"memberId"`
	OrderID      string `json:"orderId"`
	CancelAmount int64  `json:"cancelAmount"`
}

// CancelEarnRequest reverses an unused grant.
type CancelEarnRequest struct {
	MemberID string `json:"memberId"`
	LedgerID string `json:"ledgerId"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// DriftDTO reports one ledger whose journal disagrees with its balance.
type DriftDTO struct {
	LedgerID string `json:"ledgerId"`
	Stored   int64  `json:"storedAmount"`
	Derived  int64  `json:"derivedAmount"`
}

// ConsistencyResponse is the audit result for one member.
type ConsistencyResponse struct {
	MemberID   string     `json:"memberId"`
	Consistent bool       `json:"consistent"`
	Drifts     []DriftDTO `json:"drifts"`
	CheckedAt  time.Time  `json:"checkedAt"`
}
