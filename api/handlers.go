/*
handlers.go - HTTP API handlers for the point engine

PURPOSE:
  Exposes the point engine via REST API. Handles HTTP request/response,
  JSON serialization, idempotency wrapping, and delegates to the service
  layer.

ENDPOINTS:
  Commands:
    POST   /api/points/earn              Grant points
    POST   /api/points/use               Spend points against an order
    POST   /api/points/use/cancel        Reverse an order's usage
    POST   /api/points/earn/cancel       Reverse an unused grant

  Queries:
    GET    /api/members/{id}/balance     Usable balance (cached)
    GET    /api/members/{id}/entries     Journal history (paged)

  Admin:
    GET    /api/admin/members/{id}/consistency  Journal-vs-balance audit

IDEMPOTENCY:
  Mutating endpoints honor the Idempotency-Key header. Replays of a
  completed key return the stored response; a concurrent duplicate gets
  409. Requests without the header execute unprotected.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient balance, invalid cancel amount
  - 404: Member ledger or order not found
  - 409: Duplicate/in-flight idempotency key, ledger state conflicts
  - 503: Lock acquisition exhausted (retryable)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - service/service.go: Command execution
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/point-engine/idempotency"
	"github.com/warp/point-engine/lock"
	"github.com/warp/point-engine/point"
	"github.com/warp/point-engine/service"
)

const idempotencyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service     *service.Service
	Idempotency *idempotency.Coordinator
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, idem *idempotency.Coordinator) *Handler {
	return &Handler{Service: svc, Idempotency: idem}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// Earn grants points to a member.
// POST /api/points/earn
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	var req EarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid memberId", err)
		return
	}
	earnType, ok := parseEarnType(req.EarnType)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid earnType (use MANUAL or SYSTEM)", nil)
		return
	}

	h.execute(w, r, func() (any, error) {
		return h.Service.Earn(r.Context(), service.EarnCommand{
			MemberID:       memberID,
			Amount:         req.Amount,
			EarnType:       earnType,
			ExpirationDays: req.ExpirationDays,
		})
	})
}

// Use spends points against an order.
// POST /api/points/use
func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	var req UseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid memberId", err)
		return
	}

	h.execute(w, r, func() (any, error) {
		return h.Service.Use(r.Context(), service.UseCommand{
			MemberID: memberID,
			Amount:   req.Amount,
			OrderID:  req.OrderID,
		})
	})
}

// CancelUse reverses all or part of an order's usage.
// POST /api/points/use/cancel
func (h *Handler) CancelUse(w http.ResponseWriter, r *http.Request) {
	var req CancelUseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid memberId", err)
		return
	}

	h.execute(w, r, func() (any, error) {
		return h.Service.CancelUse(r.Context(), service.CancelUseCommand{
			MemberID:     memberID,
			OrderID:      req.OrderID,
			CancelAmount: req.CancelAmount,
		})
	})
}

// CancelEarn reverses an entirely-unused grant.
// POST /api/points/earn/cancel
func (h *Handler) CancelEarn(w http.ResponseWriter, r *http.Request) {
	var req CancelEarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid memberId", err)
		return
	}
	ledgerID, err := uuid.Parse(req.LedgerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ledgerId", err)
		return
	}

	h.execute(w, r, func() (any, error) {
		return h.Service.CancelEarn(r.Context(), service.CancelEarnCommand{
			MemberID: memberID,
			LedgerID: ledgerID,
		})
	})
}

// execute runs a command under the idempotency protocol, keyed by the
// Idempotency-Key header, and writes the JSON outcome.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, op func() (any, error)) {
	key := r.Header.Get(idempotencyHeader)
	payload, err := h.Idempotency.Execute(r.Context(), key, func(_ context.Context) (any, error) {
		return op()
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

// Balance returns the member's usable balance.
// GET /api/members/{id}/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid member id", err)
		return
	}

	result, err := h.Service.Balance(r.Context(), memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// History returns a page of the member's journal, newest first.
// GET /api/members/{id}/entries?limit=&offset=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid member id", err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	result, err := h.Service.History(r.Context(), memberID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Consistency audits one member's ledgers against the journal.
// GET /api/admin/members/{id}/consistency
func (h *Handler) Consistency(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid member id", err)
		return
	}

	drifts, err := h.Service.CheckConsistency(r.Context(), memberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ConsistencyResponse{
		MemberID:   memberID.String(),
		Consistent: len(drifts) == 0,
		Drifts:     make([]DriftDTO, 0, len(drifts)),
		CheckedAt:  time.Now().UTC(),
	}
	for _, d := range drifts {
		resp.Drifts = append(resp.Drifts, DriftDTO{
			LedgerID: d.LedgerID.String(),
			Stored:   d.Stored.Int64(),
			Derived:  d.Derived,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseEarnType(raw string) (point.EarnType, bool) {
	switch point.EarnType(raw) {
	case "":
		return point.EarnSystem, true
	case point.EarnManual:
		return point.EarnManual, true
	case point.EarnSystem:
		return point.EarnSystem, true
	default:
		return "", false
	}
}

// writeDomainError maps domain and infrastructure errors to HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case point.IsNotFound(err):
		writeErrorCode(w, http.StatusNotFound, "Not found", errorCode(err), err)
	case point.IsClientError(err):
		writeErrorCode(w, http.StatusBadRequest, "Request rejected", errorCode(err), err)
	case errors.Is(err, service.ErrOrderIDRequired):
		writeErrorCode(w, http.StatusBadRequest, "Request rejected", "ORDER_ID_REQUIRED", err)
	case errors.Is(err, idempotency.ErrRequestInProgress):
		writeErrorCode(w, http.StatusConflict, "Request already in progress", "REQUEST_IN_PROGRESS", err)
	case errors.Is(err, idempotency.ErrDuplicateRequest):
		writeErrorCode(w, http.StatusConflict, "Duplicate request", "DUPLICATE_REQUEST", err)
	case errors.Is(err, lock.ErrLockAcquisitionFailed):
		writeErrorCode(w, http.StatusServiceUnavailable, "Member busy, retry later", "LOCK_TIMEOUT", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// errorCode derives a stable machine-readable code from known sentinels.
func errorCode(err error) string {
	switch {
	case errors.Is(err, point.ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, point.ErrInvalidCancelAmount):
		return "INVALID_CANCEL_AMOUNT"
	case errors.Is(err, point.ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, point.ErrInvalidExpiration):
		return "INVALID_EXPIRATION"
	case errors.Is(err, point.ErrMaxBalanceExceeded):
		return "MAX_BALANCE_EXCEEDED"
	case errors.Is(err, point.ErrLedgerAlreadyUsed):
		return "LEDGER_ALREADY_USED"
	case errors.Is(err, point.ErrLedgerAlreadyCanceled):
		return "LEDGER_ALREADY_CANCELED"
	case errors.Is(err, point.ErrLedgerNotFound):
		return "LEDGER_NOT_FOUND"
	case errors.Is(err, point.ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeErrorCode(w, status, message, "", err)
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
