/*
Package service wires the point engine's commands end to end.

CONTROL FLOW (one mutating command):
  acquire per-member lock -> load aggregate -> aggregate computes the
  mutation -> persist ledgers+entries atomically -> release lock -> evict
  balance cache -> publish domain events.

  The cache is evicted and events published only after the mutating
  transaction has durably committed. Idempotency wrapping happens a layer
  up (api package), keyed by the caller-supplied request header.
*/
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/point-engine/cache"
	"github.com/warp/point-engine/lock"
	"github.com/warp/point-engine/point"
)

// ErrOrderIDRequired is returned when a use or cancel-use carries no order
// reference.
var ErrOrderIDRequired = errors.New("order id required")

// Service executes point commands with locking, persistence, cache
// invalidation and event publication.
type Service struct {
	store     point.Store
	locker    *lock.Locker
	balances  *cache.BalanceCache
	publisher point.Publisher
	policy    point.EarnPolicy
	clock     point.Clock
}

func New(store point.Store, locker *lock.Locker, balances *cache.BalanceCache, publisher point.Publisher, policy point.EarnPolicy, clock point.Clock) *Service {
	if clock == nil {
		clock = point.SystemClock{}
	}
	return &Service{
		store:     store,
		locker:    locker,
		balances:  balances,
		publisher: publisher,
		policy:    policy,
		clock:     clock,
	}
}

// =============================================================================
// COMMANDS AND RESULTS
// =============================================================================

type EarnCommand struct {
	MemberID       uuid.UUID
	Amount         int64
	EarnType       point.EarnType
	ExpirationDays *int
}

type EarnResult struct {
	MemberID     uuid.UUID `json:"memberId"`
	LedgerID     uuid.UUID `json:"ledgerId"`
	EarnedAmount int64     `json:"earnedAmount"`
	TotalBalance int64     `json:"totalBalance"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type UseCommand struct {
	MemberID uuid.UUID
	Amount   int64
	OrderID  string
}

type UseResult struct {
	MemberID     uuid.UUID     `json:"memberId"`
	UsedAmount   int64         `json:"usedAmount"`
	TotalBalance int64         `json:"totalBalance"`
	OrderID      string        `json:"orderId"`
	Usages       []LedgerShare `json:"usages"`
}

// LedgerShare is one ledger's share of a use or cancel.
type LedgerShare struct {
	LedgerID uuid.UUID `json:"ledgerId"`
	Amount   int64     `json:"amount"`
}

type CancelUseCommand struct {
	MemberID     uuid.UUID
	OrderID      string
	CancelAmount int64
}

type CancelUseResult struct {
	MemberID       uuid.UUID     `json:"memberId"`
	CanceledAmount int64         `json:"canceledAmount"`
	TotalBalance   int64         `json:"totalBalance"`
	OrderID        string        `json:"orderId"`
	Restored       []LedgerShare `json:"restoredLedgers"`
	Created        []LedgerShare `json:"newLedgers"`
}

type CancelEarnCommand struct {
	MemberID uuid.UUID
	LedgerID uuid.UUID
}

type CancelEarnResult struct {
	MemberID       uuid.UUID `json:"memberId"`
	LedgerID       uuid.UUID `json:"ledgerId"`
	CanceledAmount int64     `json:"canceledAmount"`
	TotalBalance   int64     `json:"totalBalance"`
}

// =============================================================================
// MUTATING OPERATIONS
// =============================================================================

// Earn grants points to a member.
func (s *Service) Earn(ctx context.Context, cmd EarnCommand) (*EarnResult, error) {
	amount, err := point.NewAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}
	earnType := cmd.EarnType
	if earnType == "" {
		earnType = point.EarnSystem
	}

	var out *EarnResult
	var event point.Event
	err = s.locker.WithMemberLock(ctx, cmd.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		mp, err := s.store.LoadMember(ctx, cmd.MemberID)
		if err != nil {
			return fmt.Errorf("load member %s: %w", cmd.MemberID, err)
		}

		r, err := mp.Earn(amount, earnType, cmd.ExpirationDays, s.policy, now)
		if err != nil {
			return err
		}
		if err := s.store.Apply(ctx, r.Mutation); err != nil {
			return fmt.Errorf("persist earn: %w", err)
		}

		event = r.Event
		out = &EarnResult{
			MemberID:     cmd.MemberID,
			LedgerID:     r.Ledger.ID,
			EarnedAmount: amount.Int64(),
			TotalBalance: mp.TotalBalance(now).Int64(),
			ExpiresAt:    r.Ledger.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, cmd.MemberID, event)
	log.Printf("point earn complete. memberId=%s ledgerId=%s amount=%d balance=%d",
		cmd.MemberID, out.LedgerID, out.EarnedAmount, out.TotalBalance)
	return out, nil
}

// Use spends points against an order, drawing across ledgers by priority.
func (s *Service) Use(ctx context.Context, cmd UseCommand) (*UseResult, error) {
	if cmd.OrderID == "" {
		return nil, ErrOrderIDRequired
	}
	amount, err := point.NewAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}

	var out *UseResult
	var event point.Event
	err = s.locker.WithMemberLock(ctx, cmd.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		mp, err := s.store.LoadMember(ctx, cmd.MemberID)
		if err != nil {
			return fmt.Errorf("load member %s: %w", cmd.MemberID, err)
		}

		r, err := mp.Use(amount, cmd.OrderID, now)
		if err != nil {
			return err
		}
		if err := s.store.Apply(ctx, r.Mutation); err != nil {
			return fmt.Errorf("persist use: %w", err)
		}

		event = r.Event
		out = &UseResult{
			MemberID:     cmd.MemberID,
			UsedAmount:   amount.Int64(),
			TotalBalance: mp.TotalBalance(now).Int64(),
			OrderID:      cmd.OrderID,
			Usages:       toShares(r.Usages),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, cmd.MemberID, event)
	log.Printf("point use complete. memberId=%s orderId=%s amount=%d balance=%d ledgers=%d",
		cmd.MemberID, cmd.OrderID, out.UsedAmount, out.TotalBalance, len(out.Usages))
	return out, nil
}

// CancelUse reverses all or part of an order's usage, restoring balance
// into the original ledgers or into replacement ledgers when the originals
// have expired.
func (s *Service) CancelUse(ctx context.Context, cmd CancelUseCommand) (*CancelUseResult, error) {
	if cmd.OrderID == "" {
		return nil, ErrOrderIDRequired
	}
	amount, err := point.NewAmount(cmd.CancelAmount)
	if err != nil {
		return nil, err
	}

	var out *CancelUseResult
	var event point.Event
	err = s.locker.WithMemberLock(ctx, cmd.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		mp, err := s.store.LoadMemberForOrder(ctx, cmd.MemberID, cmd.OrderID)
		if err != nil {
			return fmt.Errorf("load member %s for order %s: %w", cmd.MemberID, cmd.OrderID, err)
		}

		r, err := mp.CancelUse(cmd.OrderID, amount, s.policy.DefaultExpirationDays, now)
		if err != nil {
			return err
		}
		if err := s.store.Apply(ctx, r.Mutation); err != nil {
			return fmt.Errorf("persist cancel-use: %w", err)
		}

		event = r.Event
		out = &CancelUseResult{
			MemberID:       cmd.MemberID,
			CanceledAmount: amount.Int64(),
			TotalBalance:   mp.TotalBalance(now).Int64(),
			OrderID:        cmd.OrderID,
			Restored:       restoredShares(r.Restored),
			Created:        createdShares(r.Created),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, cmd.MemberID, event)
	log.Printf("point cancel-use complete. memberId=%s orderId=%s amount=%d balance=%d newLedgers=%d",
		cmd.MemberID, cmd.OrderID, out.CanceledAmount, out.TotalBalance, len(out.Created))
	return out, nil
}

// CancelEarn reverses an entirely-unused grant.
func (s *Service) CancelEarn(ctx context.Context, cmd CancelEarnCommand) (*CancelEarnResult, error) {
	var out *CancelEarnResult
	var event point.Event
	err := s.locker.WithMemberLock(ctx, cmd.MemberID, func(ctx context.Context) error {
		now := s.clock.Now()
		mp, err := s.store.LoadMember(ctx, cmd.MemberID)
		if err != nil {
			return fmt.Errorf("load member %s: %w", cmd.MemberID, err)
		}

		r, err := mp.CancelEarn(cmd.LedgerID, now)
		if err != nil {
			return err
		}
		if err := s.store.Apply(ctx, r.Mutation); err != nil {
			return fmt.Errorf("persist cancel-earn: %w", err)
		}

		event = r.Event
		out = &CancelEarnResult{
			MemberID:       cmd.MemberID,
			LedgerID:       cmd.LedgerID,
			CanceledAmount: r.Amount.Int64(),
			TotalBalance:   mp.TotalBalance(now).Int64(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, cmd.MemberID, event)
	log.Printf("point cancel-earn complete. memberId=%s ledgerId=%s amount=%d balance=%d",
		cmd.MemberID, cmd.LedgerID, out.CanceledAmount, out.TotalBalance)
	return out, nil
}

// afterCommit runs the post-commit side effects: evict the derived balance
// cache exactly once, then notify external collaborators.
func (s *Service) afterCommit(ctx context.Context, memberID uuid.UUID, event point.Event) {
	s.balances.Evict(ctx, memberID)
	if event != nil {
		s.publisher.Publish(ctx, event)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

type BalanceResult struct {
	MemberID     uuid.UUID `json:"memberId"`
	TotalBalance int64     `json:"totalBalance"`
	AsOf         time.Time `json:"asOf"`
}

// Balance returns the member's usable balance through the read-through cache.
func (s *Service) Balance(ctx context.Context, memberID uuid.UUID) (*BalanceResult, error) {
	now := s.clock.Now()
	balance, err := s.balances.GetBalance(ctx, memberID, func(ctx context.Context) (point.Amount, error) {
		return s.store.SumAvailable(ctx, memberID, now)
	})
	if err != nil {
		return nil, err
	}
	return &BalanceResult{MemberID: memberID, TotalBalance: balance.Int64(), AsOf: now}, nil
}

type HistoryEntry struct {
	EntryID   uuid.UUID `json:"entryId"`
	LedgerID  uuid.UUID `json:"ledgerId"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	OrderID   string    `json:"orderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type HistoryResult struct {
	MemberID uuid.UUID      `json:"memberId"`
	Entries  []HistoryEntry `json:"entries"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// History returns a page of the member's journal, newest first.
func (s *Service) History(ctx context.Context, memberID uuid.UUID, limit, offset int) (*HistoryResult, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	entries, total, err := s.store.EntriesByMember(ctx, memberID, limit, offset)
	if err != nil {
		return nil, err
	}

	out := &HistoryResult{MemberID: memberID, Total: total, Limit: limit, Offset: offset}
	for _, e := range entries {
		out.Entries = append(out.Entries, HistoryEntry{
			EntryID:   e.ID,
			LedgerID:  e.LedgerID,
			Type:      string(e.Type),
			Amount:    e.Amount,
			OrderID:   e.OrderID,
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}

// CheckConsistency re-derives ledger balances from the journal and reports
// drift. Admin/audit surface.
func (s *Service) CheckConsistency(ctx context.Context, memberID uuid.UUID) ([]point.Drift, error) {
	return s.store.CheckConsistency(ctx, memberID)
}

// =============================================================================
// HELPERS
// =============================================================================

func toShares(usages []point.LedgerUsage) []LedgerShare {
	shares := make([]LedgerShare, 0, len(usages))
	for _, u := range usages {
		shares = append(shares, LedgerShare{LedgerID: u.LedgerID, Amount: u.Amount.Int64()})
	}
	return shares
}

func restoredShares(restored []point.RestoredLedger) []LedgerShare {
	shares := make([]LedgerShare, 0, len(restored))
	for _, r := range restored {
		shares = append(shares, LedgerShare{LedgerID: r.LedgerID, Amount: r.Amount.Int64()})
	}
	return shares
}

func createdShares(created []point.CreatedLedger) []LedgerShare {
	shares := make([]LedgerShare, 0, len(created))
	for _, c := range created {
		shares = append(shares, LedgerShare{LedgerID: c.LedgerID, Amount: c.Amount.Int64()})
	}
	return shares
}
