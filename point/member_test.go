package point_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/point-engine/point"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testPolicy() point.EarnPolicy {
	return point.DefaultEarnPolicy()
}

func baseTime() time.Time {
	return time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
}

func newMember(t *testing.T) *point.MemberPoint {
	t.Helper()
	return point.NewMemberPoint(uuid.Must(uuid.NewV7()))
}

// earn grants points and fails the test on any policy rejection.
func earn(t *testing.T, m *point.MemberPoint, amount int64, earnType point.EarnType, days *int, at time.Time) point.Ledger {
	t.Helper()
	r, err := m.Earn(point.Amount(amount), earnType, days, testPolicy(), at)
	require.NoError(t, err)
	return r.Ledger
}

func daysPtr(n int) *int {
	return &n
}

// journalSum is the signed sum of one ledger's entries.
func journalSum(m *point.MemberPoint, ledgerID uuid.UUID) int64 {
	var sum int64
	for _, e := range m.Entries[ledgerID] {
		sum += e.Amount
	}
	return sum
}

// requireJournalMatchesLedgers asserts every ledger's available amount is
// re-derivable from its journal alone.
func requireJournalMatchesLedgers(t *testing.T, m *point.MemberPoint) {
	t.Helper()
	for _, l := range m.Ledgers {
		require.Equal(t, l.AvailableAmount.Int64(), journalSum(m, l.ID),
			"ledger %s journal must re-derive its available amount", l.ID)
	}
}

// =============================================================================
// EARN
// =============================================================================

func TestEarn_CreatesLedgerWithMatchingEntry(t *testing.T) {
	// GIVEN: A member with no history
	// WHEN: Earning 1000 points
	// THEN: One ledger fully available, one EARN entry of +1000

	m := newMember(t)
	now := baseTime()

	r, err := m.Earn(1000, point.EarnSystem, nil, testPolicy(), now)
	require.NoError(t, err)

	assert.Equal(t, point.Amount(1000), r.Ledger.EarnedAmount)
	assert.Equal(t, point.Amount(1000), r.Ledger.AvailableAmount)
	assert.Equal(t, point.Amount(1000), m.TotalBalance(now))

	entries := m.Entries[r.Ledger.ID]
	require.Len(t, entries, 1)
	assert.Equal(t, point.EntryEarn, entries[0].Type)
	assert.Equal(t, int64(1000), entries[0].Amount)
}

func TestEarn_DefaultExpiration_AppliedWhenUnspecified(t *testing.T) {
	// GIVEN: No explicit expiration on the grant
	// WHEN: Earning
	// THEN: The policy default (365 days) applies

	m := newMember(t)
	now := baseTime()

	ledger := earn(t, m, 500, point.EarnSystem, nil, now)
	assert.Equal(t, now.AddDate(0, 0, testPolicy().DefaultExpirationDays), ledger.ExpiresAt)
}

func TestEarn_AmountOutsidePolicyRange_Rejected(t *testing.T) {
	// GIVEN: Policy allows 1..100_000 per grant
	// WHEN: Earning below the minimum or above the maximum
	// THEN: Rejected, aggregate unchanged

	m := newMember(t)
	now := baseTime()

	_, err := m.Earn(0, point.EarnSystem, nil, testPolicy(), now)
	assert.ErrorIs(t, err, point.ErrInvalidAmount)

	_, err = m.Earn(testPolicy().MaxAmount+1, point.EarnSystem, nil, testPolicy(), now)
	assert.ErrorIs(t, err, point.ErrInvalidAmount)

	assert.Empty(t, m.Ledgers)
	assert.True(t, m.TotalBalance(now).IsZero())
}

func TestEarn_ExpirationDaysOutsideRange_Rejected(t *testing.T) {
	// GIVEN: Policy allows 1..1825 expiration days
	// WHEN: Earning with 0 or 1826 days
	// THEN: Rejected with the allowed range attached

	m := newMember(t)
	now := baseTime()

	_, err := m.Earn(100, point.EarnSystem, daysPtr(0), testPolicy(), now)
	assert.ErrorIs(t, err, point.ErrInvalidExpiration)

	_, err = m.Earn(100, point.EarnSystem, daysPtr(1826), testPolicy(), now)
	assert.ErrorIs(t, err, point.ErrInvalidExpiration)

	var expErr *point.InvalidExpirationError
	require.ErrorAs(t, err, &expErr)
	assert.Equal(t, testPolicy().MinExpirationDays, expErr.Min)
	assert.Equal(t, testPolicy().MaxExpirationDays, expErr.Max)
}

func TestEarn_MaxBalanceExceeded_Rejected(t *testing.T) {
	// GIVEN: A member just below the standing-balance ceiling
	// WHEN: Earning enough to cross it
	// THEN: Rejected; balance unchanged

	m := newMember(t)
	now := baseTime()
	policy := testPolicy()

	// Fill up to one grant short of the ceiling.
	grants := policy.MaxBalance.Int64() / policy.MaxAmount.Int64()
	for i := int64(0); i < grants; i++ {
		earn(t, m, policy.MaxAmount.Int64(), point.EarnSystem, nil, now)
	}
	require.Equal(t, policy.MaxBalance, m.TotalBalance(now))

	_, err := m.Earn(1, point.EarnSystem, nil, policy, now)
	assert.ErrorIs(t, err, point.ErrMaxBalanceExceeded)
	assert.Equal(t, policy.MaxBalance, m.TotalBalance(now))
}

// =============================================================================
// USE - Allocation priority
// =============================================================================

func TestUse_ManualGrantsDrawnBeforeSystemGrants(t *testing.T) {
	// GIVEN: A system grant expiring SOONER and a manual grant expiring later
	// WHEN: Using fewer points than either grant holds
	// THEN: The manual grant is drawn first despite its later expiry

	m := newMember(t)
	now := baseTime()

	earn(t, m, 1000, point.EarnSystem, daysPtr(10), now)
	manual := earn(t, m, 1000, point.EarnManual, daysPtr(300), now)

	r, err := m.Use(400, "order-1", now)
	require.NoError(t, err)

	require.Len(t, r.Usages, 1)
	assert.Equal(t, manual.ID, r.Usages[0].LedgerID)
	assert.Equal(t, point.Amount(400), r.Usages[0].Amount)
}

func TestUse_SameCategory_EarliestExpiryDrawnFirst(t *testing.T) {
	// GIVEN: Two system grants, the later-earned one expiring sooner
	// WHEN: Using
	// THEN: The sooner-expiring grant is drawn first regardless of earn order

	m := newMember(t)
	now := baseTime()

	earn(t, m, 1000, point.EarnSystem, daysPtr(300), now)
	expiringSoon := earn(t, m, 1000, point.EarnSystem, daysPtr(5), now.Add(time.Hour))

	r, err := m.Use(600, "order-1", now.Add(2*time.Hour))
	require.NoError(t, err)

	require.Len(t, r.Usages, 1)
	assert.Equal(t, expiringSoon.ID, r.Usages[0].LedgerID)
}

func TestUse_SpansLedgers_OneEntryPerLedgerDrawn(t *testing.T) {
	// GIVEN: Three grants of 300 each
	// WHEN: Using 700
	// THEN: Draws span ledgers, sum to exactly 700, one USE entry per ledger

	m := newMember(t)
	now := baseTime()

	earn(t, m, 300, point.EarnSystem, daysPtr(10), now)
	earn(t, m, 300, point.EarnSystem, daysPtr(20), now)
	earn(t, m, 300, point.EarnSystem, daysPtr(30), now)

	r, err := m.Use(700, "order-1", now)
	require.NoError(t, err)

	var drawn int64
	for _, u := range r.Usages {
		drawn += u.Amount.Int64()
	}
	assert.Equal(t, int64(700), drawn)
	assert.Len(t, r.Usages, 3)
	assert.Len(t, r.Mutation.NewEntries, 3)
	assert.Equal(t, point.Amount(200), m.TotalBalance(now))

	requireJournalMatchesLedgers(t, m)
}

func TestUse_InsufficientBalance_NothingChanges(t *testing.T) {
	// GIVEN: Balance of 500
	// WHEN: Using 501
	// THEN: Rejected all-or-nothing; no ledger partially drawn

	m := newMember(t)
	now := baseTime()
	ledger := earn(t, m, 500, point.EarnSystem, nil, now)

	_, err := m.Use(501, "order-1", now)
	assert.ErrorIs(t, err, point.ErrInsufficientBalance)

	var insErr *point.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, point.Amount(501), insErr.Requested)
	assert.Equal(t, point.Amount(500), insErr.Available)

	assert.Equal(t, point.Amount(500), m.TotalBalance(now))
	assert.Len(t, m.Entries[ledger.ID], 1) // only the original EARN
}

func TestUse_ExpiredLedger_NotDrawnAndNotCounted(t *testing.T) {
	// GIVEN: One expired and one live grant
	// WHEN: Using more than the live grant alone could cover
	// THEN: The expired grant does not save the request

	m := newMember(t)
	now := baseTime()

	earn(t, m, 1000, point.EarnSystem, daysPtr(1), now)
	earn(t, m, 300, point.EarnSystem, daysPtr(100), now)

	later := now.AddDate(0, 0, 2)
	assert.Equal(t, point.Amount(300), m.TotalBalance(later))

	_, err := m.Use(400, "order-1", later)
	assert.ErrorIs(t, err, point.ErrInsufficientBalance)
}

func TestUse_ZeroAmount_Rejected(t *testing.T) {
	m := newMember(t)
	earn(t, m, 100, point.EarnSystem, nil, baseTime())

	_, err := m.Use(0, "order-1", baseTime())
	assert.ErrorIs(t, err, point.ErrInvalidAmount)
}

// =============================================================================
// CANCEL USE
// =============================================================================

func TestCancelUse_RestoresOriginalLedger(t *testing.T) {
	// GIVEN: A grant partly spent on an order
	// WHEN: Canceling the full usage before the grant expires
	// THEN: The original ledger is restored; no replacement ledger appears

	m := newMember(t)
	now := baseTime()
	ledger := earn(t, m, 1000, point.EarnSystem, nil, now)

	_, err := m.Use(600, "order-1", now)
	require.NoError(t, err)

	r, err := m.CancelUse("order-1", 600, testPolicy().DefaultExpirationDays, now.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, r.Restored, 1)
	assert.Equal(t, ledger.ID, r.Restored[0].LedgerID)
	assert.Empty(t, r.Created)
	assert.Equal(t, point.Amount(1000), m.TotalBalance(now.Add(time.Hour)))

	requireJournalMatchesLedgers(t, m)
}

func TestCancelUse_ExpiredLedger_CreatesReplacementLedger(t *testing.T) {
	// GIVEN: Points used from a grant that has since expired
	// WHEN: Canceling that usage
	// THEN: A USE_CANCEL entry is journaled against the original ledger and a
	//       fresh ledger is created under the current default expiration,
	//       linked back to the source

	m := newMember(t)
	now := baseTime()
	original := earn(t, m, 1000, point.EarnSystem, daysPtr(1), now)

	_, err := m.Use(600, "order-1", now)
	require.NoError(t, err)

	later := now.AddDate(0, 0, 3) // original grant has expired
	r, err := m.CancelUse("order-1", 600, testPolicy().DefaultExpirationDays, later)
	require.NoError(t, err)

	assert.Empty(t, r.Restored)
	require.Len(t, r.Created, 1)
	created := r.Created[0]
	assert.Equal(t, original.ID, created.SourceLedgerID)
	assert.Equal(t, point.Amount(600), created.Amount)
	assert.Equal(t, later.AddDate(0, 0, testPolicy().DefaultExpirationDays), created.ExpiresAt)

	// The reversal is journaled against the original, the grant against the
	// replacement.
	var reversal *point.Entry
	for i, e := range m.Entries[original.ID] {
		if e.Type == point.EntryUseCancel {
			reversal = &m.Entries[original.ID][i]
		}
	}
	require.NotNil(t, reversal)
	assert.Equal(t, int64(600), reversal.Amount)

	newEntries := m.Entries[created.LedgerID]
	require.Len(t, newEntries, 1)
	assert.Equal(t, point.EntryEarn, newEntries[0].Type)

	// The expired original stays empty; only the replacement is usable.
	assert.Equal(t, point.Amount(600), m.TotalBalance(later))
}

func TestCancelUse_PartialCancelsAccumulate(t *testing.T) {
	// GIVEN: 600 used on an order
	// WHEN: Canceling 200, then 400, then 1 more
	// THEN: The first two succeed; the third exceeds the outstanding amount

	m := newMember(t)
	now := baseTime()
	earn(t, m, 1000, point.EarnSystem, nil, now)

	_, err := m.Use(600, "order-1", now)
	require.NoError(t, err)

	_, err = m.CancelUse("order-1", 200, testPolicy().DefaultExpirationDays, now)
	require.NoError(t, err)
	_, err = m.CancelUse("order-1", 400, testPolicy().DefaultExpirationDays, now)
	require.NoError(t, err)

	_, err = m.CancelUse("order-1", 1, testPolicy().DefaultExpirationDays, now)
	assert.ErrorIs(t, err, point.ErrInvalidCancelAmount)

	assert.Equal(t, point.Amount(1000), m.TotalBalance(now))
	requireJournalMatchesLedgers(t, m)
}

func TestCancelUse_MultiLedgerOrder_ReversedInUseOrder(t *testing.T) {
	// GIVEN: An order that drew from two ledgers, earliest-expiring first
	// WHEN: Partially canceling
	// THEN: The ledger used first is restored first

	m := newMember(t)
	now := baseTime()

	first := earn(t, m, 300, point.EarnSystem, daysPtr(10), now)
	earn(t, m, 300, point.EarnSystem, daysPtr(20), now)

	_, err := m.Use(500, "order-1", now)
	require.NoError(t, err)

	r, err := m.CancelUse("order-1", 250, testPolicy().DefaultExpirationDays, now.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, r.Restored, 1)
	assert.Equal(t, first.ID, r.Restored[0].LedgerID)
	assert.Equal(t, point.Amount(250), r.Restored[0].Amount)
}

func TestCancelUse_UnknownOrder_Rejected(t *testing.T) {
	// GIVEN: No usage recorded for the order
	// WHEN: Canceling against it
	// THEN: The order is reported as unknown, not as an amount problem

	m := newMember(t)
	earn(t, m, 1000, point.EarnSystem, nil, baseTime())

	_, err := m.CancelUse("no-such-order", 100, testPolicy().DefaultExpirationDays, baseTime())
	assert.ErrorIs(t, err, point.ErrOrderNotFound)
}

func TestCancelUse_FullyCanceledOrder_RejectedAsInvalidAmount(t *testing.T) {
	// GIVEN: An order whose usage has been canceled in full
	// WHEN: Canceling more
	// THEN: The order is known; the failure is the zero cancelable amount

	m := newMember(t)
	now := baseTime()
	earn(t, m, 1000, point.EarnSystem, nil, now)

	_, err := m.Use(400, "order-1", now)
	require.NoError(t, err)
	_, err = m.CancelUse("order-1", 400, testPolicy().DefaultExpirationDays, now)
	require.NoError(t, err)

	_, err = m.CancelUse("order-1", 100, testPolicy().DefaultExpirationDays, now)
	assert.ErrorIs(t, err, point.ErrInvalidCancelAmount)
	assert.NotErrorIs(t, err, point.ErrOrderNotFound)
}

func TestCancelUse_ZeroAmount_Rejected(t *testing.T) {
	m := newMember(t)

	_, err := m.CancelUse("order-1", 0, testPolicy().DefaultExpirationDays, baseTime())
	assert.ErrorIs(t, err, point.ErrInvalidAmount)
}

// =============================================================================
// CANCEL EARN
// =============================================================================

func TestCancelEarn_UnusedGrant_CanceledAndZeroed(t *testing.T) {
	// GIVEN: An entirely unused grant
	// WHEN: Canceling it
	// THEN: Marked canceled, availability zeroed, EARN_CANCEL journaled

	m := newMember(t)
	now := baseTime()
	ledger := earn(t, m, 800, point.EarnSystem, nil, now)

	r, err := m.CancelEarn(ledger.ID, now)
	require.NoError(t, err)

	assert.True(t, r.Ledger.Canceled)
	assert.Equal(t, point.Amount(800), r.Amount)
	assert.True(t, m.TotalBalance(now).IsZero())

	entries := m.Entries[ledger.ID]
	require.Len(t, entries, 2)
	assert.Equal(t, point.EntryEarnCancel, entries[1].Type)
	assert.Equal(t, int64(-800), entries[1].Amount)

	requireJournalMatchesLedgers(t, m)
}

func TestCancelEarn_PartiallyUsedGrant_Rejected(t *testing.T) {
	// GIVEN: A grant with any usage against it
	// WHEN: Canceling the earn
	// THEN: Rejected; reversal of spent grants goes through cancel-use

	m := newMember(t)
	now := baseTime()
	ledger := earn(t, m, 800, point.EarnSystem, nil, now)

	_, err := m.Use(1, "order-1", now)
	require.NoError(t, err)

	_, err = m.CancelEarn(ledger.ID, now)
	assert.ErrorIs(t, err, point.ErrLedgerAlreadyUsed)
}

func TestCancelEarn_AlreadyCanceled_Rejected(t *testing.T) {
	m := newMember(t)
	now := baseTime()
	ledger := earn(t, m, 800, point.EarnSystem, nil, now)

	_, err := m.CancelEarn(ledger.ID, now)
	require.NoError(t, err)

	_, err = m.CancelEarn(ledger.ID, now)
	assert.ErrorIs(t, err, point.ErrLedgerAlreadyCanceled)
}

func TestCancelEarn_UnknownLedger_Rejected(t *testing.T) {
	m := newMember(t)

	_, err := m.CancelEarn(uuid.Must(uuid.NewV7()), baseTime())
	assert.True(t, errors.Is(err, point.ErrLedgerNotFound))
}

// =============================================================================
// CONSERVATION ACROSS MIXED OPERATIONS
// =============================================================================

func TestJournal_RederivesBalances_AfterMixedOperations(t *testing.T) {
	// GIVEN: A realistic mix of earns, uses, and cancels
	// WHEN: Re-deriving each ledger's balance from its journal alone
	// THEN: Journal and materialized balances agree everywhere

	m := newMember(t)
	now := baseTime()

	earn(t, m, 1000, point.EarnSystem, daysPtr(30), now)
	earn(t, m, 500, point.EarnManual, daysPtr(60), now)
	spare := earn(t, m, 200, point.EarnSystem, daysPtr(90), now)

	_, err := m.Use(1200, "order-1", now)
	require.NoError(t, err)
	_, err = m.Use(100, "order-2", now)
	require.NoError(t, err)
	_, err = m.CancelUse("order-1", 700, testPolicy().DefaultExpirationDays, now.Add(time.Hour))
	require.NoError(t, err)

	// The 90-day grant was never drawn from (manual first, then earliest
	// expiry), so canceling its earn is still allowed.
	_, err = m.CancelEarn(spare.ID, now.Add(time.Hour))
	require.NoError(t, err)

	requireJournalMatchesLedgers(t, m)

	// 1700 earned and live, 1300 used, 700 canceled back, 200 earn-canceled.
	assert.Equal(t, point.Amount(900), m.TotalBalance(now.Add(time.Hour)))
}
