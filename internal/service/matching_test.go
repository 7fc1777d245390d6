package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/repository"
)

func TestAllocateMatchesPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, result.Matched)
	require.Equal(t, repository.FromPgUUID(payout.ID), result.PayoutID)
	require.Equal(t, payout.RefID, result.PayoutRef)
	require.Equal(t, int64(400_00), result.Amount)

	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(600_00), payoutAfter.InstantBalance)
	require.Equal(t, int32(1), payoutAfter.CurrentPayoutSplits)
	require.Equal(t, int64(0), payoutAfter.InstantPaid)

	payinAfter := getOrder(t, db, payin.ID)
	require.Equal(t, domain.OrderStatusPending, payinAfter.PaymentStatus)

	batch := getBatch(t, db, result.BatchID)
	require.Equal(t, domain.BatchStatusPending, batch.Status)
	require.Equal(t, payout.ID, batch.OrderID)
	require.Equal(t, payin.ID, batch.PayinOrderID)
	require.Equal(t, int64(400_00), batch.Amount)

	require.Equal(t, 1, countAuditRows(t, db, "batch", batch.ID))
}

func TestAllocateRequiresFullCoverage(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	payout := createTestPayout(t, db, "vendor-a", 300_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.False(t, result.Matched)

	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(300_00), payoutAfter.InstantBalance)
	require.Equal(t, int32(0), payoutAfter.CurrentPayoutSplits)

	payinAfter := getOrder(t, db, payin.ID)
	require.Equal(t, domain.OrderStatusCreated, payinAfter.PaymentStatus)
}

func TestAllocatePrefersPartiallyFilledPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	large := createTestPayout(t, db, "vendor-a", 2_000_00)
	small := createTestPayout(t, db, "vendor-a", 1_000_00)

	seed := createTestPayin(t, db, "vendor-a", 500_00, time.Now().Add(15*time.Minute))
	seedResult, err := matching.Allocate(ctx, repository.FromPgUUID(seed.ID))
	require.NoError(t, err)
	require.True(t, seedResult.Matched)

	// Ordering note: the seeded payin lands on the fresh, smaller payout
	// first (balance ASC on equal splits), leaving it with one split. The
	// next payin must then prefer that partially filled payout even though
	// the untouched one has more balance.
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, result.Matched)
	require.Equal(t, seedResult.PayoutID, result.PayoutID)
	require.Equal(t, repository.FromPgUUID(small.ID), result.PayoutID)

	untouched := getOrder(t, db, large.ID)
	require.Equal(t, int32(0), untouched.CurrentPayoutSplits)
	require.Equal(t, int64(2_000_00), untouched.InstantBalance)
}

func TestAllocateRespectsSplitCeiling(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	payout := createTestPayout(t, db, "vendor-a", 10_000_00)
	_, err := db.Exec(ctx, "UPDATE orders SET current_payout_splits = $1 WHERE id = $2",
		domain.MaxPayoutSplits, payout.ID)
	require.NoError(t, err)

	payin := createTestPayin(t, db, "vendor-a", 100_00, time.Now().Add(15*time.Minute))
	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.False(t, result.Matched)
}

func TestAllocateConcurrentRaceForLastSlot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	// One slot left and exactly one payin's worth of balance on the payout.
	payout := createTestPayout(t, db, "vendor-a", 400_00)
	_, err := db.Exec(ctx, "UPDATE orders SET current_payout_splits = $1 WHERE id = $2",
		int32(domain.MaxPayoutSplits-1), payout.ID)
	require.NoError(t, err)

	payinA := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	payinB := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	results := make([]*AllocationResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, payin := range []repository.Order{payinA, payinB} {
		i, payin := i, payin
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Exactly one payin wins the slot; the loser gets a clean no-match.
	matched := 0
	for _, result := range results {
		if result.Matched {
			matched++
			require.Equal(t, repository.FromPgUUID(payout.ID), result.PayoutID)
		}
	}
	require.Equal(t, 1, matched)

	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(0), payoutAfter.InstantBalance)
	require.Equal(t, int32(domain.MaxPayoutSplits), payoutAfter.CurrentPayoutSplits)

	var batches int
	err = db.QueryRow(ctx, "SELECT COUNT(*) FROM batches WHERE order_id = $1", payout.ID).Scan(&batches)
	require.NoError(t, err)
	require.Equal(t, 1, batches)
}

func TestAllocateSkipsStalePayouts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store).WithMatchWindow(30 * time.Minute)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	backdateOrder(t, db, payout.ID, time.Now().Add(-2*time.Hour))

	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.False(t, result.Matched)
}

func TestAllocateScopedToVendor(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-b", 400_00, time.Now().Add(15*time.Minute))

	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.False(t, result.Matched)
}

func TestAllocateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	first, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, first.Matched)

	second, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, second.Matched)
	require.Equal(t, first.BatchID, second.BatchID)

	// The decrement ran exactly once.
	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(600_00), payoutAfter.InstantBalance)
	require.Equal(t, int32(1), payoutAfter.CurrentPayoutSplits)
}

func TestAllocateFlagsDriftedPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	drifted := createTestPayout(t, db, "vendor-a", 1_000_00)
	_, err := db.Exec(ctx, "UPDATE orders SET instant_balance = instant_balance - 1 WHERE id = $1", drifted.ID)
	require.NoError(t, err)

	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.False(t, result.Matched)

	driftedAfter := getOrder(t, db, drifted.ID)
	require.True(t, driftedAfter.BalanceFlagged)
	require.Equal(t, int32(0), driftedAfter.CurrentPayoutSplits)
}

func TestAllocateDriftedPayoutFallsThrough(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	drifted := createTestPayout(t, db, "vendor-a", 400_00)
	_, err := db.Exec(ctx, "UPDATE orders SET instant_balance = instant_balance + 5 WHERE id = $1", drifted.ID)
	require.NoError(t, err)
	healthy := createTestPayout(t, db, "vendor-a", 1_000_00)

	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	result, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, result.Matched)
	require.Equal(t, repository.FromPgUUID(healthy.ID), result.PayoutID)

	driftedAfter := getOrder(t, db, drifted.ID)
	require.True(t, driftedAfter.BalanceFlagged)
}

func TestAllocateRejectsWrongTargets(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)

	_, err := matching.Allocate(ctx, repository.FromPgUUID(payout.ID))
	require.ErrorIs(t, err, ErrNotPayin)

	_, err = matching.Allocate(ctx, uuid.New())
	require.ErrorIs(t, err, ErrOrderNotFound)
}
