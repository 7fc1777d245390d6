package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/repository"
)

func TestSweepReversesExpiredPayin(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	expiry := NewExpiryService(store, nil)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	allocation, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, allocation.Matched)
	forceExpiry(t, db, payin.ID)

	expired, err := expiry.Sweep(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	batch := getBatch(t, db, allocation.BatchID)
	require.Equal(t, domain.BatchStatusExpired, batch.Status)
	require.False(t, batch.SystemConfirmedAt.Valid)

	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(1_000_00), payoutAfter.InstantBalance)
	require.Equal(t, int32(0), payoutAfter.CurrentPayoutSplits)
	require.Equal(t, int64(0), payoutAfter.InstantPaid)

	payinAfter := getOrder(t, db, payin.ID)
	require.Equal(t, domain.OrderStatusExpired, payinAfter.PaymentStatus)

	require.GreaterOrEqual(t, countAuditRows(t, db, "order", payin.ID), 1)
}

func TestSweepIgnoresConfirmedPayins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	completion := NewCompletionService(store, nil)
	expiry := NewExpiryService(store, nil)

	payout := createTestPayout(t, db, "vendor-a", 400_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	_, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)

	_, err = completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR-RACE",
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:hypto",
	})
	require.NoError(t, err)

	forceExpiry(t, db, payin.ID)
	expired, err := expiry.Sweep(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 0, expired)

	// Confirmation effects stand.
	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(400_00), payoutAfter.InstantPaid)
	require.Equal(t, domain.OrderStatusSuccess, payoutAfter.PaymentStatus)
}

func TestSweepIgnoresFutureDeadlines(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	expiry := NewExpiryService(store, nil)

	createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	_, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)

	expired, err := expiry.Sweep(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 0, expired)

	payinAfter := getOrder(t, db, payin.ID)
	require.Equal(t, domain.OrderStatusPending, payinAfter.PaymentStatus)
}

func TestSweepExpiresPendingPayinWithoutBatches(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	expiry := NewExpiryService(store, nil)

	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	queries := repository.New(db)
	_, err := queries.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
		Status: domain.OrderStatusPending,
		ID:     payin.ID,
	})
	require.NoError(t, err)
	forceExpiry(t, db, payin.ID)

	expired, err := expiry.Sweep(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	payinAfter := getOrder(t, db, payin.ID)
	require.Equal(t, domain.OrderStatusExpired, payinAfter.PaymentStatus)
}
