package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/notify"
	"github.com/veripay/settlement-engine/internal/repository"
)

func TestConfirmSettlesPayinAndPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	completion := NewCompletionService(store, nil)

	payout := createTestPayout(t, db, "vendor-a", 400_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	allocation, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, allocation.Matched)

	result, err := completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR123456",
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:hypto",
	})
	require.NoError(t, err)
	require.False(t, result.AlreadyConfirmed)
	require.Equal(t, domain.OrderStatusSuccess, result.Status)
	require.Equal(t, 1, result.ConfirmedBatches)
	require.Equal(t, []string{payout.RefID}, result.SettledPayouts)

	batch := getBatch(t, db, allocation.BatchID)
	require.Equal(t, domain.BatchStatusConfirmed, batch.Status)
	require.NotNil(t, batch.UTRNo)
	require.Equal(t, "UTR123456", *batch.UTRNo)
	require.NotNil(t, batch.CompletionMethod)
	require.Equal(t, domain.MethodWebhook, *batch.CompletionMethod)
	require.True(t, batch.SystemConfirmedAt.Valid)

	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(400_00), payoutAfter.InstantPaid)
	require.Equal(t, int64(0), payoutAfter.InstantBalance)
	require.Equal(t, domain.OrderStatusSuccess, payoutAfter.PaymentStatus)

	payinAfter := getOrder(t, db, payin.ID)
	require.Equal(t, domain.OrderStatusSuccess, payinAfter.PaymentStatus)

	require.GreaterOrEqual(t, countAuditRows(t, db, "order", payin.ID), 1)
	require.GreaterOrEqual(t, countAuditRows(t, db, "batch", batch.ID), 2)
}

func TestConfirmPartialCoverageLeavesPayoutOpen(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	completion := NewCompletionService(store, nil)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	_, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)

	result, err := completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR-PARTIAL",
		Method:       domain.MethodUTR,
		ConfirmedBy:  "customer",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.ConfirmedBatches)
	require.Empty(t, result.SettledPayouts)

	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(400_00), payoutAfter.InstantPaid)
	require.Equal(t, int64(600_00), payoutAfter.InstantBalance)
	require.Equal(t, domain.OrderStatusUnassigned, payoutAfter.PaymentStatus)
}

func TestConfirmIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	completion := NewCompletionService(store, nil)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	_, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)

	req := ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR-ONCE",
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:hypto",
	}

	first, err := completion.Confirm(ctx, req)
	require.NoError(t, err)
	require.False(t, first.AlreadyConfirmed)

	second, err := completion.Confirm(ctx, req)
	require.NoError(t, err)
	require.True(t, second.AlreadyConfirmed)
	require.Equal(t, domain.OrderStatusSuccess, second.Status)

	// The paid total advanced exactly once.
	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(400_00), payoutAfter.InstantPaid)
}

func TestConfirmPureDeposit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	completion := NewCompletionService(store, nil)

	payin := createTestPayin(t, db, "vendor-a", 250_00, time.Now().Add(15*time.Minute))

	result, err := completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR-DEPOSIT",
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:zwitch",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ConfirmedBatches)
	require.Equal(t, domain.OrderStatusSuccess, result.Status)

	payinAfter := getOrder(t, db, payin.ID)
	require.Equal(t, domain.OrderStatusSuccess, payinAfter.PaymentStatus)
}

func TestConfirmRejectsInvalidStates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	completion := NewCompletionService(store, nil)

	payin := createTestPayin(t, db, "vendor-a", 250_00, time.Now().Add(15*time.Minute))
	queries := repository.New(db)
	_, err := queries.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
		Status: domain.OrderStatusExpired,
		ID:     payin.ID,
	})
	require.NoError(t, err)

	_, err = completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		Method:       domain.MethodWebhook,
	})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		Method:       "carrier_pigeon",
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConfirmSkipsBatchAlreadyReversed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	completion := NewCompletionService(store, nil)

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	allocation, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)

	// Simulate the reaper winning on the batch while the payin is still
	// pending: the batch has left 'pending' and its allocation was restored.
	queries := repository.New(db)
	rows, err := queries.ExpireBatch(ctx, repository.ToPgUUID(allocation.BatchID))
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)
	_, err = queries.RestoreAllocation(ctx, repository.RestoreAllocationParams{
		Amount: 400_00,
		ID:     payout.ID,
	})
	require.NoError(t, err)

	result, err := completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR-LATE",
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:hypto",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ConfirmedBatches)

	// The reversed batch kept its state and the payout total never moved.
	payoutAfter := getOrder(t, db, payout.ID)
	require.Equal(t, int64(0), payoutAfter.InstantPaid)
	require.Equal(t, int64(1_000_00), payoutAfter.InstantBalance)
}

// recordingBus captures published event names for assertion.
type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Publish(ctx context.Context, channel, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == event {
			n++
		}
	}
	return n
}

func TestConfirmPublishesOneSummaryEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	bus := &recordingBus{}
	completion := NewCompletionService(store, bus)
	queries := repository.New(db)

	payout1 := createTestPayout(t, db, "vendor-a", 400_00)
	payout2 := createTestPayout(t, db, "vendor-a", 300_00)
	payin := createTestPayin(t, db, "vendor-a", 700_00, time.Now().Add(15*time.Minute))

	// One payin settling two payouts through two batches.
	allocations := []struct {
		payout repository.Order
		amount int64
	}{
		{payout1, 400_00},
		{payout2, 300_00},
	}
	for _, alloc := range allocations {
		_, err := queries.CreateBatch(ctx, repository.CreateBatchParams{
			ID:           repository.ToPgUUID(uuid.New()),
			OrderID:      alloc.payout.ID,
			PayinOrderID: payin.ID,
			Amount:       alloc.amount,
		})
		require.NoError(t, err)
		rows, err := queries.ApplyAllocation(ctx, repository.ApplyAllocationParams{
			Amount:    alloc.amount,
			MaxSplits: domain.MaxPayoutSplits,
			ID:        alloc.payout.ID,
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), rows)
	}
	_, err := queries.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{
		Status: domain.OrderStatusPending,
		ID:     payin.ID,
	})
	require.NoError(t, err)

	result, err := completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR-SUMMARY",
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:hypto",
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.ConfirmedBatches)
	require.Len(t, result.SettledPayouts, 2)

	require.Equal(t, 2, bus.count(notify.EventBatchSettled))
	require.Equal(t, 1, bus.count(notify.EventPayinSettled))
}

func TestConfirmCancelsBatchPayoutCannotHonor(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	completion := NewCompletionService(store, nil)

	payout := createTestPayout(t, db, "vendor-a", 400_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))

	allocation, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, allocation.Matched)

	// Corrupt the paid total so the payout can no longer cover the batch.
	_, err = db.Exec(ctx, "UPDATE orders SET instant_paid = $1 WHERE id = $2", int64(100_00), payout.ID)
	require.NoError(t, err)

	result, err := completion.Confirm(ctx, ConfirmRequest{
		PayinOrderID: repository.FromPgUUID(payin.ID),
		UTR:          "UTR-SHORT",
		Method:       domain.MethodWebhook,
		ConfirmedBy:  "gateway:hypto",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ConfirmedBatches)
	require.Empty(t, result.SettledPayouts)
	// The money arrived; the payin still settles as a plain deposit.
	require.Equal(t, domain.OrderStatusSuccess, result.Status)

	batch := getBatch(t, db, allocation.BatchID)
	require.Equal(t, domain.BatchStatusCancelled, batch.Status)
	require.False(t, batch.SystemConfirmedAt.Valid)

	payoutAfter := getOrder(t, db, payout.ID)
	require.True(t, payoutAfter.BalanceFlagged)
	require.Equal(t, int64(100_00), payoutAfter.InstantPaid)
}
