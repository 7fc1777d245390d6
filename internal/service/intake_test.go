package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/repository"
)

func TestCreatePayinAllocatesSynchronously(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	intake := NewIntakeService(store, matching).WithPayinTTL(15 * time.Minute)

	payout, err := intake.CreatePayout(ctx, CreatePayoutRequest{
		RefID:  "wd-001",
		Vendor: "vendor-a",
		Amount: 1_000_00,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1_000_00), payout.InstantBalance)
	require.Equal(t, domain.OrderStatusUnassigned, payout.PaymentStatus)

	resp, err := intake.CreatePayin(ctx, CreatePayinRequest{
		RefID:  "dep-001",
		Vendor: "vendor-a",
		Amount: 400_00,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.MatchedBatchID)
	require.NotNil(t, resp.PayoutRef)
	require.Equal(t, "wd-001", *resp.PayoutRef)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), resp.ExpiresAt, 5*time.Second)

	payinRow := getOrder(t, db, repository.ToPgUUID(resp.OrderID))
	require.Equal(t, domain.OrderStatusPending, payinRow.PaymentStatus)
	require.True(t, payinRow.ExpiresAt.Valid)
}

func TestCreatePayinWithoutMatchProceedsAsDeposit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	intake := NewIntakeService(store, matching)

	resp, err := intake.CreatePayin(ctx, CreatePayinRequest{
		RefID:  "dep-lonely",
		Vendor: "vendor-a",
		Amount: 400_00,
	})
	require.NoError(t, err)
	require.Nil(t, resp.MatchedBatchID)
	require.Nil(t, resp.PayoutRef)

	payinRow := getOrder(t, db, repository.ToPgUUID(resp.OrderID))
	require.Equal(t, domain.OrderStatusCreated, payinRow.PaymentStatus)
}

func TestGetPayoutReturnsBatches(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	intake := NewIntakeService(store, matching)

	_, err := intake.CreatePayout(ctx, CreatePayoutRequest{
		RefID:  "wd-batched",
		Vendor: "vendor-a",
		Amount: 1_000_00,
	})
	require.NoError(t, err)

	_, err = intake.CreatePayin(ctx, CreatePayinRequest{
		RefID:  "dep-batched",
		Vendor: "vendor-a",
		Amount: 300_00,
	})
	require.NoError(t, err)

	payout, batches, err := intake.GetPayout(ctx, "wd-batched")
	require.NoError(t, err)
	require.Equal(t, int64(700_00), payout.InstantBalance)
	require.Len(t, batches, 1)
	require.Equal(t, int64(300_00), batches[0].Amount)
	require.Equal(t, domain.BatchStatusPending, batches[0].Status)

	_, _, err = intake.GetPayout(ctx, "no-such-ref")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetPayinByRefChecksType(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	intake := NewIntakeService(store, NewMatchingService(store))

	payout := createTestPayout(t, db, "vendor-a", 1_000_00)

	_, err := intake.GetPayinByRef(ctx, payout.RefID)
	require.ErrorIs(t, err, ErrNotPayin)

	_, err = intake.GetPayinByRef(ctx, "missing-ref")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestIntakeValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	intake := NewIntakeService(store, NewMatchingService(store))

	cases := []struct {
		name string
		req  CreatePayinRequest
	}{
		{name: "missing_ref", req: CreatePayinRequest{Vendor: "vendor-a", Amount: 100}},
		{name: "missing_vendor", req: CreatePayinRequest{RefID: "r", Amount: 100}},
		{name: "zero_amount", req: CreatePayinRequest{RefID: "r", Vendor: "vendor-a"}},
		{name: "negative_amount", req: CreatePayinRequest{RefID: "r", Vendor: "vendor-a", Amount: -5}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := intake.CreatePayin(ctx, tc.req)
			require.Error(t, err)
		})
	}
}
