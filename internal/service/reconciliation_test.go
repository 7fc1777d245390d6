package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veripay/settlement-engine/internal/repository"
)

func TestReconciliationFlagsDriftedPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	reconciliation := NewReconciliationService(store)

	healthy := createTestPayout(t, db, "vendor-a", 1_000_00)
	drifted := createTestPayout(t, db, "vendor-a", 500_00)
	_, err := db.Exec(ctx, "UPDATE orders SET instant_balance = instant_balance - 7 WHERE id = $1", drifted.ID)
	require.NoError(t, err)

	require.NoError(t, reconciliation.Run(ctx))

	require.True(t, getOrder(t, db, drifted.ID).BalanceFlagged)
	require.False(t, getOrder(t, db, healthy.ID).BalanceFlagged)
}

func TestReconciliationAcceptsPendingHoldback(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	store := repository.NewStore(db)
	matching := NewMatchingService(store)
	reconciliation := NewReconciliationService(store)

	// A pending batch holds payout balance; that is not drift.
	payout := createTestPayout(t, db, "vendor-a", 1_000_00)
	payin := createTestPayin(t, db, "vendor-a", 400_00, time.Now().Add(15*time.Minute))
	allocation, err := matching.Allocate(ctx, repository.FromPgUUID(payin.ID))
	require.NoError(t, err)
	require.True(t, allocation.Matched)

	require.NoError(t, reconciliation.Run(ctx))
	require.False(t, getOrder(t, db, payout.ID).BalanceFlagged)
}
