package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/observability"
	"github.com/veripay/settlement-engine/internal/repository"
)

// ReconciliationService re-checks the payout balance invariant store-wide:
// instant_balance must equal amount minus the allocations still held by
// confirmed and pending batches. The matching engine performs the same check
// per-candidate; this catches drift introduced any other way.
type ReconciliationService struct {
	store QueryStore
}

const driftScanLimit = 500

func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run flags every drifted payout it finds. Flagged payouts are excluded from
// matching until repaired out of band; this must never self-heal silently.
func (s *ReconciliationService) Run(ctx context.Context) error {
	drifted, err := s.store.Queries().GetDriftedPayouts(ctx, driftScanLimit)
	if err != nil {
		return fmt.Errorf("scan for drifted payouts: %w", err)
	}

	if len(drifted) == 0 {
		zap.L().Info("payout balances consistent")
		return nil
	}

	for _, d := range drifted {
		observability.IncrementBalanceDrift()
		zap.L().Error("CRITICAL: payout balance drift detected",
			zap.String("payout_id", repository.FromPgUUID(d.ID).String()),
			zap.String("payout_ref", d.RefID),
			zap.Int64("amount", d.Amount),
			zap.Int64("instant_balance", d.InstantBalance),
			zap.Int64("confirmed_total", d.ConfirmedTotal),
		)
		if _, err := s.store.Queries().FlagPayoutBalance(ctx, d.ID); err != nil {
			zap.L().Error("flag drifted payout failed",
				zap.String("payout_id", repository.FromPgUUID(d.ID).String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
