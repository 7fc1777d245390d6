package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/observability"
	"github.com/veripay/settlement-engine/internal/repository"
)

// MatchingService allocates payin funds against open payout balance. One
// payin receives at most one batch, and only when a payout can cover the
// full payin amount; partial fills flow payout-side only.
type MatchingService struct {
	store       QueryStore
	audit       *AuditService
	matchWindow time.Duration
	maxSplits   int32
}

const (
	defaultMatchWindow = 30 * time.Minute

	// candidateScanLimit bounds how many drifted payouts one allocation
	// attempt will flag and skip before giving up.
	candidateScanLimit = 5
)

func NewMatchingService(store QueryStore) *MatchingService {
	return &MatchingService{
		store:       store,
		audit:       NewAuditService(),
		matchWindow: defaultMatchWindow,
		maxSplits:   domain.MaxPayoutSplits,
	}
}

// WithMatchWindow overrides the recency window payouts must fall in to be
// matched.
func (s *MatchingService) WithMatchWindow(window time.Duration) *MatchingService {
	if window > 0 {
		s.matchWindow = window
	}
	return s
}

// AllocationResult reports the outcome of one allocation attempt. Matched is
// false for a clean no-match; the payin then proceeds as a plain deposit.
type AllocationResult struct {
	Matched   bool
	BatchID   uuid.UUID
	PayoutID  uuid.UUID
	PayoutRef string
	Amount    int64
}

// Allocate finds a compatible payout for the payin and creates a pending
// batch, decrementing the payout's unallocated balance in the same
// transaction. Re-invoking for an already-allocated payin returns the
// existing batch.
func (s *MatchingService) Allocate(ctx context.Context, payinID uuid.UUID) (*AllocationResult, error) {
	var result AllocationResult

	err := withTxRetry(ctx, "allocate payin", func() error {
		result = AllocationResult{}
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			payin, err := qtx.GetOrderForUpdate(ctx, repository.ToPgUUID(payinID))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrOrderNotFound
				}
				return fmt.Errorf("lock payin: %w", err)
			}
			if payin.Type != domain.OrderTypePayin {
				return ErrNotPayin
			}
			if !domain.IsAllocatable(payin.PaymentStatus) {
				return ErrInvalidState
			}

			existing, err := qtx.GetBatchByPayin(ctx, payin.ID)
			if err == nil {
				payout, loadErr := qtx.GetOrder(ctx, existing.OrderID)
				if loadErr != nil {
					return fmt.Errorf("load payout for existing batch: %w", loadErr)
				}
				result = AllocationResult{
					Matched:   true,
					BatchID:   repository.FromPgUUID(existing.ID),
					PayoutID:  repository.FromPgUUID(existing.OrderID),
					PayoutRef: payout.RefID,
					Amount:    existing.Amount,
				}
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check existing allocation: %w", err)
			}

			payout, err := s.lockCandidate(ctx, qtx, payin)
			if err != nil {
				return err
			}
			if payout == nil {
				return nil // no match; payin stays unassigned
			}

			batch, err := qtx.CreateBatch(ctx, repository.CreateBatchParams{
				ID:           repository.ToPgUUID(uuid.New()),
				OrderID:      payout.ID,
				PayinOrderID: payin.ID,
				Amount:       payin.Amount,
			})
			if err != nil {
				return fmt.Errorf("create batch: %w", err)
			}

			rows, err := qtx.ApplyAllocation(ctx, repository.ApplyAllocationParams{
				Amount:    payin.Amount,
				MaxSplits: s.maxSplits,
				ID:        payout.ID,
			})
			if err != nil {
				return fmt.Errorf("decrement payout balance: %w", err)
			}
			if err := requireExactlyOne(rows, "decrement payout balance"); err != nil {
				return err
			}

			if _, err := qtx.TransitionOrderStatus(ctx, repository.TransitionOrderStatusParams{
				Status: domain.OrderStatusPending,
				ID:     payin.ID,
				From:   []string{domain.OrderStatusCreated, domain.OrderStatusUnassigned},
			}); err != nil {
				return fmt.Errorf("mark payin pending: %w", err)
			}

			metadata, err := json.Marshal(map[string]any{
				"payout_ref": payout.RefID,
				"amount":     payin.Amount,
			})
			if err != nil {
				return fmt.Errorf("encode allocation metadata: %w", err)
			}
			if err := s.audit.Write(ctx, qtx, "batch", repository.FromPgUUID(batch.ID), "", "allocated", "", domain.BatchStatusPending, metadata); err != nil {
				return err
			}

			result = AllocationResult{
				Matched:   true,
				BatchID:   repository.FromPgUUID(batch.ID),
				PayoutID:  repository.FromPgUUID(payout.ID),
				PayoutRef: payout.RefID,
				Amount:    payin.Amount,
			}
			return nil
		})
	})
	if err != nil {
		observability.IncrementAllocation("conflict")
		return nil, err
	}

	if result.Matched {
		observability.IncrementAllocation("matched")
		zap.L().Info("payin allocated",
			zap.String("payin_id", payinID.String()),
			zap.String("batch_id", result.BatchID.String()),
			zap.String("payout_ref", result.PayoutRef),
			zap.String("amount", domain.NewMoney(result.Amount).String()),
		)
	} else {
		observability.IncrementAllocation("no_match")
	}
	return &result, nil
}

// lockCandidate walks candidate payouts best-first, verifying the balance
// invariant on each locked row before allowing the allocation. Drifted
// payouts are flagged, alerted and skipped; they must never be allocated
// against.
func (s *MatchingService) lockCandidate(ctx context.Context, qtx *repository.Queries, payin repository.Order) (*repository.Order, error) {
	cutoff := pgtype.Timestamptz{Time: time.Now().Add(-s.matchWindow), Valid: true}
	var skip []pgtype.UUID

	for len(skip) <= candidateScanLimit {
		candidate, err := qtx.LockMatchCandidate(ctx, repository.LockMatchCandidateParams{
			Vendor:       payin.Vendor,
			Amount:       payin.Amount,
			MaxSplits:    s.maxSplits,
			CreatedAfter: cutoff,
			SkipIDs:      skip,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("lock match candidate: %w", err)
		}

		totals, err := qtx.GetBatchTotals(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("load batch totals: %w", err)
		}
		if candidate.InstantBalance == candidate.Amount-totals.Confirmed-totals.Pending {
			return &candidate, nil
		}

		if _, err := qtx.FlagPayoutBalance(ctx, candidate.ID); err != nil {
			return nil, fmt.Errorf("flag drifted payout: %w", err)
		}
		observability.IncrementBalanceDrift()
		zap.L().Error("payout balance inconsistent, excluded from matching",
			zap.String("payout_id", repository.FromPgUUID(candidate.ID).String()),
			zap.String("payout_ref", candidate.RefID),
			zap.Int64("instant_balance", candidate.InstantBalance),
			zap.Int64("amount", candidate.Amount),
			zap.Int64("confirmed_total", totals.Confirmed),
			zap.Int64("pending_total", totals.Pending),
		)
		skip = append(skip, candidate.ID)
	}
	return nil, ErrBalanceInconsistency
}
