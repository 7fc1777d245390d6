package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/notify"
	"github.com/veripay/settlement-engine/internal/observability"
	"github.com/veripay/settlement-engine/internal/repository"
)

// CompletionService confirms payins. Every confirmation source — gateway
// webhooks, manual UTR entry, admin approval, screenshot evidence — funnels
// into Confirm; it is the only code path that advances settled balances.
type CompletionService struct {
	store   QueryStore
	bus     notify.Publisher
	audit   *AuditService
	epsilon int64
}

func NewCompletionService(store QueryStore, bus notify.Publisher) *CompletionService {
	if bus == nil {
		bus = notify.Noop{}
	}
	return &CompletionService{
		store:   store,
		bus:     bus,
		audit:   NewAuditService(),
		epsilon: domain.DefaultSettleEpsilon,
	}
}

// WithSettleEpsilon overrides the residual below which a payout counts as
// fully settled.
func (s *CompletionService) WithSettleEpsilon(epsilon int64) *CompletionService {
	if epsilon >= 0 {
		s.epsilon = epsilon
	}
	return s
}

// ConfirmRequest carries one external confirmation of a payin.
type ConfirmRequest struct {
	PayinOrderID uuid.UUID
	UTR          string
	Method       string
	ConfirmedBy  string
}

// CompletionResult reports what one Confirm call did.
type CompletionResult struct {
	PayinRef         string   `json:"payin_ref"`
	Status           string   `json:"status"`
	AlreadyConfirmed bool     `json:"already_confirmed"`
	ConfirmedBatches int      `json:"confirmed_batches"`
	SettledPayouts   []string `json:"settled_payouts,omitempty"`
}

// queued bus traffic, published only after the transaction commits.
type pendingEvent struct {
	channel string
	event   string
	payload any
}

// Confirm transitions the payin's pending batches to sys_confirmed, advances
// payout paid totals, closes fully satisfied payouts, and marks the payin
// settled — all in one transaction. A payin with no batches is treated as a
// pure deposit. Re-invoking for an already-confirmed payin is a no-op
// reported as success.
func (s *CompletionService) Confirm(ctx context.Context, req ConfirmRequest) (*CompletionResult, error) {
	if !domain.IsCompletionMethod(req.Method) {
		return nil, fmt.Errorf("%w: unknown completion method %q", ErrInvalidState, req.Method)
	}
	req.UTR = strings.TrimSpace(req.UTR)
	req.ConfirmedBy = strings.TrimSpace(req.ConfirmedBy)

	var (
		result CompletionResult
		events []pendingEvent
	)

	err := withTxRetry(ctx, "confirm payin", func() error {
		result = CompletionResult{}
		events = events[:0]
		return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			payin, err := qtx.GetOrderForUpdate(ctx, repository.ToPgUUID(req.PayinOrderID))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrOrderNotFound
				}
				return fmt.Errorf("lock payin: %w", err)
			}
			if payin.Type != domain.OrderTypePayin {
				return ErrNotPayin
			}
			result.PayinRef = payin.RefID

			if payin.PaymentStatus == domain.OrderStatusSuccess {
				result.Status = payin.PaymentStatus
				result.AlreadyConfirmed = true
				return nil
			}
			if !domain.IsCompletable(payin.PaymentStatus) {
				return fmt.Errorf("%w: payin %s is %s", ErrInvalidState, payin.RefID, payin.PaymentStatus)
			}

			batches, err := qtx.GetPendingBatchesForPayin(ctx, payin.ID)
			if err != nil {
				return fmt.Errorf("lock pending batches: %w", err)
			}

			summaryChannel := ""
			for _, batch := range batches {
				outcome, err := s.confirmBatch(ctx, qtx, batch, req)
				if err != nil {
					return err
				}
				if outcome == nil {
					continue // lost the terminal-state race to the reaper
				}
				result.ConfirmedBatches++
				if outcome.payoutSettled {
					result.SettledPayouts = append(result.SettledPayouts, outcome.payoutRef)
				}
				if summaryChannel == "" {
					summaryChannel = notify.WithdrawChannel(outcome.payoutRef)
				}

				events = append(events, pendingEvent{
					channel: notify.WithdrawChannel(outcome.payoutRef),
					event:   notify.EventBatchSettled,
					payload: notify.BatchSettledPayload{
						UUID:                  repository.FromPgUUID(batch.ID),
						Amount:                batch.Amount,
						UTRNo:                 req.UTR,
						SystemConfirmedAt:     &outcome.confirmedAt,
						ConfirmedByCustomerAt: &outcome.confirmedAt,
					},
				})
			}

			// One summary event per payin, however many batches settled.
			if result.ConfirmedBatches > 0 {
				events = append(events, pendingEvent{
					channel: summaryChannel,
					event:   notify.EventPayinSettled,
					payload: notify.PayinSettledPayload{
						PayinRef:         payin.RefID,
						Amount:           payin.Amount,
						BatchCount:       result.ConfirmedBatches,
						CompletionMethod: req.Method,
					},
				})
			}

			rows, err := qtx.TransitionOrderStatus(ctx, repository.TransitionOrderStatusParams{
				Status: domain.OrderStatusSuccess,
				ID:     payin.ID,
				From: []string{
					domain.OrderStatusPending,
					domain.OrderStatusCreated,
					domain.OrderStatusUnassigned,
				},
			})
			if err != nil {
				return fmt.Errorf("mark payin success: %w", err)
			}
			if err := requireExactlyOne(rows, "mark payin success"); err != nil {
				return err
			}

			metadata, err := json.Marshal(map[string]any{
				"utr":     req.UTR,
				"method":  req.Method,
				"batches": len(batches),
			})
			if err != nil {
				return fmt.Errorf("encode confirmation metadata: %w", err)
			}
			if err := s.audit.Write(ctx, qtx, "order", repository.FromPgUUID(payin.ID), req.ConfirmedBy, "confirmed", payin.PaymentStatus, domain.OrderStatusSuccess, metadata); err != nil {
				return err
			}

			result.Status = domain.OrderStatusSuccess
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyConfirmed {
		zap.L().Info("payin already confirmed, no-op",
			zap.String("payin_id", req.PayinOrderID.String()),
			zap.String("utr", req.UTR),
		)
		return &result, nil
	}

	for i := 0; i < result.ConfirmedBatches; i++ {
		observability.IncrementConfirmation(req.Method)
	}
	s.publish(ctx, events)

	zap.L().Info("payin confirmed",
		zap.String("payin_id", req.PayinOrderID.String()),
		zap.String("method", req.Method),
		zap.Int("batches", result.ConfirmedBatches),
		zap.Strings("settled_payouts", result.SettledPayouts),
	)
	return &result, nil
}

type batchConfirmation struct {
	payoutRef     string
	payoutSettled bool
	confirmedAt   time.Time
}

// confirmBatch flips one batch to sys_confirmed and advances the payout's
// paid total. The payout's unallocated balance is untouched — it was
// decremented at allocation time; touching it again here would double-count
// capacity. A nil outcome with nil error means the batch already left
// pending and nothing was applied.
func (s *CompletionService) confirmBatch(ctx context.Context, qtx *repository.Queries, batch repository.Batch, req ConfirmRequest) (*batchConfirmation, error) {
	payout, err := qtx.GetOrderForUpdate(ctx, batch.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lock payout: %w", err)
	}

	// A payout found short of funds must not absorb the batch; the payin
	// still confirms as a plain deposit, the batch is written off and the
	// payout handed to reconciliation.
	if payout.InstantPaid+batch.Amount > payout.Amount+s.epsilon {
		return nil, s.cancelBatch(ctx, qtx, batch, payout, req)
	}

	confirmedAt, err := qtx.ConfirmBatch(ctx, repository.ConfirmBatchParams{
		ID:               batch.ID,
		UTRNo:            textParam(req.UTR),
		CompletionMethod: req.Method,
		ConfirmedBy:      req.ConfirmedBy,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			zap.L().Warn("batch no longer pending, skipping confirmation",
				zap.String("batch_id", repository.FromPgUUID(batch.ID).String()),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("confirm batch: %w", err)
	}

	rows, err := qtx.AddInstantPaid(ctx, repository.AddInstantPaidParams{
		Amount: batch.Amount,
		ID:     payout.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("advance payout paid total: %w", err)
	}
	if err := requireExactlyOne(rows, "advance payout paid total"); err != nil {
		return nil, err
	}

	if err := s.audit.Write(ctx, qtx, "batch", repository.FromPgUUID(batch.ID), req.ConfirmedBy, "confirmed", domain.BatchStatusPending, domain.BatchStatusConfirmed, nil); err != nil {
		return nil, err
	}

	outcome := &batchConfirmation{payoutRef: payout.RefID, confirmedAt: confirmedAt.Time}

	remaining := payout.Amount - (payout.InstantPaid + batch.Amount)
	if remaining > s.epsilon {
		return outcome, nil
	}

	rows, err = qtx.TransitionOrderStatus(ctx, repository.TransitionOrderStatusParams{
		Status: domain.OrderStatusSuccess,
		ID:     payout.ID,
		From:   []string{domain.OrderStatusUnassigned, domain.OrderStatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("close settled payout: %w", err)
	}
	if err := requireExactlyOne(rows, "close settled payout"); err != nil {
		return nil, err
	}
	if err := s.audit.Write(ctx, qtx, "order", repository.FromPgUUID(payout.ID), req.ConfirmedBy, "settled", payout.PaymentStatus, domain.OrderStatusSuccess, nil); err != nil {
		return nil, err
	}
	outcome.payoutSettled = true
	return outcome, nil
}

// cancelBatch retires a batch the payout cannot pay for, under the same
// pending-only guard as confirm and expire.
func (s *CompletionService) cancelBatch(ctx context.Context, qtx *repository.Queries, batch repository.Batch, payout repository.Order, req ConfirmRequest) error {
	rows, err := qtx.CancelBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("cancel batch: %w", err)
	}
	if rows == 0 {
		return nil
	}

	if _, err := qtx.FlagPayoutBalance(ctx, payout.ID); err != nil {
		return fmt.Errorf("flag drifted payout: %w", err)
	}
	if err := s.audit.Write(ctx, qtx, "batch", repository.FromPgUUID(batch.ID), req.ConfirmedBy, "cancelled", domain.BatchStatusPending, domain.BatchStatusCancelled, nil); err != nil {
		return err
	}

	observability.IncrementBalanceDrift()
	zap.L().Error("payout cannot honor batch, cancelled",
		zap.String("batch_id", repository.FromPgUUID(batch.ID).String()),
		zap.String("payout_ref", payout.RefID),
		zap.String("batch_amount", domain.NewMoney(batch.Amount).String()),
		zap.String("instant_paid", domain.NewMoney(payout.InstantPaid).String()),
		zap.String("payout_amount", domain.NewMoney(payout.Amount).String()),
	)
	return nil
}

func (s *CompletionService) publish(ctx context.Context, events []pendingEvent) {
	for _, ev := range events {
		if err := s.bus.Publish(ctx, ev.channel, ev.event, ev.payload); err != nil {
			observability.IncrementPublishFailure()
			zap.L().Warn("settlement event publish failed",
				zap.String("channel", ev.channel),
				zap.String("event", ev.event),
				zap.Error(err),
			)
		}
	}
}
