package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/notify"
	"github.com/veripay/settlement-engine/internal/observability"
	"github.com/veripay/settlement-engine/internal/repository"
)

// ExpiryService reverses payins that ran out the clock: their unconfirmed
// batches expire and the held payout balance and split slots are restored.
type ExpiryService struct {
	store QueryStore
	bus   notify.Publisher
	audit *AuditService
}

func NewExpiryService(store QueryStore, bus notify.Publisher) *ExpiryService {
	if bus == nil {
		bus = notify.Noop{}
	}
	return &ExpiryService{
		store: store,
		bus:   bus,
		audit: NewAuditService(),
	}
}

// Sweep expires up to batchSize overdue payins. Each payin is processed in
// its own transaction so one failure cannot stall the rest; a failed payin
// stays pending and past-deadline and re-qualifies on the next tick. Returns
// how many payins were expired.
func (s *ExpiryService) Sweep(ctx context.Context, batchSize int32) (int, error) {
	overdue, err := s.store.Queries().GetExpiredPendingPayins(ctx, repository.GetExpiredPendingPayinsParams{
		Now:   pgtype.Timestamptz{Time: time.Now(), Valid: true},
		Limit: batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list overdue payins: %w", err)
	}

	expired := 0
	for _, payin := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if err := s.expirePayin(ctx, payin.ID); err != nil {
			zap.L().Error("expire payin failed, will retry next sweep",
				zap.String("payin_id", repository.FromPgUUID(payin.ID).String()),
				zap.String("payin_ref", payin.RefID),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

// expirePayin reverses one payin: expires its pending batches, restores
// payout balance and split capacity, and marks the payin expired, all in one
// transaction.
func (s *ExpiryService) expirePayin(ctx context.Context, payinID pgtype.UUID) error {
	var events []pendingEvent

	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		events = events[:0]

		payin, err := qtx.GetOrderForUpdate(ctx, payinID)
		if err != nil {
			return fmt.Errorf("lock payin: %w", err)
		}
		// A confirmation may have landed between the scan and this lock.
		if payin.PaymentStatus != domain.OrderStatusPending {
			return nil
		}

		batches, err := qtx.GetPendingBatchesForPayin(ctx, payin.ID)
		if err != nil {
			return fmt.Errorf("lock pending batches: %w", err)
		}

		for _, batch := range batches {
			payout, err := qtx.GetOrderForUpdate(ctx, batch.OrderID)
			if err != nil {
				return fmt.Errorf("lock payout: %w", err)
			}

			rows, err := qtx.ExpireBatch(ctx, batch.ID)
			if err != nil {
				return fmt.Errorf("expire batch: %w", err)
			}
			if rows == 0 {
				// Completion won the race for this batch; its effects stand.
				continue
			}

			rows, err = qtx.RestoreAllocation(ctx, repository.RestoreAllocationParams{
				Amount: batch.Amount,
				ID:     payout.ID,
			})
			if err != nil {
				return fmt.Errorf("restore payout balance: %w", err)
			}
			if err := requireExactlyOne(rows, "restore payout balance"); err != nil {
				return err
			}

			if err := s.audit.Write(ctx, qtx, "batch", repository.FromPgUUID(batch.ID), "", "expired", domain.BatchStatusPending, domain.BatchStatusExpired, nil); err != nil {
				return err
			}

			events = append(events, pendingEvent{
				channel: notify.WithdrawChannel(payout.RefID),
				event:   notify.EventPayinExpired,
				payload: notify.PayinExpiredPayload{
					PayinRef: payin.RefID,
					Amount:   batch.Amount,
				},
			})
			events = append(events, pendingEvent{
				channel: notify.VendorChannel(payout.Vendor),
				event:   notify.EventPayoutAvailable,
				payload: notify.PayoutAvailabilityPayload{
					Vendor:         payout.Vendor,
					PayoutRef:      payout.RefID,
					InstantBalance: payout.InstantBalance + batch.Amount,
				},
			})
		}

		rows, err := qtx.TransitionOrderStatus(ctx, repository.TransitionOrderStatusParams{
			Status: domain.OrderStatusExpired,
			ID:     payin.ID,
			From:   []string{domain.OrderStatusPending},
		})
		if err != nil {
			return fmt.Errorf("mark payin expired: %w", err)
		}
		if err := requireExactlyOne(rows, "mark payin expired"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, "order", repository.FromPgUUID(payin.ID), "", "expired", domain.OrderStatusPending, domain.OrderStatusExpired, nil); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.event == notify.EventPayinExpired {
			observability.IncrementExpiredBatch()
		}
		if pubErr := s.bus.Publish(ctx, ev.channel, ev.event, ev.payload); pubErr != nil {
			observability.IncrementPublishFailure()
			zap.L().Warn("expiry event publish failed",
				zap.String("channel", ev.channel),
				zap.String("event", ev.event),
				zap.Error(pubErr),
			)
		}
	}
	return nil
}
