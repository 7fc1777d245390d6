package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/veripay/settlement-engine/internal/domain"
	"github.com/veripay/settlement-engine/internal/models"
	"github.com/veripay/settlement-engine/internal/repository"
)

// IntakeService registers orders and hands fresh payins straight to the
// matching engine. Full order management lives upstream; this is only the
// surface the engine needs.
type IntakeService struct {
	store    QueryStore
	matching *MatchingService
	payinTTL time.Duration
}

const defaultPayinTTL = 15 * time.Minute

func NewIntakeService(store QueryStore, matching *MatchingService) *IntakeService {
	return &IntakeService{
		store:    store,
		matching: matching,
		payinTTL: defaultPayinTTL,
	}
}

// WithPayinTTL overrides how long a payin may stay pending before the
// reaper reverses it.
func (s *IntakeService) WithPayinTTL(ttl time.Duration) *IntakeService {
	if ttl > 0 {
		s.payinTTL = ttl
	}
	return s
}

// CreatePayinRequest registers an inbound deposit.
type CreatePayinRequest struct {
	RefID  string
	Vendor string
	Amount int64
}

// CreatePayinResponse carries the optional allocation hint back to the
// caller.
type CreatePayinResponse struct {
	OrderID        uuid.UUID  `json:"order_id"`
	RefID          string     `json:"ref_id"`
	MatchedBatchID *uuid.UUID `json:"matched_batch_id,omitempty"`
	PayoutRef      *string    `json:"payout_reference,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// CreatePayin inserts the payin row and synchronously attempts an
// allocation. A failed match is not an error; the payin proceeds as a plain
// deposit awaiting confirmation.
func (s *IntakeService) CreatePayin(ctx context.Context, req CreatePayinRequest) (*CreatePayinResponse, error) {
	if err := validateIntake(req.RefID, req.Vendor, req.Amount); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.payinTTL)
	order, err := s.store.Queries().CreateOrder(ctx, repository.CreateOrderParams{
		ID:            repository.ToPgUUID(uuid.New()),
		RefID:         req.RefID,
		Type:          domain.OrderTypePayin,
		Vendor:        req.Vendor,
		Amount:        req.Amount,
		PaymentStatus: domain.OrderStatusCreated,
		ExpiresAt:     pgtype.Timestamptz{Time: expiresAt, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create payin: %w", err)
	}

	resp := &CreatePayinResponse{
		OrderID:   repository.FromPgUUID(order.ID),
		RefID:     order.RefID,
		ExpiresAt: expiresAt,
	}

	allocation, err := s.matching.Allocate(ctx, resp.OrderID)
	if err != nil {
		// The payin row exists and will settle as a plain deposit; surface
		// the allocation failure to the caller anyway.
		return nil, fmt.Errorf("allocate payin %s: %w", order.RefID, err)
	}
	if allocation.Matched {
		resp.MatchedBatchID = &allocation.BatchID
		resp.PayoutRef = &allocation.PayoutRef
	}
	return resp, nil
}

// CreatePayoutRequest registers a withdrawal that opted into instant,
// split-capable settlement.
type CreatePayoutRequest struct {
	RefID  string
	Vendor string
	Amount int64
}

// CreatePayout inserts the payout row with its full amount available for
// matching.
func (s *IntakeService) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*models.Order, error) {
	if err := validateIntake(req.RefID, req.Vendor, req.Amount); err != nil {
		return nil, err
	}

	order, err := s.store.Queries().CreateOrder(ctx, repository.CreateOrderParams{
		ID:             repository.ToPgUUID(uuid.New()),
		RefID:          req.RefID,
		Type:           domain.OrderTypePayout,
		Vendor:         req.Vendor,
		Amount:         req.Amount,
		InstantBalance: req.Amount,
		PaymentStatus:  domain.OrderStatusUnassigned,
	})
	if err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}
	return orderToModel(order), nil
}

// GetPayout returns a payout and its batches by public reference.
func (s *IntakeService) GetPayout(ctx context.Context, refID string) (*models.Order, []models.Batch, error) {
	queries := s.store.Queries()
	order, err := queries.GetOrderByRef(ctx, refID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, fmt.Errorf("get payout: %w", err)
	}
	if order.Type != domain.OrderTypePayout {
		return nil, nil, ErrOrderNotFound
	}

	rows, err := queries.ListBatchesForOrder(ctx, order.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list payout batches: %w", err)
	}
	batches := make([]models.Batch, 0, len(rows))
	for _, row := range rows {
		batches = append(batches, *batchToModel(row))
	}
	return orderToModel(order), batches, nil
}

// GetPayinByRef resolves a payin's internal id from its public reference,
// used by webhook adapters that only carry the reference.
func (s *IntakeService) GetPayinByRef(ctx context.Context, refID string) (*models.Order, error) {
	order, err := s.store.Queries().GetOrderByRef(ctx, refID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get payin: %w", err)
	}
	if order.Type != domain.OrderTypePayin {
		return nil, ErrNotPayin
	}
	return orderToModel(order), nil
}

func validateIntake(refID, vendor string, amount int64) error {
	if strings.TrimSpace(refID) == "" {
		return errors.New("ref_id is required")
	}
	if strings.TrimSpace(vendor) == "" {
		return errors.New("vendor is required")
	}
	if amount <= 0 {
		return fmt.Errorf("invalid amount: %d", amount)
	}
	return nil
}

func orderToModel(o repository.Order) *models.Order {
	m := &models.Order{
		ID:                  repository.FromPgUUID(o.ID),
		RefID:               o.RefID,
		Type:                o.Type,
		Vendor:              o.Vendor,
		Amount:              o.Amount,
		InstantBalance:      o.InstantBalance,
		InstantPaid:         o.InstantPaid,
		CurrentPayoutSplits: o.CurrentPayoutSplits,
		PaymentStatus:       o.PaymentStatus,
		CreatedAt:           o.CreatedAt.Time,
		UpdatedAt:           o.UpdatedAt.Time,
	}
	if o.ExpiresAt.Valid {
		t := o.ExpiresAt.Time
		m.ExpiresAt = &t
	}
	return m
}

func batchToModel(b repository.Batch) *models.Batch {
	m := &models.Batch{
		ID:               repository.FromPgUUID(b.ID),
		OrderID:          repository.FromPgUUID(b.OrderID),
		PayinOrderID:     repository.FromPgUUID(b.PayinOrderID),
		Amount:           b.Amount,
		Status:           b.Status,
		UTRNo:            b.UTRNo,
		CompletionMethod: b.CompletionMethod,
		ConfirmedBy:      b.ConfirmedBy,
		CreatedAt:        b.CreatedAt.Time,
	}
	if b.SystemConfirmedAt.Valid {
		t := b.SystemConfirmedAt.Time
		m.SystemConfirmedAt = &t
	}
	return m
}
