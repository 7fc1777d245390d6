package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is either an inbound deposit (payin) or an outbound withdrawal
// request (payout). The instant_* fields are meaningful for payouts only.
type Order struct {
	ID                  uuid.UUID  `json:"id"`
	RefID               string     `json:"ref_id"`
	Type                string     `json:"type"` // "payin" or "payout"
	Vendor              string     `json:"vendor"`
	Amount              int64      `json:"amount"`
	InstantBalance      int64      `json:"instant_balance"`
	InstantPaid         int64      `json:"instant_paid"`
	CurrentPayoutSplits int32      `json:"current_payout_splits"`
	PaymentStatus       string     `json:"payment_status"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Batch links one payin's funds to one payout. Its amount is immutable after
// creation; the status leaves "pending" exactly once.
type Batch struct {
	ID                uuid.UUID  `json:"uuid"`
	OrderID           uuid.UUID  `json:"order_id"`        // the payout
	PayinOrderID      uuid.UUID  `json:"pay_in_order_id"` // the payin
	Amount            int64      `json:"amount"`
	Status            string     `json:"status"`
	UTRNo             *string    `json:"utr_no,omitempty"`
	CompletionMethod  *string    `json:"completion_method,omitempty"`
	ConfirmedBy       *string    `json:"confirmed_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SystemConfirmedAt *time.Time `json:"system_confirmed_at,omitempty"`
}
