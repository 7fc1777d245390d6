// Package notify carries best-effort settlement events to real-time
// subscribers. The engine's own state is authoritative; publish failures are
// logged and never propagated, and the core is correct with zero subscribers.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventBatchSettled    = "batch-settled"
	EventPayinSettled    = "payin-settled"
	EventPayinExpired    = "payin-expired"
	EventPayoutAvailable = "payout-availability-changed"
)

// Publisher pushes one event onto a named channel, at-most-once.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// WithdrawChannel names the per-payout channel UIs subscribe to, keyed by the
// payout's public reference.
func WithdrawChannel(payoutRef string) string {
	return "instant-withdraw-" + payoutRef
}

// VendorChannel names the per-vendor availability channel.
func VendorChannel(vendor string) string {
	return "payout-availability-" + vendor
}

// BatchSettledPayload is pushed per confirmed batch.
type BatchSettledPayload struct {
	UUID                  uuid.UUID  `json:"uuid"`
	Amount                int64      `json:"amount"`
	UTRNo                 string     `json:"utr_no"`
	SystemConfirmedAt     *time.Time `json:"system_confirmed_at"`
	ConfirmedByCustomerAt *time.Time `json:"confirmed_by_customer_at"`
}

// PayinSettledPayload summarizes a confirmed payin.
type PayinSettledPayload struct {
	PayinRef         string `json:"payin_ref"`
	Amount           int64  `json:"amount"`
	BatchCount       int    `json:"batch_count"`
	CompletionMethod string `json:"completion_method"`
}

// PayinExpiredPayload announces a reversed payin.
type PayinExpiredPayload struct {
	PayinRef string `json:"payin_ref"`
	Amount   int64  `json:"amount"`
}

// PayoutAvailabilityPayload announces restored payout capacity for a vendor.
type PayoutAvailabilityPayload struct {
	Vendor         string `json:"vendor"`
	PayoutRef      string `json:"payout_ref"`
	InstantBalance int64  `json:"instant_balance"`
}

// Noop discards all events; the default when no bus is configured and the
// implementation handed to tests.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error { return nil }
