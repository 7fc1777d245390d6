package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Order is the row form of the orders table.
type Order struct {
	ID                  pgtype.UUID
	RefID               string
	Type                string
	Vendor              string
	Amount              int64
	InstantBalance      int64
	InstantPaid         int64
	CurrentPayoutSplits int32
	PaymentStatus       string
	BalanceFlagged      bool
	ExpiresAt           pgtype.Timestamptz
	CreatedAt           pgtype.Timestamptz
	UpdatedAt           pgtype.Timestamptz
}

// Batch is the row form of the batches table.
type Batch struct {
	ID                pgtype.UUID
	OrderID           pgtype.UUID
	PayinOrderID      pgtype.UUID
	Amount            int64
	Status            string
	UTRNo             *string
	CompletionMethod  *string
	ConfirmedBy       *string
	CreatedAt         pgtype.Timestamptz
	SystemConfirmedAt pgtype.Timestamptz
}

// IdempotencyKey is the row form of the idempotency_keys table.
type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      pgtype.Timestamptz
}
