package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, ref_id, type, vendor, amount, instant_balance, instant_paid,
	current_payout_splits, payment_status, balance_flagged, expires_at, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }, o *Order) error {
	return row.Scan(
		&o.ID,
		&o.RefID,
		&o.Type,
		&o.Vendor,
		&o.Amount,
		&o.InstantBalance,
		&o.InstantPaid,
		&o.CurrentPayoutSplits,
		&o.PaymentStatus,
		&o.BalanceFlagged,
		&o.ExpiresAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
}

type CreateOrderParams struct {
	ID             pgtype.UUID
	RefID          string
	Type           string
	Vendor         string
	Amount         int64
	InstantBalance int64
	PaymentStatus  string
	ExpiresAt      pgtype.Timestamptz
}

// CreateOrder inserts a payin or payout row. Payouts start with
// instant_balance equal to their amount; payins carry zero.
func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	const sql = `
		INSERT INTO orders (id, ref_id, type, vendor, amount, instant_balance, payment_status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING ` + orderColumns
	var o Order
	err := scanOrder(q.db.QueryRow(ctx, sql,
		arg.ID, arg.RefID, arg.Type, arg.Vendor, arg.Amount, arg.InstantBalance, arg.PaymentStatus, arg.ExpiresAt,
	), &o)
	return o, err
}

// GetOrder fetches one order by id.
func (q *Queries) GetOrder(ctx context.Context, id pgtype.UUID) (Order, error) {
	const sql = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	var o Order
	err := scanOrder(q.db.QueryRow(ctx, sql, id), &o)
	return o, err
}

// GetOrderByRef fetches one order by its public reference token.
func (q *Queries) GetOrderByRef(ctx context.Context, refID string) (Order, error) {
	const sql = `SELECT ` + orderColumns + ` FROM orders WHERE ref_id = $1`
	var o Order
	err := scanOrder(q.db.QueryRow(ctx, sql, refID), &o)
	return o, err
}

// GetOrderForUpdate locks an order row for the current transaction. Every
// balance mutation is preceded by this lock.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id pgtype.UUID) (Order, error) {
	const sql = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	var o Order
	err := scanOrder(q.db.QueryRow(ctx, sql, id), &o)
	return o, err
}

type LockMatchCandidateParams struct {
	Vendor       string
	Amount       int64
	MaxSplits    int32
	CreatedAfter pgtype.Timestamptz
	SkipIDs      []pgtype.UUID
}

// LockMatchCandidate locks the best payout able to fully cover the payin
// amount. Candidates are packed most-exhausted-first, then by smallest
// sufficient balance, then oldest, so small requests fill partially used
// payouts before fragmenting fresh ones. Concurrent allocations against the
// same payout serialize on this row lock.
func (q *Queries) LockMatchCandidate(ctx context.Context, arg LockMatchCandidateParams) (Order, error) {
	const sql = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE type = 'payout'
		  AND payment_status = 'unassigned'
		  AND vendor = $1
		  AND instant_balance >= $2
		  AND current_payout_splits < $3
		  AND balance_flagged = FALSE
		  AND created_at > $4
		  AND NOT (id = ANY($5))
		ORDER BY current_payout_splits DESC, instant_balance ASC, created_at ASC
		LIMIT 1
		FOR UPDATE`
	skip := arg.SkipIDs
	if skip == nil {
		skip = []pgtype.UUID{}
	}
	var o Order
	err := scanOrder(q.db.QueryRow(ctx, sql, arg.Vendor, arg.Amount, arg.MaxSplits, arg.CreatedAfter, skip), &o)
	return o, err
}

type ApplyAllocationParams struct {
	Amount    int64
	MaxSplits int32
	ID        pgtype.UUID
}

// ApplyAllocation decrements a payout's unallocated balance and takes one
// split slot. The WHERE clause re-asserts capacity so a stale read can never
// drive the balance negative or blow past the split ceiling.
func (q *Queries) ApplyAllocation(ctx context.Context, arg ApplyAllocationParams) (int64, error) {
	const sql = `
		UPDATE orders
		SET instant_balance = instant_balance - $1,
		    current_payout_splits = current_payout_splits + 1,
		    updated_at = NOW()
		WHERE id = $3
		  AND type = 'payout'
		  AND instant_balance >= $1
		  AND current_payout_splits < $2`
	tag, err := q.db.Exec(ctx, sql, arg.Amount, arg.MaxSplits, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type AddInstantPaidParams struct {
	Amount int64
	ID     pgtype.UUID
}

// AddInstantPaid advances the confirmed-settled total of a payout. The
// unallocated balance is untouched here; it was already reduced at
// allocation time.
func (q *Queries) AddInstantPaid(ctx context.Context, arg AddInstantPaidParams) (int64, error) {
	const sql = `
		UPDATE orders
		SET instant_paid = instant_paid + $1, updated_at = NOW()
		WHERE id = $2 AND type = 'payout'`
	tag, err := q.db.Exec(ctx, sql, arg.Amount, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type RestoreAllocationParams struct {
	Amount int64
	ID     pgtype.UUID
}

// RestoreAllocation returns a reversed batch's amount to the payout's
// unallocated balance and frees its split slot, floored at zero.
func (q *Queries) RestoreAllocation(ctx context.Context, arg RestoreAllocationParams) (int64, error) {
	const sql = `
		UPDATE orders
		SET instant_balance = instant_balance + $1,
		    current_payout_splits = GREATEST(current_payout_splits - 1, 0),
		    updated_at = NOW()
		WHERE id = $2 AND type = 'payout'`
	tag, err := q.db.Exec(ctx, sql, arg.Amount, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type UpdateOrderStatusParams struct {
	Status string
	ID     pgtype.UUID
}

// UpdateOrderStatus sets an order's payment status unconditionally.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (int64, error) {
	const sql = `UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2`
	tag, err := q.db.Exec(ctx, sql, arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type TransitionOrderStatusParams struct {
	Status string
	ID     pgtype.UUID
	From   []string
}

// TransitionOrderStatus sets an order's payment status only when the current
// status is one of From; callers losing a race see zero rows.
func (q *Queries) TransitionOrderStatus(ctx context.Context, arg TransitionOrderStatusParams) (int64, error) {
	const sql = `
		UPDATE orders
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status = ANY($3)`
	tag, err := q.db.Exec(ctx, sql, arg.Status, arg.ID, arg.From)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type GetExpiredPendingPayinsParams struct {
	Now   pgtype.Timestamptz
	Limit int32
}

// GetExpiredPendingPayins lists payins past their deadline that are still
// pending, oldest deadline first, bounded per sweep run.
func (q *Queries) GetExpiredPendingPayins(ctx context.Context, arg GetExpiredPendingPayinsParams) ([]Order, error) {
	const sql = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE type = 'payin'
		  AND payment_status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`
	rows, err := q.db.Query(ctx, sql, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// BatchTotals holds the allocation sums against one payout, split by batch
// state. Confirmed and pending batches both hold payout balance; expired and
// cancelled ones have released theirs.
type BatchTotals struct {
	Confirmed int64
	Pending   int64
}

// GetBatchTotals sums batch amounts against a payout by state, the
// right-hand side of the balance invariant.
func (q *Queries) GetBatchTotals(ctx context.Context, orderID pgtype.UUID) (BatchTotals, error) {
	const sql = `
		SELECT COALESCE(SUM(amount) FILTER (WHERE status = 'sys_confirmed'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0)
		FROM batches
		WHERE order_id = $1`
	var totals BatchTotals
	err := q.db.QueryRow(ctx, sql, orderID).Scan(&totals.Confirmed, &totals.Pending)
	return totals, err
}

// FlagPayoutBalance marks a payout as drifted so matching excludes it until
// out-of-band reconciliation clears it.
func (q *Queries) FlagPayoutBalance(ctx context.Context, id pgtype.UUID) (int64, error) {
	const sql = `UPDATE orders SET balance_flagged = TRUE, updated_at = NOW() WHERE id = $1`
	tag, err := q.db.Exec(ctx, sql, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PayoutDrift describes a payout whose running balance no longer matches its
// confirmed batch total.
type PayoutDrift struct {
	ID             pgtype.UUID
	RefID          string
	Amount         int64
	InstantBalance int64
	ConfirmedTotal int64
}

// GetDriftedPayouts reports open payouts violating
// instant_balance == amount - sum(confirmed batches). Pending batches also
// hold balance, so their allocations are added back before comparing.
func (q *Queries) GetDriftedPayouts(ctx context.Context, limit int32) ([]PayoutDrift, error) {
	const sql = `
		SELECT o.id, o.ref_id, o.amount, o.instant_balance,
		       COALESCE(SUM(b.amount) FILTER (WHERE b.status = 'sys_confirmed'), 0) AS confirmed_total
		FROM orders o
		LEFT JOIN batches b ON b.order_id = o.id
		WHERE o.type = 'payout'
		  AND o.balance_flagged = FALSE
		  AND o.payment_status IN ('unassigned', 'pending')
		GROUP BY o.id, o.ref_id, o.amount, o.instant_balance
		HAVING o.instant_balance <>
		       o.amount
		       - COALESCE(SUM(b.amount) FILTER (WHERE b.status = 'sys_confirmed'), 0)
		       - COALESCE(SUM(b.amount) FILTER (WHERE b.status = 'pending'), 0)
		LIMIT $1`
	rows, err := q.db.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifted []PayoutDrift
	for rows.Next() {
		var d PayoutDrift
		if err := rows.Scan(&d.ID, &d.RefID, &d.Amount, &d.InstantBalance, &d.ConfirmedTotal); err != nil {
			return nil, err
		}
		drifted = append(drifted, d)
	}
	return drifted, rows.Err()
}
