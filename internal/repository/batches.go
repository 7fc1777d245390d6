package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const batchColumns = `id, order_id, pay_in_order_id, amount, status, utr_no,
	completion_method, confirmed_by, created_at, system_confirmed_at`

func scanBatch(row interface{ Scan(dest ...any) error }, b *Batch) error {
	return row.Scan(
		&b.ID,
		&b.OrderID,
		&b.PayinOrderID,
		&b.Amount,
		&b.Status,
		&b.UTRNo,
		&b.CompletionMethod,
		&b.ConfirmedBy,
		&b.CreatedAt,
		&b.SystemConfirmedAt,
	)
}

type CreateBatchParams struct {
	ID           pgtype.UUID
	OrderID      pgtype.UUID
	PayinOrderID pgtype.UUID
	Amount       int64
}

// CreateBatch inserts a pending allocation link. It must always be paired
// with ApplyAllocation in the same transaction.
func (q *Queries) CreateBatch(ctx context.Context, arg CreateBatchParams) (Batch, error) {
	const sql = `
		INSERT INTO batches (id, order_id, pay_in_order_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		RETURNING ` + batchColumns
	var b Batch
	err := scanBatch(q.db.QueryRow(ctx, sql, arg.ID, arg.OrderID, arg.PayinOrderID, arg.Amount), &b)
	return b, err
}

// GetBatch fetches one batch by id.
func (q *Queries) GetBatch(ctx context.Context, id pgtype.UUID) (Batch, error) {
	const sql = `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	var b Batch
	err := scanBatch(q.db.QueryRow(ctx, sql, id), &b)
	return b, err
}

// GetBatchByPayin returns the allocation attached to a payin, if any. A payin
// holds at most one batch.
func (q *Queries) GetBatchByPayin(ctx context.Context, payinOrderID pgtype.UUID) (Batch, error) {
	const sql = `SELECT ` + batchColumns + ` FROM batches WHERE pay_in_order_id = $1 LIMIT 1`
	var b Batch
	err := scanBatch(q.db.QueryRow(ctx, sql, payinOrderID), &b)
	return b, err
}

// GetPendingBatchesForPayin locks a payin's pending batches for confirmation
// or reversal within the current transaction.
func (q *Queries) GetPendingBatchesForPayin(ctx context.Context, payinOrderID pgtype.UUID) ([]Batch, error) {
	const sql = `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE pay_in_order_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
		FOR UPDATE`
	rows, err := q.db.Query(ctx, sql, payinOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := scanBatch(rows, &b); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListBatchesForOrder returns all batches attached to a payout.
func (q *Queries) ListBatchesForOrder(ctx context.Context, orderID pgtype.UUID) ([]Batch, error) {
	const sql = `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE order_id = $1
		ORDER BY created_at ASC`
	rows, err := q.db.Query(ctx, sql, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := scanBatch(rows, &b); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

type ConfirmBatchParams struct {
	ID               pgtype.UUID
	UTRNo            *string
	CompletionMethod string
	ConfirmedBy      string
}

// ConfirmBatch moves a batch to sys_confirmed and returns the confirmation
// timestamp. The status guard makes the confirm/expire race safe: the writer
// that loses sees pgx.ErrNoRows and must take no further action for this
// batch.
func (q *Queries) ConfirmBatch(ctx context.Context, arg ConfirmBatchParams) (pgtype.Timestamptz, error) {
	const sql = `
		UPDATE batches
		SET status = 'sys_confirmed',
		    utr_no = $2,
		    completion_method = $3,
		    confirmed_by = $4,
		    system_confirmed_at = NOW()
		WHERE id = $1 AND status = 'pending' AND system_confirmed_at IS NULL
		RETURNING system_confirmed_at`
	var confirmedAt pgtype.Timestamptz
	err := q.db.QueryRow(ctx, sql, arg.ID, arg.UTRNo, arg.CompletionMethod, arg.ConfirmedBy).Scan(&confirmedAt)
	return confirmedAt, err
}

// ExpireBatch moves a batch to expired under the same race guard as
// ConfirmBatch.
func (q *Queries) ExpireBatch(ctx context.Context, id pgtype.UUID) (int64, error) {
	const sql = `
		UPDATE batches
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending' AND system_confirmed_at IS NULL`
	tag, err := q.db.Exec(ctx, sql, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelBatch moves a batch to cancelled_insufficient_balance, used when an
// allocation is rolled forward against a payout found short of funds.
func (q *Queries) CancelBatch(ctx context.Context, id pgtype.UUID) (int64, error) {
	const sql = `
		UPDATE batches
		SET status = 'cancelled_insufficient_balance'
		WHERE id = $1 AND status = 'pending' AND system_confirmed_at IS NULL`
	tag, err := q.db.Exec(ctx, sql, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
