package repository

import (
	"context"
)

// GetIdempotencyKey loads a stored request record by key.
func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	const sql = `
		SELECT idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at
		FROM idempotency_keys
		WHERE idempotency_key = $1`
	var row IdempotencyKey
	err := q.db.QueryRow(ctx, sql, key).Scan(
		&row.IdempotencyKey,
		&row.RequestHash,
		&row.Method,
		&row.Path,
		&row.ResponseStatus,
		&row.ResponseBody,
		&row.ContentType,
		&row.InProgress,
		&row.CreatedAt,
	)
	return row, err
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

// ReserveIdempotencyKey claims a key for an in-flight request. A conflicting
// concurrent claim surfaces as pgx.ErrNoRows from the empty RETURNING set.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (string, error) {
	const sql = `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at)
		VALUES ($1, $2, $3, $4, 0, ''::bytea, '', TRUE, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key`
	var key string
	err := q.db.QueryRow(ctx, sql, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).Scan(&key)
	return key, err
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

// FinalizeIdempotencyKey stores the response for replay and clears the
// in-progress marker.
func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	const sql = `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at`
	var row IdempotencyKey
	err := q.db.QueryRow(ctx, sql,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash,
	).Scan(
		&row.IdempotencyKey,
		&row.RequestHash,
		&row.Method,
		&row.Path,
		&row.ResponseStatus,
		&row.ResponseBody,
		&row.ContentType,
		&row.InProgress,
		&row.CreatedAt,
	)
	return row, err
}
