package service

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound: the referenced order or batch does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidState: the operation targets an order or batch outside its
	// eligible statuses, e.g. confirming an expired payin.
	ErrInvalidState = errors.New("order is not in an eligible state")

	// ErrNotPayin: the referenced order is a payout where a payin was
	// required.
	ErrNotPayin = errors.New("order is not a payin")

	// ErrBalanceInconsistency: a payout's running balance no longer matches
	// its confirmed batch total; the payout is flagged for reconciliation.
	ErrBalanceInconsistency = errors.New("payout balance inconsistent with confirmed batches")

	// ErrTransactionConflict: lock contention persisted past the retry
	// budget; the caller may retry the whole operation.
	ErrTransactionConflict = errors.New("transaction conflict, retries exhausted")
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}
