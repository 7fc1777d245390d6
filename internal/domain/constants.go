package domain

const (
	OrderTypePayin  = "payin"
	OrderTypePayout = "payout"

	// Order statuses. Payins and payouts share the enum; the legal
	// transitions differ by kind.
	OrderStatusCreated    = "created"
	OrderStatusUnassigned = "unassigned"
	OrderStatusPending    = "pending"
	OrderStatusApproved   = "approved"
	OrderStatusSuccess    = "success"
	OrderStatusExpired    = "expired"
	OrderStatusRejected   = "rejected"
	OrderStatusFailed     = "failed"

	// Batch statuses. Everything after "pending" is terminal.
	BatchStatusPending   = "pending"
	BatchStatusConfirmed = "sys_confirmed"
	BatchStatusExpired   = "expired"
	BatchStatusCancelled = "cancelled_insufficient_balance"

	// Completion methods recorded on a confirmed batch.
	MethodWebhook       = "webhook"
	MethodUTR           = "utr_verification"
	MethodAdminApproval = "admin_approval"
	MethodScreenshot    = "screenshot_upload"
	MethodSystemAuto    = "system_auto"
	MethodManual        = "manual"

	// MaxPayoutSplits caps how many batches a payout may ever receive.
	MaxPayoutSplits = 5

	// DefaultSettleEpsilon is the residual (in minor units) below which a
	// payout counts as fully settled; absorbs gateway rounding.
	DefaultSettleEpsilon = int64(1)
)

// IsCompletable reports whether a payin in the given status may still be
// confirmed.
func IsCompletable(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusCreated, OrderStatusUnassigned:
		return true
	default:
		return false
	}
}

// IsAllocatable reports whether a payin in the given status may receive an
// allocation.
func IsAllocatable(status string) bool {
	switch status {
	case OrderStatusCreated, OrderStatusUnassigned, OrderStatusPending:
		return true
	default:
		return false
	}
}

// IsCompletionMethod validates a completion method value before it is
// persisted on a batch.
func IsCompletionMethod(m string) bool {
	switch m {
	case MethodWebhook, MethodUTR, MethodAdminApproval, MethodScreenshot, MethodSystemAuto, MethodManual:
		return true
	default:
		return false
	}
}
