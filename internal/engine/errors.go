package engine

import "errors"

// Operation errors. Every failure aborts the triggering operation with no
// partial state change; callers may retry with corrected inputs.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotOwner               = errors.New("caller is not the position owner")
	ErrNotLiquidatable        = errors.New("position is not liquidatable")
	ErrBelowMinimum           = errors.New("mint amount below deposit minimum")
	ErrInsufficientCollateral = errors.New("withdrawal would breach the minimum collateral ratio")
	ErrExceedsAverageShare    = errors.New("withdrawal exceeds the average per-position pool share")
	ErrExceedsBalance         = errors.New("amount exceeds the recorded balance")
	ErrSameBlockViolation     = errors.New("deposit and withdraw on one position in the same block")
	ErrTooSoon                = errors.New("sync cooldown has not elapsed")
	ErrTransferFailed         = errors.New("ledger transfer failed")
	ErrInternalInvariant      = errors.New("internal invariant violated")
	ErrReentrancy             = errors.New("reentrant redeem call")
)

// rejectReason maps an operation error onto a short metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrExceedsAverageShare):
		return "exceeds_average_share"
	case errors.Is(err, ErrExceedsBalance):
		return "exceeds_balance"
	case errors.Is(err, ErrSameBlockViolation):
		return "same_block"
	case errors.Is(err, ErrTooSoon):
		return "too_soon"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrReentrancy):
		return "reentrancy"
	default:
		return "other"
	}
}
