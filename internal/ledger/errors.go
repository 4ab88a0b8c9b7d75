package ledger

import "errors"

var (
	ErrReferrerNotFound = errors.New("referrer not found")
	ErrAmountOutOfRange = errors.New("investment amount out of range")
	ErrTransferFailed   = errors.New("transfer failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrPositionNotFound = errors.New("position not found")

	// ErrTransferPending reports a fund movement that was sent to the payment
	// token but whose outcome is not known yet.
	ErrTransferPending = errors.New("transfer pending")

	ErrCommitFailed  = errors.New("commit failed")
	ErrOwnerMismatch = errors.New("persisted owner does not match configured owner")
	ErrInvalidConfig = errors.New("invalid ledger config")
)
