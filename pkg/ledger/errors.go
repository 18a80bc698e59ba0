package ledger

import "errors"

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrOrderNotFound      = errors.New("order record not found")
	ErrNotPending         = errors.New("order record not pending")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidUsername    = errors.New("username required")
	ErrOverfill           = errors.New("fill exceeds remaining quantity")

	errReadOnly = errors.New("write in read-only view")
)
