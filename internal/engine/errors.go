package engine

import "errors"

// Error kinds returned across the engine boundary. The API layer maps these
// onto HTTP status codes; everything else wraps one of them with context.
var (
	ErrValidation          = errors.New("invalid order")
	ErrEventNotAccepting   = errors.New("event not accepting orders")
	ErrUnauthorized        = errors.New("order not owned by user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrNotFound            = errors.New("not found")
	ErrLockTimeout         = errors.New("book lock timeout")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrInternal            = errors.New("internal error")
)
