package state

import "errors"

// Domain refusals surfaced by Store implementations. Handlers match these
// with errors.Is to decide the response shape; anything else is a
// persistence failure.
var (
	ErrNotFound            = errors.New("record not found")
	ErrNoPending           = errors.New("nothing pending")
	ErrInvalidState        = errors.New("invalid state for transition")
	ErrConflict            = errors.New("conflicting state")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
