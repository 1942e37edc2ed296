package domain

import "errors"

// Sentinel errors for the settlement core. Every precondition failure maps
// onto exactly one of these; callers match with errors.Is. A failing check
// aborts the whole call before any mutation, so a returned error implies
// zero observable state change.
var (
	ErrUnauthorized      = errors.New("unauthorized caller")
	ErrInvalidState      = errors.New("invalid lifecycle state")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource limit exceeded")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrLockHeld          = errors.New("lock already held")
)
