package sentinel

import "errors"

// Sentinel errors. Stores and services wrap these with context;
// the HTTP layer maps them to responses exactly once.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("conflict")
	ErrEncryption        = errors.New("encryption error")
)
