package auction

import "errors"

// Business-rule errors. Callers classify with errors.Is and map them to a
// protocol-appropriate response; anything outside this set is a retryable
// infrastructure failure.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrExpired    = errors.New("expired")
)

// Store-level errors.
var (
	ErrAlreadyExists   = errors.New("auction already exists")
	ErrVersionConflict = errors.New("auction version conflict")
)
