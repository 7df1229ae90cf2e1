package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInsufficientBalance is returned when a debit exceeds a balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCorruptRecord is returned when a stored record fails validation.
	ErrCorruptRecord = errors.New("corrupt record")
)
