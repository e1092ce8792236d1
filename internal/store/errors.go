package store

import "errors"

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransaction is returned when a transaction cannot begin or commit
	ErrInvalidTransaction = errors.New("invalid transaction")
)
