package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConcurrencyConflict indicates a concurrent writer changed the record first.
	ErrConcurrencyConflict = errors.New("repository: concurrency conflict")
	// ErrTxClosed indicates the transaction was already committed or rolled back.
	ErrTxClosed = errors.New("repository: transaction closed")
)
