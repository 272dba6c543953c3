package usecase

import (
	"context"
	"errors"
)

// Fallible holds either a value or the error that prevented computing it.
type Fallible[T any] struct {
	value T
	err   error
}

// Try wraps the result of a call returning (T, error).
func Try[T any](value T, err error) Fallible[T] {
	return Fallible[T]{value: value, err: err}
}

// Err returns the captured error, if any.
func (f Fallible[T]) Err() error {
	return f.err
}

// Canceled reports whether the captured error is a context cancellation or deadline.
func (f Fallible[T]) Canceled() bool {
	return isCancellation(f.err)
}

// ValueOr returns the value, or fallback when an error was captured.
func (f Fallible[T]) ValueOr(fallback T) T {
	if f.err != nil {
		return fallback
	}
	return f.value
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
