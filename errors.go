package casklog

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCASConflict is returned by a store when the compare-and-swap
	// precondition did not hold because another writer got there first.
	ErrCASConflict = errors.New("cas conflict")
	// ErrRetryBudgetExceeded means an operation lost every CAS round it was
	// allowed. Nothing was written so the whole operation may be retried.
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
	// ErrStoreUnavailable matches any failure to reach the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidRequest matches requests rejected before touching the store.
	ErrInvalidRequest = errors.New("invalid request")
)

// StoreError records a failed store call.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// RequestError is a client error found while validating a request.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

// InvalidRequest returns a RequestError for field.
func InvalidRequest(field, format string, args ...interface{}) error {
	return &RequestError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
