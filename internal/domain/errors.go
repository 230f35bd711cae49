package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited marks a provider response asking the caller to back off and retry.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrMalformedRecord marks a single entry that could not be normalized.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnitSkipped marks a unit whose retry budget ran out.
	ErrUnitSkipped = errors.New("fetch unit skipped")
)

// APIError is a non-recoverable rejection from the provider for one unit.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// TransportError covers network failures, timeouts, non-2xx statuses and undecodable bodies.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Malformed wraps a normalization failure for field.
func Malformed(field string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: field %s", ErrMalformedRecord, field)
	}
	return fmt.Errorf("%w: field %s: %v", ErrMalformedRecord, field, err)
}

// StorageError reports a failed batch write. Nothing in the batch was committed.
type StorageError struct {
	Table     string
	Err       error
	Transient bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error on %s: %v", e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same batch may succeed.
func (e *StorageError) Retryable() bool { return e.Transient }
