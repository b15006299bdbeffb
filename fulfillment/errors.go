/*
errors.go - Error types for the fulfillment core

ERROR CATEGORIES:
  1. Client errors    - ValidationError, OverDeliveryError, not-found
  2. Concurrency      - ConflictError (optimistic version check lost)
  3. Infrastructure   - StorageError, AuditWriteError

AUDIT WRITE FAILURES:
  AuditWriteError is returned AFTER the delivery correction has been
  persisted. Callers must not treat it as "nothing happened". It carries
  the entry so it can be retried.

USAGE:
    if errors.Is(err, fulfillment.ErrOverDelivery) { ... }

    var aw *fulfillment.AuditWriteError
    if errors.As(err, &aw) { retrier.Enqueue(aw.Entry) }
*/
package fulfillment

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOrderNotFound is returned when no order has the requested ID.
	ErrOrderNotFound = errors.New("order not found")

	// ErrDeliveryNotFound is returned when a log index is out of range.
	ErrDeliveryNotFound = errors.New("delivery record not found")

	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrOverDelivery is returned when a mutation would push the delivered
	// total past the ordered quantity.
	ErrOverDelivery = errors.New("delivered quantity exceeds ordered quantity")

	// ErrConflict is returned by stores when the version check fails.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrAlreadyExists is returned when creating an order whose ID is taken.
	ErrAlreadyExists = errors.New("order already exists")

	// ErrStorage wraps backend failures.
	ErrStorage = errors.New("storage failure")

	// ErrAuditWrite is returned when the audit entry could not be written.
	ErrAuditWrite = errors.New("audit log write failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing order.
type NotFoundError struct {
	OrderID OrderID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

func (e *NotFoundError) Unwrap() error { return ErrOrderNotFound }

// DeliveryNotFoundError names the out-of-range log index.
type DeliveryNotFoundError struct {
	OrderID OrderID
	Index   int
	Len     int
}

func (e *DeliveryNotFoundError) Error() string {
	return fmt.Sprintf("delivery record %d not found (order %s has %d)", e.Index, e.OrderID, e.Len)
}

func (e *DeliveryNotFoundError) Unwrap() error { return ErrDeliveryNotFound }

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// OverDeliveryError reports the totals that tripped the guard.
type OverDeliveryError struct {
	OrderID   OrderID
	Ordered   int
	Delivered int // total after the rejected change
}

func (e *OverDeliveryError) Error() string {
	return fmt.Sprintf("order %s: delivering %d would exceed ordered %d", e.OrderID, e.Delivered, e.Ordered)
}

func (e *OverDeliveryError) Unwrap() error { return ErrOverDelivery }

// ConflictError is returned once the ledger gives up retrying a save.
type ConflictError struct {
	OrderID  OrderID
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s: concurrent modification after %d attempts", e.OrderID, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StorageError wraps a backend error with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is lets errors.Is match both ErrStorage and the wrapped cause.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// AuditWriteError means the mutation was persisted but its audit entry
// was not.
type AuditWriteError struct {
	Entry AuditLogEntry
	Err   error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit entry for order %s not written: %v", e.Entry.OrderID, e.Err)
}

func (e *AuditWriteError) Is(target error) bool { return target == ErrAuditWrite }

func (e *AuditWriteError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOverDelivery) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrDeliveryNotFound)
}

// wrapStorage leaves domain errors alone and tags everything else as a
// storage failure.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsClientError(err) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
