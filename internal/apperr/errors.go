// Package apperr holds the error taxonomy shared by the order core and its HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnauthenticated    Kind = "unauthenticated"
	KindNotFound           Kind = "not_found"
	KindProductUnavailable Kind = "product_unavailable"
	KindInsufficientStock  Kind = "insufficient_inventory"
	KindPaymentDeclined    Kind = "payment_declined"
	KindConflict           Kind = "conflict"
	KindPersistence        Kind = "persistence_failure"
	KindInternal           Kind = "internal"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrNotFound        = errors.New("not found")

	// ErrCompensationIncomplete marks a failure after which some reserved stock could not
	// be released and may still be held.
	ErrCompensationIncomplete = errors.New("compensation incomplete")
)

// ValidationError reports malformed input. It is never retried.
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

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProductUnavailableError names products that are missing or inactive.
type ProductUnavailableError struct {
	ProductIDs []int64
}

func (e *ProductUnavailableError) Error() string {
	return "product unavailable: " + joinIDs(e.ProductIDs)
}

// InsufficientInventoryError names products whose stock could not cover the request.
type InsufficientInventoryError struct {
	ProductIDs []int64
}

func (e *InsufficientInventoryError) Error() string {
	return "insufficient inventory: " + joinIDs(e.ProductIDs)
}

type PaymentDeclinedError struct {
	Reason string
}

func (e *PaymentDeclinedError) Error() string {
	if e.Reason == "" {
		return "payment declined"
	}
	return "payment declined: " + e.Reason
}

// PersistenceFailure is returned after a failed order write has been compensated.
type PersistenceFailure struct {
	Err error
}

func (e *PersistenceFailure) Error() string { return "persist order: " + e.Err.Error() }
func (e *PersistenceFailure) Unwrap() error { return e.Err }

type InvalidTransitionError struct {
	From, To string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *InternalError) Unwrap() error { return e.Err }

func Internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}

// KindOf classifies err for transport mapping. Unknown errors are internal.
func KindOf(err error) Kind {
	var (
		validation   *ValidationError
		unavailable  *ProductUnavailableError
		insufficient *InsufficientInventoryError
		declined     *PaymentDeclinedError
		persistence  *PersistenceFailure
		transition   *InvalidTransitionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.As(err, &unavailable):
		return KindProductUnavailable
	case errors.As(err, &insufficient):
		return KindInsufficientStock
	case errors.As(err, &declined):
		return KindPaymentDeclined
	case errors.As(err, &transition):
		return KindConflict
	case errors.As(err, &persistence):
		return KindPersistence
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// ProductIDs returns the products named by an availability or inventory error.
func ProductIDs(err error) []int64 {
	var unavailable *ProductUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.ProductIDs
	}
	var insufficient *InsufficientInventoryError
	if errors.As(err, &insufficient) {
		return insufficient.ProductIDs
	}
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
