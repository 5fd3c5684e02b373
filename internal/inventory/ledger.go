// Package inventory defines the stock ledger: an atomic reserve/release contract over each
// product's available quantity.
//
// Implementations must apply the availability check and the decrement as one atomic step,
// serialize operations on the same product and leave different products uncontended.
// Reservation ids are chosen by the caller so that an attempt whose outcome is unknown can
// still be released: Reserve with an outstanding id is a no-op, Release is idempotent, and a
// Release that arrives before its Reserve closes the id for good.
package inventory

import (
	"context"
	"errors"

	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInsufficientStock = database.ErrInsufficientStock
	ErrProductNotFound   = database.ErrProductNotFound
	ErrInvalidQuantity   = errors.New("reserve quantity must be positive")
	ErrReservationClosed = errors.New("reservation already released")
	ErrMissingID         = errors.New("reservation id is required")
)

type Ledger interface {
	// Reserve claims quantity units of productID under reservationID or fails with
	// ErrInsufficientStock. Repeating it with an outstanding id returns that reservation
	// without claiming again; a released id fails with ErrReservationClosed.
	Reserve(ctx context.Context, reservationID string, productID int64, quantity int) (models.Reservation, error)
	// Release returns a reservation's units. Releasing twice is a no-op.
	Release(ctx context.Context, reservation models.Reservation) error
}

// QuantityReader exposes the authoritative counter, mostly for tests and reconciliation.
type QuantityReader interface {
	AvailableQuantity(ctx context.Context, productID int64) (int, error)
}

type tracedLedger struct {
	next   Ledger
	tracer trace.Tracer
}

// Traced wraps a ledger with one span per call.
func Traced(next Ledger) Ledger {
	return &tracedLedger{next: next, tracer: otel.Tracer("order-core/inventory")}
}

func (l *tracedLedger) Reserve(ctx context.Context, reservationID string, productID int64, quantity int) (models.Reservation, error) {
	ctx, span := l.tracer.Start(ctx, "inventory.Reserve", trace.WithAttributes(
		attribute.String("reservation.id", reservationID),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	))
	defer span.End()

	res, err := l.next.Reserve(ctx, reservationID, productID, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

func (l *tracedLedger) Release(ctx context.Context, reservation models.Reservation) error {
	ctx, span := l.tracer.Start(ctx, "inventory.Release", trace.WithAttributes(
		attribute.String("reservation.id", reservation.ID),
		attribute.Int64("product.id", reservation.ProductID),
	))
	defer span.End()

	if err := l.next.Release(ctx, reservation); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
