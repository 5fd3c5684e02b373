package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/safar/go-order-core/internal/apperr"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
	"github.com/safar/go-order-core/internal/pagination"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// GetOrder returns an order owned by userID. Orders of other users are reported as not found.
func (s *Service) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.lookupError(orderID, err)
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*models.OrderPage, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, apperr.Validation("limit", "must be between 1 and %d", MaxPageSize)
	}

	page, err := s.orders.ListOrders(ctx, userID, cursor, limit)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, apperr.Validation("cursor", "is invalid")
		}
		return nil, apperr.Internal("list orders", err)
	}
	return page, nil
}

// CancelOrder is the buyer's cancel: only pending orders qualify. Cancelling an order that
// is already cancelled retries its stock release and succeeds.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusCancelled {
		return nil, &apperr.InvalidTransitionError{
			From: string(order.Status),
			To:   string(models.OrderStatusCancelled),
		}
	}
	return s.transition(ctx, order, models.OrderStatusCancelled)
}

// TransitionStatus moves an order along the status graph. Entering cancelled returns the
// order's reserved stock to the ledger.
func (s *Service) TransitionStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.lookupError(orderID, err)
	}
	return s.transition(ctx, order, to)
}

func (s *Service) transition(ctx context.Context, order *models.Order, to models.OrderStatus) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.TransitionStatus")
	defer span.End()

	from := order.Status
	if from == to && to == models.OrderStatusCancelled {
		if err := s.releaseOrder(ctx, order); err != nil {
			return nil, apperr.Internal("release cancelled order", err)
		}
		return order, nil
	}
	if !from.CanTransitionTo(to) {
		return nil, &apperr.InvalidTransitionError{From: string(from), To: string(to)}
	}

	updated, err := s.orders.UpdateOrderStatus(ctx, order.ID, from, to)
	if err != nil {
		if errors.Is(err, database.ErrOptimisticLockFailed) {
			return nil, &apperr.InvalidTransitionError{From: string(from), To: string(to)}
		}
		return nil, s.lookupError(order.ID, err)
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	if err := s.onStatusChanged(ctx, updated, from); err != nil {
		return nil, err
	}
	return updated, nil
}

// onStatusChanged runs after a status change is durable: cancellation releases stock and
// every change is published.
func (s *Service) onStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	var releaseErr error
	if order.Status == models.OrderStatusCancelled && from.HoldsInventory() {
		if err := s.releaseOrder(ctx, order); err != nil {
			releaseErr = apperr.Internal("release cancelled order", err)
		}
	}

	if err := s.events.OrderStatusChanged(context.WithoutCancel(ctx), order, from); err != nil {
		s.logger.Warn("publish order status changed", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return releaseErr
}

func (s *Service) releaseOrder(ctx context.Context, order *models.Order) error {
	reservations := make([]models.Reservation, 0, len(order.Items))
	for _, item := range order.Items {
		reservations = append(reservations, models.Reservation{
			ID:        item.ReservationID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	err := s.compensate(ctx, order, reservations, nil)
	if err != nil {
		s.logger.Error("cancelled order still holds stock",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
	return err
}

func (s *Service) lookupError(orderID int64, err error) error {
	if errors.Is(err, database.ErrOrderNotFound) {
		return fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	return apperr.Internal("load order", err)
}
