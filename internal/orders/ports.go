package orders

import (
	"context"
	"time"

	"github.com/safar/go-order-core/internal/models"
	"github.com/shopspring/decimal"
)

// OrderWriter is the capability to durably create an order. InsertOrder must write the order
// and all of its items atomically and fill in generated ids and timestamps.
type OrderWriter interface {
	InsertOrder(ctx context.Context, order *models.Order) error
}

type OrderRepository interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*models.OrderPage, error)
	// UpdateOrderStatus moves id from one status to another and fails with
	// database.ErrOptimisticLockFailed if the stored status is no longer from.
	UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error)
	// CancelExpiredPending cancels up to limit pending orders created before the cutoff and
	// returns them with their items.
	CancelExpiredPending(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

type CartSynchronizer interface {
	ClearPurchased(ctx context.Context, userID int64, productIDs []int64) error
}

type EventPublisher interface {
	OrderCreated(ctx context.Context, order *models.Order) error
	OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error
}

type PaymentRequest struct {
	UserID          int64
	OrderNumber     string
	PaymentMethodID string
	Amount          decimal.Decimal
}

// PaymentAuthorizer fronts the external payment gateway. A decline is reported as
// *apperr.PaymentDeclinedError; any other error is treated as a gateway failure.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, req PaymentRequest) error
}

// AcceptAllPayments is used when no gateway is wired in front of the core.
type AcceptAllPayments struct{}

func (AcceptAllPayments) Authorize(context.Context, PaymentRequest) error { return nil }

type noopEvents struct{}

func (noopEvents) OrderCreated(context.Context, *models.Order) error { return nil }
func (noopEvents) OrderStatusChanged(context.Context, *models.Order, models.OrderStatus) error {
	return nil
}
