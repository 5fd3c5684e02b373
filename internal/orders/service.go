// Package orders runs order placement and the order lifecycle on top of the catalog, the
// stock ledger and the order store.
//
// CreateOrder reserves every line in ascending product id order, persists the order and only
// then touches the cart and the event stream. Any failure before the order is durable releases
// every reservation taken so far.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/safar/go-order-core/internal/apperr"
	"github.com/safar/go-order-core/internal/catalog"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/inventory"
	"github.com/safar/go-order-core/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Config struct {
	MaxItems int
	// MaxLineQuantity caps the units on one order line; zero means no cap.
	MaxLineQuantity     int
	PersistTimeout      time.Duration
	CompensationTimeout time.Duration
	// ReleaseAttempts bounds how often a single reservation release is tried during
	// compensation or cancellation.
	ReleaseAttempts int
}

func DefaultConfig() Config {
	return Config{
		MaxItems:            DefaultMaxItems,
		PersistTimeout:      5 * time.Second,
		CompensationTimeout: 10 * time.Second,
		ReleaseAttempts:     3,
	}
}

type Deps struct {
	Catalog  catalog.SnapshotReader
	Ledger   inventory.Ledger
	Writer   OrderWriter
	Orders   OrderRepository
	Carts    CartSynchronizer
	Events   EventPublisher
	Payments PaymentAuthorizer
	Logger   *zap.Logger
}

type Service struct {
	catalog  catalog.SnapshotReader
	ledger   inventory.Ledger
	writer   OrderWriter
	orders   OrderRepository
	carts    CartSynchronizer
	events   EventPublisher
	payments PaymentAuthorizer
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewService(deps Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = def.CompensationTimeout
	}
	if cfg.ReleaseAttempts <= 0 {
		cfg.ReleaseAttempts = def.ReleaseAttempts
	}

	s := &Service{
		catalog:  deps.Catalog,
		ledger:   deps.Ledger,
		writer:   deps.Writer,
		orders:   deps.Orders,
		carts:    deps.Carts,
		events:   deps.Events,
		payments: deps.Payments,
		cfg:      cfg,
		logger:   deps.Logger,
		tracer:   otel.Tracer("order-core/orders"),
	}
	if s.events == nil {
		s.events = noopEvents{}
	}
	if s.payments == nil {
		s.payments = AcceptAllPayments{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// OrderResult is what the caller learns about a placed order.
type OrderResult struct {
	OrderID     int64              `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "orders.CreateOrder", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int("order.lines", len(req.Items)),
	))
	defer span.End()

	order, err := s.createOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.String("order.number", order.OrderNumber),
	)
	return &OrderResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
	}, nil
}

func (s *Service) createOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	items, err := validateCreateOrder(req, s.cfg.MaxItems, s.cfg.MaxLineQuantity)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	snapshot, err := s.catalog.Snapshot(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("load product snapshot", err)
	}

	var unavailable []int64
	for _, id := range ids {
		if p, ok := snapshot[id]; !ok || !p.IsActive {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		return nil, &apperr.ProductUnavailableError{ProductIDs: unavailable}
	}

	order := priceOrder(req, items, snapshot)

	reservations, err := s.reserveAll(ctx, items, snapshot)
	if err != nil {
		return nil, err
	}
	for i := range order.Items {
		order.Items[i].ReservationID = reservations[i].ID
	}

	if err := s.authorizePayment(ctx, order); err != nil {
		return nil, s.compensate(ctx, order, reservations, err)
	}

	if err := s.persist(ctx, order); err != nil {
		return nil, s.compensate(ctx, order, reservations, &apperr.PersistenceFailure{Err: err})
	}

	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(order.Items)),
	)

	s.afterCommit(ctx, order)
	return order, nil
}

// priceOrder freezes each line at the snapshot's effective price.
func priceOrder(req CreateOrderRequest, items []ItemRequest, snapshot map[int64]catalog.ProductSnapshot) *models.Order {
	order := &models.Order{
		UserID:          req.UserID,
		OrderNumber:     newOrderNumber(),
		Status:          models.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		PaymentMethodID: req.PaymentMethodID,
		Items:           make([]models.OrderItem, 0, len(items)),
	}

	total := decimal.Zero
	for _, item := range items {
		price := snapshot[item.ProductID].EffectivePrice()
		subtotal := price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			PriceAtTime: price,
			Subtotal:    subtotal,
		})
		total = total.Add(subtotal)
	}
	order.TotalAmount = total
	return order
}

func newOrderNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ORD-" + id[:16]
}

// reserveAll takes one reservation per item, in the order given. On the first failure every
// reservation already taken is released before the error is returned.
func (s *Service) reserveAll(ctx context.Context, items []ItemRequest, snapshot map[int64]catalog.ProductSnapshot) ([]models.Reservation, error) {
	reservations := make([]models.Reservation, 0, len(items))

	for i, item := range items {
		attempt := models.Reservation{ID: uuid.NewString(), ProductID: item.ProductID, Quantity: item.Quantity}
		res, err := s.ledger.Reserve(ctx, attempt.ID, item.ProductID, item.Quantity)
		if err == nil {
			reservations = append(reservations, res)
			continue
		}

		var cause error
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			cause = &apperr.InsufficientInventoryError{
				ProductIDs: shortLines(item.ProductID, items[i+1:], snapshot),
			}
		case errors.Is(err, inventory.ErrProductNotFound):
			cause = &apperr.ProductUnavailableError{ProductIDs: []int64{item.ProductID}}
		default:
			// The ledger may have applied the attempt before failing; releasing its id
			// undoes it or keeps it from landing later.
			reservations = append(reservations, attempt)
			cause = apperr.Internal(fmt.Sprintf("reserve product %d", item.ProductID), err)
		}

		s.logger.Warn("reservation failed",
			zap.Int64("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity),
			zap.Int("held", len(reservations)),
			zap.Error(err),
		)
		return nil, s.compensate(ctx, nil, reservations, cause)
	}

	return reservations, nil
}

// shortLines names the failed product plus any later line the snapshot already shows as
// short, so the caller can fix the whole cart in one round trip.
func shortLines(failed int64, rest []ItemRequest, snapshot map[int64]catalog.ProductSnapshot) []int64 {
	ids := []int64{failed}
	for _, item := range rest {
		if snapshot[item.ProductID].AvailableQuantity < item.Quantity {
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

func (s *Service) authorizePayment(ctx context.Context, order *models.Order) error {
	err := s.payments.Authorize(ctx, PaymentRequest{
		UserID:          order.UserID,
		OrderNumber:     order.OrderNumber,
		PaymentMethodID: order.PaymentMethodID,
		Amount:          order.TotalAmount,
	})
	if err == nil {
		return nil
	}

	var declined *apperr.PaymentDeclinedError
	if errors.As(err, &declined) {
		return err
	}
	return apperr.Internal("authorize payment", err)
}

// persist writes the order under its own deadline. When the write reports an error the
// order number is looked up once more, since a commit whose acknowledgement was lost must
// not be compensated.
func (s *Service) persist(ctx context.Context, order *models.Order) error {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	err := s.writer.InsertOrder(pctx, order)
	if err == nil {
		return nil
	}

	lctx, lcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer lcancel()

	stored, lookupErr := s.orders.GetOrderByNumber(lctx, order.OrderNumber)
	if lookupErr == nil {
		s.logger.Warn("order write reported failure but the order is stored",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
		*order = *stored
		return nil
	}
	if !errors.Is(lookupErr, database.ErrOrderNotFound) {
		s.logger.Error("could not confirm order write outcome",
			zap.String("order_number", order.OrderNumber),
			zap.Error(lookupErr),
		)
	}
	return err
}

// compensate releases every reservation and returns cause, joined with any release that
// could not be completed. It runs on a context detached from the caller so a cancelled
// request still returns its stock.
func (s *Service) compensate(ctx context.Context, order *models.Order, reservations []models.Reservation, cause error) error {
	if len(reservations) == 0 {
		return cause
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	fields := []zap.Field{zap.Int("reservations", len(reservations)), zap.NamedError("cause", cause)}
	if order != nil {
		fields = append(fields, zap.String("order_number", order.OrderNumber))
	}

	if err := s.releaseAll(cctx, reservations); err != nil {
		s.logger.Error("compensation incomplete", append(fields, zap.Error(err))...)
		return errors.Join(cause, fmt.Errorf("%w: %w", apperr.ErrCompensationIncomplete, err))
	}

	s.logger.Info("reservations compensated", fields...)
	return cause
}

// releaseAll releases in reverse acquisition order. Each release is retried since Release is
// idempotent.
func (s *Service) releaseAll(ctx context.Context, reservations []models.Reservation) error {
	var errs []error
	for i := len(reservations) - 1; i >= 0; i-- {
		res := reservations[i]
		if res.ID == "" {
			continue
		}
		b := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.cfg.ReleaseAttempts-1)),
			ctx,
		)
		err := backoff.Retry(func() error { return s.ledger.Release(ctx, res) }, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s (product %d): %w", res.ID, res.ProductID, err))
		}
	}
	return errors.Join(errs...)
}

// afterCommit runs the side effects that must never undo a placed order.
func (s *Service) afterCommit(ctx context.Context, order *models.Order) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	if s.carts != nil {
		ids := make([]int64, len(order.Items))
		for i, item := range order.Items {
			ids[i] = item.ProductID
		}
		if err := s.carts.ClearPurchased(bctx, order.UserID, ids); err != nil {
			s.logger.Warn("clear purchased cart items",
				zap.Int64("order_id", order.ID),
				zap.Int64("user_id", order.UserID),
				zap.Error(err),
			)
		}
	}

	if err := s.events.OrderCreated(bctx, order); err != nil {
		s.logger.Warn("publish order created", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}
