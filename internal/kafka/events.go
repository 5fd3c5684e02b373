package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-core/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	OrderID      int64           `json:"order_id"`
	Payload      json.RawMessage `json:"payload"`
}

type OrderItemPayload struct {
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	PriceAtTime decimal.Decimal `json:"price_at_time"`
}

type OrderCreatedPayload struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	UserID      int64              `json:"user_id"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Items       []OrderItemPayload `json:"items"`
}

type OrderStatusChangedPayload struct {
	OrderID int64              `json:"order_id"`
	UserID  int64              `json:"user_id"`
	From    models.OrderStatus `json:"from"`
	To      models.OrderStatus `json:"to"`
}

type publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) error
}

// OrderEvents turns order changes into envelopes keyed by order id, so all events of one
// order land on the same partition.
type OrderEvents struct {
	producer publisher
	service  string
}

func NewOrderEvents(p publisher, service string) *OrderEvents {
	return &OrderEvents{producer: p, service: service}
}

func (e *OrderEvents) OrderCreated(ctx context.Context, order *models.Order) error {
	items := make([]OrderItemPayload, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItemPayload{ProductID: it.ProductID, Quantity: it.Quantity, PriceAtTime: it.PriceAtTime})
	}
	return e.publish(ctx, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Items:       items,
	})
}

func (e *OrderEvents) OrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	return e.publish(ctx, EventOrderStatusChanged, order.ID, OrderStatusChangedPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
		From:    from,
		To:      order.Status,
	})
}

func (e *OrderEvents) publish(ctx context.Context, eventType string, orderID int64, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     e.service,
		OrderID:      orderID,
		Payload:      body,
	})
	if err != nil {
		return err
	}

	headers := []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte("1")},
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return e.producer.Publish([]byte(strconv.FormatInt(orderID, 10)), value, headers...)
}
