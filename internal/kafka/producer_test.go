package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/safar/go-order-core/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, 16, zap.NewNop())
	p.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish([]byte("k"), []byte("v")))
	}
	p.Close()
	p.Close()

	assert.Len(t, w.messages, 5)
	assert.True(t, w.closed)
}

func TestProducerReportsFullBuffer(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, 1, zap.NewNop())

	require.NoError(t, p.Publish([]byte("a"), []byte("1")))
	assert.ErrorIs(t, p.Publish([]byte("b"), []byte("2")), ErrProducerFull)

	p.Start()
	p.Close()
	assert.Len(t, w.messages, 1)
}

func TestProducerRejectsPublishAfterClose(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, 4, zap.NewNop())
	p.Start()
	p.Close()

	assert.ErrorIs(t, p.Publish([]byte("late"), []byte("1")), ErrProducerClosed)
	assert.Empty(t, w.messages)
}

func TestProducerPublishRacingClose(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, 256, zap.NewNop())
	p.Start()

	var wg sync.WaitGroup
	var accepted sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				err := p.Publish([]byte("k"), []byte("v"))
				if err == nil {
					accepted.Store([2]int{i, j}, true)
					continue
				}
				assert.ErrorIs(t, err, ErrProducerClosed)
				return
			}
		}(i)
	}
	p.Close()
	wg.Wait()

	n := 0
	accepted.Range(func(any, any) bool { n++; return true })
	assert.Len(t, w.messages, n)
}

type capturePublisher struct {
	key     []byte
	value   []byte
	headers []kafka.Header
}

func (c *capturePublisher) Publish(key, value []byte, headers ...kafka.Header) error {
	c.key, c.value, c.headers = key, value, headers
	return nil
}

func TestOrderCreatedEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	events := NewOrderEvents(pub, "order-core")

	order := &models.Order{
		ID:          12,
		OrderNumber: "ORD-1",
		UserID:      3,
		Status:      models.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(60),
		Items:       []models.OrderItem{{ProductID: 5, Quantity: 2, PriceAtTime: decimal.NewFromInt(30)}},
	}
	require.NoError(t, events.OrderCreated(context.Background(), order))

	assert.Equal(t, "12", string(pub.key))
	assert.Contains(t, pub.headers, kafka.Header{Key: "x-event-type", Value: []byte(EventOrderCreated)})

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.value, &env))
	assert.Equal(t, EventOrderCreated, env.EventType)
	assert.Equal(t, "order-core", env.Producer)
	assert.NotEmpty(t, env.EventID)

	var payload OrderCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "ORD-1", payload.OrderNumber)
	assert.True(t, payload.TotalAmount.Equal(decimal.NewFromInt(60)))
	require.Len(t, payload.Items, 1)
	assert.Equal(t, int64(5), payload.Items[0].ProductID)
}

func TestOrderStatusChangedEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	events := NewOrderEvents(pub, "order-core")

	order := &models.Order{ID: 4, UserID: 9, Status: models.OrderStatusCancelled}
	require.NoError(t, events.OrderStatusChanged(context.Background(), order, models.OrderStatusPending))

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.value, &env))
	var payload OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, models.OrderStatusPending, payload.From)
	assert.Equal(t, models.OrderStatusCancelled, payload.To)
}
