package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-order-core/internal/apperr"
	"github.com/safar/go-order-core/internal/inventory"
	"github.com/safar/go-order-core/internal/memstore"
	"github.com/safar/go-order-core/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingEvents struct {
	mu      sync.Mutex
	created []int64
	changed []models.OrderStatus
}

func (e *recordingEvents) OrderCreated(_ context.Context, order *models.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, order.ID)
	return nil
}

func (e *recordingEvents) OrderStatusChanged(_ context.Context, order *models.Order, _ models.OrderStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changed = append(e.changed, order.Status)
	return nil
}

type fixture struct {
	store  *memstore.Store
	events *recordingEvents
	user   models.User
	deps   Deps
	svc    *Service
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	s := memstore.New()
	f := &fixture{
		store:  s,
		events: &recordingEvents{},
		user:   s.AddUser("buyer@example.com", "Buyer"),
	}
	deps := Deps{
		Catalog: s,
		Ledger:  s,
		Writer:  s,
		Orders:  s,
		Carts:   s,
		Events:  f.events,
		Logger:  zaptest.NewLogger(t),
	}
	for _, m := range mutate {
		m(&deps)
	}
	f.deps = deps
	f.svc = NewService(deps, Config{ReleaseAttempts: 1})
	return f
}

func (f *fixture) product(price string, stock int) models.Product {
	return f.store.AddProduct(models.Product{
		Name:              "item",
		Price:             decimal.RequireFromString(price),
		IsActive:          true,
		AvailableQuantity: stock,
	})
}

func (f *fixture) available(t *testing.T, productID int64) int {
	t.Helper()
	qty, err := f.store.AvailableQuantity(context.Background(), productID)
	require.NoError(t, err)
	return qty
}

func (f *fixture) request(items ...ItemRequest) CreateOrderRequest {
	return CreateOrderRequest{
		UserID: f.user.ID,
		Items:  items,
		ShippingAddress: models.ShippingAddress{
			Line1:      "1 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Country:    "US",
		},
		PaymentMethodID: "pm_test",
	}
}

func TestCreateOrderFreezesPricesAndClearsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shirt := f.product("20.00", 5)
	sale := decimal.RequireFromString("7.50")
	mug := f.store.AddProduct(models.Product{
		Name: "mug", Price: decimal.RequireFromString("10.00"), SalePrice: &sale, IsSale: true,
		IsActive: true, AvailableQuantity: 3,
	})
	other := f.product("1.00", 1)

	for _, id := range []int64{shirt.ID, mug.ID, other.ID} {
		_, err := f.store.UpsertCartItem(ctx, f.user.ID, id, 1)
		require.NoError(t, err)
	}

	result, err := f.svc.CreateOrder(ctx, f.request(
		ItemRequest{ProductID: mug.ID, Quantity: 2},
		ItemRequest{ProductID: shirt.ID, Quantity: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, result.Status)
	assert.True(t, decimal.RequireFromString("35.00").Equal(result.TotalAmount), result.TotalAmount.String())
	assert.Regexp(t, `^ORD-[0-9A-F]{16}$`, result.OrderNumber)

	assert.Equal(t, 4, f.available(t, shirt.ID))
	assert.Equal(t, 1, f.available(t, mug.ID))

	require.NoError(t, f.store.UpdateProduct(mug.ID, func(p *models.Product) {
		p.IsSale = false
	}))

	order, err := f.svc.GetOrder(ctx, f.user.ID, result.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.Equal(t, shirt.ID, order.Items[0].ProductID)
	assert.True(t, decimal.RequireFromString("7.50").Equal(order.Items[1].PriceAtTime))
	assert.True(t, decimal.RequireFromString("15.00").Equal(order.Items[1].Subtotal))
	for _, item := range order.Items {
		assert.NotEmpty(t, item.ReservationID)
	}

	cart, err := f.store.ListCart(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, other.ID, cart[0].ProductID)

	assert.Equal(t, []int64{result.OrderID}, f.events.created)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	p := f.product("5.00", 100)

	tooMany := make([]ItemRequest, DefaultMaxItems+1)
	for i := range tooMany {
		tooMany[i] = ItemRequest{ProductID: int64(i + 1), Quantity: 1}
	}

	noCity := f.request(ItemRequest{ProductID: p.ID, Quantity: 1})
	noCity.ShippingAddress.City = "  "

	tests := []struct {
		name  string
		req   CreateOrderRequest
		field string
	}{
		{"empty", f.request(), "items"},
		{"too many lines", f.request(tooMany...), "items"},
		{"zero quantity", f.request(ItemRequest{ProductID: p.ID, Quantity: 0}), "items"},
		{"negative quantity", f.request(ItemRequest{ProductID: p.ID, Quantity: -3}), "items"},
		{"bad product id", f.request(ItemRequest{ProductID: 0, Quantity: 1}), "items"},
		{"duplicate product", f.request(
			ItemRequest{ProductID: p.ID, Quantity: 1},
			ItemRequest{ProductID: p.ID, Quantity: 2},
		), "items"},
		{"missing city", noCity, "shippingAddress.city"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), tt.req)
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.Equal(t, 100, f.available(t, p.ID))
	assert.Zero(t, f.store.OrderCount())
}

func TestCreateOrderAllowsLargeLineQuantities(t *testing.T) {
	f := newFixture(t)
	p := f.product("2.00", 100)

	result, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 11}))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(22).Equal(result.TotalAmount))
	assert.Equal(t, 89, f.available(t, p.ID))
}

func TestCreateOrderLineQuantityCap(t *testing.T) {
	f := newFixture(t)
	p := f.product("2.00", 100)
	svc := NewService(f.deps, Config{MaxLineQuantity: 5, ReleaseAttempts: 1})

	_, err := svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 6}))
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "items", verr.Field)
	assert.Equal(t, 100, f.available(t, p.ID))
}

func TestCreateOrderRejectsUnavailableProducts(t *testing.T) {
	f := newFixture(t)
	ok := f.product("5.00", 10)
	inactive := f.store.AddProduct(models.Product{Name: "gone", Price: decimal.NewFromInt(1), AvailableQuantity: 10})

	_, err := f.svc.CreateOrder(context.Background(), f.request(
		ItemRequest{ProductID: ok.ID, Quantity: 1},
		ItemRequest{ProductID: inactive.ID, Quantity: 1},
		ItemRequest{ProductID: 9999, Quantity: 1},
	))
	require.Error(t, err)
	assert.Equal(t, apperr.KindProductUnavailable, apperr.KindOf(err))
	assert.Equal(t, []int64{inactive.ID, 9999}, apperr.ProductIDs(err))
	assert.Equal(t, 10, f.available(t, ok.ID))
	assert.Equal(t, 10, f.available(t, inactive.ID))
}

func TestCreateOrderInsufficientStockReleasesEarlierLines(t *testing.T) {
	f := newFixture(t)
	first := f.product("1.00", 5)
	short := f.product("1.00", 1)
	alsoShort := f.product("1.00", 0)

	_, err := f.svc.CreateOrder(context.Background(), f.request(
		ItemRequest{ProductID: alsoShort.ID, Quantity: 1},
		ItemRequest{ProductID: first.ID, Quantity: 3},
		ItemRequest{ProductID: short.ID, Quantity: 2},
	))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.Equal(t, []int64{short.ID, alsoShort.ID}, apperr.ProductIDs(err))

	assert.Equal(t, 5, f.available(t, first.ID))
	assert.Equal(t, 1, f.available(t, short.ID))
	assert.Zero(t, f.store.OutstandingReservations(first.ID))
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.events.created)
}

type failingWriter struct {
	err error
}

func (w failingWriter) InsertOrder(context.Context, *models.Order) error { return w.err }

func TestCreateOrderPersistFailureCompensates(t *testing.T) {
	dbErr := errors.New("connection reset")
	f := newFixture(t, func(d *Deps) { d.Writer = failingWriter{err: dbErr} })
	a := f.product("3.00", 4)
	b := f.product("4.00", 4)
	_, err := f.store.UpsertCartItem(context.Background(), f.user.ID, a.ID, 2)
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), f.request(
		ItemRequest{ProductID: a.ID, Quantity: 2},
		ItemRequest{ProductID: b.ID, Quantity: 4},
	))
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	assert.ErrorIs(t, err, dbErr)

	assert.Equal(t, 4, f.available(t, a.ID))
	assert.Equal(t, 4, f.available(t, b.ID))
	assert.Zero(t, f.store.OutstandingReservations(a.ID))
	assert.Zero(t, f.store.OutstandingReservations(b.ID))

	cart, err := f.store.ListCart(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, cart, 1)
	assert.Empty(t, f.events.created)
}

// lostAckWriter stores the order and then reports a failure, as a commit whose reply never
// arrived would.
type lostAckWriter struct {
	store *memstore.Store
}

func (w lostAckWriter) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := w.store.InsertOrder(ctx, order); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

func TestCreateOrderKeepsOrderWhoseCommitWasNotAcknowledged(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Writer = lostAckWriter{store: d.Orders.(*memstore.Store)} })
	p := f.product("2.00", 3)

	result, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 2}))
	require.NoError(t, err)
	assert.NotZero(t, result.OrderID)
	assert.Equal(t, 1, f.available(t, p.ID))
	assert.Equal(t, 1, f.store.OrderCount())
}

type cancellingWriter struct {
	cancel context.CancelFunc
}

func (w cancellingWriter) InsertOrder(ctx context.Context, _ *models.Order) error {
	w.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestCreateOrderCompensatesWhenCallerGoesAway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, func(d *Deps) { d.Writer = cancellingWriter{cancel: cancel} })
	p := f.product("2.00", 3)

	_, err := f.svc.CreateOrder(ctx, f.request(ItemRequest{ProductID: p.ID, Quantity: 3}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, f.available(t, p.ID))
}

type decliningGateway struct{}

func (decliningGateway) Authorize(context.Context, PaymentRequest) error {
	return &apperr.PaymentDeclinedError{Reason: "card expired"}
}

func TestCreateOrderPaymentDeclinedCompensates(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Payments = decliningGateway{} })
	p := f.product("9.99", 2)

	_, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 2}))
	require.Error(t, err)
	assert.Equal(t, apperr.KindPaymentDeclined, apperr.KindOf(err))
	assert.Equal(t, 2, f.available(t, p.ID))
	assert.Zero(t, f.store.OrderCount())
}

type stuckReleaseLedger struct {
	*memstore.Store
}

func (stuckReleaseLedger) Release(context.Context, models.Reservation) error {
	return errors.New("ledger unreachable")
}

func TestCreateOrderReportsIncompleteCompensation(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Ledger = stuckReleaseLedger{Store: d.Orders.(*memstore.Store)} })
	a := f.product("1.00", 5)
	b := f.product("1.00", 0)

	_, err := f.svc.CreateOrder(context.Background(), f.request(
		ItemRequest{ProductID: a.ID, Quantity: 1},
		ItemRequest{ProductID: b.ID, Quantity: 1},
	))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.ErrorContains(t, err, "compensation incomplete")
	assert.ErrorIs(t, err, apperr.ErrCompensationIncomplete)
}

// lostReplyLedger applies every reserve and then reports a transport failure, as a
// reservation whose reply was lost would.
type lostReplyLedger struct {
	*memstore.Store
}

func (l lostReplyLedger) Reserve(ctx context.Context, id string, productID int64, quantity int) (models.Reservation, error) {
	if _, err := l.Store.Reserve(ctx, id, productID, quantity); err != nil {
		return models.Reservation{}, err
	}
	return models.Reservation{}, errors.New("read: connection reset by peer")
}

func TestCreateOrderReleasesReserveWhoseReplyWasLost(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Ledger = lostReplyLedger{Store: d.Orders.(*memstore.Store)} })
	p := f.product("1.00", 5)

	_, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 3}))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, 5, f.available(t, p.ID))
	assert.Zero(t, f.store.OutstandingReservations(p.ID))
}

// lateReserveLedger fails every reserve without applying it and remembers the ids it saw,
// so the test can replay one after compensation has run.
type lateReserveLedger struct {
	*memstore.Store
	mu  sync.Mutex
	ids []string
}

func (l *lateReserveLedger) Reserve(_ context.Context, id string, _ int64, _ int) (models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
	return models.Reservation{}, context.DeadlineExceeded
}

func TestCreateOrderBlocksReserveThatLandsAfterCompensation(t *testing.T) {
	var ledger *lateReserveLedger
	f := newFixture(t, func(d *Deps) {
		ledger = &lateReserveLedger{Store: d.Orders.(*memstore.Store)}
		d.Ledger = ledger
	})
	p := f.product("1.00", 5)

	_, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 2}))
	require.Error(t, err)
	require.Len(t, ledger.ids, 1)

	_, err = f.store.Reserve(context.Background(), ledger.ids[0], p.ID, 2)
	assert.ErrorIs(t, err, inventory.ErrReservationClosed)
	assert.Equal(t, 5, f.available(t, p.ID))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	p := f.product("1.00", 10)

	const callers = 25
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		placed       int
		insufficient int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case apperr.KindOf(err) == apperr.KindInsufficientStock:
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, placed)
	assert.Equal(t, callers-10, insufficient)
	assert.Zero(t, f.available(t, p.ID))
	assert.Equal(t, 10, f.store.OrderCount())
}

func TestConcurrentOrdersOnOverlappingProductsDoNotDeadlock(t *testing.T) {
	f := newFixture(t)
	a := f.product("1.00", 50)
	b := f.product("1.00", 50)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				items := []ItemRequest{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}}
				if i%2 == 1 {
					items[0], items[1] = items[1], items[0]
				}
				_, err := f.svc.CreateOrder(context.Background(), f.request(items...))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("orders did not complete")
	}
	assert.Equal(t, 30, f.available(t, a.ID))
	assert.Equal(t, 30, f.available(t, b.ID))
}
