// Package ledgertest is a behavioural suite every inventory.Ledger implementation runs.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/safar/go-order-core/internal/inventory"
	"github.com/safar/go-order-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Harness struct {
	Ledger     inventory.Ledger
	Quantities inventory.QuantityReader
	// Products maps the logical ids used by the suite to the ids the backend assigned.
	Products map[int64]int64
}

// Factory builds a fresh ledger seeded with the given stock per logical product id.
type Factory func(t *testing.T, stock map[int64]int) Harness

func Run(t *testing.T, newHarness Factory) {
	t.Run("ReserveDecrements", func(t *testing.T) { testReserveDecrements(t, newHarness) })
	t.Run("InsufficientStock", func(t *testing.T) { testInsufficientStock(t, newHarness) })
	t.Run("UnknownProduct", func(t *testing.T) { testUnknownProduct(t, newHarness) })
	t.Run("InvalidQuantity", func(t *testing.T) { testInvalidQuantity(t, newHarness) })
	t.Run("ReleaseIsIdempotent", func(t *testing.T) { testReleaseIdempotent(t, newHarness) })
	t.Run("ReserveIsIdempotentPerID", func(t *testing.T) { testReserveIdempotent(t, newHarness) })
	t.Run("ReleaseBeforeReserveClosesID", func(t *testing.T) { testReleaseBeforeReserve(t, newHarness) })
	t.Run("NoOversellUnderContention", func(t *testing.T) { testNoOversell(t, newHarness) })
	t.Run("ConcurrentReleaseRestoresOnce", func(t *testing.T) { testConcurrentRelease(t, newHarness) })
	t.Run("ProductsAreIndependent", func(t *testing.T) { testIndependentProducts(t, newHarness) })
}

func quantity(t *testing.T, h Harness, logicalID int64) int {
	t.Helper()
	q, err := h.Quantities.AvailableQuantity(context.Background(), h.Products[logicalID])
	require.NoError(t, err)
	return q
}

func testReserveDecrements(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 10})
	ctx := context.Background()

	res, err := h.Ledger.Reserve(ctx, uuid.NewString(), h.Products[1], 3)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, h.Products[1], res.ProductID)
	assert.Equal(t, 3, res.Quantity)
	assert.Equal(t, 7, quantity(t, h, 1))

	_, err = h.Ledger.Reserve(ctx, uuid.NewString(), h.Products[1], 7)
	require.NoError(t, err)
	assert.Equal(t, 0, quantity(t, h, 1))
}

func testInsufficientStock(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 5})

	_, err := h.Ledger.Reserve(context.Background(), uuid.NewString(), h.Products[1], 6)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 5, quantity(t, h, 1))
}

func testUnknownProduct(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 5})

	_, err := h.Ledger.Reserve(context.Background(), uuid.NewString(), 987654, 1)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func testInvalidQuantity(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 5})

	_, err := h.Ledger.Reserve(context.Background(), uuid.NewString(), h.Products[1], 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	assert.Equal(t, 5, quantity(t, h, 1))
}

func testReleaseIdempotent(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 10})
	ctx := context.Background()

	res, err := h.Ledger.Reserve(ctx, uuid.NewString(), h.Products[1], 4)
	require.NoError(t, err)
	require.Equal(t, 6, quantity(t, h, 1))

	require.NoError(t, h.Ledger.Release(ctx, res))
	assert.Equal(t, 10, quantity(t, h, 1))

	require.NoError(t, h.Ledger.Release(ctx, res))
	assert.Equal(t, 10, quantity(t, h, 1), "second release must be a no-op")

	unknown := models.Reservation{ID: "00000000-0000-0000-0000-000000000000", ProductID: h.Products[1], Quantity: 3}
	require.NoError(t, h.Ledger.Release(ctx, unknown))
	assert.Equal(t, 10, quantity(t, h, 1), "unknown reservations are ignored")
}

func testReserveIdempotent(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 10})
	ctx := context.Background()
	id := uuid.NewString()

	first, err := h.Ledger.Reserve(ctx, id, h.Products[1], 4)
	require.NoError(t, err)
	again, err := h.Ledger.Reserve(ctx, id, h.Products[1], 4)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 4, again.Quantity)
	assert.Equal(t, 6, quantity(t, h, 1), "a replayed reserve must not claim twice")

	require.NoError(t, h.Ledger.Release(ctx, again))
	assert.Equal(t, 10, quantity(t, h, 1))

	_, err = h.Ledger.Reserve(ctx, id, h.Products[1], 4)
	assert.ErrorIs(t, err, inventory.ErrReservationClosed)
	assert.Equal(t, 10, quantity(t, h, 1))
}

func testReleaseBeforeReserve(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 10})
	ctx := context.Background()
	attempt := models.Reservation{ID: uuid.NewString(), ProductID: h.Products[1], Quantity: 3}

	require.NoError(t, h.Ledger.Release(ctx, attempt))
	assert.Equal(t, 10, quantity(t, h, 1))

	_, err := h.Ledger.Reserve(ctx, attempt.ID, attempt.ProductID, attempt.Quantity)
	assert.ErrorIs(t, err, inventory.ErrReservationClosed)
	assert.Equal(t, 10, quantity(t, h, 1), "a reserve arriving after its release must not land")
}

func testNoOversell(t *testing.T, newHarness Factory) {
	const (
		stock   = 10
		callers = 25
	)
	h := newHarness(t, map[int64]int{1: stock})
	ctx := context.Background()

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		reservations []models.Reservation
		rejected     int
		unexpected   []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.Ledger.Reserve(ctx, uuid.NewString(), h.Products[1], 1)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				reservations = append(reservations, res)
			case errors.Is(err, inventory.ErrInsufficientStock):
				rejected++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Len(t, reservations, stock)
	assert.Equal(t, callers-stock, rejected)
	assert.Equal(t, 0, quantity(t, h, 1))
}

func testConcurrentRelease(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 8})
	ctx := context.Background()

	var reservations []models.Reservation
	for i := 0; i < 4; i++ {
		res, err := h.Ledger.Reserve(ctx, uuid.NewString(), h.Products[1], 2)
		require.NoError(t, err)
		reservations = append(reservations, res)
	}
	require.Equal(t, 0, quantity(t, h, 1))

	var wg sync.WaitGroup
	errs := make(chan error, len(reservations)*3)
	for _, res := range reservations {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(res models.Reservation) {
				defer wg.Done()
				errs <- h.Ledger.Release(ctx, res)
			}(res)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 8, quantity(t, h, 1))
}

func testIndependentProducts(t *testing.T, newHarness Factory) {
	h := newHarness(t, map[int64]int{1: 6, 2: 6})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 6; i++ {
		for _, id := range []int64{1, 2} {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := h.Ledger.Reserve(ctx, uuid.NewString(), h.Products[id], 1)
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 0, quantity(t, h, 1))
	assert.Equal(t, 0, quantity(t, h, 2))
}
