package orders

import (
	"context"
	"testing"
	"time"

	"github.com/safar/go-order-core/internal/apperr"
	"github.com/safar/go-order-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrderHidesOtherUsersOrders(t *testing.T) {
	f := newFixture(t)
	p := f.product("1.00", 5)
	stranger := f.store.AddUser("other@example.com", "Other")

	result, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	_, err = f.svc.GetOrder(context.Background(), stranger.ID, result.OrderID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.GetOrder(context.Background(), f.user.ID, result.OrderID+100)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListOrdersPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	p := f.product("1.00", 50)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.store.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	var placed []int64
	for i := 0; i < 5; i++ {
		result, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 1}))
		require.NoError(t, err)
		placed = append(placed, result.OrderID)
	}

	page, err := f.svc.ListOrders(context.Background(), f.user.ID, "", 3)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, placed[4], page.Items[0].ID)

	next, err := f.svc.ListOrders(context.Background(), f.user.ID, page.NextCursor, 3)
	require.NoError(t, err)
	require.Len(t, next.Items, 2)
	assert.False(t, next.HasMore)
	assert.Equal(t, placed[0], next.Items[1].ID)
}

func TestListOrdersRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListOrders(context.Background(), f.user.ID, "", MaxPageSize+1)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.ListOrders(context.Background(), f.user.ID, "not-a-cursor!", 10)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCancelOrderReleasesStockOnce(t *testing.T) {
	f := newFixture(t)
	p := f.product("1.00", 4)

	result, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 3}))
	require.NoError(t, err)
	require.Equal(t, 1, f.available(t, p.ID))

	order, err := f.svc.CancelOrder(context.Background(), f.user.ID, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 4, f.available(t, p.ID))

	_, err = f.svc.CancelOrder(context.Background(), f.user.ID, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 4, f.available(t, p.ID))

	assert.Equal(t, []models.OrderStatus{models.OrderStatusCancelled}, f.events.changed)
}

func TestCancelOrderOnlyFromPending(t *testing.T) {
	f := newFixture(t)
	p := f.product("1.00", 4)

	result, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = f.svc.TransitionStatus(context.Background(), result.OrderID, models.OrderStatusPaymentConfirmed)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), f.user.ID, result.OrderID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 3, f.available(t, p.ID))
}

func TestTransitionStatusFollowsGraph(t *testing.T) {
	f := newFixture(t)
	p := f.product("1.00", 4)

	result, err := f.svc.CreateOrder(context.Background(), f.request(ItemRequest{ProductID: p.ID, Quantity: 2}))
	require.NoError(t, err)

	_, err = f.svc.TransitionStatus(context.Background(), result.OrderID, models.OrderStatusShipped)
	var terr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "pending", terr.From)

	for _, next := range []models.OrderStatus{
		models.OrderStatusPaymentConfirmed,
		models.OrderStatusProcessing,
	} {
		order, err := f.svc.TransitionStatus(context.Background(), result.OrderID, next)
		require.NoError(t, err)
		assert.Equal(t, next, order.Status)
	}

	order, err := f.svc.TransitionStatus(context.Background(), result.OrderID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 4, f.available(t, p.ID))

	_, err = f.svc.TransitionStatus(context.Background(), 424242, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
