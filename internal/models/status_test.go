package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusPaymentConfirmed, true},
		{OrderStatusPaymentConfirmed, OrderStatusProcessing, true},
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusDelivered, OrderStatusRefunded, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPaymentConfirmed, OrderStatusCancelled, true},
		{OrderStatusProcessing, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusRefunded, OrderStatusDelivered, false},
		{OrderStatusShipped, OrderStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.True(t, OrderStatusRefunded.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatusDelivered.Terminal())
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, status)

	_, err = ParseOrderStatus("lost")
	assert.Error(t, err)
}

func TestEffectivePrice(t *testing.T) {
	sale := decimal.NewFromInt(25)
	p := Product{Price: decimal.NewFromInt(30), SalePrice: &sale}

	assert.True(t, p.EffectivePrice().Equal(decimal.NewFromInt(30)), "sale price ignored without flag")

	p.IsSale = true
	assert.True(t, p.EffectivePrice().Equal(sale))

	p.SalePrice = nil
	assert.True(t, p.EffectivePrice().Equal(decimal.NewFromInt(30)), "flag without sale price falls back")
}
