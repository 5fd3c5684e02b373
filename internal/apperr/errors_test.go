package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("items", "must not be empty"), KindValidation},
		{"wrapped validation", fmt.Errorf("parse: %w", Validation("page", "bad")), KindValidation},
		{"unauthenticated", ErrUnauthenticated, KindUnauthenticated},
		{"unavailable", &ProductUnavailableError{ProductIDs: []int64{4}}, KindProductUnavailable},
		{"insufficient", &InsufficientInventoryError{ProductIDs: []int64{1, 2}}, KindInsufficientStock},
		{"declined", &PaymentDeclinedError{}, KindPaymentDeclined},
		{"transition", &InvalidTransitionError{From: "delivered", To: "pending"}, KindConflict},
		{"persistence", &PersistenceFailure{Err: errors.New("disk full")}, KindPersistence},
		{"not found", fmt.Errorf("order 7: %w", ErrNotFound), KindNotFound},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestProductIDs(t *testing.T) {
	err := fmt.Errorf("create order: %w", &InsufficientInventoryError{ProductIDs: []int64{3, 9}})
	assert.Equal(t, []int64{3, 9}, ProductIDs(err))
	assert.Equal(t, "insufficient inventory: 3, 9", errors.Unwrap(err).Error())
	assert.Nil(t, ProductIDs(errors.New("other")))
}
