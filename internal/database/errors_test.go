package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"serialization", &pq.Error{Code: "40001"}, ErrorClassSerialization},
		{"deadlock", fmt.Errorf("reserve: %w", &pq.Error{Code: "40P01"}), ErrorClassDeadlock},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrorClassTransient},
		{"lock timeout sentinel", ErrLockTimeout, ErrorClassTransient},
		{"unique violation", &pq.Error{Code: "23505"}, ErrorClassPermanent},
		{"no rows", sql.ErrNoRows, ErrorClassPermanent},
		{"insufficient stock", ErrInsufficientStock, ErrorClassPermanent},
		{"deadline", context.DeadlineExceeded, ErrorClassPermanent},
		{"nil", nil, ErrorClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.False(t, IsRetryable(ErrInsufficientStock))
}

func TestIsCheckViolation(t *testing.T) {
	err := fmt.Errorf("decrement: %w", &pq.Error{Code: "23514", Constraint: "products_available_quantity_non_negative"})

	assert.True(t, IsCheckViolation(err, "products_available_quantity_non_negative"))
	assert.True(t, IsCheckViolation(err, ""))
	assert.False(t, IsCheckViolation(err, "other"))
	assert.False(t, IsCheckViolation(ErrInsufficientStock, ""))
}
