package redisx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysShareHashSlot(t *testing.T) {
	assert.Equal(t, "inventory:{42}:available", availableKey(42))
	assert.Equal(t, "inventory:{42}:reservation:abc", reservationKey(42, "abc"))
}
