package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ID: 42}

	decoded, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(c.CreatedAt))
	assert.Equal(t, int64(42), decoded.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeCursor("bm90IGpzb24=")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestEmptyCursorStartsAfterEverything(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, c.Before(time.Now(), 1<<62))
}

func TestCursorBefore(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Cursor{CreatedAt: at, ID: 10}

	assert.True(t, c.Before(at, 9))
	assert.False(t, c.Before(at, 10))
	assert.True(t, c.Before(at.Add(-time.Second), 99))
	assert.False(t, c.Before(at.Add(time.Second), 1))
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 3, TotalPages(47, 20))
	assert.Equal(t, 2, TotalPages(40, 20))
	assert.Equal(t, 0, TotalPages(0, 20))
	assert.Equal(t, 0, TotalPages(5, 0))
}
