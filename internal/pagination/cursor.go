// Package pagination holds the keyset cursor used for order history and the offset page math
// used by the catalog.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

// Start is the cursor used when the caller did not send one: it sorts after every row.
func Start() Cursor {
	return Cursor{
		CreatedAt: time.Now().Add(time.Hour),
		ID:        int64(1<<63 - 1),
	}
}

// Before reports whether (createdAt, id) sorts strictly before c in descending order.
func (c Cursor) Before(createdAt time.Time, id int64) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

func EncodeCursor(cursor Cursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

func DecodeCursor(encoded string) (Cursor, error) {
	var cursor Cursor
	if encoded == "" {
		return Start(), nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return cursor, ErrInvalidCursor
	}

	if err := json.Unmarshal(data, &cursor); err != nil {
		return cursor, ErrInvalidCursor
	}
	return cursor, nil
}

func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return totalPages
}
