//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/safar/go-order-core/internal/inventory/ledgertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T, stock map[int64]int) ledgertest.Harness {
		db := setupTestDB(t)
		ids := make(map[int64]int64, len(stock))
		for logical, qty := range stock {
			p := mustCreateProduct(t, db, fmt.Sprintf("LEDGER-%d", logical), "10.00", qty)
			ids[logical] = p.ID
		}
		ledger := NewLedger(db, 3)
		return ledgertest.Harness{Ledger: ledger, Quantities: ledger, Products: ids}
	})
}

func TestLedgerRecordsReservationLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := mustCreateProduct(t, db, "LEDGER-ROW", "10.00", 5)
	ledger := NewLedger(db, 3)

	res, err := ledger.Reserve(ctx, uuid.NewString(), p.ID, 2)
	require.NoError(t, err)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM inventory_reservations WHERE id = $1`, res.ID).Scan(&status))
	assert.Equal(t, "reserved", status)

	require.NoError(t, ledger.Release(ctx, res))
	require.NoError(t, ledger.Release(ctx, res))

	var releasedAt *string
	require.NoError(t, db.QueryRow(
		`SELECT status, released_at::text FROM inventory_reservations WHERE id = $1`, res.ID,
	).Scan(&status, &releasedAt))
	assert.Equal(t, "released", status)
	assert.NotNil(t, releasedAt)

	qty, err := ledger.AvailableQuantity(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, qty)
}

func TestDecrementStockNeverGoesNegative(t *testing.T) {
	db := setupTestDB(t)
	p := mustCreateProduct(t, db, "CHECK-001", "1.00", 1)

	_, err := db.Exec(`UPDATE products SET available_quantity = -1 WHERE id = $1`, p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "products_available_quantity_non_negative")
}
