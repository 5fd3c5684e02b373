package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/inventory"
	"github.com/safar/go-order-core/internal/models"
)

// Ledger keeps available quantity in products.available_quantity and records every claim in
// inventory_reservations. The conditional UPDATE takes the product's row lock, so reserves on
// one product serialize while other products proceed in parallel.
type Ledger struct {
	DB   *sql.DB
	Opts database.TxOptions
}

func NewLedger(db *sql.DB, maxRetries int) *Ledger {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = maxRetries
	return &Ledger{DB: db, Opts: opts}
}

// Reserve inserts the reservation row before decrementing, so a replayed id finds its row
// and claims nothing. Rolling back the decrement also removes the row.
func (l *Ledger) Reserve(ctx context.Context, reservationID string, productID int64, quantity int) (models.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return models.Reservation{}, inventory.ErrMissingID
	}
	if quantity <= 0 {
		return models.Reservation{}, inventory.ErrInvalidQuantity
	}

	res := models.Reservation{
		ID:        reservationID,
		ProductID: productID,
		Quantity:  quantity,
	}

	err := database.WithRetry(ctx, l.DB, l.Opts, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO inventory_reservations (id, product_id, quantity, status, created_at)
			 SELECT $1, $2, $3, 'reserved', NOW()
			 WHERE EXISTS (SELECT 1 FROM products WHERE id = $2)
			 ON CONFLICT (id) DO NOTHING
			 RETURNING created_at`,
			res.ID, productID, quantity).Scan(&res.CreatedAt)
		if err == sql.ErrNoRows {
			return existingReservation(ctx, tx, &res)
		}
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		return DecrementStock(ctx, tx, productID, quantity)
	})
	if err != nil {
		return models.Reservation{}, err
	}

	return res, nil
}

// existingReservation resolves an insert that did not happen: either the id is already
// known or the product does not exist.
func existingReservation(ctx context.Context, tx *sql.Tx, res *models.Reservation) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT product_id, quantity, status, created_at FROM inventory_reservations WHERE id = $1`,
		res.ID).Scan(&res.ProductID, &res.Quantity, &status, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return database.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("get reservation: %w", err)
	}
	if status != "reserved" {
		return inventory.ErrReservationClosed
	}
	return nil
}

// Release marks the reservation released and restores its stock. An id with no row gets a
// released row, so a reserve still in flight for it cannot land afterwards.
func (l *Ledger) Release(ctx context.Context, reservation models.Reservation) error {
	if _, err := uuid.Parse(reservation.ID); err != nil {
		return nil
	}

	return database.WithRetry(ctx, l.DB, l.Opts, func(tx *sql.Tx) error {
		productID, quantity, err := markReleased(ctx, tx, reservation.ID)
		if err == sql.ErrNoRows {
			var closed bool
			if closed, err = closeReservation(ctx, tx, reservation); err != nil || closed {
				return err
			}
			// A reserve for this id committed while the tombstone insert waited on it.
			productID, quantity, err = markReleased(ctx, tx, reservation.ID)
			if err == sql.ErrNoRows {
				return nil
			}
		}
		if err != nil {
			return err
		}

		return IncrementStock(ctx, tx, productID, quantity)
	})
}

func markReleased(ctx context.Context, tx *sql.Tx, id string) (int64, int, error) {
	var productID int64
	var quantity int
	err := tx.QueryRowContext(ctx,
		`UPDATE inventory_reservations
		 SET status = 'released', released_at = $2
		 WHERE id = $1 AND status = 'reserved'
		 RETURNING product_id, quantity`,
		id, time.Now()).Scan(&productID, &quantity)
	if err != nil && err != sql.ErrNoRows {
		return 0, 0, fmt.Errorf("mark reservation released: %w", err)
	}
	return productID, quantity, err
}

// closeReservation records a released row for an id that has none. It reports false when
// another row for the id exists or the row could not be recorded.
func closeReservation(ctx context.Context, tx *sql.Tx, reservation models.Reservation) (bool, error) {
	if reservation.Quantity <= 0 {
		return false, nil
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO inventory_reservations (id, product_id, quantity, status, created_at, released_at)
		 SELECT $1, $2, $3, 'released', NOW(), NOW()
		 WHERE EXISTS (SELECT 1 FROM products WHERE id = $2)
		 ON CONFLICT (id) DO NOTHING`,
		reservation.ID, reservation.ProductID, reservation.Quantity)
	if err != nil {
		return false, fmt.Errorf("close reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

func (l *Ledger) AvailableQuantity(ctx context.Context, productID int64) (int, error) {
	var quantity int
	err := l.DB.QueryRowContext(ctx,
		`SELECT available_quantity FROM products WHERE id = $1`, productID).Scan(&quantity)
	if err == sql.ErrNoRows {
		return 0, database.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get available quantity: %w", err)
	}
	return quantity, nil
}

// DecrementStock is the single atomic check-and-decrement: the WHERE clause re-evaluates
// available_quantity after acquiring the row lock.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET available_quantity = available_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND available_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}
		return database.ErrInsufficientStock
	}

	return nil
}

func IncrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET available_quantity = available_quantity + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}
