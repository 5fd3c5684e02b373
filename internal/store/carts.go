package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
)

// UpsertCartItem sets the quantity of a product in the user's cart, creating the line if needed.
func UpsertCartItem(ctx context.Context, db *sql.DB, userID, productID int64, quantity int) (*models.CartItem, error) {
	var active bool
	err := db.QueryRowContext(ctx, `SELECT is_active FROM products WHERE id = $1`, productID).Scan(&active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("check product: %w", err)
	}
	if !active {
		return nil, database.ErrProductInactive
	}

	item := &models.CartItem{}
	err = db.QueryRowContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (user_id, product_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
		 RETURNING user_id, product_id, quantity, created_at, updated_at`,
		userID, productID, quantity,
	).Scan(&item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert cart item: %w", err)
	}

	return item, nil
}

func ListCart(ctx context.Context, db *sql.DB, userID int64) ([]models.CartItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id, product_id, quantity, created_at, updated_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY product_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func RemoveCartItem(ctx context.Context, db *sql.DB, userID, productID int64) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`, userID, productID); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

// ClearPurchased deletes the user's cart lines for the given products. Repeating it is harmless.
func ClearPurchased(ctx context.Context, db *sql.DB, userID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)`,
		userID, pq.Array(productIDs)); err != nil {
		return fmt.Errorf("clear purchased cart items: %w", err)
	}
	return nil
}
