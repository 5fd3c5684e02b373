package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
	"github.com/safar/go-order-core/internal/pagination"
)

const orderColumns = `id, user_id, order_number, status, total_amount, ship_line1, ship_line2,
	ship_city, ship_state, ship_postal_code, ship_country, payment_method_id,
	created_at, updated_at, version`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	addr := &order.ShippingAddress
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&addr.Line1,
		&addr.Line2,
		&addr.City,
		&addr.State,
		&addr.PostalCode,
		&addr.Country,
		&order.PaymentMethodID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// InsertOrder writes the order and all of its items in one transaction and fills in the
// generated ids and timestamps.
func InsertOrder(ctx context.Context, db *sql.DB, order *models.Order) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		addr := order.ShippingAddress
		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, total_amount, ship_line1, ship_line2,
			                     ship_city, ship_state, ship_postal_code, ship_country, payment_method_id,
			                     created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW(), 1)
			 RETURNING id, created_at, updated_at, version`,
			order.UserID, order.OrderNumber, order.Status, order.TotalAmount,
			addr.Line1, addr.Line2, addr.City, addr.State, addr.PostalCode, addr.Country,
			order.PaymentMethodID,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err := tx.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, price_at_time, subtotal, reservation_id, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW())
				 RETURNING id, created_at`,
				order.ID, item.ProductID, item.Quantity, item.PriceAtTime, item.Subtotal, item.ReservationID,
			).Scan(&item.ID, &item.CreatedAt)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		return nil
	})
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	return getOrderWhere(ctx, db, "id = $1", id)
}

// GetOrderByNumber is used to settle an ambiguous commit: the order number is generated
// before the insert, so it identifies the row even when the insert's reply was lost.
func GetOrderByNumber(ctx context.Context, db *sql.DB, orderNumber string) (*models.Order, error) {
	return getOrderWhere(ctx, db, "order_number = $1", orderNumber)
}

func getOrderWhere(ctx context.Context, db *sql.DB, where string, arg any) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.Items, err = getOrderItems(ctx, db, order.ID); err != nil {
		return nil, err
	}

	return order, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getOrderItems(ctx context.Context, q querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, price_at_time, subtotal, reservation_id, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY product_id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.PriceAtTime,
			&item.Subtotal,
			&item.ReservationID,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*models.OrderPage, error) {
	cursorData, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &models.OrderPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// UpdateOrderStatus moves an order from one status to another. It fails with
// ErrOptimisticLockFailed if the order is no longer in status from.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, id int64, from, to models.OrderStatus) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $2
		 RETURNING `+orderColumns,
		id, from, to))
	if err == sql.ErrNoRows {
		var exists bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return nil, database.ErrOrderNotFound
		}
		return nil, database.ErrOptimisticLockFailed
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if order.Items, err = getOrderItems(ctx, db, id); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelExpiredPending claims up to limit pending orders created before the cutoff, marks them
// cancelled and returns them with their items. Rows locked by another sweeper are skipped.
func CancelExpiredPending(ctx context.Context, db *sql.DB, before time.Time, limit int) ([]models.Order, error) {
	var cancelled []models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id
			 FROM orders
			 WHERE status = $1 AND created_at < $2
			 ORDER BY created_at
			 LIMIT $3
			 FOR UPDATE SKIP LOCKED`,
			models.OrderStatusPending, before, limit)
		if err != nil {
			return fmt.Errorf("claim expired orders: %w", err)
		}

		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan order id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		for _, id := range ids {
			order, err := scanOrder(tx.QueryRowContext(ctx,
				`UPDATE orders
				 SET status = $2, version = version + 1, updated_at = NOW()
				 WHERE id = $1
				 RETURNING `+orderColumns,
				id, models.OrderStatusCancelled))
			if err != nil {
				return fmt.Errorf("cancel order %d: %w", id, err)
			}
			if order.Items, err = getOrderItems(ctx, tx, id); err != nil {
				return err
			}
			cancelled = append(cancelled, *order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cancelled, nil
}
