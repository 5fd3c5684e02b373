// Package store is the Postgres implementation of the order core's storage ports. The free
// functions take a *sql.DB or *sql.Tx; Postgres binds them to the interfaces the services use.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/safar/go-order-core/internal/catalog"
	"github.com/safar/go-order-core/internal/models"
)

type Postgres struct {
	DB *sql.DB
}

func New(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

func (p *Postgres) Snapshot(ctx context.Context, productIDs []int64) (map[int64]catalog.ProductSnapshot, error) {
	return SnapshotProducts(ctx, p.DB, productIDs)
}

func (p *Postgres) ListProducts(ctx context.Context, q catalog.Query) (*catalog.Page, error) {
	return ListProducts(ctx, p.DB, q)
}

func (p *Postgres) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return GetProduct(ctx, p.DB, id)
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return GetUser(ctx, p.DB, id)
}

func (p *Postgres) InsertOrder(ctx context.Context, order *models.Order) error {
	return InsertOrder(ctx, p.DB, order)
}

func (p *Postgres) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, p.DB, id)
}

func (p *Postgres) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return GetOrderByNumber(ctx, p.DB, orderNumber)
}

func (p *Postgres) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*models.OrderPage, error) {
	return ListOrdersCursor(ctx, p.DB, userID, cursor, limit)
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	return UpdateOrderStatus(ctx, p.DB, id, from, to)
}

func (p *Postgres) CancelExpiredPending(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	return CancelExpiredPending(ctx, p.DB, before, limit)
}

func (p *Postgres) UpsertCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	return UpsertCartItem(ctx, p.DB, userID, productID, quantity)
}

func (p *Postgres) ListCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	return ListCart(ctx, p.DB, userID)
}

func (p *Postgres) RemoveCartItem(ctx context.Context, userID, productID int64) error {
	return RemoveCartItem(ctx, p.DB, userID, productID)
}

func (p *Postgres) ClearPurchased(ctx context.Context, userID int64, productIDs []int64) error {
	return ClearPurchased(ctx, p.DB, userID, productIDs)
}
