package memstore

import (
	"context"
	"sort"

	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
)

func (s *Store) UpsertCartItem(_ context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	rec, ok := s.record(productID)
	if !ok {
		return nil, database.ErrProductNotFound
	}
	rec.mu.Lock()
	active := rec.product.IsActive
	rec.mu.Unlock()
	if !active {
		return nil, database.ErrProductInactive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := cartKey{userID: userID, productID: productID}
	now := s.Now()
	item, exists := s.carts[key]
	if !exists {
		item = models.CartItem{UserID: userID, ProductID: productID, CreatedAt: now}
	}
	item.Quantity = quantity
	item.UpdatedAt = now
	s.carts[key] = item
	return &item, nil
}

func (s *Store) ListCart(_ context.Context, userID int64) ([]models.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []models.CartItem{}
	for key, item := range s.carts {
		if key.userID == userID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (s *Store) RemoveCartItem(_ context.Context, userID, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, cartKey{userID: userID, productID: productID})
	return nil
}

func (s *Store) ClearPurchased(ctx context.Context, userID int64, productIDs []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range productIDs {
		delete(s.carts, cartKey{userID: userID, productID: id})
	}
	return nil
}
