// Package catalog describes the read side of the product catalog: point-in-time snapshots
// used to price orders and the browse query used by GET /products.
package catalog

import (
	"context"

	"github.com/safar/go-order-core/internal/models"
	"github.com/shopspring/decimal"
)

// ProductSnapshot is what the order path needs to know about a product at one instant.
type ProductSnapshot struct {
	ProductID         int64
	Price             decimal.Decimal
	SalePrice         *decimal.Decimal
	IsSale            bool
	IsActive          bool
	AvailableQuantity int
}

func (s ProductSnapshot) EffectivePrice() decimal.Decimal {
	return models.EffectivePrice(s.Price, s.SalePrice, s.IsSale)
}

func SnapshotOf(p models.Product) ProductSnapshot {
	return ProductSnapshot{
		ProductID:         p.ID,
		Price:             p.Price,
		SalePrice:         p.SalePrice,
		IsSale:            p.IsSale,
		IsActive:          p.IsActive,
		AvailableQuantity: p.AvailableQuantity,
	}
}

// SnapshotReader returns a snapshot for every requested id it knows. Ids missing from the
// result are not found.
type SnapshotReader interface {
	Snapshot(ctx context.Context, productIDs []int64) (map[int64]ProductSnapshot, error)
}

type Lister interface {
	ListProducts(ctx context.Context, q Query) (*Page, error)
}
