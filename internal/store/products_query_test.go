package store

import (
	"testing"

	"github.com/safar/go-order-core/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProductFilterClauseDefaults(t *testing.T) {
	where, args := productFilterClause(catalog.Filter{})

	assert.Equal(t, "is_active", where)
	assert.Empty(t, args)
}

func TestProductFilterClauseComposesWithAnd(t *testing.T) {
	lo := decimal.NewFromInt(10)
	hi := decimal.NewFromInt(50)

	where, args := productFilterClause(catalog.Filter{
		Category: "shoes",
		Search:   "50%_off",
		MinPrice: &lo,
		MaxPrice: &hi,
		InStock:  true,
		Featured: true,
		OnSale:   true,
	})

	assert.Contains(t, where, "category = $1")
	assert.Contains(t, where, "name ILIKE $2 OR description ILIKE $2")
	assert.Contains(t, where, effectivePriceExpr+" >= $3")
	assert.Contains(t, where, effectivePriceExpr+" <= $4")
	assert.Contains(t, where, "available_quantity > 0")
	assert.Contains(t, where, "is_featured")
	assert.Contains(t, where, "is_sale AND sale_price IS NOT NULL")
	assert.Len(t, args, 4)
	assert.Equal(t, `%50\%\_off%`, args[1])
}

func TestProductOrderClause(t *testing.T) {
	assert.Equal(t, "created_at DESC, id DESC", productOrderClause(catalog.DefaultQuery()))
	assert.Equal(t, "name ASC, id ASC", productOrderClause(catalog.Query{Sort: catalog.SortName, Order: catalog.OrderAsc}))
	assert.Equal(t, effectivePriceExpr+" DESC, id DESC", productOrderClause(catalog.Query{Sort: catalog.SortPrice, Order: catalog.OrderDesc}))
}
