package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/safar/go-order-core/internal/catalog"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, description, category, tags, price, sale_price, is_sale,
	is_featured, is_active, available_quantity, created_at, updated_at, version`

const effectivePriceExpr = `(CASE WHEN is_sale AND sale_price IS NOT NULL THEN sale_price ELSE price END)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	var salePrice decimal.NullDecimal
	var tags pq.StringArray

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Category,
		&tags,
		&product.Price,
		&salePrice,
		&product.IsSale,
		&product.IsFeatured,
		&product.IsActive,
		&product.AvailableQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	product.Tags = []string(tags)
	if product.Tags == nil {
		product.Tags = []string{}
	}
	if salePrice.Valid {
		product.SalePrice = &salePrice.Decimal
	}
	return product, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// CreateProduct is the catalog administration write used for seeding and tests.
func CreateProduct(ctx context.Context, db *sql.DB, p models.Product) (*models.Product, error) {
	query := `
		INSERT INTO products (sku, name, description, category, tags, price, sale_price, is_sale,
		                      is_featured, is_active, available_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	product, err := scanProduct(db.QueryRowContext(ctx, query,
		p.SKU, p.Name, p.Description, p.Category, pq.Array(tags), p.Price, nullDecimal(p.SalePrice),
		p.IsSale, p.IsFeatured, p.IsActive, p.AvailableQuantity))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// UpdateProductOptimistic applies an administrative edit of price, sale, flags and stock.
// It succeeds only if p.Version still matches the stored version.
func UpdateProductOptimistic(ctx context.Context, db *sql.DB, p models.Product) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET price = $1, sale_price = $2, is_sale = $3, is_featured = $4, is_active = $5,
		     available_quantity = $6, version = version + 1, updated_at = NOW()
		 WHERE id = $7 AND version = $8`,
		p.Price, nullDecimal(p.SalePrice), p.IsSale, p.IsFeatured, p.IsActive,
		p.AvailableQuantity, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

func SnapshotProducts(ctx context.Context, db *sql.DB, ids []int64) (map[int64]catalog.ProductSnapshot, error) {
	out := make(map[int64]catalog.ProductSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, price, sale_price, is_sale, is_active, available_quantity
		 FROM products
		 WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("snapshot products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snap catalog.ProductSnapshot
		var salePrice decimal.NullDecimal
		if err := rows.Scan(
			&snap.ProductID,
			&snap.Price,
			&salePrice,
			&snap.IsSale,
			&snap.IsActive,
			&snap.AvailableQuantity,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if salePrice.Valid {
			snap.SalePrice = &salePrice.Decimal
		}
		out[snap.ProductID] = snap
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// AllProducts loads the whole catalog, active or not. It seeds the out-of-database ledgers
// at startup.
func AllProducts(ctx context.Context, db *sql.DB) ([]models.Product, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

func ListProducts(ctx context.Context, db *sql.DB, q catalog.Query) (*catalog.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where, args := productFilterClause(q.Filter)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	page := &catalog.Page{Items: []models.Product{}, Total: total}
	if int64(q.Offset()) >= total {
		return page, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM products
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`,
		productColumns, where, productOrderClause(q), len(args)+1, len(args)+2)

	rows, err := db.QueryContext(ctx, query, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		page.Items = append(page.Items, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return page, nil
}

func productFilterClause(f catalog.Filter) (string, []any) {
	conds := []string{"is_active"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Category != "" {
		conds = append(conds, "category = "+arg(f.Category))
	}
	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		conds = append(conds, fmt.Sprintf(
			"(name ILIKE %[1]s OR description ILIKE %[1]s OR EXISTS (SELECT 1 FROM unnest(tags) AS tag WHERE tag ILIKE %[1]s))", p))
	}
	if f.MinPrice != nil {
		conds = append(conds, effectivePriceExpr+" >= "+arg(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		conds = append(conds, effectivePriceExpr+" <= "+arg(*f.MaxPrice))
	}
	if f.InStock {
		conds = append(conds, "available_quantity > 0")
	}
	if f.Featured {
		conds = append(conds, "is_featured")
	}
	if f.OnSale {
		conds = append(conds, "is_sale AND sale_price IS NOT NULL")
	}

	return strings.Join(conds, " AND "), args
}

func productOrderClause(q catalog.Query) string {
	column := "created_at"
	switch q.Sort {
	case catalog.SortPrice:
		column = effectivePriceExpr
	case catalog.SortName:
		column = "name"
	}

	dir := "DESC"
	if q.Order == catalog.OrderAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, id %s", column, dir, dir)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
