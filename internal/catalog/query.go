package catalog

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/safar/go-order-core/internal/apperr"
	"github.com/safar/go-order-core/internal/models"
	"github.com/shopspring/decimal"
)

type SortKey string

const (
	SortCreatedAt SortKey = "created_at"
	SortPrice     SortKey = "price"
	SortName      SortKey = "name"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

type Filter struct {
	Category string
	Search   string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	InStock  bool
	Featured bool
	OnSale   bool
}

type Query struct {
	Filter Filter
	Sort   SortKey
	Order  SortOrder
	Page   int
	Limit  int
}

type Page struct {
	Items []models.Product
	Total int64
}

func DefaultQuery() Query {
	return Query{
		Sort:  SortCreatedAt,
		Order: OrderDesc,
		Page:  DefaultPage,
		Limit: DefaultLimit,
	}
}

// Offset is the number of rows before the requested page. It saturates at math.MaxInt, so a
// page far past the end still reads as out of range.
func (q Query) Offset() int {
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

// ParseQuery reads the browse parameters of GET /products. Absent parameters take their
// defaults; present but malformed ones are rejected.
func ParseQuery(v url.Values) (Query, error) {
	q := DefaultQuery()

	var err error
	if q.Page, err = intParam(v, "page", DefaultPage); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(v, "limit", DefaultLimit); err != nil {
		return q, err
	}
	if s := v.Get("sort"); s != "" {
		q.Sort = SortKey(s)
	}
	if s := v.Get("order"); s != "" {
		q.Order = SortOrder(strings.ToLower(s))
	}

	q.Filter.Category = strings.TrimSpace(v.Get("category"))
	q.Filter.Search = strings.TrimSpace(v.Get("search"))

	if q.Filter.MinPrice, err = decimalParam(v, "minPrice"); err != nil {
		return q, err
	}
	if q.Filter.MaxPrice, err = decimalParam(v, "maxPrice"); err != nil {
		return q, err
	}
	if q.Filter.InStock, err = boolParam(v, "inStock"); err != nil {
		return q, err
	}
	if q.Filter.Featured, err = boolParam(v, "featured"); err != nil {
		return q, err
	}
	if q.Filter.OnSale, err = boolParam(v, "onSale"); err != nil {
		return q, err
	}

	return q, q.Validate()
}

func (q Query) Validate() error {
	if q.Page < 1 {
		return apperr.Validation("page", "must be at least 1")
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return apperr.Validation("limit", "must be between 1 and %d", MaxLimit)
	}
	switch q.Sort {
	case SortCreatedAt, SortPrice, SortName:
	default:
		return apperr.Validation("sort", "unknown sort key %q", q.Sort)
	}
	switch q.Order {
	case OrderAsc, OrderDesc:
	default:
		return apperr.Validation("order", "must be asc or desc")
	}

	f := q.Filter
	if f.MinPrice != nil && f.MinPrice.IsNegative() {
		return apperr.Validation("minPrice", "must not be negative")
	}
	if f.MaxPrice != nil && f.MaxPrice.IsNegative() {
		return apperr.Validation("maxPrice", "must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return apperr.Validation("minPrice", "must not exceed maxPrice")
	}
	return nil
}

// Matches applies the filter to one active product.
func (f Filter) Matches(p models.Product) bool {
	if !p.IsActive {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Search != "" && !matchesSearch(p, f.Search) {
		return false
	}
	price := p.EffectivePrice()
	if f.MinPrice != nil && price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.InStock && p.AvailableQuantity <= 0 {
		return false
	}
	if f.Featured && !p.IsFeatured {
		return false
	}
	if f.OnSale && !(p.IsSale && p.SalePrice != nil) {
		return false
	}
	return true
}

func matchesSearch(p models.Product, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(p.Name), term) ||
		strings.Contains(strings.ToLower(p.Description), term) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// SortProducts orders products in place; ties break on id so pages are stable.
func (q Query) SortProducts(products []models.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		a, b := products[i], products[j]
		var cmp int
		switch q.Sort {
		case SortPrice:
			cmp = a.EffectivePrice().Cmp(b.EffectivePrice())
		case SortName:
			cmp = strings.Compare(a.Name, b.Name)
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp == 0 {
			cmp = compareInt64(a.ID, b.ID)
		}
		if q.Order == OrderAsc {
			return cmp < 0
		}
		return cmp > 0
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func intParam(v url.Values, key string, def int) (int, error) {
	s := v.Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.Validation(key, "must be an integer")
	}
	return n, nil
}

func decimalParam(v url.Values, key string) (*decimal.Decimal, error) {
	s := v.Get(key)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, apperr.Validation(key, "must be a number")
	}
	return &d, nil
}

func boolParam(v url.Values, key string) (bool, error) {
	s := v.Get(key)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, apperr.Validation(key, "must be true or false")
	}
	return b, nil
}
