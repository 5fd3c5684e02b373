package orders

import (
	"sort"
	"strings"

	"github.com/safar/go-order-core/internal/apperr"
	"github.com/safar/go-order-core/internal/models"
)

const DefaultMaxItems = 50

type ItemRequest struct {
	ProductID int64
	Quantity  int
}

type CreateOrderRequest struct {
	UserID          int64
	Items           []ItemRequest
	ShippingAddress models.ShippingAddress
	PaymentMethodID string
}

// validateCreateOrder checks the request and returns its items sorted by product id, the
// order in which stock is reserved. maxLineQuantity of zero leaves line quantities unbounded.
func validateCreateOrder(req CreateOrderRequest, maxItems, maxLineQuantity int) ([]ItemRequest, error) {
	if req.UserID <= 0 {
		return nil, apperr.Validation("userId", "must be positive")
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation("items", "must not be empty")
	}
	if len(req.Items) > maxItems {
		return nil, apperr.Validation("items", "at most %d items per order", maxItems)
	}

	seen := make(map[int64]struct{}, len(req.Items))
	for i, item := range req.Items {
		if item.ProductID <= 0 {
			return nil, apperr.Validation("items", "item %d: productId must be positive", i)
		}
		if item.Quantity < 1 {
			return nil, apperr.Validation("items", "item %d: quantity must be positive", i)
		}
		if maxLineQuantity > 0 && item.Quantity > maxLineQuantity {
			return nil, apperr.Validation("items", "item %d: quantity must not exceed %d", i, maxLineQuantity)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, apperr.Validation("items", "product %d listed more than once", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}

	if err := validateAddress(req.ShippingAddress); err != nil {
		return nil, err
	}

	items := append([]ItemRequest(nil), req.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func validateAddress(a models.ShippingAddress) error {
	required := []struct {
		field, value string
	}{
		{"shippingAddress.line1", a.Line1},
		{"shippingAddress.city", a.City},
		{"shippingAddress.state", a.State},
		{"shippingAddress.postalCode", a.PostalCode},
		{"shippingAddress.country", a.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.Validation(r.field, "is required")
		}
	}
	return nil
}
