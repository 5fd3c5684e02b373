package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID                int64            `json:"id"`
	SKU               string           `json:"sku"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	Category          string           `json:"category"`
	Tags              []string         `json:"tags"`
	Price             decimal.Decimal  `json:"price"`
	SalePrice         *decimal.Decimal `json:"sale_price,omitempty"`
	IsSale            bool             `json:"is_sale"`
	IsFeatured        bool             `json:"is_featured"`
	IsActive          bool             `json:"is_active"`
	AvailableQuantity int              `json:"available_quantity"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Version           int              `json:"version"`
}

// EffectivePrice is the price a buyer pays right now.
func (p Product) EffectivePrice() decimal.Decimal {
	return EffectivePrice(p.Price, p.SalePrice, p.IsSale)
}

func EffectivePrice(price decimal.Decimal, salePrice *decimal.Decimal, isSale bool) decimal.Decimal {
	if isSale && salePrice != nil {
		return *salePrice
	}
	return price
}

type CartItem struct {
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	MinCartQuantity = 1
	MaxCartQuantity = 10
)

type ShippingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
	Items           []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      int             `json:"quantity"`
	PriceAtTime   decimal.Decimal `json:"price_at_time"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ReservationID string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Reservation is a claim against a product's available quantity.
type Reservation struct {
	ID        string    `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderPage is one keyset page of a user's order history, newest first.
type OrderPage struct {
	Items      []Order `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}
