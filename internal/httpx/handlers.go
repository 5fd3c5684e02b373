package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-order-core/internal/apperr"
	"github.com/safar/go-order-core/internal/catalog"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
	"github.com/safar/go-order-core/internal/orders"
	"github.com/safar/go-order-core/internal/pagination"
	"github.com/shopspring/decimal"
)

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(name, "must be a positive integer")
	}
	return id, nil
}

func (s *server) listProducts(w http.ResponseWriter, r *http.Request) {
	q, err := catalog.ParseQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.products.ListProducts(r.Context(), q)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindValidation {
			err = apperr.Internal("list products", err)
		}
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Data: page.Items,
		Pagination: pageInfo{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      page.Total,
			TotalPages: pagination.TotalPages(page.Total, q.Limit),
		},
	})
}

func (s *server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	product, err := s.products.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			err = fmt.Errorf("product %d: %w", id, apperr.ErrNotFound)
		} else {
			err = apperr.Internal("get product", err)
		}
		s.writeError(w, r, err)
		return
	}
	if !product.IsActive {
		s.writeError(w, r, fmt.Errorf("product %d: %w", id, apperr.ErrNotFound))
		return
	}

	writeJSON(w, http.StatusOK, product)
}

type orderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type shippingAddressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type createOrderRequest struct {
	Items           []orderItemRequest     `json:"items"`
	ShippingAddress shippingAddressRequest `json:"shippingAddress"`
	PaymentMethodID string                 `json:"paymentMethodId"`
}

func (s *server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var body createOrderRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	req := orders.CreateOrderRequest{
		UserID: userID,
		Items:  make([]orders.ItemRequest, 0, len(body.Items)),
		ShippingAddress: models.ShippingAddress{
			Line1:      body.ShippingAddress.Line1,
			Line2:      body.ShippingAddress.Line2,
			City:       body.ShippingAddress.City,
			State:      body.ShippingAddress.State,
			PostalCode: body.ShippingAddress.PostalCode,
			Country:    body.ShippingAddress.Country,
		},
		PaymentMethodID: body.PaymentMethodID,
	}
	for _, item := range body.Items {
		req.Items = append(req.Items, orders.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	result, err := s.orders.CreateOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *server) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	limit := orders.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, apperr.Validation("limit", "must be between 1 and %d", orders.MaxPageSize))
			return
		}
		limit = n
	}

	page, err := s.orders.ListOrders(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cursorResponse{
		Data:       page.Items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

func (s *server) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	orderID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	orderID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type cartLine struct {
	models.CartItem
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

func (s *server) listCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	items, err := s.carts.ListCart(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, apperr.Internal("list cart", err))
		return
	}

	lines := make([]cartLine, 0, len(items))
	for _, item := range items {
		line := cartLine{CartItem: item}
		if p, err := s.products.GetProduct(r.Context(), item.ProductID); err == nil {
			price := p.EffectivePrice()
			line.UnitPrice = &price
		}
		lines = append(lines, line)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": lines})
}

func (s *server) upsertCartItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	productID, err := pathID(r, "productId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Quantity < models.MinCartQuantity || body.Quantity > models.MaxCartQuantity {
		s.writeError(w, r, apperr.Validation("quantity", "must be between %d and %d",
			models.MinCartQuantity, models.MaxCartQuantity))
		return
	}

	item, err := s.carts.UpsertCartItem(r.Context(), userID, productID, body.Quantity)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) || errors.Is(err, database.ErrProductInactive) {
			err = &apperr.ProductUnavailableError{ProductIDs: []int64{productID}}
		} else {
			err = apperr.Internal("update cart", err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	productID, err := pathID(r, "productId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.carts.RemoveCartItem(r.Context(), userID, productID); err != nil {
		s.writeError(w, r, apperr.Internal("remove cart item", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
