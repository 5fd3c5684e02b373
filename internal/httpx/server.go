// Package httpx is the HTTP surface of the order core: catalog browsing, order placement and
// history, and the buyer's cart.
package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-order-core/internal/catalog"
	"github.com/safar/go-order-core/internal/models"
	"github.com/safar/go-order-core/internal/orders"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type ProductCatalog interface {
	catalog.Lister
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (*orders.OrderResult, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*models.OrderPage, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
}

type CartStore interface {
	ListCart(ctx context.Context, userID int64) ([]models.CartItem, error)
	UpsertCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error)
	RemoveCartItem(ctx context.Context, userID, productID int64) error
}

type Config struct {
	RequestTimeout time.Duration
	UserIDHeader   string
}

type Deps struct {
	Products ProductCatalog
	Orders   OrderService
	Carts    CartStore
	Users    UserLookup
	Logger   *zap.Logger
}

type server struct {
	products ProductCatalog
	orders   OrderService
	carts    CartStore
	users    UserLookup
	logger   *zap.Logger
}

// NewRouter builds the API handler. Every request runs inside an otelhttp server span that
// continues the caller's trace.
func NewRouter(cfg Config, deps Deps) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.UserIDHeader == "" {
		cfg.UserIDHeader = "X-User-ID"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &server{
		products: deps.Products,
		orders:   deps.Orders,
		carts:    deps.Carts,
		users:    deps.Users,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(logger), middleware.Recoverer)
	r.Use(routeSpan)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/products", s.listProducts)
	r.Get("/products/{id}", s.getProduct)

	r.Group(func(r chi.Router) {
		r.Use(s.Authenticator(cfg.UserIDHeader))

		r.Post("/orders", s.createOrder)
		r.Get("/orders", s.listOrders)
		r.Get("/orders/{id}", s.getOrder)
		r.Post("/orders/{id}/cancel", s.cancelOrder)

		r.Get("/cart", s.listCart)
		r.Put("/cart/items/{productId}", s.upsertCartItem)
		r.Delete("/cart/items/{productId}", s.removeCartItem)
	})

	return otelhttp.NewHandler(r, "http-server",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method
		}),
	)
}
