// Package memstore is an in-process implementation of every storage port of the order core.
// It backs unit tests and the memory ledger mode; each product carries its own lock so that
// reservations on different products never contend.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/safar/go-order-core/internal/catalog"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/inventory"
	"github.com/safar/go-order-core/internal/models"
	"github.com/safar/go-order-core/internal/pagination"
)

type productRecord struct {
	mu           sync.Mutex
	product      models.Product
	reservations map[string]models.Reservation
	// released holds ids that were released, or released before they were ever reserved.
	released map[string]struct{}
}

func newRecord(p models.Product) *productRecord {
	return &productRecord{
		product:      p,
		reservations: make(map[string]models.Reservation),
		released:     make(map[string]struct{}),
	}
}

type cartKey struct {
	userID    int64
	productID int64
}

type Store struct {
	mu            sync.RWMutex
	nextProductID int64
	nextUserID    int64
	nextOrderID   int64
	nextItemID    int64
	products      map[int64]*productRecord
	users         map[int64]models.User
	orders        map[int64]*models.Order
	carts         map[cartKey]models.CartItem

	// Now is the store's clock; tests may replace it.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		products: make(map[int64]*productRecord),
		users:    make(map[int64]models.User),
		orders:   make(map[int64]*models.Order),
		carts:    make(map[cartKey]models.CartItem),
		Now:      time.Now,
	}
}

// AddProduct is the catalog administration path: it assigns an id and stores p.
func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	p.ID = s.nextProductID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.Now()
	}
	p.UpdatedAt = p.CreatedAt
	p.Version = 1
	p.Tags = append([]string(nil), p.Tags...)

	s.products[p.ID] = newRecord(p)
	return p
}

// PutProduct stores p under its own id, replacing any product with that id. It mirrors a
// catalog loaded from elsewhere.
func (s *Store) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID > s.nextProductID {
		s.nextProductID = p.ID
	}
	p.Tags = append([]string(nil), p.Tags...)
	s.products[p.ID] = newRecord(p)
}

// UpdateProduct applies an administrative edit. Quantity changes made here bypass the
// reservation path and are the caller's responsibility.
func (s *Store) UpdateProduct(id int64, edit func(*models.Product)) error {
	rec, ok := s.record(id)
	if !ok {
		return database.ErrProductNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	edit(&rec.product)
	rec.product.Version++
	rec.product.UpdatedAt = s.Now()
	return nil
}

func (s *Store) record(id int64) (*productRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.products[id]
	return rec, ok
}

func (s *Store) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	rec, ok := s.record(id)
	if !ok {
		return nil, database.ErrProductNotFound
	}
	rec.mu.Lock()
	p := rec.product
	rec.mu.Unlock()
	return &p, nil
}

func (s *Store) Snapshot(ctx context.Context, productIDs []int64) (map[int64]catalog.ProductSnapshot, error) {
	out := make(map[int64]catalog.ProductSnapshot, len(productIDs))
	for _, id := range productIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := s.record(id)
		if !ok {
			continue
		}
		rec.mu.Lock()
		out[id] = catalog.SnapshotOf(rec.product)
		rec.mu.Unlock()
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context, q catalog.Query) (*catalog.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	records := make([]*productRecord, 0, len(s.products))
	for _, rec := range s.products {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	var matched []models.Product
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec.mu.Lock()
		p := rec.product
		rec.mu.Unlock()
		if q.Filter.Matches(p) {
			matched = append(matched, p)
		}
	}

	q.SortProducts(matched)

	page := &catalog.Page{Items: []models.Product{}, Total: int64(len(matched))}
	if start := q.Offset(); start < len(matched) {
		end := min(start+q.Limit, len(matched))
		page.Items = matched[start:end]
	}
	return page, nil
}

func (s *Store) Reserve(ctx context.Context, reservationID string, productID int64, quantity int) (models.Reservation, error) {
	if reservationID == "" {
		return models.Reservation{}, inventory.ErrMissingID
	}
	if quantity <= 0 {
		return models.Reservation{}, inventory.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return models.Reservation{}, err
	}
	rec, ok := s.record(productID)
	if !ok {
		return models.Reservation{}, inventory.ErrProductNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, closed := rec.released[reservationID]; closed {
		return models.Reservation{}, inventory.ErrReservationClosed
	}
	if res, held := rec.reservations[reservationID]; held {
		return res, nil
	}
	if rec.product.AvailableQuantity < quantity {
		return models.Reservation{}, inventory.ErrInsufficientStock
	}
	rec.product.AvailableQuantity -= quantity

	res := models.Reservation{
		ID:        reservationID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: s.Now(),
	}
	rec.reservations[res.ID] = res
	return res, nil
}

func (s *Store) Release(_ context.Context, reservation models.Reservation) error {
	if reservation.ID == "" {
		return nil
	}
	rec, ok := s.record(reservation.ProductID)
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.released[reservation.ID] = struct{}{}
	res, outstanding := rec.reservations[reservation.ID]
	if !outstanding {
		return nil
	}
	delete(rec.reservations, reservation.ID)
	rec.product.AvailableQuantity += res.Quantity
	return nil
}

func (s *Store) AvailableQuantity(_ context.Context, productID int64) (int, error) {
	rec, ok := s.record(productID)
	if !ok {
		return 0, inventory.ErrProductNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.product.AvailableQuantity, nil
}

// OutstandingReservations counts reservations not yet released for a product.
func (s *Store) OutstandingReservations(productID int64) int {
	rec, ok := s.record(productID)
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.reservations)
}

func (s *Store) AddUser(email, name string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	now := s.Now()
	u := models.User{ID: s.nextUserID, Email: email, Name: name, CreatedAt: now, UpdatedAt: now, Version: 1}
	s.users[u.ID] = u
	return u
}

func (s *Store) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	s.nextOrderID++
	order.ID = s.nextOrderID
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Version = 1
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
		order.Items[i].OrderID = order.ID
		order.Items[i].CreatedAt = now
	}

	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderByNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.OrderNumber == orderNumber {
			return cloneOrder(o), nil
		}
	}
	return nil, database.ErrOrderNotFound
}

// OrderCount is the number of persisted orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) ListOrders(_ context.Context, userID int64, cursor string, limit int) (*models.OrderPage, error) {
	c, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	var orders []models.Order
	for _, o := range s.orders {
		if o.UserID == userID && c.Before(o.CreatedAt, o.ID) {
			orders = append(orders, *cloneOrder(o))
		}
	}
	s.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	page := &models.OrderPage{Items: orders}
	if len(orders) > limit {
		page.Items = orders[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, database.ErrOptimisticLockFailed
	}
	o.Status = to
	o.UpdatedAt = s.Now()
	o.Version++
	return cloneOrder(o), nil
}

func (s *Store) CancelExpiredPending(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(before) {
			expired = append(expired, o)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}

	now := s.Now()
	out := make([]models.Order, 0, len(expired))
	for _, o := range expired {
		o.Status = models.OrderStatusCancelled
		o.UpdatedAt = now
		o.Version++
		out = append(out, *cloneOrder(o))
	}
	return out, nil
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}
