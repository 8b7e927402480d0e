// Package ordertest provides an in-memory orders.Repository for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/orders"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
)

type product struct {
	Name  string
	Image string
	Price decimal.Decimal
	Stock int
}

type cartRow struct {
	ID        int64
	ProductID int64
	Quantity  int
	Size      string
	Color     string
}

type state struct {
	products map[int64]product
	carts    map[int64][]cartRow
	orders   map[int64]models.Order
	keys     map[int64]map[string]int64
	nextID   int64
}

func (s state) clone() state {
	c := state{
		products: make(map[int64]product, len(s.products)),
		carts:    make(map[int64][]cartRow, len(s.carts)),
		orders:   make(map[int64]models.Order, len(s.orders)),
		keys:     make(map[int64]map[string]int64, len(s.keys)),
		nextID:   s.nextID,
	}
	for id, p := range s.products {
		c.products[id] = p
	}
	for user, rows := range s.carts {
		c.carts[user] = append([]cartRow(nil), rows...)
	}
	for id, o := range s.orders {
		o.Items = append([]models.OrderItem(nil), o.Items...)
		c.orders[id] = o
	}
	for user, keys := range s.keys {
		m := make(map[string]int64, len(keys))
		for k, v := range keys {
			m[k] = v
		}
		c.keys[user] = m
	}
	return c
}

// Repository holds one global lock for the length of every unit of work,
// so transactions are fully serialized. Work happens on a copy of the
// state that replaces the committed state only when fn succeeds.
type Repository struct {
	mu        sync.Mutex
	committed state
	failures  map[string]error
	calls     int
	now       func() time.Time
}

var _ orders.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		committed: state{
			products: map[int64]product{},
			carts:    map[int64][]cartRow{},
			orders:   map[int64]models.Order{},
			keys:     map[int64]map[string]int64{},
		},
		failures: map[string]error{},
		now:      time.Now,
	}
}

// AddProduct seeds a product.
func (r *Repository) AddProduct(id int64, name string, price decimal.Decimal, stock int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed.products[id] = product{Name: name, Price: price, Stock: stock}
}

// AddToCart seeds a cart line, merging with an identical variant.
func (r *Repository) AddToCart(userID, productID int64, quantity int, size, color string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.committed.carts[userID]
	for i := range rows {
		if rows[i].ProductID == productID && rows[i].Size == size && rows[i].Color == color {
			rows[i].Quantity += quantity
			return
		}
	}
	r.committed.nextID++
	r.committed.carts[userID] = append(rows, cartRow{
		ID:        r.committed.nextID,
		ProductID: productID,
		Quantity:  quantity,
		Size:      size,
		Color:     color,
	})
}

func (r *Repository) SetPrice(productID int64, price decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.committed.products[productID]
	p.Price = price
	r.committed.products[productID] = p
}

func (r *Repository) Stock(productID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed.products[productID].Stock
}

// Cart returns the committed cart lines of userID.
func (r *Repository) Cart(userID int64) []models.CartLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed.cartLines(userID)
}

// Orders returns every committed order, oldest first.
func (r *Repository) Orders() []models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Order, 0, len(r.committed.orders))
	for _, o := range r.committed.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fail makes the named Tx or Repository method return err until cleared
// with a nil err.
func (r *Repository) Fail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, method)
		return
	}
	r.failures[method] = err
}

// Calls counts every Repository and Tx method invocation.
func (r *Repository) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *Repository) enter(method string) error {
	r.calls++
	return r.failures[method]
}

func (r *Repository) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enter("InTx"); err != nil {
		return err
	}

	tx := &memTx{repo: r, state: r.committed.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.committed = tx.state
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, orderID, ownerID int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enter("GetOrder"); err != nil {
		return nil, err
	}
	return r.committed.order(orderID, ownerID)
}

func (r *Repository) ListOrders(ctx context.Context, userID int64, page, pageSize int) (*store.OffsetPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enter("ListOrders"); err != nil {
		return nil, err
	}

	page, pageSize = store.NormalizePage(page, pageSize)

	var all []models.Order
	for _, o := range r.committed.orders {
		if userID == 0 || o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	items := append([]models.Order{}, all[start:end]...)
	totalPages := (len(all) + pageSize - 1) / pageSize

	return &store.OffsetPage{
		Items:      items,
		Total:      int64(len(all)),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

func (r *Repository) CartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enter("CartLines"); err != nil {
		return nil, err
	}
	return r.committed.cartLines(userID), nil
}

func (s state) cartLines(userID int64) []models.CartLine {
	var lines []models.CartLine
	for _, row := range s.carts[userID] {
		p := s.products[row.ProductID]
		lines = append(lines, models.CartLine{
			CartItemID:  row.ID,
			ProductID:   row.ProductID,
			ProductName: p.Name,
			Quantity:    row.Quantity,
			Size:        row.Size,
			Color:       row.Color,
			UnitPrice:   p.Price,
			Stock:       p.Stock,
		})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].CartItemID < lines[j].CartItemID
	})
	return lines
}

func (s state) order(orderID, ownerID int64) (*models.Order, error) {
	o, ok := s.orders[orderID]
	if !ok || (ownerID != 0 && o.UserID != ownerID) {
		return nil, database.ErrOrderNotFound
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	for i := range o.Items {
		p := s.products[o.Items[i].ProductID]
		o.Items[i].ProductName = p.Name
		o.Items[i].ProductImage = p.Image
	}
	return &o, nil
}

type memTx struct {
	repo  *Repository
	state state
}

func (t *memTx) LockCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	if err := t.repo.enter("LockCart"); err != nil {
		return nil, err
	}
	return t.state.cartLines(userID), nil
}

func (t *memTx) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (int64, bool, error) {
	if err := t.repo.enter("FindOrderByIdempotencyKey"); err != nil {
		return 0, false, err
	}
	id, ok := t.state.keys[userID][key]
	return id, ok, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o store.NewOrder) (int64, error) {
	if err := t.repo.enter("InsertOrder"); err != nil {
		return 0, err
	}

	t.state.nextID++
	id := t.state.nextID
	now := t.repo.now()

	t.state.orders[id] = models.Order{
		ID:                 id,
		UserID:             o.UserID,
		OrderNumber:        o.OrderNumber,
		Status:             models.OrderStatusPending,
		TotalAmount:        o.Total,
		ShippingAddress:    o.ShippingAddress,
		ShippingCity:       o.ShippingCity,
		ShippingPostalCode: o.PostalCode,
		ShippingCountry:    o.Country,
		IdempotencyKey:     o.IdempotencyKey,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}

	if o.IdempotencyKey != "" {
		if t.state.keys[o.UserID] == nil {
			t.state.keys[o.UserID] = map[string]int64{}
		}
		t.state.keys[o.UserID][o.IdempotencyKey] = id
	}
	return id, nil
}

func (t *memTx) InsertOrderItem(ctx context.Context, item models.OrderItem) error {
	if err := t.repo.enter("InsertOrderItem"); err != nil {
		return err
	}

	o, ok := t.state.orders[item.OrderID]
	if !ok {
		return database.ErrOrderNotFound
	}
	t.state.nextID++
	item.ID = t.state.nextID
	item.CreatedAt = t.repo.now()
	o.Items = append(o.Items, item)
	t.state.orders[item.OrderID] = o
	return nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := t.repo.enter("DecrementStock"); err != nil {
		return err
	}

	p, ok := t.state.products[productID]
	if !ok || p.Stock < quantity {
		return database.ErrInsufficientStock
	}
	p.Stock -= quantity
	t.state.products[productID] = p
	return nil
}

func (t *memTx) ClearCart(ctx context.Context, userID int64) (int64, error) {
	if err := t.repo.enter("ClearCart"); err != nil {
		return 0, err
	}
	n := int64(len(t.state.carts[userID]))
	delete(t.state.carts, userID)
	return n, nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID, ownerID int64) (*models.Order, error) {
	if err := t.repo.enter("LockOrder"); err != nil {
		return nil, err
	}
	return t.state.order(orderID, ownerID)
}

func (t *memTx) SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	if err := t.repo.enter("SetOrderStatus"); err != nil {
		return nil, err
	}

	o, ok := t.state.orders[orderID]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	o.Status = status
	o.Version++
	o.UpdatedAt = t.repo.now()
	t.state.orders[orderID] = o
	return t.state.order(orderID, 0)
}

func (t *memTx) ClaimNextPending(ctx context.Context) (*models.Order, error) {
	if err := t.repo.enter("ClaimNextPending"); err != nil {
		return nil, err
	}

	var oldest *models.Order
	for id := range t.state.orders {
		o := t.state.orders[id]
		if o.Status != models.OrderStatusPending {
			continue
		}
		if oldest == nil || o.ID < oldest.ID {
			oldest = &o
		}
	}
	if oldest == nil {
		return nil, database.ErrOrderNotFound
	}
	return t.state.order(oldest.ID, 0)
}
