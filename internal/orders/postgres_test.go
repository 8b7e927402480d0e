package orders_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/database/dbtest"
	"github.com/safar/storefront/internal/events"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/orders"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

func newPostgresService(db *sql.DB, repo orders.Repository) *orders.Service {
	logger, _ := test.NewNullLogger()
	if repo == nil {
		repo = orders.NewPostgresRepository(db)
	}
	return orders.NewService(repo, events.Noop{}, logger)
}

func seedUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, store.NewUser{
		Email:        email,
		PasswordHash: "x",
		Role:         models.RoleCustomer,
	})
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func seedProduct(t *testing.T, db *sql.DB, sku string, price string, stock int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, store.NewProduct{
		SKU:   sku,
		Name:  "Product " + sku,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func addToCart(t *testing.T, db *sql.DB, userID, productID int64, qty int) {
	t.Helper()
	if _, err := store.AddCartItem(context.Background(), db, userID, productID, qty, "", ""); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}
}

func stockOf(t *testing.T, db *sql.DB, productID int64) int {
	t.Helper()
	p, err := store.GetProduct(context.Background(), db, productID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	return p.StockQuantity
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}

func TestPostgresPlaceOrder(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	user := seedUser(t, db, "buyer@example.com")
	p1 := seedProduct(t, db, "PG-001", "100.00", 50)
	p2 := seedProduct(t, db, "PG-002", "200.00", 30)
	addToCart(t, db, user.ID, p1.ID, 5)
	addToCart(t, db, user.ID, p2.ID, 3)

	order, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: user.ID, Address: validAddress()})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if !order.TotalAmount.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("Expected total 1100, got %s", order.TotalAmount)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected pending, got %s", order.Status)
	}
	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(order.Items))
	}
	if order.Items[0].ProductName != "Product PG-001" {
		t.Errorf("Expected joined product name, got %q", order.Items[0].ProductName)
	}

	if got := stockOf(t, db, p1.ID); got != 45 {
		t.Errorf("Expected product 1 stock 45, got %d", got)
	}
	if got := stockOf(t, db, p2.ID); got != 27 {
		t.Errorf("Expected product 2 stock 27, got %d", got)
	}

	cart, err := store.ListCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("List cart: %v", err)
	}
	if len(cart) != 0 {
		t.Errorf("Expected empty cart, got %d items", len(cart))
	}
}

func TestPostgresConcurrentPlacementLastUnits(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	product := seedProduct(t, db, "PG-LAST", "10.00", 5)
	u1 := seedUser(t, db, "first@example.com")
	u2 := seedUser(t, db, "second@example.com")
	addToCart(t, db, u1.ID, product.ID, 3)
	addToCart(t, db, u2.ID, product.ID, 3)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, user := range []*models.User{u1, u2} {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: userID, Address: validAddress()})
			results <- err
		}(user.ID)
	}
	wg.Wait()
	close(results)

	successCount := 0
	insufficientStockCount := 0
	for err := range results {
		var serr *orders.InsufficientStockError
		switch {
		case err == nil:
			successCount++
		case errors.As(err, &serr):
			insufficientStockCount++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 || insufficientStockCount != 1 {
		t.Errorf("Expected 1 success and 1 insufficient stock, got %d and %d", successCount, insufficientStockCount)
	}
	if got := stockOf(t, db, product.ID); got != 2 {
		t.Errorf("Expected stock 2, got %d", got)
	}
	if got := countRows(t, db, "orders"); got != 1 {
		t.Errorf("Expected 1 order, got %d", got)
	}
}

func TestPostgresConcurrentPlacementNeverOversells(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	product := seedProduct(t, db, "PG-HOT", "5.00", 15)

	concurrency := 10
	users := make([]*models.User, concurrency)
	for i := range users {
		users[i] = seedUser(t, db, fmt.Sprintf("hot%d@example.com", i))
		addToCart(t, db, users[i].ID, product.ID, 2)
	}

	var wg sync.WaitGroup
	results := make(chan error, concurrency)
	for _, user := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: userID, Address: validAddress()})
			results <- err
		}(user.ID)
	}
	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		var serr *orders.InsufficientStockError
		if err == nil {
			successCount++
		} else if !errors.As(err, &serr) {
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 7 {
		t.Errorf("Expected 7 successful orders, got %d", successCount)
	}
	if got := stockOf(t, db, product.ID); got != 15-successCount*2 {
		t.Errorf("Expected final stock %d, got %d", 15-successCount*2, got)
	}
}

// failingRepository injects a storage failure after the order and its
// items were written but before any stock is decremented.
type failingRepository struct {
	orders.Repository
}

func (r failingRepository) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	return r.Repository.InTx(ctx, func(tx orders.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	orders.Tx
}

func (failingTx) DecrementStock(context.Context, int64, int) error {
	return errors.New("injected failure")
}

func TestPostgresPlacementIsAtomic(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, failingRepository{orders.NewPostgresRepository(db)})

	user := seedUser(t, db, "atomic@example.com")
	product := seedProduct(t, db, "PG-ATOM", "12.50", 10)
	addToCart(t, db, user.ID, product.ID, 4)

	_, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: user.ID, Address: validAddress()})

	var serr *orders.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected storage error, got: %v", err)
	}

	if got := countRows(t, db, "orders"); got != 0 {
		t.Errorf("Expected no orders after rollback, got %d", got)
	}
	if got := countRows(t, db, "order_items"); got != 0 {
		t.Errorf("Expected no order items after rollback, got %d", got)
	}
	if got := stockOf(t, db, product.ID); got != 10 {
		t.Errorf("Stock should remain 10, got %d", got)
	}
	cart, err := store.ListCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("List cart: %v", err)
	}
	if len(cart) != 1 || cart[0].Quantity != 4 {
		t.Errorf("Cart should be unchanged, got %+v", cart)
	}
}

func TestPostgresInsufficientStockLeavesCart(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	user := seedUser(t, db, "short@example.com")
	product := seedProduct(t, db, "PG-SHORT", "3.00", 5)
	addToCart(t, db, user.ID, product.ID, 5)

	if _, err := store.AdjustStock(ctx, db, product.ID, -2); err != nil {
		t.Fatalf("Adjust stock: %v", err)
	}

	_, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: user.ID, Address: validAddress()})
	var serr *orders.InsufficientStockError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected insufficient stock, got: %v", err)
	}
	if len(serr.ProductIDs) != 1 || serr.ProductIDs[0] != product.ID {
		t.Errorf("Expected offending product %d, got %v", product.ID, serr.ProductIDs)
	}

	if got := stockOf(t, db, product.ID); got != 3 {
		t.Errorf("Stock should remain 3, got %d", got)
	}
	cart, err := store.ListCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("List cart: %v", err)
	}
	if len(cart) != 1 {
		t.Errorf("Cart should be unchanged, got %d items", len(cart))
	}
}

func TestPostgresPlacementInvalidatesStaleStockVersion(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	user := seedUser(t, db, "stale@example.com")
	product := seedProduct(t, db, "PG-STALE", "8.00", 5)
	addToCart(t, db, user.ID, product.ID, 3)

	if _, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: user.ID, Address: validAddress()}); err != nil {
		t.Fatalf("Place order: %v", err)
	}

	_, err := store.SetStockOptimistic(ctx, db, product.ID, 5, product.Version)
	if err != database.ErrOptimisticLockFailed {
		t.Errorf("Expected optimistic lock failure, got: %v", err)
	}
	if got := stockOf(t, db, product.ID); got != 2 {
		t.Errorf("Expected stock 2, got %d", got)
	}
}

func TestPostgresPriceChangeKeepsOrderTotal(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	user := seedUser(t, db, "price@example.com")
	product := seedProduct(t, db, "PG-PRICE", "40.00", 10)
	addToCart(t, db, user.ID, product.ID, 2)

	order, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: user.ID, Address: validAddress()})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	newPrice := decimal.RequireFromString("55.00")
	if _, err := store.UpdateProduct(ctx, db, product.ID, store.ProductPatch{Price: &newPrice}); err != nil {
		t.Fatalf("Update price: %v", err)
	}

	again, err := service.GetOrder(ctx, auth.Identity{UserID: user.ID, Role: models.RoleCustomer}, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if !again.TotalAmount.Equal(decimal.NewFromInt(80)) {
		t.Errorf("Expected total to stay 80, got %s", again.TotalAmount)
	}
	if !again.Items[0].UnitPrice.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected unit price to stay 40, got %s", again.Items[0].UnitPrice)
	}
}

func TestPostgresIdempotentReplay(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	user := seedUser(t, db, "replay@example.com")
	product := seedProduct(t, db, "PG-REPLAY", "9.99", 20)
	addToCart(t, db, user.ID, product.ID, 2)

	const key = "7d1c1f2e-checkout"

	var wg sync.WaitGroup
	ids := make(chan int64, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: user.ID, Address: validAddress(), IdempotencyKey: key})
			if err != nil {
				t.Errorf("Place order: %v", err)
				return
			}
			ids <- order.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first int64
	for id := range ids {
		if first == 0 {
			first = id
		}
		if id != first {
			t.Errorf("Expected every replay to return order %d, got %d", first, id)
		}
	}

	if got := countRows(t, db, "orders"); got != 1 {
		t.Errorf("Expected exactly 1 order, got %d", got)
	}
	if got := stockOf(t, db, product.ID); got != 18 {
		t.Errorf("Expected stock 18, got %d", got)
	}
}

func TestPostgresUpdateStatusOwnership(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)

	owner := seedUser(t, db, "owner@example.com")
	other := seedUser(t, db, "other@example.com")
	product := seedProduct(t, db, "PG-STATUS", "1.00", 10)
	addToCart(t, db, owner.ID, product.ID, 1)

	order, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: owner.ID, Address: validAddress()})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	_, err = service.UpdateStatus(ctx, auth.Identity{UserID: other.ID, Role: models.RoleCustomer}, order.ID, "shipped")
	if !errors.Is(err, orders.ErrNotFound) {
		t.Errorf("Expected not found for another user's order, got: %v", err)
	}

	updated, err := service.UpdateStatus(ctx, auth.Identity{UserID: owner.ID, Role: models.RoleCustomer}, order.ID, "shipped")
	if err != nil {
		t.Fatalf("Owner update: %v", err)
	}
	if updated.Status != models.OrderStatusShipped {
		t.Errorf("Expected shipped, got %s", updated.Status)
	}
	if updated.Version != 2 {
		t.Errorf("Expected version 2, got %d", updated.Version)
	}
}

func TestPostgresClaimNextSkipsLockedOrders(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	service := newPostgresService(db, nil)
	admin := auth.Identity{UserID: 1, Role: models.RoleAdmin}

	product := seedProduct(t, db, "PG-CLAIM", "1.00", 10)
	var placed []int64
	for i := 0; i < 2; i++ {
		user := seedUser(t, db, fmt.Sprintf("claim%d@example.com", i))
		addToCart(t, db, user.ID, product.ID, 1)
		order, err := service.PlaceOrder(ctx, orders.PlaceOrderRequest{UserID: user.ID, Address: validAddress()})
		if err != nil {
			t.Fatalf("Place order: %v", err)
		}
		placed = append(placed, order.ID)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	held, err := store.ClaimNextPendingOrder(ctx, tx)
	if err != nil {
		t.Fatalf("Hold first order: %v", err)
	}
	if held.ID != placed[0] {
		t.Fatalf("Expected to hold order %d, got %d", placed[0], held.ID)
	}

	claimed, err := service.ClaimNext(ctx, admin)
	if err != nil {
		t.Fatalf("Claim next: %v", err)
	}
	if claimed.ID != placed[1] {
		t.Errorf("Expected claim to skip locked order and return %d, got %d", placed[1], claimed.ID)
	}
	if claimed.Status != models.OrderStatusProcessing {
		t.Errorf("Expected processing, got %s", claimed.Status)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	_, err = service.ClaimNext(ctx, admin)
	if err != nil {
		t.Fatalf("Claim released order: %v", err)
	}
	_, err = service.ClaimNext(ctx, admin)
	if !errors.Is(err, orders.ErrNotFound) {
		t.Errorf("Expected empty queue, got: %v", err)
	}
}
