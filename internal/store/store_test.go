package store_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/database/dbtest"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
)

func createUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, store.NewUser{
		Email:        email,
		PasswordHash: "hash",
		Role:         models.RoleCustomer,
	})
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func createProduct(t *testing.T, db *sql.DB, sku string, price int64, stock int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, store.NewProduct{
		SKU:      sku,
		Name:     "Test " + sku,
		Category: "Test",
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func TestConcurrentStockAdjustment(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	product := createProduct(t, db, "TEST-001", 100, 10)

	concurrency := 8
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AdjustStock(ctx, db, product.ID, -2); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	successCount := concurrency
	for err := range errs {
		if !errors.Is(err, database.ErrInsufficientStock) && !database.IsRetryable(err) {
			t.Errorf("Unexpected error: %v", err)
		}
		successCount--
	}

	if successCount > 5 {
		t.Errorf("Oversold: %d adjustments of 2 against stock 10", successCount)
	}

	finalProduct, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if expected := 10 - successCount*2; finalProduct.StockQuantity != expected {
		t.Errorf("Expected stock %d, got %d", expected, finalProduct.StockQuantity)
	}
	if finalProduct.Version != 1+successCount {
		t.Errorf("Expected version %d, got %d", 1+successCount, finalProduct.Version)
	}
}

func TestOptimisticLocking(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	product := createProduct(t, db, "TEST-002", 100, 50)

	updated, err := store.SetStockOptimistic(ctx, db, product.ID, 40, product.Version)
	if err != nil {
		t.Fatalf("First update should succeed: %v", err)
	}
	if updated.StockQuantity != 40 || updated.Version != product.Version+1 {
		t.Errorf("Expected stock 40 at version %d, got %d at %d", product.Version+1, updated.StockQuantity, updated.Version)
	}

	_, err = store.SetStockOptimistic(ctx, db, product.ID, 30, product.Version)
	if err != database.ErrOptimisticLockFailed {
		t.Errorf("Expected optimistic lock failure, got: %v", err)
	}

	_, err = store.SetStockOptimistic(ctx, db, product.ID+1000, 30, 1)
	if err != database.ErrProductNotFound {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestDecrementStockInvalidatesStaleVersion(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	product := createProduct(t, db, "TEST-STALE", 100, 5)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.DecrementStock(ctx, tx, product.ID, 3)
	})
	if err != nil {
		t.Fatalf("Decrement stock: %v", err)
	}

	_, err = store.SetStockOptimistic(ctx, db, product.ID, 5, product.Version)
	if err != database.ErrOptimisticLockFailed {
		t.Errorf("Expected optimistic lock failure, got: %v", err)
	}

	current, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if current.StockQuantity != 2 || current.Version != product.Version+1 {
		t.Errorf("Expected stock 2 at version %d, got %d at %d", product.Version+1, current.StockQuantity, current.Version)
	}
}

func TestStockNeverNegative(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	product := createProduct(t, db, "TEST-003", 100, 3)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.DecrementStock(ctx, tx, product.ID, 4)
	})
	if err != database.ErrInsufficientStock {
		t.Errorf("Expected insufficient stock, got: %v", err)
	}

	_, err = db.ExecContext(ctx, `UPDATE products SET stock_quantity = -1 WHERE id = $1`, product.ID)
	if !database.IsCheckViolation(err) {
		t.Errorf("Expected check violation, got: %v", err)
	}
}

func TestDuplicateSKU(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	createProduct(t, db, "TEST-DUP", 10, 1)

	_, err := store.CreateProduct(ctx, db, store.NewProduct{SKU: "TEST-DUP", Name: "Again", Price: decimal.NewFromInt(1)})
	if err != database.ErrDuplicate {
		t.Errorf("Expected duplicate, got: %v", err)
	}
}

func TestUpdateProductPatch(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	product := createProduct(t, db, "TEST-PATCH", 10, 7)

	name := "Renamed"
	price := decimal.RequireFromString("12.75")
	updated, err := store.UpdateProduct(ctx, db, product.ID, store.ProductPatch{Name: &name, Price: &price})
	if err != nil {
		t.Fatalf("Update product: %v", err)
	}

	if updated.Name != "Renamed" || !updated.Price.Equal(price) {
		t.Errorf("Patch not applied: %+v", updated)
	}
	if updated.Category != "Test" || updated.StockQuantity != 7 {
		t.Errorf("Untouched columns changed: %+v", updated)
	}

	blank := "  "
	if _, err := store.UpdateProduct(ctx, db, product.ID, store.ProductPatch{Name: &blank}); err == nil {
		t.Errorf("Expected blank name to be rejected")
	}
}

func TestListProductsByCategory(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		createProduct(t, db, fmt.Sprintf("LIST-%d", i), 10, 1)
	}
	if _, err := store.CreateProduct(ctx, db, store.NewProduct{SKU: "OTHER", Name: "Other", Category: "Other", Price: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("Create product: %v", err)
	}

	page, err := store.ListProducts(ctx, db, "Test", 1, 2)
	if err != nil {
		t.Fatalf("List products: %v", err)
	}

	if page.Total != 3 || page.TotalPages != 2 {
		t.Errorf("Expected 3 products over 2 pages, got %d over %d", page.Total, page.TotalPages)
	}
	if items := page.Items.([]models.Product); len(items) != 2 {
		t.Errorf("Expected 2 items on first page, got %d", len(items))
	}
}

func TestCartMergeAndStockLimit(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	user := createUser(t, db, "cart@example.com")
	product := createProduct(t, db, "CART-001", 25, 5)

	if _, err := store.AddCartItem(ctx, db, user.ID, product.ID, 2, "M", "red"); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}
	merged, err := store.AddCartItem(ctx, db, user.ID, product.ID, 2, "M", "red")
	if err != nil {
		t.Fatalf("Merge cart item: %v", err)
	}
	if merged.Quantity != 4 {
		t.Errorf("Expected merged quantity 4, got %d", merged.Quantity)
	}
	if !merged.ProductPrice.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected joined price 25, got %s", merged.ProductPrice)
	}

	if _, err := store.AddCartItem(ctx, db, user.ID, product.ID, 1, "L", "red"); err != nil {
		t.Fatalf("Add second variant: %v", err)
	}

	_, err = store.AddCartItem(ctx, db, user.ID, product.ID, 2, "M", "red")
	if err != database.ErrInsufficientStock {
		t.Errorf("Expected insufficient stock, got: %v", err)
	}

	items, err := store.ListCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("List cart: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 cart lines, got %d", len(items))
	}
	for _, item := range items {
		if item.Size == "M" && item.Quantity != 4 {
			t.Errorf("Rejected add should not change quantity, got %d", item.Quantity)
		}
	}
}

func TestCartItemOwnership(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	owner := createUser(t, db, "owner@example.com")
	other := createUser(t, db, "other@example.com")
	product := createProduct(t, db, "CART-002", 10, 10)

	item, err := store.AddCartItem(ctx, db, owner.ID, product.ID, 1, "", "")
	if err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	if _, err := store.UpdateCartItemQuantity(ctx, db, other.ID, item.ID, 3); err != database.ErrCartItemNotFound {
		t.Errorf("Expected cart item not found for other user, got: %v", err)
	}
	if err := store.RemoveCartItem(ctx, db, other.ID, item.ID); err != database.ErrCartItemNotFound {
		t.Errorf("Expected cart item not found on foreign remove, got: %v", err)
	}

	if _, err := store.UpdateCartItemQuantity(ctx, db, owner.ID, item.ID, 11); err != database.ErrInsufficientStock {
		t.Errorf("Expected insufficient stock, got: %v", err)
	}

	updated, err := store.UpdateCartItemQuantity(ctx, db, owner.ID, item.ID, 6)
	if err != nil {
		t.Fatalf("Update quantity: %v", err)
	}
	if updated.Quantity != 6 {
		t.Errorf("Expected quantity 6, got %d", updated.Quantity)
	}

	if err := store.RemoveCartItem(ctx, db, owner.ID, item.ID); err != nil {
		t.Fatalf("Remove cart item: %v", err)
	}
	removed, err := store.ClearCart(ctx, db, owner.ID)
	if err != nil {
		t.Fatalf("Clear cart: %v", err)
	}
	if removed != 0 {
		t.Errorf("Expected empty cart after remove, cleared %d", removed)
	}
}

func TestLockCartLinesOrdersByProduct(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	user := createUser(t, db, "lines@example.com")
	second := createProduct(t, db, "LINES-B", 3, 10)
	first := createProduct(t, db, "LINES-A", 2, 10)

	for _, p := range []*models.Product{first, second} {
		if _, err := store.AddCartItem(ctx, db, user.ID, p.ID, 1, "", ""); err != nil {
			t.Fatalf("Add cart item: %v", err)
		}
	}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		lines, err := store.LockCartLines(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if len(lines) != 2 {
			return fmt.Errorf("expected 2 lines, got %d", len(lines))
		}
		if lines[0].ProductID > lines[1].ProductID {
			return fmt.Errorf("lines not ordered by product id: %d before %d", lines[0].ProductID, lines[1].ProductID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Lock cart lines: %v", err)
	}
}

func TestUsersAndSessions(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	user := createUser(t, db, "Mixed.Case@Example.com")
	if user.Email != "mixed.case@example.com" {
		t.Errorf("Expected lower-cased email, got %q", user.Email)
	}

	_, err := store.CreateUser(ctx, db, store.NewUser{Email: "MIXED.case@example.com", PasswordHash: "x", Role: models.RoleCustomer})
	if err != database.ErrDuplicate {
		t.Errorf("Expected duplicate email, got: %v", err)
	}

	now := time.Now()
	if _, err := store.CreateSession(ctx, db, "live-token", user.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	if _, err := store.CreateSession(ctx, db, "stale-token", user.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("Create session: %v", err)
	}

	found, err := store.GetSessionUser(ctx, db, "live-token", now)
	if err != nil {
		t.Fatalf("Get session user: %v", err)
	}
	if found.ID != user.ID {
		t.Errorf("Expected user %d, got %d", user.ID, found.ID)
	}

	if _, err := store.GetSessionUser(ctx, db, "stale-token", now); err != database.ErrSessionNotFound {
		t.Errorf("Expected expired session to be rejected, got: %v", err)
	}

	purged, err := store.DeleteExpiredSessions(ctx, db, now)
	if err != nil {
		t.Fatalf("Delete expired sessions: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 expired session purged, got %d", purged)
	}

	if err := store.DeleteSession(ctx, db, "live-token"); err != nil {
		t.Fatalf("Delete session: %v", err)
	}
	if _, err := store.GetSessionUser(ctx, db, "live-token", now); err != database.ErrSessionNotFound {
		t.Errorf("Expected deleted session to be gone, got: %v", err)
	}
}

func TestEnsureAdminPromotes(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	user := createUser(t, db, "boss@example.com")

	admin, err := store.EnsureAdmin(ctx, db, "boss@example.com", "other-hash")
	if err != nil {
		t.Fatalf("Ensure admin: %v", err)
	}
	if admin.ID != user.ID || admin.Role != models.RoleAdmin {
		t.Errorf("Expected user %d promoted to admin, got %d as %s", user.ID, admin.ID, admin.Role)
	}
	if admin.PasswordHash != "hash" {
		t.Errorf("Existing password hash should be kept")
	}

	demoted, err := store.UpdateUserRole(ctx, db, admin.ID, models.RoleCustomer)
	if err != nil {
		t.Fatalf("Update role: %v", err)
	}
	if demoted.Role != models.RoleCustomer {
		t.Errorf("Expected customer, got %s", demoted.Role)
	}
}

func TestSiteInfoPatch(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	info, err := store.GetSiteInfo(ctx, db)
	if err != nil {
		t.Fatalf("Get site info: %v", err)
	}
	if info.Name != "Storefront" {
		t.Errorf("Expected seeded name, got %q", info.Name)
	}

	email := "hello@example.com"
	updated, err := store.UpdateSiteInfo(ctx, db, store.SiteInfoPatch{ContactEmail: &email})
	if err != nil {
		t.Fatalf("Update site info: %v", err)
	}
	if updated.ContactEmail != email || updated.Name != "Storefront" {
		t.Errorf("Unexpected site info after patch: %+v", updated)
	}

	bad := "not-an-email"
	if _, err := store.UpdateSiteInfo(ctx, db, store.SiteInfoPatch{ContactEmail: &bad}); err == nil {
		t.Errorf("Expected invalid email to be rejected")
	}
}

func TestAnalyticsEventsAndSummary(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	user := createUser(t, db, "analytics@example.com")
	product := createProduct(t, db, "AN-001", 20, 100)

	for i := 0; i < 5; i++ {
		data := json.RawMessage(fmt.Sprintf(`{"n": %d}`, i))
		if _, err := store.InsertEvent(ctx, db, "page_view", &user.ID, data); err != nil {
			t.Fatalf("Insert event: %v", err)
		}
	}
	if _, err := store.InsertEvent(ctx, db, "search", nil, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Insert event: %v", err)
	}

	first, err := store.ListEventsCursor(ctx, db, "page_view", "", 3)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if !first.HasMore || first.NextCursor == "" {
		t.Fatalf("Expected a second page")
	}
	second, err := store.ListEventsCursor(ctx, db, "page_view", first.NextCursor, 3)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if second.HasMore {
		t.Errorf("Expected last page")
	}
	if n := len(first.Items.([]models.AnalyticsEvent)) + len(second.Items.([]models.AnalyticsEvent)); n != 5 {
		t.Errorf("Expected 5 page_view events across pages, got %d", n)
	}

	place := func(status models.OrderStatus, qty int) {
		err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			total := product.Price.Mul(decimal.NewFromInt(int64(qty)))
			orderID, err := store.InsertOrder(ctx, tx, store.NewOrder{
				UserID:      user.ID,
				OrderNumber: fmt.Sprintf("ORD-%s-%d", status, qty),
				Total:       total,
				Country:     "KH",
			})
			if err != nil {
				return err
			}
			if err := store.InsertOrderItem(ctx, tx, models.OrderItem{
				OrderID:   orderID,
				ProductID: product.ID,
				Quantity:  qty,
				UnitPrice: product.Price,
				Subtotal:  total,
			}); err != nil {
				return err
			}
			if status != models.OrderStatusPending {
				_, err = store.SetOrderStatus(ctx, tx, orderID, status)
			}
			return err
		})
		if err != nil {
			t.Fatalf("Place order: %v", err)
		}
	}
	place(models.OrderStatusPending, 2)
	place(models.OrderStatusShipped, 3)
	place(models.OrderStatusCancelled, 10)

	summary, err := store.AnalyticsSummary(ctx, db, 5)
	if err != nil {
		t.Fatalf("Analytics summary: %v", err)
	}

	if !summary.Revenue.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected revenue 100 excluding cancelled, got %s", summary.Revenue)
	}
	if len(summary.OrdersByStatus) != 3 {
		t.Errorf("Expected 3 status buckets, got %d", len(summary.OrdersByStatus))
	}
	if len(summary.TopProducts) != 1 || summary.TopProducts[0].Quantity != 5 {
		t.Errorf("Expected one top product with 5 units, got %+v", summary.TopProducts)
	}
	if summary.EventsByType["page_view"] != 5 || summary.EventsByType["search"] != 1 {
		t.Errorf("Unexpected event counts: %v", summary.EventsByType)
	}
}

func TestListOrdersScopedToUser(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice@example.com")
	bob := createUser(t, db, "bob@example.com")

	for i, user := range []*models.User{alice, alice, bob} {
		err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			_, err := store.InsertOrder(ctx, tx, store.NewOrder{
				UserID:      user.ID,
				OrderNumber: fmt.Sprintf("ORD-LIST-%d", i),
				Total:       decimal.NewFromInt(1),
				Country:     "KH",
			})
			return err
		})
		if err != nil {
			t.Fatalf("Insert order: %v", err)
		}
	}

	page, err := store.ListOrders(ctx, db, alice.ID, 1, 10)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("Expected 2 orders for alice, got %d", page.Total)
	}

	all, err := store.ListOrders(ctx, db, 0, 1, 10)
	if err != nil {
		t.Fatalf("List all orders: %v", err)
	}
	if all.Total != 3 {
		t.Errorf("Expected 3 orders in total, got %d", all.Total)
	}

	if _, err := store.GetOrder(ctx, db, page.Items.([]models.Order)[0].ID, bob.ID); err != database.ErrOrderNotFound {
		t.Errorf("Expected bob not to see alice's order, got: %v", err)
	}
}
