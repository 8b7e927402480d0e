package orders

import (
	"context"
	"database/sql"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

// Repository is the persistence the order service needs. Writes happen
// only inside InTx; a non-nil error from fn rolls everything back.
type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	GetOrder(ctx context.Context, orderID, ownerID int64) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64, page, pageSize int) (*store.OffsetPage, error)
	CartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
}

// Tx is one unit of work. Lookups that miss return the database package
// sentinels (ErrOrderNotFound, ErrInsufficientStock).
type Tx interface {
	LockCart(ctx context.Context, userID int64) ([]models.CartLine, error)
	FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (int64, bool, error)
	InsertOrder(ctx context.Context, o store.NewOrder) (int64, error)
	InsertOrderItem(ctx context.Context, item models.OrderItem) error
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	ClearCart(ctx context.Context, userID int64) (int64, error)
	LockOrder(ctx context.Context, orderID, ownerID int64) (*models.Order, error)
	SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error)
	ClaimNextPending(ctx context.Context) (*models.Order, error)
}

type pgRepository struct {
	db *sql.DB
}

// NewPostgresRepository runs each unit of work in a read-committed
// transaction with no automatic retry.
func NewPostgresRepository(db *sql.DB) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) InTx(ctx context.Context, fn func(Tx) error) error {
	return database.WithTransaction(ctx, r.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (r *pgRepository) GetOrder(ctx context.Context, orderID, ownerID int64) (*models.Order, error) {
	return store.GetOrder(ctx, r.db, orderID, ownerID)
}

func (r *pgRepository) ListOrders(ctx context.Context, userID int64, page, pageSize int) (*store.OffsetPage, error) {
	return store.ListOrders(ctx, r.db, userID, page, pageSize)
}

func (r *pgRepository) CartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return store.CartLines(ctx, r.db, userID)
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return store.LockCartLines(ctx, t.tx, userID)
}

func (t *pgTx) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (int64, bool, error) {
	return store.FindOrderByIdempotencyKey(ctx, t.tx, userID, key)
}

func (t *pgTx) InsertOrder(ctx context.Context, o store.NewOrder) (int64, error) {
	return store.InsertOrder(ctx, t.tx, o)
}

func (t *pgTx) InsertOrderItem(ctx context.Context, item models.OrderItem) error {
	return store.InsertOrderItem(ctx, t.tx, item)
}

func (t *pgTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	return store.DecrementStock(ctx, t.tx, productID, quantity)
}

func (t *pgTx) ClearCart(ctx context.Context, userID int64) (int64, error) {
	return store.ClearCart(ctx, t.tx, userID)
}

func (t *pgTx) LockOrder(ctx context.Context, orderID, ownerID int64) (*models.Order, error) {
	return store.LockOrder(ctx, t.tx, orderID, ownerID)
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	return store.SetOrderStatus(ctx, t.tx, orderID, status)
}

func (t *pgTx) ClaimNextPending(ctx context.Context) (*models.Order, error) {
	return store.ClaimNextPendingOrder(ctx, t.tx)
}
