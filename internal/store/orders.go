package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

// IdempotencyConstraint is the unique constraint on (user_id, idempotency_key).
const IdempotencyConstraint = "orders_user_id_idempotency_key_key"

const orderColumns = `id, user_id, order_number, status, total_amount, shipping_address, shipping_city,
	shipping_postal_code, shipping_country, COALESCE(idempotency_key, ''), created_at, updated_at, version`

func scanOrder(row rowScanner, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.ShippingCity,
		&order.ShippingPostalCode,
		&order.ShippingCountry,
		&order.IdempotencyKey,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
}

type NewOrder struct {
	UserID          int64
	OrderNumber     string
	Total           decimal.Decimal
	ShippingAddress string
	ShippingCity    string
	PostalCode      string
	Country         string
	IdempotencyKey  string
}

func InsertOrder(ctx context.Context, tx *sql.Tx, o NewOrder) (int64, error) {
	key := sql.NullString{String: o.IdempotencyKey, Valid: o.IdempotencyKey != ""}

	var orderID int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, total_amount, shipping_address, shipping_city,
		                     shipping_postal_code, shipping_country, idempotency_key, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
		 RETURNING id`,
		o.UserID, o.OrderNumber, models.OrderStatusPending, o.Total, o.ShippingAddress, o.ShippingCity,
		o.PostalCode, o.Country, key).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}

	return orderID, nil
}

func InsertOrderItem(ctx context.Context, tx *sql.Tx, item models.OrderItem) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, size, color, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal, item.Size, item.Color)
	if err != nil {
		return fmt.Errorf("create order item: %w", err)
	}
	return nil
}

// FindOrderByIdempotencyKey returns the id of the order userID already
// placed under key.
func FindOrderByIdempotencyKey(ctx context.Context, q Querier, userID int64, key string) (int64, bool, error) {
	var orderID int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find order by idempotency key: %w", err)
	}
	return orderID, true, nil
}

// LockOrder reads an order FOR UPDATE. A non-zero ownerID restricts the
// match to that user's orders; a mismatch is indistinguishable from a
// missing order.
func LockOrder(ctx context.Context, tx *sql.Tx, orderID, ownerID int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 AND ($2::BIGINT = 0 OR user_id = $2)
		FOR UPDATE`

	if err := scanOrder(tx.QueryRowContext(ctx, query, orderID, ownerID), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return order, nil
}

func SetOrderStatus(ctx context.Context, tx *sql.Tx, orderID int64, status models.OrderStatus) (*models.Order, error) {
	order := &models.Order{}

	row := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+orderColumns,
		status, orderID)
	if err := scanOrder(row, order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("set order status: %w", err)
	}

	return order, nil
}

// ClaimNextPendingOrder locks the oldest pending order that no other
// transaction holds. ErrOrderNotFound means the queue is empty.
func ClaimNextPendingOrder(ctx context.Context, tx *sql.Tx) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		ORDER BY created_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT 1`

	if err := scanOrder(tx.QueryRowContext(ctx, query, models.OrderStatusPending), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get next pending order: %w", err)
	}

	return order, nil
}

// GetOrder loads an order with its line items. A non-zero ownerID hides
// other users' orders.
func GetOrder(ctx context.Context, q Querier, id, ownerID int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 AND ($2::BIGINT = 0 OR user_id = $2)`

	if err := scanOrder(q.QueryRowContext(ctx, query, id, ownerID), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := orderItems(ctx, q, []int64{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

// ListOrders pages orders newest-updated first with their items. userID 0
// lists every user's orders.
func ListOrders(ctx context.Context, q Querier, userID int64, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1::BIGINT = 0 OR user_id = $1)`,
		userID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::BIGINT = 0 OR user_id = $1)
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	var ids []int64
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if len(ids) > 0 {
		items, err := orderItems(ctx, q, ids)
		if err != nil {
			return nil, err
		}
		for i := range orders {
			orders[i].Items = items[orders[i].ID]
		}
	}

	return newOffsetPage(orders, total, page, pageSize), nil
}

// orderItems loads the items of several orders in one query, joined with
// the product's current name and image.
func orderItems(ctx context.Context, q Querier, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	query := `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.subtotal,
		       oi.size, oi.color, p.name, p.image, oi.created_at
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.id`

	rows, err := q.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]models.OrderItem, len(orderIDs))
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.Size,
			&item.Color,
			&item.ProductName,
			&item.ProductImage,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}
