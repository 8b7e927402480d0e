package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

func ListCart(ctx context.Context, q Querier, userID int64) ([]models.CartItem, error) {
	query := `
		SELECT ci.id, ci.user_id, ci.product_id, ci.quantity, ci.size, ci.color,
		       p.name, p.price, p.image, p.stock_quantity, ci.created_at, ci.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.created_at, ci.id`

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ProductID,
			&item.Quantity,
			&item.Size,
			&item.Color,
			&item.ProductName,
			&item.ProductPrice,
			&item.ProductImage,
			&item.ProductStock,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func getCartItem(ctx context.Context, q Querier, userID, itemID int64) (*models.CartItem, error) {
	items, err := ListCart(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], nil
		}
	}
	return nil, database.ErrCartItemNotFound
}

// AddCartItem merges into an existing (product, size, color) line. The
// merged quantity may not exceed current stock.
func AddCartItem(ctx context.Context, db *sql.DB, userID, productID int64, quantity int, size, color string) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("add cart item: quantity must be positive")
	}

	var item *models.CartItem
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		product, err := GetProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		var itemID int64
		var merged int
		err = tx.QueryRowContext(ctx,
			`INSERT INTO cart_items (user_id, product_id, quantity, size, color, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 ON CONFLICT (user_id, product_id, size, color) DO UPDATE
			 SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
			 RETURNING id, quantity`,
			userID, productID, quantity, size, color).Scan(&itemID, &merged)
		if err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}

		if merged > product.StockQuantity {
			return database.ErrInsufficientStock
		}

		item, err = getCartItem(ctx, tx, userID, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// UpdateCartItemQuantity only touches items owned by userID; anything else
// is ErrCartItemNotFound.
func UpdateCartItemQuantity(ctx context.Context, db *sql.DB, userID, itemID int64, quantity int) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("update cart item: quantity must be positive")
	}

	var item *models.CartItem
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var stock int
		err := tx.QueryRowContext(ctx,
			`UPDATE cart_items ci
			 SET quantity = $1, updated_at = NOW()
			 FROM products p
			 WHERE ci.id = $2 AND ci.user_id = $3 AND p.id = ci.product_id
			 RETURNING p.stock_quantity`,
			quantity, itemID, userID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrCartItemNotFound
			}
			return fmt.Errorf("update cart item: %w", err)
		}

		if quantity > stock {
			return database.ErrInsufficientStock
		}

		item, err = getCartItem(ctx, tx, userID, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

func RemoveCartItem(ctx context.Context, db *sql.DB, userID, itemID int64) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND user_id = $2`,
		itemID, userID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCartItemNotFound
	}

	return nil
}

func ClearCart(ctx context.Context, q Querier, userID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

const cartLinesQuery = `
	SELECT ci.id, p.id, p.name, ci.quantity, ci.size, ci.color, p.price, p.stock_quantity
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	WHERE ci.user_id = $1
	ORDER BY p.id, ci.id`

// CartLines reads checkout lines without locking.
func CartLines(ctx context.Context, q Querier, userID int64) ([]models.CartLine, error) {
	return queryCartLines(ctx, q, cartLinesQuery, userID)
}

// LockCartLines reads checkout lines and locks both the cart rows and the
// product rows. Rows come back in product id order so every checkout takes
// product locks in the same order.
func LockCartLines(ctx context.Context, tx *sql.Tx, userID int64) ([]models.CartLine, error) {
	return queryCartLines(ctx, tx, cartLinesQuery+`
	FOR UPDATE OF ci, p`, userID)
}

func queryCartLines(ctx context.Context, q Querier, query string, userID int64) ([]models.CartLine, error) {
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart lines: %w", err)
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		var line models.CartLine
		err := rows.Scan(
			&line.CartItemID,
			&line.ProductID,
			&line.ProductName,
			&line.Quantity,
			&line.Size,
			&line.Color,
			&line.UnitPrice,
			&line.Stock,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}
