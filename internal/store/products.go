package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, description, category, image, price, stock_quantity,
	sizes, colors, created_at, updated_at, version`

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Category,
		&product.Image,
		&product.Price,
		&product.StockQuantity,
		&product.Sizes,
		&product.Colors,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

type NewProduct struct {
	SKU         string
	Name        string
	Description string
	Category    string
	Image       string
	Price       decimal.Decimal
	Stock       int
	Sizes       string
	Colors      string
}

func CreateProduct(ctx context.Context, db *sql.DB, p NewProduct) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, category, image, price, stock_quantity, sizes, colors,
		                      created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	row := db.QueryRowContext(ctx, query,
		p.SKU, p.Name, p.Description, p.Category, p.Image, p.Price, p.Stock, p.Sizes, p.Colors)
	if err := scanProduct(row, product); err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, database.ErrDuplicate
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q Querier, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(q.QueryRowContext(ctx, query, id), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ListProducts pages through the catalog, newest first. An empty category
// lists everything.
func ListProducts(ctx context.Context, db *sql.DB, category string, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE ($1 = '' OR category = $1)`,
		category).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ($1 = '' OR category = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, category, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

// ProductPatch lists every column an update may touch. Stock is not here:
// it changes only through AdjustStock, SetStockOptimistic and order placement.
type ProductPatch struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Image       *string          `json:"image"`
	Price       *decimal.Decimal `json:"price"`
	Sizes       *string          `json:"sizes"`
	Colors      *string          `json:"colors"`
}

func (p ProductPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if p.Price != nil && p.Price.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	return nil
}

func (p ProductPatch) assignments() ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Category != nil {
		add("category", *p.Category)
	}
	if p.Image != nil {
		add("image", *p.Image)
	}
	if p.Price != nil {
		add("price", *p.Price)
	}
	if p.Sizes != nil {
		add("sizes", *p.Sizes)
	}
	if p.Colors != nil {
		add("colors", *p.Colors)
	}
	return sets, args
}

func UpdateProduct(ctx context.Context, db *sql.DB, id int64, patch ProductPatch) (*models.Product, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	sets, args := patch.assignments()
	if len(sets) == 0 {
		return GetProduct(ctx, db, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE products
		SET %s, version = version + 1, updated_at = NOW()
		WHERE id = $%d
		RETURNING `+productColumns, strings.Join(sets, ", "), len(args))

	product := &models.Product{}
	if err := scanProduct(db.QueryRowContext(ctx, query, args...), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

// LockProduct reads a product row FOR UPDATE.
func LockProduct(ctx context.Context, tx *sql.Tx, productID int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	if err := scanProduct(tx.QueryRowContext(ctx, query, productID), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	return product, nil
}

// AdjustStock adds delta (which may be negative) to a product's stock under
// a row lock, retrying on serialization failures and deadlocks.
func AdjustStock(ctx context.Context, db *sql.DB, productID int64, delta int) (*models.Product, error) {
	var product *models.Product

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		current, err := LockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		if current.StockQuantity+delta < 0 {
			return database.ErrInsufficientStock
		}

		product = &models.Product{}
		row := tx.QueryRowContext(ctx,
			`UPDATE products
			 SET stock_quantity = stock_quantity + $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING `+productColumns,
			delta, productID)
		if err := scanProduct(row, product); err != nil {
			return fmt.Errorf("adjust stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

// SetStockOptimistic overwrites stock if the row is still at version.
func SetStockOptimistic(ctx context.Context, db *sql.DB, productID int64, newStock int, version int) (*models.Product, error) {
	if newStock < 0 {
		return nil, database.ErrInsufficientStock
	}

	product := &models.Product{}
	row := db.QueryRowContext(ctx,
		`UPDATE products
		 SET stock_quantity = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3
		 RETURNING `+productColumns,
		newStock, productID, version)

	err := scanProduct(row, product)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("set stock: %w", err)
	}

	if _, err := GetProduct(ctx, db, productID); err != nil {
		return nil, err
	}
	return nil, database.ErrOptimisticLockFailed
}

// DecrementStock never takes stock below zero: a short row count becomes
// ErrInsufficientStock. It bumps version so a stale SetStockOptimistic
// cannot overwrite the decrement.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}
