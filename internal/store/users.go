package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const userColumns = `id, email, first_name, last_name, phone, role, password_hash, created_at, updated_at, version`

func scanUser(row rowScanner, user *models.User) error {
	return row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
}

type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Role         models.Role
}

// CreateUser stores emails lower-cased. A taken email gives ErrDuplicate.
func CreateUser(ctx context.Context, db *sql.DB, u NewUser) (*models.User, error) {
	if !u.Role.Valid() {
		return nil, fmt.Errorf("create user: invalid role %q", u.Role)
	}

	user := &models.User{}

	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, phone, role, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	row := db.QueryRowContext(ctx, query,
		normalizeEmail(u.Email), u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.Role)
	if err := scanUser(row, user); err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, database.ErrDuplicate
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q Querier, id int64) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	if err := scanUser(q.QueryRowContext(ctx, query, id), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*models.User, error) {
	user := &models.User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	if err := scanUser(db.QueryRowContext(ctx, query, normalizeEmail(email)), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return user, nil
}

func ListUsers(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}

func UpdateUserRole(ctx context.Context, db *sql.DB, id int64, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("update user role: invalid role %q", role)
	}

	user := &models.User{}
	row := db.QueryRowContext(ctx,
		`UPDATE users
		 SET role = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+userColumns,
		role, id)
	if err := scanUser(row, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("update user role: %w", err)
	}

	return user, nil
}

// EnsureAdmin creates the bootstrap admin or promotes an existing account
// with that email. An existing password is left alone.
func EnsureAdmin(ctx context.Context, db *sql.DB, email, passwordHash string) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, password_hash, role, created_at, updated_at, version)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		ON CONFLICT (email) DO UPDATE
		SET role = EXCLUDED.role, updated_at = NOW(), version = users.version + 1
		RETURNING ` + userColumns

	row := db.QueryRowContext(ctx, query, normalizeEmail(email), passwordHash, models.RoleAdmin)
	if err := scanUser(row, user); err != nil {
		return nil, fmt.Errorf("ensure admin: %w", err)
	}

	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
