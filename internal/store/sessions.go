package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

func CreateSession(ctx context.Context, db *sql.DB, token string, userID int64, expiresAt time.Time) (*models.Session, error) {
	session := &models.Session{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING token, user_id, expires_at, created_at`,
		token, userID, expiresAt).Scan(
		&session.Token,
		&session.UserID,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return session, nil
}

// GetSessionUser resolves a live session token to its user.
func GetSessionUser(ctx context.Context, db *sql.DB, token string, now time.Time) (*models.User, error) {
	user := &models.User{}

	query := `
		SELECT u.id, u.email, u.first_name, u.last_name, u.phone, u.role, u.password_hash,
		       u.created_at, u.updated_at, u.version
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > $2`

	if err := scanUser(db.QueryRowContext(ctx, query, token, now), user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session user: %w", err)
	}

	return user, nil
}

func DeleteSession(ctx context.Context, db *sql.DB, token string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func DeleteExpiredSessions(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
