package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	log "github.com/sirupsen/logrus"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidEmail    = errors.New("email is not an email address")
)

type Service struct {
	db     *sql.DB
	ttl    time.Duration
	cost   int
	logger log.FieldLogger
	now    func() time.Time
}

func NewService(db *sql.DB, cfg config.AuthConfig, logger log.FieldLogger) *Service {
	return &Service{
		db:     db,
		ttl:    cfg.SessionTTL,
		cost:   cfg.BcryptCost,
		logger: logger,
		now:    time.Now,
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Register always creates customers. Admins come from the bootstrap
// account or a role change by another admin.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if !strings.Contains(in.Email, "@") {
		return nil, ErrInvalidEmail
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}

	user, err := store.CreateUser(ctx, s.db, store.NewUser{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         models.RoleCustomer,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// Login checks credentials and opens a session. Unknown emails and wrong
// passwords both give ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Session, *models.User, error) {
	user, err := store.GetUserByEmail(ctx, s.db, email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := CheckPassword(user.PasswordHash, password); err != nil {
		s.logger.WithField("user_id", user.ID).Warn("login rejected")
		return nil, nil, err
	}

	session, err := store.CreateSession(ctx, s.db, uuid.NewString(), user.ID, s.now().Add(s.ttl))
	if err != nil {
		return nil, nil, err
	}

	return session, user, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return store.DeleteSession(ctx, s.db, token)
}

// Authenticate resolves a bearer token. Unknown or expired tokens give
// ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	user, err := store.GetSessionUser(ctx, s.db, token, s.now())
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return Identity{}, ErrUnauthenticated
		}
		return Identity{}, err
	}

	if !user.Role.Valid() {
		s.logger.WithFields(log.Fields{"user_id": user.ID, "role": user.Role}).Error("user has unknown role")
		return Identity{}, ErrUnauthenticated
	}

	return Identity{UserID: user.ID, Role: user.Role}, nil
}

// BootstrapAdmin makes sure the configured admin account exists.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) (*models.User, error) {
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}

	user, err := store.EnsureAdmin(ctx, s.db, email, hash)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("admin account ensured")
	return user, nil
}

// PurgeExpired deletes sessions past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return store.DeleteExpiredSessions(ctx, s.db, s.now())
}
