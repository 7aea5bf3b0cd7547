// Package users registers tenant users and issues login tokens.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/apperr"
	"github.com/hireflow/hireflow/internal/ats/tenants"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/auth"
)

// ErrInvalidCredentials is returned by Login for any unknown tenant, email
// or password so callers cannot probe which part was wrong
var ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)

// User is a person who signs in to a tenant
type User struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists users
type Store struct {
	db *sql.DB
}

// NewStore creates a user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert adds a user. A duplicate email within the tenant returns store.ErrUniqueViolation.
func (s *Store) Insert(ctx context.Context, u *User) error {
	_, err := store.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, name, password_hash, roles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.TenantID, u.Email, u.Name, u.PasswordHash, pq.Array(u.Roles), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", store.ConvertDBError(err))
	}
	return nil
}

// GetByEmail finds a user of the tenant by lower-cased email
func (s *Store) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, name, password_hash, roles, created_at
		FROM users WHERE tenant_id = $1 AND email = $2`,
		tenantID, strings.ToLower(email),
	).Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, pq.Array(&u.Roles), &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// TenantLookup resolves tenants by slug
type TenantLookup interface {
	GetBySlug(ctx context.Context, slug string) (*tenants.Tenant, error)
}

// Service registers users and logs them in
type Service struct {
	users   *Store
	tenants TenantLookup
	tokens  *auth.AuthService
	logger  *zap.Logger
	now     func() time.Time

	// dummyHash is compared against when the user does not exist so that
	// Login takes the same time either way
	dummyHash string
}

// NewService creates a user service
func NewService(users *Store, tenants TenantLookup, tokens *auth.AuthService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, _ := auth.HashPassword("not-a-real-password")
	return &Service{
		users:     users,
		tenants:   tenants,
		tokens:    tokens,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummy,
	}
}

// Register creates a user in tenantID
func (s *Service) Register(ctx context.Context, tenantID uuid.UUID, email, name, password string, roles []string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	errs := validation.New()
	errs.Email("email", email)
	errs.Required("name", name)
	errs.MaxLength("name", name, 200)
	if len(password) < auth.MinPasswordLength {
		errs.Add("password", fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	} else if len(password) > 72 {
		errs.Add("password", "must be at most 72 bytes")
	}
	if len(roles) == 0 {
		errs.Add("roles", "at least one role is required")
	}
	for _, r := range roles {
		if !auth.ValidRole(r) {
			errs.Add("roles", "unknown role "+r)
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Insert(ctx, u); err != nil {
		if store.IsUniqueViolation(err) {
			errs.Add("email", "is already registered")
			return nil, errs.Err()
		}
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", u.ID.String()), zap.String("tenant_id", tenantID.String()))
	return u, nil
}

// LoginResult is returned on successful login
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Login verifies credentials and issues a token
func (s *Service) Login(ctx context.Context, tenantSlug, email, password string) (*LoginResult, error) {
	tenant, err := s.tenants.GetBySlug(ctx, tenantSlug)
	if err != nil {
		if store.IsNotFound(err) {
			auth.CheckPassword(password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, tenant.ID, strings.TrimSpace(email))
	if err != nil {
		if store.IsNotFound(err) {
			auth.CheckPassword(password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !auth.CheckPassword(password, u.PasswordHash) {
		s.logger.Info("failed login", zap.String("tenant_id", tenant.ID.String()), zap.String("user_id", u.ID.String()))
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(auth.Identity{
		UserID:   u.ID,
		TenantID: u.TenantID,
		Email:    u.Email,
		Roles:    u.Roles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &LoginResult{Token: token, ExpiresAt: s.now().Add(s.tokens.TokenTTL()).UTC(), User: u}, nil
}
