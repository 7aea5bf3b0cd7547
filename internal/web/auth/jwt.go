package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails parsing or validation
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal carried inside a token
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Email    string
	Roles    []string
}

// Claims are the JWT claims issued for an Identity
type Claims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Identity converts validated claims back into an Identity
func (c *Claims) Identity() (Identity, error) {
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: user_id", ErrInvalidToken)
	}
	tenantID, err := uuid.Parse(c.TenantID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: tenant_id", ErrInvalidToken)
	}
	return Identity{
		UserID:   userID,
		TenantID: tenantID,
		Email:    c.Email,
		Roles:    c.Roles,
	}, nil
}

// AuthService provides JWT token generation and validation
type AuthService struct {
	secretKey string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewAuthService creates a new AuthService with the given secret key and token TTL
func NewAuthService(secretKey string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// TokenTTL returns the lifetime of issued tokens
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// GenerateToken issues a signed HS256 token for the identity
func (s *AuthService) GenerateToken(id Identity) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:   id.UserID.String(),
		TenantID: id.TenantID.String(),
		Email:    id.Email,
		Roles:    id.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// ValidateToken validates a JWT token and returns its claims
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify exact signing method to prevent algorithm confusion attacks
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secretKey), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
