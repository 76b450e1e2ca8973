// Package auth authenticates operators of the admin API with HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// RoleAdmin grants access to the admin API
const RoleAdmin = "admin"

// Identity is the authenticated operator
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type adminClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// TokenService issues and validates admin tokens
type TokenService struct {
	signingKey []byte
	issuer     string
	expiry     time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service. The key must be at least 32 bytes.
func NewTokenService(signingKey, issuer string, expiry time.Duration) (*TokenService, error) {
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("jwt signing key must be at least 32 characters")
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		expiry:     expiry,
		now:        time.Now,
	}, nil
}

// CreateToken signs a token for identity
func (s *TokenService) CreateToken(identity Identity) (string, error) {
	now := s.now()
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Email: identity.Email,
		Role:  identity.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// ValidateToken parses and verifies tokenString
func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &adminClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*adminClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
