package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskapi/internal/models"
)

var (
	// ErrInvalidToken is returned when the token is malformed or badly signed.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("token signing secret is empty")
)

// TokenConfig holds JWT configuration.
type TokenConfig struct {
	SecretKey string
	TTL       time.Duration
	Issuer    string
}

// DefaultTokenConfig returns the default lifetime and issuer. SecretKey is
// left empty and must be supplied by the caller.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		TTL:    30 * 24 * time.Hour,
		Issuer: "taskapi",
	}
}

// Claims are the custom claims carried by access tokens.
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the verified caller of a request.
type Identity struct {
	UserID string
	Role   models.Role
}

// IsAdmin reports whether the caller may use administrative routes.
func (i Identity) IsAdmin() bool {
	return i.Role == models.RoleAdmin
}

// TokenManager issues and verifies HS256 tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a TokenManager with the given configuration. An
// empty SecretKey is rejected.
func NewTokenManager(config TokenConfig) (*TokenManager, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingSecret
	}
	return &TokenManager{config: config, now: time.Now}, nil
}

// Issue signs a token identifying the user.
func (m *TokenManager) Issue(userID string, role models.Role) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.SecretKey))
}

// Verify checks the signature and expiry of tokenString and returns the
// identity it carries.
func (m *TokenManager) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.SecretKey), nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(m.config.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, Role: role}, nil
}
