// Package auth registers users, checks their passwords, and issues the bearer
// tokens that identify them on every task request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskapi/internal/apperr"
	"taskapi/internal/models"
)

// ErrInvalidCredentials is returned when login credentials are invalid.
var ErrInvalidCredentials = apperr.New(apperr.Unauthorized, "Invalid email or password")

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Session is a user together with a freshly issued token.
type Session struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now as the source of account timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service handles authentication business logic.
type Service struct {
	users      UserStore
	hasher     *PasswordHasher
	tokens     *TokenManager
	adminEmail string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a Service. Registering with adminEmail grants the admin role.
func NewService(users UserStore, hasher *PasswordHasher, tokens *TokenManager, adminEmail string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		users:      users,
		hasher:     hasher,
		tokens:     tokens,
		adminEmail: normalizeEmail(adminEmail),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and signs the user in.
func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	role := models.RoleUser
	if s.adminEmail != "" && email == s.adminEmail {
		role = models.RoleAdmin
	}

	now := s.now().UTC()
	user, err := s.users.CreateUser(ctx, models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("role", string(user.Role)))

	return s.session(user)
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(user)
}

// Authenticate turns a bearer token into the caller's identity.
func (s *Service) Authenticate(token string) (Identity, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		msg := "Not authorized: token invalid"
		if errors.Is(err, ErrExpiredToken) {
			msg = "Not authorized: token expired"
		}
		return Identity{}, apperr.Wrap(apperr.Unauthorized, msg, err)
	}
	return id, nil
}

// Me returns the account behind an identity.
func (s *Service) Me(ctx context.Context, id Identity) (models.User, error) {
	return s.users.GetUser(ctx, id.UserID)
}

func (s *Service) session(user models.User) (Session, error) {
	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{User: user, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
