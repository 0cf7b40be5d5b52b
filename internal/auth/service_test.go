package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskapi/internal/apperr"
	"taskapi/internal/models"
)

// memoryUsers is an in-memory UserStore.
type memoryUsers struct {
	mu      sync.Mutex
	byID    map[string]models.User
	byEmail map[string]string
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[string]models.User{}, byEmail: map[string]string{}}
}

func (m *memoryUsers) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[u.Email]; ok {
		return models.User{}, apperr.New(apperr.Conflict, "User already exists")
	}
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return u, nil
}

func (m *memoryUsers) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return models.User{}, apperr.New(apperr.NotFound, "User not found")
	}
	return u, nil
}

func (m *memoryUsers) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.Lock()
	id, ok := m.byEmail[email]
	m.mu.Unlock()
	if !ok {
		return models.User{}, apperr.New(apperr.NotFound, "User not found")
	}
	return m.GetUser(ctx, id)
}

func newTestService(t *testing.T, adminEmail string, opts ...Option) *Service {
	t.Helper()

	return NewService(newMemoryUsers(), NewPasswordHasher(bcrypt.MinCost), newTestTokenManager(t, testTokenConfig()),
		adminEmail, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	registered, err := svc.Register(ctx, "  Grace@Example.com ", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", registered.User.Email)
	assert.Equal(t, models.RoleUser, registered.User.Role)
	assert.NotEqual(t, "s3cretpass", registered.User.PasswordHash)
	assert.NotEmpty(t, registered.Token)

	session, err := svc.Login(ctx, "GRACE@example.com", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, session.User.ID)

	id, err := svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, id.UserID)

	me, err := svc.Me(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", me.Email)
}

func TestService_RegisterDuplicate(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, "dup@example.com", "password1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "DUP@example.com", "password2")
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestService_AdminEmail(t *testing.T) {
	svc := newTestService(t, "Boss@Example.com")
	ctx := context.Background()

	admin, err := svc.Register(ctx, "boss@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.User.Role)

	id, err := svc.Authenticate(admin.Token)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())

	regular, err := svc.Register(ctx, "worker@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, regular.User.Role)
}

func TestService_LoginFailures(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, "known@example.com", "password1")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "known@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "unknown@example.com", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))
}

func TestService_AuthenticateRejectsBadToken(t *testing.T) {
	svc := newTestService(t, "")

	_, err := svc.Authenticate("garbage")
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidToken)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Not authorized: token invalid", appErr.Message)
}

func TestService_RegisterUsesClock(t *testing.T) {
	joined := time.Date(2024, 2, 29, 18, 30, 0, 0, time.UTC)
	svc := newTestService(t, "", WithClock(func() time.Time { return joined }))

	session, err := svc.Register(context.Background(), "clock@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, joined, session.User.CreatedAt)
	assert.Equal(t, joined, session.User.UpdatedAt)
}
