package jwt

import (
	"context"
	"testing"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements TokenStore for testing.
type mockStore struct {
	tokens map[string]*domain.RefreshToken
	users  map[string]*domain.User
}

func newMockStore() *mockStore {
	return &mockStore{
		tokens: make(map[string]*domain.RefreshToken),
		users:  make(map[string]*domain.User),
	}
}

func (m *mockStore) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockStore) GetRefreshToken(_ context.Context, token string) (*domain.RefreshToken, error) {
	if t, ok := m.tokens[token]; ok {
		return t, nil
	}
	return nil, identity.ErrInvalidToken
}

func (m *mockStore) DeleteRefreshToken(_ context.Context, token string) error {
	delete(m.tokens, token)
	return nil
}

func (m *mockStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func newTestAuthenticator(t *testing.T, store *mockStore) *Authenticator {
	t.Helper()
	auth, err := NewAuthenticator(Config{
		Secret: "test-secret-key-that-is-long-enough",
		Issuer: "incident-bridge-test",
	}, store)
	require.NoError(t, err)
	return auth
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(Config{}, newMockStore())
	assert.Error(t, err)
}

func TestGenerateAndValidate(t *testing.T) {
	store := newMockStore()
	auth := newTestAuthenticator(t, store)
	user := &domain.User{ID: "user-1", Username: "alice", IsActive: true}

	pair, err := auth.GenerateTokens(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Contains(t, store.tokens, pair.RefreshToken, "refresh token persisted")

	userID, err := auth.ValidateAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	auth := newTestAuthenticator(t, newMockStore())

	_, err := auth.ValidateAccessToken(context.Background(), "not-a-jwt")

	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	store := newMockStore()
	auth := newTestAuthenticator(t, store)
	user := &domain.User{ID: "user-1", IsActive: true}

	pair, err := auth.GenerateTokens(context.Background(), user)
	require.NoError(t, err)

	other, err := NewAuthenticator(Config{Secret: "a-completely-different-secret-key"}, store)
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestRefreshTokens_Rotation(t *testing.T) {
	store := newMockStore()
	auth := newTestAuthenticator(t, store)
	user := &domain.User{ID: "user-1", Username: "alice", IsActive: true}
	store.users[user.ID] = user

	pair, err := auth.GenerateTokens(context.Background(), user)
	require.NoError(t, err)

	rotated, err := auth.RefreshTokens(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.NotContains(t, store.tokens, pair.RefreshToken, "old token revoked")

	// The old token cannot be replayed.
	_, err = auth.RefreshTokens(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestRefreshTokens_Expired(t *testing.T) {
	store := newMockStore()
	auth := newTestAuthenticator(t, store)
	store.users["user-1"] = &domain.User{ID: "user-1", IsActive: true}
	store.tokens["stale"] = &domain.RefreshToken{
		Token:     "stale",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	_, err := auth.RefreshTokens(context.Background(), "stale")

	assert.ErrorIs(t, err, identity.ErrInvalidToken)
	assert.NotContains(t, store.tokens, "stale", "expired token purged")
}

func TestRefreshTokens_InactiveUser(t *testing.T) {
	store := newMockStore()
	auth := newTestAuthenticator(t, store)
	store.users["user-1"] = &domain.User{ID: "user-1", IsActive: false}
	store.tokens["valid"] = &domain.RefreshToken{
		Token:     "valid",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	_, err := auth.RefreshTokens(context.Background(), "valid")

	assert.ErrorIs(t, err, identity.ErrUserInactive)
}
