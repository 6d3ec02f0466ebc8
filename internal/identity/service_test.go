package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	users           map[string]*domain.User
	tokens          map[string]*domain.RefreshToken
	revokedUserIDs  []string
	updateUserErr   error
	deleteTokensErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users:  make(map[string]*domain.User),
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (m *mockRepository) CreateUser(_ context.Context, user *domain.User) error {
	user.ID = "user-" + user.Username
	m.users[user.ID] = user
	return nil
}

func (m *mockRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) GetSystemUser(_ context.Context) (*domain.User, error) {
	for _, user := range m.users {
		if user.IsSystemUser && user.IsActive {
			return user, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) ListUsers(_ context.Context) ([]domain.User, error) {
	result := make([]domain.User, 0, len(m.users))
	for _, user := range m.users {
		result = append(result, *user)
	}
	return result, nil
}

func (m *mockRepository) UpdateUser(_ context.Context, user *domain.User) error {
	if m.updateUserErr != nil {
		return m.updateUserErr
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockRepository) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockRepository) GetRefreshToken(_ context.Context, token string) (*domain.RefreshToken, error) {
	if t, ok := m.tokens[token]; ok {
		return t, nil
	}
	return nil, ErrInvalidToken
}

func (m *mockRepository) DeleteRefreshToken(_ context.Context, token string) error {
	delete(m.tokens, token)
	return nil
}

func (m *mockRepository) DeleteUserRefreshTokens(_ context.Context, userID string) error {
	if m.deleteTokensErr != nil {
		return m.deleteTokensErr
	}
	m.revokedUserIDs = append(m.revokedUserIDs, userID)
	return nil
}

// mockAuthenticator implements Authenticator for testing.
type mockAuthenticator struct{}

func (m *mockAuthenticator) GenerateTokens(_ context.Context, _ *domain.User) (*TokenPair, error) {
	return &TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockAuthenticator) ValidateAccessToken(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (m *mockAuthenticator) RefreshTokens(_ context.Context, _ string) (*TokenPair, error) {
	return &TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockAuthenticator) RevokeRefreshToken(_ context.Context, _ string) error {
	return nil
}

// mockCommandChecker implements ActiveCommandChecker for testing.
type mockCommandChecker struct {
	active bool
	err    error
}

func (m *mockCommandChecker) HasActiveCommandedIncidents(_ context.Context, _ string) (bool, error) {
	return m.active, m.err
}

func seedUser(repo *mockRepository, username, password string, active bool) *domain.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := &domain.User{
		ID:           "user-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		IsActive:     active,
	}
	repo.users[user.ID] = user
	return user
}

func TestRegister(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockAuthenticator{}, nil)

	user, err := service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password123",
	})

	require.NoError(t, err)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsSuperuser)
	assert.NotEqual(t, "password123", user.PasswordHash, "password stored hashed")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password123")))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, "alice", "password123", true)
	service := NewService(repo, &mockAuthenticator{}, nil)

	_, err := service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "password123",
	})

	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestLogin(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, "alice", "password123", true)
	service := NewService(repo, &mockAuthenticator{}, nil)

	user, tokens, err := service.Login(context.Background(), LoginInput{
		Username: "alice",
		Password: "password123",
	})

	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, "alice", "password123", true)
	service := NewService(repo, &mockAuthenticator{}, nil)

	_, _, err := service.Login(context.Background(), LoginInput{
		Username: "alice",
		Password: "wrong",
	})

	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownUsername(t *testing.T) {
	service := NewService(newMockRepository(), &mockAuthenticator{}, nil)

	_, _, err := service.Login(context.Background(), LoginInput{
		Username: "ghost",
		Password: "password123",
	})

	// Unknown user and wrong password are indistinguishable to the caller.
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_InactiveUser(t *testing.T) {
	repo := newMockRepository()
	seedUser(repo, "alice", "password123", false)
	service := NewService(repo, &mockAuthenticator{}, nil)

	_, _, err := service.Login(context.Background(), LoginInput{
		Username: "alice",
		Password: "password123",
	})

	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestUpdateUser_SystemUserImmutable(t *testing.T) {
	repo := newMockRepository()
	system := seedUser(repo, "alertmanager", "unused", true)
	system.IsSystemUser = true
	service := NewService(repo, &mockAuthenticator{}, nil)

	email := "new@example.com"
	_, err := service.UpdateUser(context.Background(), system.ID, UpdateUserInput{Email: &email})

	assert.ErrorIs(t, err, ErrSystemUserImmutable)
}

func TestDeactivateUser(t *testing.T) {
	repo := newMockRepository()
	user := seedUser(repo, "alice", "password123", true)
	service := NewService(repo, &mockAuthenticator{}, &mockCommandChecker{active: false})

	deactivated, err := service.DeactivateUser(context.Background(), user.ID)

	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	assert.Equal(t, []string{user.ID}, repo.revokedUserIDs, "sessions revoked")
}

func TestDeactivateUser_ActiveCommanderBlocked(t *testing.T) {
	repo := newMockRepository()
	user := seedUser(repo, "alice", "password123", true)
	service := NewService(repo, &mockAuthenticator{}, &mockCommandChecker{active: true})

	_, err := service.DeactivateUser(context.Background(), user.ID)

	assert.ErrorIs(t, err, ErrUserIsCommander)
	assert.True(t, repo.users[user.ID].IsActive, "user stays active")
}

func TestDeactivateUser_SystemUserImmutable(t *testing.T) {
	repo := newMockRepository()
	system := seedUser(repo, "alertmanager", "unused", true)
	system.IsSystemUser = true
	service := NewService(repo, &mockAuthenticator{}, nil)

	_, err := service.DeactivateUser(context.Background(), system.ID)

	assert.ErrorIs(t, err, ErrSystemUserImmutable)
}

func TestDeactivateUser_SessionRevocationBestEffort(t *testing.T) {
	repo := newMockRepository()
	user := seedUser(repo, "alice", "password123", true)
	repo.deleteTokensErr = errors.New("db down")
	service := NewService(repo, &mockAuthenticator{}, nil)

	deactivated, err := service.DeactivateUser(context.Background(), user.ID)

	require.NoError(t, err, "revocation failure does not undo deactivation")
	assert.False(t, deactivated.IsActive)
}
