// Package identity provides user accounts, authentication and the user
// directory consumed by the rest of the application.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// TokenPair contains an access token and a refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Authenticator issues and validates tokens.
type Authenticator interface {
	GenerateTokens(ctx context.Context, user *domain.User) (*TokenPair, error)
	ValidateAccessToken(ctx context.Context, token string) (userID string, err error)
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error)
	RevokeRefreshToken(ctx context.Context, refreshToken string) error
}

// ActiveCommandChecker reports whether a user currently commands an
// unresolved incident. Implemented by the incidents service.
type ActiveCommandChecker interface {
	HasActiveCommandedIncidents(ctx context.Context, userID string) (bool, error)
}

// Service implements identity business logic.
type Service struct {
	repo      Repository
	auth      Authenticator
	commander ActiveCommandChecker
}

// NewService creates a new identity service. commander may be nil; then
// deactivation skips the active-command check.
func NewService(repo Repository, auth Authenticator, commander ActiveCommandChecker) *Service {
	return &Service{
		repo:      repo,
		auth:      auth,
		commander: commander,
	}
}

// RegisterInput holds data for creating a user account.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	IsSuperuser bool
	IsCommander bool
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if _, err := s.repo.GetUserByUsername(ctx, input.Username); err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hash),
		IsActive:     true,
		IsSuperuser:  input.IsSuperuser,
		IsCommander:  input.IsCommander,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)

	return user, nil
}

// LoginInput holds login credentials.
type LoginInput struct {
	Username string
	Password string
}

// Login authenticates a user by username and password and issues tokens.
func (s *Service) Login(ctx context.Context, input LoginInput) (*domain.User, *TokenPair, error) {
	user, err := s.repo.GetUserByUsername(ctx, input.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("get user: %w", err)
	}

	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	tokens, err := s.auth.GenerateTokens(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	return user, tokens, nil
}

// RefreshTokens exchanges a valid refresh token for a new token pair.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.auth.RefreshTokens(ctx, refreshToken)
}

// Logout revokes a refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.auth.RevokeRefreshToken(ctx, refreshToken)
}

// ValidateToken validates an access token and returns the user ID. It
// satisfies the auth middleware's validator interface.
func (s *Service) ValidateToken(ctx context.Context, token string) (string, error) {
	return s.auth.ValidateAccessToken(ctx, token)
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *Service) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// GetUserByUsername retrieves a user by username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.repo.GetUserByUsername(ctx, username)
}

// GetSystemUser returns the synthetic account that authors auto-created
// incidents.
func (s *Service) GetSystemUser(ctx context.Context) (*domain.User, error) {
	return s.repo.GetSystemUser(ctx)
}

// ListUsers retrieves all users.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdateUserInput holds optional account fields to update.
type UpdateUserInput struct {
	Email       *string
	Password    *string
	IsSuperuser *bool
	IsCommander *bool
}

// UpdateUser updates account fields.
func (s *Service) UpdateUser(ctx context.Context, id string, input UpdateUserInput) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsSystemUser {
		return nil, ErrSystemUserImmutable
	}

	if input.Email != nil {
		user.Email = *input.Email
	}
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}
	if input.IsSuperuser != nil {
		user.IsSuperuser = *input.IsSuperuser
	}
	if input.IsCommander != nil {
		user.IsCommander = *input.IsCommander
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	return user, nil
}

// DeactivateUser deactivates a user account and revokes their sessions.
// A user who commands an unresolved incident cannot be deactivated.
func (s *Service) DeactivateUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsSystemUser {
		return nil, ErrSystemUserImmutable
	}

	if s.commander != nil {
		commands, err := s.commander.HasActiveCommandedIncidents(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check active commands: %w", err)
		}
		if commands {
			return nil, ErrUserIsCommander
		}
	}

	user.IsActive = false
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := s.repo.DeleteUserRefreshTokens(ctx, id); err != nil {
		slog.Warn("failed to revoke sessions for deactivated user", "user_id", id, "error", err)
	}

	slog.Info("user deactivated", "user_id", id, "username", user.Username)

	return user, nil
}
