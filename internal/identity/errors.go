package identity

import "errors"

// Identity module errors.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUsernameExists      = errors.New("user with this username already exists")
	ErrEmailExists         = errors.New("user with this email already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrUserInactive        = errors.New("user account is deactivated")
	ErrUserIsCommander     = errors.New("user commands an active incident")
	ErrSystemUserImmutable = errors.New("system user cannot be modified")
)
