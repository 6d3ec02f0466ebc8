package alerts

import "errors"

// Alert filter rule errors.
var (
	ErrRuleNotFound      = errors.New("alert filter rule not found")
	ErrRuleAlreadyExists = errors.New("alert filter rule with this name already exists")
	ErrInvalidMatchType  = errors.New("invalid match type")
)

// Configuration errors.
var (
	// ErrNoSystemUser is returned when the configured system user, which
	// authors auto-created incidents, cannot be resolved.
	ErrNoSystemUser = errors.New("no system user configured for alert intake")
)
