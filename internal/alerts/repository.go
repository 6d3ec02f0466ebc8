package alerts

import (
	"context"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// Repository defines the interface for alert filter rule storage.
type Repository interface {
	CreateRule(ctx context.Context, rule *domain.AlertFilterRule) error
	GetRule(ctx context.Context, id string) (*domain.AlertFilterRule, error)
	ListRules(ctx context.Context) ([]domain.AlertFilterRule, error)
	ListActiveRules(ctx context.Context) ([]domain.AlertFilterRule, error)
	UpdateRule(ctx context.Context, rule *domain.AlertFilterRule) error
	DeleteRule(ctx context.Context, id string) error
}
