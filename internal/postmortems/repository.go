package postmortems

import (
	"context"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// Repository defines the interface for post-mortem storage.
type Repository interface {
	// CreatePostMortem inserts a post-mortem. The unique constraint on
	// incident_id backs the one-postmortem-per-incident invariant;
	// a conflict maps to ErrPostMortemAlreadyExists.
	CreatePostMortem(ctx context.Context, pm *domain.PostMortem) error
	GetPostMortem(ctx context.Context, id string) (*domain.PostMortem, error)
	GetPostMortemByIncident(ctx context.Context, incidentID string) (*domain.PostMortem, error)
	UpdatePostMortem(ctx context.Context, pm *domain.PostMortem) error

	CreateActionItem(ctx context.Context, item *domain.ActionItem) error
	GetActionItem(ctx context.Context, id string) (*domain.ActionItem, error)
	ListActionItems(ctx context.Context, postMortemID string) ([]*domain.ActionItem, error)
	UpdateActionItem(ctx context.Context, item *domain.ActionItem) error

	AddApproval(ctx context.Context, approval *domain.PostMortemApproval) error
	ListApprovals(ctx context.Context, postMortemID string) ([]*domain.PostMortemApproval, error)
}
