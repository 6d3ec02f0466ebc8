// Package postmortems implements the post-mortem gate: a post-mortem is
// created once, only for a resolved incident, by its commander or a
// superuser.
package postmortems

import (
	"context"
	"fmt"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/incidents"
)

// IncidentReader loads incidents for gate checks.
type IncidentReader interface {
	Get(ctx context.Context, id string) (*domain.Incident, error)
}

// Service implements post-mortem business logic.
type Service struct {
	repo      Repository
	incidents IncidentReader
}

// NewService creates a new post-mortem service.
func NewService(repo Repository, incidentReader IncidentReader) *Service {
	return &Service{
		repo:      repo,
		incidents: incidentReader,
	}
}

// CreatePostMortemInput holds initial post-mortem content.
type CreatePostMortemInput struct {
	DeepRCA             string
	ContributingFactors string
	LessonsLearned      string
}

// UpdatePostMortemInput holds optional post-mortem fields to update. The
// status field is freely settable by an authorized actor; only the
// transition into completed has a side effect (date_completed stamp).
type UpdatePostMortemInput struct {
	Status              *domain.PostMortemStatus
	DeepRCA             *string
	ContributingFactors *string
	LessonsLearned      *string
}

// Create creates a post-mortem for a resolved incident. Fails with
// incidents.ErrIncidentNotFound when the incident is absent,
// incidents.ErrIncidentNotResolved while it is still active,
// ErrPostMortemAlreadyExists when one already exists, and
// incidents.ErrInsufficientPermissions unless the actor is the commander of
// record or a superuser.
func (s *Service) Create(ctx context.Context, incidentID string, input CreatePostMortemInput, actor *domain.User) (*domain.PostMortem, error) {
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if !incident.Status.IsResolved() {
		return nil, fmt.Errorf("%w: postmortem requires a resolved incident", incidents.ErrIncidentNotResolved)
	}

	if err := incidents.CheckPermission(incident, actor, false); err != nil {
		return nil, err
	}

	pm := &domain.PostMortem{
		IncidentID:          incident.ID,
		Status:              domain.PostMortemStatusDraft,
		DeepRCA:             input.DeepRCA,
		ContributingFactors: input.ContributingFactors,
		LessonsLearned:      input.LessonsLearned,
		CreatedBy:           actor.ID,
	}
	if err := s.repo.CreatePostMortem(ctx, pm); err != nil {
		return nil, err
	}

	return pm, nil
}

// Get retrieves a post-mortem by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.PostMortem, error) {
	return s.repo.GetPostMortem(ctx, id)
}

// GetByIncident retrieves the post-mortem linked to an incident.
func (s *Service) GetByIncident(ctx context.Context, incidentID string) (*domain.PostMortem, error) {
	return s.repo.GetPostMortemByIncident(ctx, incidentID)
}

// Update updates a post-mortem. Permission is checked against the linked
// incident. Reaching completed stamps date_completed.
func (s *Service) Update(ctx context.Context, id string, input UpdatePostMortemInput, actor *domain.User) (*domain.PostMortem, error) {
	pm, err := s.repo.GetPostMortem(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.checkPermission(ctx, pm, actor); err != nil {
		return nil, err
	}

	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *input.Status)
		}
		if *input.Status == domain.PostMortemStatusCompleted && pm.Status != domain.PostMortemStatusCompleted {
			now := time.Now()
			pm.DateCompleted = &now
		}
		pm.Status = *input.Status
	}
	if input.DeepRCA != nil {
		pm.DeepRCA = *input.DeepRCA
	}
	if input.ContributingFactors != nil {
		pm.ContributingFactors = *input.ContributingFactors
	}
	if input.LessonsLearned != nil {
		pm.LessonsLearned = *input.LessonsLearned
	}

	if err := s.repo.UpdatePostMortem(ctx, pm); err != nil {
		return nil, fmt.Errorf("update postmortem: %w", err)
	}

	return pm, nil
}

// checkPermission resolves the linked incident and applies the commander or
// superuser rule.
func (s *Service) checkPermission(ctx context.Context, pm *domain.PostMortem, actor *domain.User) error {
	incident, err := s.incidents.Get(ctx, pm.IncidentID)
	if err != nil {
		return err
	}
	return incidents.CheckPermission(incident, actor, false)
}

// ActionItemInput holds data for creating an action item.
type ActionItemInput struct {
	Description string
	OwnerID     string
	DueDate     *time.Time
}

// CreateActionItem adds an action item to the post-mortem.
func (s *Service) CreateActionItem(ctx context.Context, postMortemID string, input ActionItemInput, actor *domain.User) (*domain.ActionItem, error) {
	pm, err := s.repo.GetPostMortem(ctx, postMortemID)
	if err != nil {
		return nil, err
	}

	if err := s.checkPermission(ctx, pm, actor); err != nil {
		return nil, err
	}

	item := &domain.ActionItem{
		PostMortemID: pm.ID,
		Description:  input.Description,
		OwnerID:      input.OwnerID,
		DueDate:      input.DueDate,
		Status:       domain.ActionItemStatusOpen,
	}
	if err := s.repo.CreateActionItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create action item: %w", err)
	}

	return item, nil
}

// UpdateActionItemInput holds optional action item fields to update.
type UpdateActionItemInput struct {
	Description *string
	OwnerID     *string
	DueDate     *time.Time
	Status      *domain.ActionItemStatus
}

// UpdateActionItem updates an action item.
func (s *Service) UpdateActionItem(ctx context.Context, id string, input UpdateActionItemInput, actor *domain.User) (*domain.ActionItem, error) {
	item, err := s.repo.GetActionItem(ctx, id)
	if err != nil {
		return nil, err
	}

	pm, err := s.repo.GetPostMortem(ctx, item.PostMortemID)
	if err != nil {
		return nil, err
	}

	if err := s.checkPermission(ctx, pm, actor); err != nil {
		return nil, err
	}

	if input.Description != nil {
		item.Description = *input.Description
	}
	if input.OwnerID != nil {
		item.OwnerID = *input.OwnerID
	}
	if input.DueDate != nil {
		item.DueDate = input.DueDate
	}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *input.Status)
		}
		item.Status = *input.Status
	}

	if err := s.repo.UpdateActionItem(ctx, item); err != nil {
		return nil, fmt.Errorf("update action item: %w", err)
	}

	return item, nil
}

// ListActionItems returns the post-mortem's action items.
func (s *Service) ListActionItems(ctx context.Context, postMortemID string) ([]*domain.ActionItem, error) {
	if _, err := s.repo.GetPostMortem(ctx, postMortemID); err != nil {
		return nil, err
	}
	return s.repo.ListActionItems(ctx, postMortemID)
}

// AddApproval records an approval on the post-mortem. Any authenticated
// active user may approve.
func (s *Service) AddApproval(ctx context.Context, postMortemID, note string, actor *domain.User) (*domain.PostMortemApproval, error) {
	if actor == nil || !actor.IsActive {
		return nil, incidents.ErrInsufficientPermissions
	}

	pm, err := s.repo.GetPostMortem(ctx, postMortemID)
	if err != nil {
		return nil, err
	}

	approval := &domain.PostMortemApproval{
		PostMortemID: pm.ID,
		UserID:       actor.ID,
		Note:         note,
		ApprovedAt:   time.Now(),
	}
	if err := s.repo.AddApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("add approval: %w", err)
	}

	return approval, nil
}

// ListApprovals returns the post-mortem's approvals.
func (s *Service) ListApprovals(ctx context.Context, postMortemID string) ([]*domain.PostMortemApproval, error) {
	if _, err := s.repo.GetPostMortem(ctx, postMortemID); err != nil {
		return nil, err
	}
	return s.repo.ListApprovals(ctx, postMortemID)
}
