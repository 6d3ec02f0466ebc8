// Package postgres provides PostgreSQL implementation of postmortems repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/postmortems"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements postmortems.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreatePostMortem inserts a new post-mortem. The unique constraint on
// incident_id maps to ErrPostMortemAlreadyExists on conflict.
func (r *Repository) CreatePostMortem(ctx context.Context, pm *domain.PostMortem) error {
	query := `
		INSERT INTO postmortems (incident_id, status, deep_rca, contributing_factors, lessons_learned, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		pm.IncidentID,
		pm.Status,
		pm.DeepRCA,
		pm.ContributingFactors,
		pm.LessonsLearned,
		pm.CreatedBy,
	).Scan(&pm.ID, &pm.CreatedAt, &pm.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return postmortems.ErrPostMortemAlreadyExists
		}
		return fmt.Errorf("create postmortem: %w", err)
	}
	return nil
}

const postMortemColumns = `
	id, incident_id, status, deep_rca, contributing_factors, lessons_learned,
	date_completed, created_by, created_at, updated_at
`

func scanPostMortem(row pgx.Row) (*domain.PostMortem, error) {
	var pm domain.PostMortem
	err := row.Scan(
		&pm.ID,
		&pm.IncidentID,
		&pm.Status,
		&pm.DeepRCA,
		&pm.ContributingFactors,
		&pm.LessonsLearned,
		&pm.DateCompleted,
		&pm.CreatedBy,
		&pm.CreatedAt,
		&pm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

// GetPostMortem retrieves a post-mortem by ID.
func (r *Repository) GetPostMortem(ctx context.Context, id string) (*domain.PostMortem, error) {
	query := `SELECT ` + postMortemColumns + ` FROM postmortems WHERE id = $1`

	pm, err := scanPostMortem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, postmortems.ErrPostMortemNotFound
		}
		return nil, fmt.Errorf("get postmortem: %w", err)
	}
	return pm, nil
}

// GetPostMortemByIncident retrieves the post-mortem linked to an incident.
func (r *Repository) GetPostMortemByIncident(ctx context.Context, incidentID string) (*domain.PostMortem, error) {
	query := `SELECT ` + postMortemColumns + ` FROM postmortems WHERE incident_id = $1`

	pm, err := scanPostMortem(r.db.QueryRow(ctx, query, incidentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, postmortems.ErrPostMortemNotFound
		}
		return nil, fmt.Errorf("get postmortem by incident: %w", err)
	}
	return pm, nil
}

// UpdatePostMortem updates post-mortem fields.
func (r *Repository) UpdatePostMortem(ctx context.Context, pm *domain.PostMortem) error {
	query := `
		UPDATE postmortems SET
			status = $2, deep_rca = $3, contributing_factors = $4,
			lessons_learned = $5, date_completed = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		pm.ID,
		pm.Status,
		pm.DeepRCA,
		pm.ContributingFactors,
		pm.LessonsLearned,
		pm.DateCompleted,
	).Scan(&pm.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return postmortems.ErrPostMortemNotFound
		}
		return fmt.Errorf("update postmortem: %w", err)
	}
	return nil
}

// CreateActionItem inserts a new action item.
func (r *Repository) CreateActionItem(ctx context.Context, item *domain.ActionItem) error {
	query := `
		INSERT INTO action_items (postmortem_id, description, owner_id, due_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		item.PostMortemID,
		item.Description,
		item.OwnerID,
		item.DueDate,
		item.Status,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create action item: %w", err)
	}
	return nil
}

// GetActionItem retrieves an action item by ID.
func (r *Repository) GetActionItem(ctx context.Context, id string) (*domain.ActionItem, error) {
	query := `
		SELECT id, postmortem_id, description, owner_id, due_date, status, created_at, updated_at
		FROM action_items
		WHERE id = $1
	`
	var item domain.ActionItem
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID,
		&item.PostMortemID,
		&item.Description,
		&item.OwnerID,
		&item.DueDate,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, postmortems.ErrActionItemNotFound
		}
		return nil, fmt.Errorf("get action item: %w", err)
	}
	return &item, nil
}

// ListActionItems returns action items for a post-mortem.
func (r *Repository) ListActionItems(ctx context.Context, postMortemID string) ([]*domain.ActionItem, error) {
	query := `
		SELECT id, postmortem_id, description, owner_id, due_date, status, created_at, updated_at
		FROM action_items
		WHERE postmortem_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, postMortemID)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.ActionItem, 0)
	for rows.Next() {
		var item domain.ActionItem
		if err := rows.Scan(&item.ID, &item.PostMortemID, &item.Description, &item.OwnerID, &item.DueDate, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action item: %w", err)
		}
		result = append(result, &item)
	}
	return result, rows.Err()
}

// UpdateActionItem updates action item fields.
func (r *Repository) UpdateActionItem(ctx context.Context, item *domain.ActionItem) error {
	query := `
		UPDATE action_items SET
			description = $2, owner_id = $3, due_date = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.Description,
		item.OwnerID,
		item.DueDate,
		item.Status,
	).Scan(&item.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return postmortems.ErrActionItemNotFound
		}
		return fmt.Errorf("update action item: %w", err)
	}
	return nil
}

// AddApproval records an approval on the post-mortem.
func (r *Repository) AddApproval(ctx context.Context, approval *domain.PostMortemApproval) error {
	query := `
		INSERT INTO postmortem_approvals (postmortem_id, user_id, note, approved_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		approval.PostMortemID,
		approval.UserID,
		approval.Note,
		approval.ApprovedAt,
	).Scan(&approval.ID)

	if err != nil {
		return fmt.Errorf("add approval: %w", err)
	}
	return nil
}

// ListApprovals returns approvals for a post-mortem.
func (r *Repository) ListApprovals(ctx context.Context, postMortemID string) ([]*domain.PostMortemApproval, error) {
	query := `
		SELECT id, postmortem_id, user_id, note, approved_at
		FROM postmortem_approvals
		WHERE postmortem_id = $1
		ORDER BY approved_at, id
	`
	rows, err := r.db.Query(ctx, query, postMortemID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.PostMortemApproval, 0)
	for rows.Next() {
		var approval domain.PostMortemApproval
		if err := rows.Scan(&approval.ID, &approval.PostMortemID, &approval.UserID, &approval.Note, &approval.ApprovedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		result = append(result, &approval)
	}
	return result, rows.Err()
}
