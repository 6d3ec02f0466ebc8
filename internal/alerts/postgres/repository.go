// Package postgres provides PostgreSQL implementation of alerts repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/avolkov/incident-bridge/internal/alerts"
	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements alerts.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const ruleColumns = `
	id, rule_name, target_field, match_type, match_value,
	is_active, is_exclusion_rule, created_at, updated_at
`

func scanRule(row pgx.Row) (*domain.AlertFilterRule, error) {
	var rule domain.AlertFilterRule
	err := row.Scan(
		&rule.ID,
		&rule.RuleName,
		&rule.TargetField,
		&rule.MatchType,
		&rule.MatchValue,
		&rule.IsActive,
		&rule.IsExclusion,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// CreateRule creates a new alert filter rule. Rule names carry a unique
// constraint; a conflict maps to alerts.ErrRuleAlreadyExists.
func (r *Repository) CreateRule(ctx context.Context, rule *domain.AlertFilterRule) error {
	query := `
		INSERT INTO alert_filter_rules (rule_name, target_field, match_type, match_value, is_active, is_exclusion_rule)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rule.RuleName,
		rule.TargetField,
		rule.MatchType,
		rule.MatchValue,
		rule.IsActive,
		rule.IsExclusion,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "alert_filter_rules_rule_name_key" {
			return fmt.Errorf("%w: %q", alerts.ErrRuleAlreadyExists, rule.RuleName)
		}
		return fmt.Errorf("create rule: %w", err)
	}

	return nil
}

// GetRule retrieves a rule by ID.
func (r *Repository) GetRule(ctx context.Context, id string) (*domain.AlertFilterRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_filter_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerts.ErrRuleNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}

	return rule, nil
}

// ListRules retrieves all rules ordered by name.
func (r *Repository) ListRules(ctx context.Context) ([]domain.AlertFilterRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_filter_rules ORDER BY rule_name`
	return r.listRules(ctx, query)
}

// ListActiveRules retrieves rules with is_active set.
func (r *Repository) ListActiveRules(ctx context.Context) ([]domain.AlertFilterRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_filter_rules WHERE is_active ORDER BY rule_name`
	return r.listRules(ctx, query)
}

func (r *Repository) listRules(ctx context.Context, query string) ([]domain.AlertFilterRule, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.AlertFilterRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	return rules, rows.Err()
}

// UpdateRule updates a rule.
func (r *Repository) UpdateRule(ctx context.Context, rule *domain.AlertFilterRule) error {
	query := `
		UPDATE alert_filter_rules
		SET rule_name = $2, target_field = $3, match_type = $4, match_value = $5,
		    is_active = $6, is_exclusion_rule = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.RuleName,
		rule.TargetField,
		rule.MatchType,
		rule.MatchValue,
		rule.IsActive,
		rule.IsExclusion,
	).Scan(&rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return alerts.ErrRuleNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "alert_filter_rules_rule_name_key" {
			return fmt.Errorf("%w: %q", alerts.ErrRuleAlreadyExists, rule.RuleName)
		}
		return fmt.Errorf("update rule: %w", err)
	}

	return nil
}

// DeleteRule removes a rule.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM alert_filter_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerts.ErrRuleNotFound
	}
	return nil
}
