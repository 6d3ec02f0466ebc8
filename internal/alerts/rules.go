package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

const activeRulesCacheKey = "active_rules"

// RuleService implements alert filter rule business logic. Active rules are
// cached with a short TTL so the ingestion cycle does not re-read the rule
// table for every alert source.
type RuleService struct {
	repo  Repository
	cache *gocache.Cache
}

// NewRuleService creates a new rule service. ttl bounds how stale the
// active-rule cache may get; rule mutations invalidate it immediately.
func NewRuleService(repo Repository, ttl time.Duration) *RuleService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RuleService{
		repo:  repo,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// CreateRuleInput holds data for creating an alert filter rule.
type CreateRuleInput struct {
	RuleName    string
	TargetField string
	MatchType   domain.MatchType
	MatchValue  string
	IsActive    bool
	IsExclusion bool
}

// Create creates a new alert filter rule. Rule names are unique.
func (s *RuleService) Create(ctx context.Context, input CreateRuleInput) (*domain.AlertFilterRule, error) {
	if !input.MatchType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMatchType, input.MatchType)
	}

	rule := &domain.AlertFilterRule{
		RuleName:    input.RuleName,
		TargetField: input.TargetField,
		MatchType:   input.MatchType,
		MatchValue:  input.MatchValue,
		IsActive:    input.IsActive,
		IsExclusion: input.IsExclusion,
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.cache.Delete(activeRulesCacheKey)
	return rule, nil
}

// Get retrieves a rule by ID.
func (s *RuleService) Get(ctx context.Context, id string) (*domain.AlertFilterRule, error) {
	return s.repo.GetRule(ctx, id)
}

// List retrieves all rules.
func (s *RuleService) List(ctx context.Context) ([]domain.AlertFilterRule, error) {
	return s.repo.ListRules(ctx)
}

// ActiveRules returns the active rule set, served from cache when fresh.
func (s *RuleService) ActiveRules(ctx context.Context) ([]domain.AlertFilterRule, error) {
	if cached, ok := s.cache.Get(activeRulesCacheKey); ok {
		return cached.([]domain.AlertFilterRule), nil
	}

	rules, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}

	s.cache.SetDefault(activeRulesCacheKey, rules)
	return rules, nil
}

// UpdateRuleInput holds optional rule fields to update.
type UpdateRuleInput struct {
	RuleName    *string
	TargetField *string
	MatchType   *domain.MatchType
	MatchValue  *string
	IsActive    *bool
	IsExclusion *bool
}

// Update updates a rule.
func (s *RuleService) Update(ctx context.Context, id string, input UpdateRuleInput) (*domain.AlertFilterRule, error) {
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.RuleName != nil {
		rule.RuleName = *input.RuleName
	}
	if input.TargetField != nil {
		rule.TargetField = *input.TargetField
	}
	if input.MatchType != nil {
		if !input.MatchType.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMatchType, *input.MatchType)
		}
		rule.MatchType = *input.MatchType
	}
	if input.MatchValue != nil {
		rule.MatchValue = *input.MatchValue
	}
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}
	if input.IsExclusion != nil {
		rule.IsExclusion = *input.IsExclusion
	}

	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.cache.Delete(activeRulesCacheKey)
	return rule, nil
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(activeRulesCacheKey)
	return nil
}
