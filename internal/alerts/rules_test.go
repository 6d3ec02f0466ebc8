package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleService_ActiveRulesCached(t *testing.T) {
	repo := newMockRuleRepository()
	includeProductionRule(repo)
	service := NewRuleService(repo, time.Minute)

	_, err := service.ActiveRules(context.Background())
	require.NoError(t, err)
	_, err = service.ActiveRules(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, repo.listActiveCalls, "second read served from cache")
}

func TestRuleService_MutationInvalidatesCache(t *testing.T) {
	repo := newMockRuleRepository()
	includeProductionRule(repo)
	service := NewRuleService(repo, time.Minute)

	_, err := service.ActiveRules(context.Background())
	require.NoError(t, err)

	_, err = service.Create(context.Background(), CreateRuleInput{
		RuleName:    "exclude-staging",
		TargetField: "labels.env",
		MatchType:   domain.MatchEquals,
		MatchValue:  "staging",
		IsActive:    true,
		IsExclusion: true,
	})
	require.NoError(t, err)

	rules, err := service.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 2, "cache refreshed after create")
	assert.Equal(t, 2, repo.listActiveCalls)
}

func TestRuleService_CreateRejectsInvalidMatchType(t *testing.T) {
	service := NewRuleService(newMockRuleRepository(), time.Minute)

	_, err := service.Create(context.Background(), CreateRuleInput{
		RuleName:    "bad",
		TargetField: "labels.env",
		MatchType:   "regex",
		MatchValue:  ".*",
	})

	assert.ErrorIs(t, err, ErrInvalidMatchType)
}

func TestRuleService_DuplicateName(t *testing.T) {
	service := NewRuleService(newMockRuleRepository(), time.Minute)

	input := CreateRuleInput{
		RuleName:    "include-production",
		TargetField: "labels.env",
		MatchType:   domain.MatchEquals,
		MatchValue:  "production",
		IsActive:    true,
	}

	_, err := service.Create(context.Background(), input)
	require.NoError(t, err)

	_, err = service.Create(context.Background(), input)
	assert.ErrorIs(t, err, ErrRuleAlreadyExists)
}

func TestRuleService_UpdateValidatesMatchType(t *testing.T) {
	repo := newMockRuleRepository()
	includeProductionRule(repo)
	service := NewRuleService(repo, time.Minute)

	bogus := domain.MatchType("regex")
	_, err := service.Update(context.Background(), "rule-prod", UpdateRuleInput{MatchType: &bogus})

	assert.ErrorIs(t, err, ErrInvalidMatchType)
}

func TestRuleService_DeleteMissing(t *testing.T) {
	service := NewRuleService(newMockRuleRepository(), time.Minute)

	err := service.Delete(context.Background(), "rule-404")

	assert.ErrorIs(t, err, ErrRuleNotFound)
}
