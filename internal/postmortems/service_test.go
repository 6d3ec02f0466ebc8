package postmortems

import (
	"context"
	"testing"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/incidents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	postMortems map[string]*domain.PostMortem
	byIncident  map[string]*domain.PostMortem
	actionItems map[string]*domain.ActionItem
	approvals   []*domain.PostMortemApproval
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		postMortems: make(map[string]*domain.PostMortem),
		byIncident:  make(map[string]*domain.PostMortem),
		actionItems: make(map[string]*domain.ActionItem),
	}
}

func (m *mockRepository) CreatePostMortem(_ context.Context, pm *domain.PostMortem) error {
	if _, exists := m.byIncident[pm.IncidentID]; exists {
		return ErrPostMortemAlreadyExists
	}
	pm.ID = "pm-id"
	m.postMortems[pm.ID] = pm
	m.byIncident[pm.IncidentID] = pm
	return nil
}

func (m *mockRepository) GetPostMortem(_ context.Context, id string) (*domain.PostMortem, error) {
	if pm, ok := m.postMortems[id]; ok {
		return pm, nil
	}
	return nil, ErrPostMortemNotFound
}

func (m *mockRepository) GetPostMortemByIncident(_ context.Context, incidentID string) (*domain.PostMortem, error) {
	if pm, ok := m.byIncident[incidentID]; ok {
		return pm, nil
	}
	return nil, ErrPostMortemNotFound
}

func (m *mockRepository) UpdatePostMortem(_ context.Context, pm *domain.PostMortem) error {
	m.postMortems[pm.ID] = pm
	return nil
}

func (m *mockRepository) CreateActionItem(_ context.Context, item *domain.ActionItem) error {
	item.ID = "item-id"
	m.actionItems[item.ID] = item
	return nil
}

func (m *mockRepository) GetActionItem(_ context.Context, id string) (*domain.ActionItem, error) {
	if item, ok := m.actionItems[id]; ok {
		return item, nil
	}
	return nil, ErrActionItemNotFound
}

func (m *mockRepository) ListActionItems(_ context.Context, postMortemID string) ([]*domain.ActionItem, error) {
	result := make([]*domain.ActionItem, 0)
	for _, item := range m.actionItems {
		if item.PostMortemID == postMortemID {
			result = append(result, item)
		}
	}
	return result, nil
}

func (m *mockRepository) UpdateActionItem(_ context.Context, item *domain.ActionItem) error {
	m.actionItems[item.ID] = item
	return nil
}

func (m *mockRepository) AddApproval(_ context.Context, approval *domain.PostMortemApproval) error {
	approval.ID = "approval-id"
	m.approvals = append(m.approvals, approval)
	return nil
}

func (m *mockRepository) ListApprovals(_ context.Context, postMortemID string) ([]*domain.PostMortemApproval, error) {
	result := make([]*domain.PostMortemApproval, 0)
	for _, approval := range m.approvals {
		if approval.PostMortemID == postMortemID {
			result = append(result, approval)
		}
	}
	return result, nil
}

// mockIncidentReader implements IncidentReader for testing.
type mockIncidentReader struct {
	incidents map[string]*domain.Incident
}

func (m *mockIncidentReader) Get(_ context.Context, id string) (*domain.Incident, error) {
	if incident, ok := m.incidents[id]; ok {
		return incident, nil
	}
	return nil, incidents.ErrIncidentNotFound
}

func commander() *domain.User {
	return &domain.User{ID: "commander-1", Username: "alice", IsActive: true}
}

func setup(status domain.IncidentStatus) (*Service, *mockRepository) {
	repo := newMockRepository()
	reader := &mockIncidentReader{incidents: map[string]*domain.Incident{
		"incident-1": {
			ID:          "incident-1",
			Title:       "Database down",
			Status:      status,
			CommanderID: "commander-1",
		},
	}}
	return NewService(repo, reader), repo
}

func TestCreate_RequiresResolvedIncident(t *testing.T) {
	for _, status := range []domain.IncidentStatus{domain.IncidentStatusOpen, domain.IncidentStatusDoing} {
		t.Run(string(status), func(t *testing.T) {
			service, _ := setup(status)

			_, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())

			assert.ErrorIs(t, err, incidents.ErrIncidentNotResolved)
		})
	}
}

func TestCreate_StartsAsDraft(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)

	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{
		DeepRCA: "Connection pool exhaustion",
	}, commander())

	require.NoError(t, err)
	assert.Equal(t, domain.PostMortemStatusDraft, pm.Status)
	assert.Equal(t, "incident-1", pm.IncidentID)
	assert.Equal(t, "commander-1", pm.CreatedBy)
	assert.Nil(t, pm.DateCompleted)
}

func TestCreate_OnePerIncident(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)

	_, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	_, err = service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	assert.ErrorIs(t, err, ErrPostMortemAlreadyExists)
}

func TestCreate_RequiresCommanderOrSuperuser(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)
	outsider := &domain.User{ID: "user-9", Username: "carol", IsActive: true}

	_, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, outsider)
	assert.ErrorIs(t, err, incidents.ErrInsufficientPermissions)

	root := &domain.User{ID: "admin-1", Username: "root", IsActive: true, IsSuperuser: true}
	_, err = service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, root)
	assert.NoError(t, err)
}

func TestCreate_MissingIncident(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)

	_, err := service.Create(context.Background(), "incident-404", CreatePostMortemInput{}, commander())

	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestUpdate_CompletionStampsDate(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)
	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	completed := domain.PostMortemStatusCompleted
	updated, err := service.Update(context.Background(), pm.ID, UpdatePostMortemInput{Status: &completed}, commander())

	require.NoError(t, err)
	assert.Equal(t, domain.PostMortemStatusCompleted, updated.Status)
	require.NotNil(t, updated.DateCompleted)

	// A repeated completion does not re-stamp.
	stamp := *updated.DateCompleted
	updated, err = service.Update(context.Background(), pm.ID, UpdatePostMortemInput{Status: &completed}, commander())
	require.NoError(t, err)
	assert.Equal(t, stamp, *updated.DateCompleted)
}

func TestUpdate_StatusesFreelySettable(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)
	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	// completed back to draft is allowed; there is no transition graph.
	completed := domain.PostMortemStatusCompleted
	_, err = service.Update(context.Background(), pm.ID, UpdatePostMortemInput{Status: &completed}, commander())
	require.NoError(t, err)

	draft := domain.PostMortemStatusDraft
	updated, err := service.Update(context.Background(), pm.ID, UpdatePostMortemInput{Status: &draft}, commander())
	require.NoError(t, err)
	assert.Equal(t, domain.PostMortemStatusDraft, updated.Status)
}

func TestUpdate_InvalidStatusRejected(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)
	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	bogus := domain.PostMortemStatus("archived")
	_, err = service.Update(context.Background(), pm.ID, UpdatePostMortemInput{Status: &bogus}, commander())

	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCreateActionItem_StartsOpen(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)
	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	due := time.Now().Add(7 * 24 * time.Hour)
	item, err := service.CreateActionItem(context.Background(), pm.ID, ActionItemInput{
		Description: "Add connection pool alerting",
		OwnerID:     "user-2",
		DueDate:     &due,
	}, commander())

	require.NoError(t, err)
	assert.Equal(t, domain.ActionItemStatusOpen, item.Status)
	assert.Equal(t, pm.ID, item.PostMortemID)
}

func TestUpdateActionItem_PermissionCheckedAgainstIncident(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)
	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	item, err := service.CreateActionItem(context.Background(), pm.ID, ActionItemInput{
		Description: "Write runbook",
		OwnerID:     "user-2",
	}, commander())
	require.NoError(t, err)

	outsider := &domain.User{ID: "user-9", Username: "carol", IsActive: true}
	done := domain.ActionItemStatusCompleted
	_, err = service.UpdateActionItem(context.Background(), item.ID, UpdateActionItemInput{Status: &done}, outsider)

	assert.ErrorIs(t, err, incidents.ErrInsufficientPermissions)
}

func TestAddApproval_AnyActiveUser(t *testing.T) {
	service, repo := setup(domain.IncidentStatusResolved)
	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	outsider := &domain.User{ID: "user-9", Username: "carol", IsActive: true}
	approval, err := service.AddApproval(context.Background(), pm.ID, "Looks complete", outsider)

	require.NoError(t, err)
	assert.Equal(t, outsider.ID, approval.UserID)
	assert.Len(t, repo.approvals, 1)
}

func TestAddApproval_InactiveUserDenied(t *testing.T) {
	service, _ := setup(domain.IncidentStatusResolved)
	pm, err := service.Create(context.Background(), "incident-1", CreatePostMortemInput{}, commander())
	require.NoError(t, err)

	inactive := &domain.User{ID: "user-9", IsActive: false}
	_, err = service.AddApproval(context.Background(), pm.ID, "", inactive)

	assert.ErrorIs(t, err, incidents.ErrInsufficientPermissions)
}
