package incidents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTx implements pgx.Tx for testing. Only Commit and Rollback are
// meaningful; the rest satisfy the interface.
type mockTx struct {
	committed  bool
	rolledBack bool
}

func (m *mockTx) Begin(_ context.Context) (pgx.Tx, error) { return m, nil }

func (m *mockTx) Commit(_ context.Context) error {
	m.committed = true
	return nil
}

func (m *mockTx) Rollback(_ context.Context) error {
	if m.committed {
		return pgx.ErrTxClosed
	}
	m.rolledBack = true
	return nil
}

func (m *mockTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *mockTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (m *mockTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }

func (m *mockTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *mockTx) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return nil, nil }
func (m *mockTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row        { return nil }
func (m *mockTx) Conn() *pgx.Conn                                               { return nil }

// mockRepository implements Repository for testing.
type mockRepository struct {
	incidents   map[string]*domain.Incident
	timeline    []*domain.TimelineEvent
	commLogs    []*domain.CommunicationLog
	impacts     map[string]*domain.Impacts
	rca         map[string]*domain.ShallowRCA
	resolutions map[string]*domain.ResolutionMitigation
	signOffs    []*domain.SignOff

	lastTx        *mockTx
	createErr     error
	updateCalled  bool
	deleteCalled  bool
	activeCommand bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		incidents:   make(map[string]*domain.Incident),
		impacts:     make(map[string]*domain.Impacts),
		rca:         make(map[string]*domain.ShallowRCA),
		resolutions: make(map[string]*domain.ResolutionMitigation),
	}
}

func (m *mockRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	if incident, ok := m.incidents[id]; ok {
		return incident, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) ListIncidents(_ context.Context, _ IncidentFilters) ([]*domain.Incident, error) {
	result := make([]*domain.Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		result = append(result, incident)
	}
	return result, nil
}

func (m *mockRepository) UpdateIncident(_ context.Context, incident *domain.Incident) error {
	m.updateCalled = true
	m.incidents[incident.ID] = incident
	return nil
}

func (m *mockRepository) DeleteIncident(_ context.Context, id string) error {
	m.deleteCalled = true
	delete(m.incidents, id)
	return nil
}

func (m *mockRepository) GetIncidentByFingerprint(_ context.Context, fingerprint string) (*domain.Incident, error) {
	for _, incident := range m.incidents {
		if incident.AlertFingerprint != nil && *incident.AlertFingerprint == fingerprint {
			return incident, nil
		}
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) FindActiveAutoDetectedByTitle(_ context.Context, title string) (*domain.Incident, error) {
	for _, incident := range m.incidents {
		if incident.AutoDetected && incident.Status.IsActive() && incident.Title == title {
			return incident, nil
		}
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) HasActiveCommandedIncidents(_ context.Context, _ string) (bool, error) {
	return m.activeCommand, nil
}

func (m *mockRepository) AppendTimelineEvent(_ context.Context, event *domain.TimelineEvent) error {
	event.ID = "event-id"
	m.timeline = append(m.timeline, event)
	return nil
}

func (m *mockRepository) ListTimelineEvents(_ context.Context, incidentID string) ([]*domain.TimelineEvent, error) {
	result := make([]*domain.TimelineEvent, 0)
	for _, event := range m.timeline {
		if event.IncidentID == incidentID {
			result = append(result, event)
		}
	}
	return result, nil
}

func (m *mockRepository) AppendCommunicationLog(_ context.Context, entry *domain.CommunicationLog) error {
	entry.ID = "log-id"
	m.commLogs = append(m.commLogs, entry)
	return nil
}

func (m *mockRepository) ListCommunicationLogs(_ context.Context, incidentID string) ([]*domain.CommunicationLog, error) {
	result := make([]*domain.CommunicationLog, 0)
	for _, entry := range m.commLogs {
		if entry.IncidentID == incidentID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (m *mockRepository) GetImpacts(_ context.Context, incidentID string) (*domain.Impacts, error) {
	if impacts, ok := m.impacts[incidentID]; ok {
		return impacts, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) UpsertImpacts(_ context.Context, impacts *domain.Impacts) error {
	m.impacts[impacts.IncidentID] = impacts
	return nil
}

func (m *mockRepository) GetShallowRCA(_ context.Context, incidentID string) (*domain.ShallowRCA, error) {
	if rca, ok := m.rca[incidentID]; ok {
		return rca, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) UpsertShallowRCA(_ context.Context, rca *domain.ShallowRCA) error {
	m.rca[rca.IncidentID] = rca
	return nil
}

func (m *mockRepository) GetResolution(_ context.Context, incidentID string) (*domain.ResolutionMitigation, error) {
	if res, ok := m.resolutions[incidentID]; ok {
		return res, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) AddSignOff(_ context.Context, signOff *domain.SignOff) error {
	signOff.ID = "signoff-id"
	m.signOffs = append(m.signOffs, signOff)
	return nil
}

func (m *mockRepository) ListSignOffs(_ context.Context, incidentID string) ([]*domain.SignOff, error) {
	result := make([]*domain.SignOff, 0)
	for _, signOff := range m.signOffs {
		if signOff.IncidentID == incidentID {
			result = append(result, signOff)
		}
	}
	return result, nil
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	m.lastTx = &mockTx{}
	return m.lastTx, nil
}

func (m *mockRepository) CreateIncidentTx(_ context.Context, _ pgx.Tx, incident *domain.Incident) error {
	if m.createErr != nil {
		return m.createErr
	}
	incident.ID = "incident-id"
	incident.CreatedAt = time.Now()
	incident.UpdatedAt = incident.CreatedAt
	m.incidents[incident.ID] = incident
	return nil
}

func (m *mockRepository) AppendTimelineEventTx(_ context.Context, _ pgx.Tx, event *domain.TimelineEvent) error {
	event.ID = "event-id"
	m.timeline = append(m.timeline, event)
	return nil
}

func (m *mockRepository) UpsertImpactsTx(_ context.Context, _ pgx.Tx, impacts *domain.Impacts) error {
	m.impacts[impacts.IncidentID] = impacts
	return nil
}

func (m *mockRepository) UpsertShallowRCATx(_ context.Context, _ pgx.Tx, rca *domain.ShallowRCA) error {
	m.rca[rca.IncidentID] = rca
	return nil
}

func (m *mockRepository) CreateResolutionTx(_ context.Context, _ pgx.Tx, resolution *domain.ResolutionMitigation) error {
	m.resolutions[resolution.IncidentID] = resolution
	return nil
}

func (m *mockRepository) UpdateIncidentTx(_ context.Context, _ pgx.Tx, incident *domain.Incident) error {
	m.updateCalled = true
	m.incidents[incident.ID] = incident
	return nil
}

// mockNotifier implements IncidentNotifier for testing.
type mockNotifier struct {
	createdCalls  int
	resolvedCalls int
	err           error
}

func (m *mockNotifier) NotifyIncidentCreated(_ context.Context, _ *domain.Incident) error {
	m.createdCalls++
	return m.err
}

func (m *mockNotifier) NotifyIncidentResolved(_ context.Context, _ *domain.Incident) error {
	m.resolvedCalls++
	return m.err
}

func activeUser() *domain.User {
	return &domain.User{ID: "user-1", Username: "alice", IsActive: true}
}

func superuser() *domain.User {
	return &domain.User{ID: "admin-1", Username: "root", IsActive: true, IsSuperuser: true}
}

func seedIncident(repo *mockRepository, status domain.IncidentStatus) *domain.Incident {
	incident := &domain.Incident{
		ID:          "incident-1",
		Title:       "Database down",
		Severity:    domain.SeverityCritical,
		Status:      status,
		CommanderID: "user-1",
		DetectedAt:  time.Now().Add(-time.Hour),
	}
	if status.IsResolved() {
		now := time.Now()
		incident.ResolvedAt = &now
	}
	repo.incidents[incident.ID] = incident
	return incident
}

func TestCreate_StartsOpenWithCreatedEvent(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := activeUser()

	incident, err := service.Create(context.Background(), CreateIncidentInput{
		Title:        "API latency spike",
		Severity:     domain.SeverityHigh,
		DetectedByID: &actor.ID,
	}, actor)

	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)
	assert.Equal(t, actor.ID, incident.CommanderID, "commander defaults to the actor")

	require.Len(t, repo.timeline, 1)
	assert.Equal(t, incident.ID, repo.timeline[0].IncidentID)
	assert.Equal(t, actor.ID, repo.timeline[0].OwnerID)
	assert.Contains(t, repo.timeline[0].Description, "created by alice")
	assert.Equal(t, incident.DetectedAt, repo.timeline[0].OccurredAt)

	require.NotNil(t, repo.lastTx)
	assert.True(t, repo.lastTx.committed)
}

func TestCreate_InvalidSeverity(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := activeUser()

	_, err := service.Create(context.Background(), CreateIncidentInput{
		Title:        "Bad",
		Severity:     "catastrophic",
		DetectedByID: &actor.ID,
	}, actor)

	assert.ErrorIs(t, err, ErrInvalidSeverity)
}

func TestCreate_RequiresExactlyOneDetectionSource(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := activeUser()
	name := "monitoring"

	// Neither set.
	_, err := service.Create(context.Background(), CreateIncidentInput{
		Title:    "No source",
		Severity: domain.SeverityLow,
	}, actor)
	assert.ErrorIs(t, err, ErrInvalidDetectionSource)

	// Both set.
	_, err = service.Create(context.Background(), CreateIncidentInput{
		Title:          "Both sources",
		Severity:       domain.SeverityLow,
		DetectedByID:   &actor.ID,
		DetectedByName: &name,
	}, actor)
	assert.ErrorIs(t, err, ErrInvalidDetectionSource)
}

func TestCreate_InactiveActorDenied(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := &domain.User{ID: "user-2", Username: "bob", IsActive: false}

	_, err := service.Create(context.Background(), CreateIncidentInput{
		Title:        "Nope",
		Severity:     domain.SeverityLow,
		DetectedByID: &actor.ID,
	}, actor)

	assert.ErrorIs(t, err, ErrInsufficientPermissions)
}

func TestCreate_PrefillsImpactsAndRCA(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := activeUser()

	incident, err := service.Create(context.Background(), CreateIncidentInput{
		Title:        "Disk full",
		Severity:     domain.SeverityMedium,
		DetectedByID: &actor.ID,
		Impacts: &ImpactsInput{
			CustomerImpact: "To be determined",
			BusinessImpact: "To be determined",
		},
		RCA: &RCAInput{
			DetectionMechanism: "Monitoring alert",
		},
	}, actor)

	require.NoError(t, err)
	require.Contains(t, repo.impacts, incident.ID)
	assert.Equal(t, "To be determined", repo.impacts[incident.ID].CustomerImpact)
	require.Contains(t, repo.rca, incident.ID)
	assert.Equal(t, "Monitoring alert", repo.rca[incident.ID].DetectionMechanism)
}

func TestCreate_DuplicateFingerprintPropagated(t *testing.T) {
	repo := newMockRepository()
	repo.createErr = ErrDuplicateFingerprint
	service := NewService(repo, nil)
	actor := activeUser()
	fp := "abc123"

	_, err := service.Create(context.Background(), CreateIncidentInput{
		Title:            "Dup",
		Severity:         domain.SeverityHigh,
		DetectedByID:     &actor.ID,
		AlertFingerprint: &fp,
	}, actor)

	assert.ErrorIs(t, err, ErrDuplicateFingerprint)
}

func TestCreate_NotifierFailureDoesNotFailCreation(t *testing.T) {
	repo := newMockRepository()
	notifier := &mockNotifier{err: errors.New("smtp down")}
	service := NewService(repo, notifier)
	actor := activeUser()

	_, err := service.Create(context.Background(), CreateIncidentInput{
		Title:        "Still created",
		Severity:     domain.SeverityLow,
		DetectedByID: &actor.ID,
	}, actor)

	require.NoError(t, err)
	assert.Equal(t, 1, notifier.createdCalls)
}

func TestTransition_OpenAndDoingMoveFreely(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := activeUser()
	seedIncident(repo, domain.IncidentStatusOpen)

	incident, err := service.Transition(context.Background(), "incident-1", domain.IncidentStatusDoing, nil, actor)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusDoing, incident.Status)

	incident, err = service.Transition(context.Background(), "incident-1", domain.IncidentStatusOpen, nil, actor)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)
}

func TestTransition_SameStatusIsNoOp(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := activeUser()
	seedIncident(repo, domain.IncidentStatusOpen)

	incident, err := service.Transition(context.Background(), "incident-1", domain.IncidentStatusOpen, nil, actor)

	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)
	assert.False(t, repo.updateCalled, "no update for a status echo")
	assert.Empty(t, repo.timeline, "no timeline entry for a status echo")
}

func TestTransition_ResolveStampsResolutionAndNotifies(t *testing.T) {
	repo := newMockRepository()
	notifier := &mockNotifier{}
	service := NewService(repo, notifier)
	actor := activeUser()
	seedIncident(repo, domain.IncidentStatusDoing)

	incident, err := service.Transition(context.Background(), "incident-1", domain.IncidentStatusResolved, &ResolutionInput{
		RemediationSteps:     []string{"restarted the database"},
		PreventativeMeasures: []string{"add replica"},
	}, actor)

	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, incident.Status)
	require.NotNil(t, incident.ResolvedAt)

	record, ok := repo.resolutions["incident-1"]
	require.True(t, ok, "resolution record written")
	assert.Equal(t, *incident.ResolvedAt, record.ResolutionTime)
	assert.Equal(t, []string{"restarted the database"}, record.RemediationSteps)

	assert.Equal(t, 1, notifier.resolvedCalls)

	require.Len(t, repo.timeline, 1)
	assert.Contains(t, repo.timeline[0].Description, "doing to resolved")
}

func TestTransition_ResolvedIsTerminal(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	actor := activeUser()
	seedIncident(repo, domain.IncidentStatusResolved)

	_, err := service.Transition(context.Background(), "incident-1", domain.IncidentStatusDoing, nil, actor)

	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), `"resolved"`)
	assert.Contains(t, err.Error(), `"doing"`)
}

func TestTransition_ResolvedEchoIsNoOp(t *testing.T) {
	repo := newMockRepository()
	notifier := &mockNotifier{}
	service := NewService(repo, notifier)
	actor := activeUser()
	seedIncident(repo, domain.IncidentStatusResolved)

	incident, err := service.Transition(context.Background(), "incident-1", domain.IncidentStatusResolved, nil, actor)

	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, incident.Status)
	assert.Equal(t, 0, notifier.resolvedCalls, "no second notification")
	assert.Empty(t, repo.resolutions, "no second resolution record")
}

func TestTransition_RequiresFullCapability(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusOpen)
	outsider := &domain.User{ID: "user-9", Username: "carol", IsActive: true}

	_, err := service.Transition(context.Background(), "incident-1", domain.IncidentStatusDoing, nil, outsider)

	assert.ErrorIs(t, err, ErrInsufficientPermissions)
}

func TestTransition_InvalidStatusRejected(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusOpen)

	_, err := service.Transition(context.Background(), "incident-1", "escalated", nil, activeUser())

	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateProfile_FrozenWhenResolved(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusResolved)
	title := "New title"

	_, err := service.UpdateProfile(context.Background(), "incident-1", UpdateProfileInput{Title: &title}, activeUser())

	assert.ErrorIs(t, err, ErrIncidentResolved)
}

func TestUpdateProfile_SuperuserMayReassignCommander(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusOpen)
	newCommander := "user-5"

	incident, err := service.UpdateProfile(context.Background(), "incident-1", UpdateProfileInput{
		CommanderID: &newCommander,
	}, superuser())

	require.NoError(t, err)
	assert.Equal(t, newCommander, incident.CommanderID)
}

func TestUpdateImpacts_FrozenWhenResolved(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusResolved)

	_, err := service.UpdateImpacts(context.Background(), "incident-1", ImpactsInput{
		CustomerImpact: "none",
	}, activeUser())

	assert.ErrorIs(t, err, ErrIncidentResolved)
}

func TestAppendTimelineEvent_AnyActiveUserMayAppend(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusDoing)
	outsider := &domain.User{ID: "user-9", Username: "carol", IsActive: true}

	event, err := service.AppendTimelineEvent(context.Background(), "incident-1", TimelineEventInput{
		Description: "Observed elevated error rates in eu-west",
	}, outsider)

	require.NoError(t, err)
	assert.Equal(t, outsider.ID, event.OwnerID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestAppendTimelineEvent_FrozenWhenResolved(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusResolved)

	_, err := service.AppendTimelineEvent(context.Background(), "incident-1", TimelineEventInput{
		Description: "Too late",
	}, activeUser())

	assert.ErrorIs(t, err, ErrIncidentResolved)
}

func TestAppendCommunicationLog_FrozenWhenResolved(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusResolved)

	_, err := service.AppendCommunicationLog(context.Background(), "incident-1", CommunicationLogInput{
		Channel: "statuspage",
		Message: "All clear",
	}, activeUser())

	assert.ErrorIs(t, err, ErrIncidentResolved)
}

func TestAddSignOff_AllowedOnResolvedIncident(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusResolved)

	signOff, err := service.AddSignOff(context.Background(), "incident-1", "SRE lead", "Verified fix", activeUser())

	require.NoError(t, err)
	assert.Equal(t, "SRE lead", signOff.Role)
	assert.Len(t, repo.signOffs, 1)
}

func TestDelete_RequiresSuperuser(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusResolved)

	err := service.Delete(context.Background(), "incident-1", activeUser())

	assert.ErrorIs(t, err, ErrInsufficientPermissions)
	assert.False(t, repo.deleteCalled)
}

func TestDelete_ActiveIncidentRejected(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusDoing)

	err := service.Delete(context.Background(), "incident-1", superuser())

	assert.ErrorIs(t, err, ErrIncidentNotResolved)
	assert.False(t, repo.deleteCalled)
}

func TestDelete_ResolvedIncidentBySuperuser(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	seedIncident(repo, domain.IncidentStatusResolved)

	err := service.Delete(context.Background(), "incident-1", superuser())

	require.NoError(t, err)
	assert.True(t, repo.deleteCalled)
	assert.Empty(t, repo.incidents)
}
