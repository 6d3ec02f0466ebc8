package incidents

import (
	"context"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for incident storage.
type Repository interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error)
	UpdateIncident(ctx context.Context, incident *domain.Incident) error
	// DeleteIncident removes the incident; owned sub-entities go with it
	// via ON DELETE CASCADE.
	DeleteIncident(ctx context.Context, id string) error

	// GetIncidentByFingerprint returns the incident carrying the given
	// alert fingerprint, or ErrIncidentNotFound.
	GetIncidentByFingerprint(ctx context.Context, fingerprint string) (*domain.Incident, error)
	// FindActiveAutoDetectedByTitle returns an open or doing auto-detected
	// incident with the given title, or ErrIncidentNotFound.
	FindActiveAutoDetectedByTitle(ctx context.Context, title string) (*domain.Incident, error)
	// HasActiveCommandedIncidents reports whether the user commands any
	// open or doing incident.
	HasActiveCommandedIncidents(ctx context.Context, userID string) (bool, error)

	AppendTimelineEvent(ctx context.Context, event *domain.TimelineEvent) error
	ListTimelineEvents(ctx context.Context, incidentID string) ([]*domain.TimelineEvent, error)

	AppendCommunicationLog(ctx context.Context, entry *domain.CommunicationLog) error
	ListCommunicationLogs(ctx context.Context, incidentID string) ([]*domain.CommunicationLog, error)

	GetImpacts(ctx context.Context, incidentID string) (*domain.Impacts, error)
	UpsertImpacts(ctx context.Context, impacts *domain.Impacts) error

	GetShallowRCA(ctx context.Context, incidentID string) (*domain.ShallowRCA, error)
	UpsertShallowRCA(ctx context.Context, rca *domain.ShallowRCA) error

	GetResolution(ctx context.Context, incidentID string) (*domain.ResolutionMitigation, error)

	AddSignOff(ctx context.Context, signOff *domain.SignOff) error
	ListSignOffs(ctx context.Context, incidentID string) ([]*domain.SignOff, error)

	// Transaction support. Incident creation writes the incident row, the
	// synthetic timeline event and any pre-filled sub-entities atomically;
	// the fingerprint uniqueness constraint makes concurrent auto-detected
	// creation race-safe (CreateIncidentTx returns ErrDuplicateFingerprint
	// when the insert conflicts).
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error
	AppendTimelineEventTx(ctx context.Context, tx pgx.Tx, event *domain.TimelineEvent) error
	UpsertImpactsTx(ctx context.Context, tx pgx.Tx, impacts *domain.Impacts) error
	UpsertShallowRCATx(ctx context.Context, tx pgx.Tx, rca *domain.ShallowRCA) error
	CreateResolutionTx(ctx context.Context, tx pgx.Tx, resolution *domain.ResolutionMitigation) error
	UpdateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error
}

// IncidentFilters holds filter options for listing incidents.
type IncidentFilters struct {
	Status       *domain.IncidentStatus
	Severity     *domain.IncidentSeverity
	CommanderID  *string
	AutoDetected *bool
	Limit        int
	Offset       int
}
