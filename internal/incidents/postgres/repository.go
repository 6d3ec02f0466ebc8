// Package postgres provides PostgreSQL implementation of incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// BeginTx starts a transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const incidentColumns = `
	id, title, severity, status, summary, commander_id,
	detected_by_id, detected_by_name, detected_at, resolved_at,
	alert_fingerprint, auto_detected, affected_services, affected_regions,
	created_at, updated_at
`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.Title,
		&incident.Severity,
		&incident.Status,
		&incident.Summary,
		&incident.CommanderID,
		&incident.DetectedByID,
		&incident.DetectedByName,
		&incident.DetectedAt,
		&incident.ResolvedAt,
		&incident.AlertFingerprint,
		&incident.AutoDetected,
		&incident.AffectedServices,
		&incident.AffectedRegions,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if incident.AffectedServices == nil {
		incident.AffectedServices = []string{}
	}
	if incident.AffectedRegions == nil {
		incident.AffectedRegions = []string{}
	}
	return &incident, nil
}

// CreateIncidentTx creates a new incident within a transaction. The partial
// unique index on alert_fingerprint makes concurrent creation for the same
// alert race-safe; a conflict maps to incidents.ErrDuplicateFingerprint.
func (r *Repository) CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			title, severity, status, summary, commander_id,
			detected_by_id, detected_by_name, detected_at,
			alert_fingerprint, auto_detected, affected_services, affected_regions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		incident.Title,
		incident.Severity,
		incident.Status,
		incident.Summary,
		incident.CommanderID,
		incident.DetectedByID,
		incident.DetectedByName,
		incident.DetectedAt,
		incident.AlertFingerprint,
		incident.AutoDetected,
		incident.AffectedServices,
		incident.AffectedRegions,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "incidents_alert_fingerprint_key" {
			return incidents.ErrDuplicateFingerprint
		}
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// GetIncidentByFingerprint retrieves an incident by its alert fingerprint.
func (r *Repository) GetIncidentByFingerprint(ctx context.Context, fingerprint string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE alert_fingerprint = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, fingerprint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident by fingerprint: %w", err)
	}
	return incident, nil
}

// FindActiveAutoDetectedByTitle retrieves an open or doing auto-detected
// incident with the given title.
func (r *Repository) FindActiveAutoDetectedByTitle(ctx context.Context, title string) (*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE auto_detected = true AND title = $1 AND status IN ('open', 'doing')
		ORDER BY created_at
		LIMIT 1
	`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, title))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("find auto-detected incident: %w", err)
	}
	return incident, nil
}

// HasActiveCommandedIncidents reports whether the user commands any open or
// doing incident.
func (r *Repository) HasActiveCommandedIncidents(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM incidents WHERE commander_id = $1 AND status IN ('open', 'doing'))`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check commanded incidents: %w", err)
	}
	return exists, nil
}

// ListIncidents retrieves incidents with optional filters.
func (r *Repository) ListIncidents(ctx context.Context, filters incidents.IncidentFilters) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, *filters.Severity)
		argNum++
	}
	if filters.CommanderID != nil {
		query += fmt.Sprintf(" AND commander_id = $%d", argNum)
		args = append(args, *filters.CommanderID)
		argNum++
	}
	if filters.AutoDetected != nil {
		query += fmt.Sprintf(" AND auto_detected = $%d", argNum)
		args = append(args, *filters.AutoDetected)
		argNum++
	}

	query += " ORDER BY detected_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		result = append(result, incident)
	}
	return result, rows.Err()
}

// UpdateIncident updates incident fields.
func (r *Repository) UpdateIncident(ctx context.Context, incident *domain.Incident) error {
	return r.updateIncident(ctx, r.db, incident)
}

// UpdateIncidentTx updates incident fields within a transaction.
func (r *Repository) UpdateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error {
	return r.updateIncident(ctx, tx, incident)
}

func (r *Repository) updateIncident(ctx context.Context, q querier, incident *domain.Incident) error {
	query := `
		UPDATE incidents SET
			title = $2, severity = $3, status = $4, summary = $5,
			commander_id = $6, resolved_at = $7,
			affected_services = $8, affected_regions = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := q.QueryRow(ctx, query,
		incident.ID,
		incident.Title,
		incident.Severity,
		incident.Status,
		incident.Summary,
		incident.CommanderID,
		incident.ResolvedAt,
		incident.AffectedServices,
		incident.AffectedRegions,
	).Scan(&incident.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return incidents.ErrIncidentNotFound
		}
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

// DeleteIncident removes an incident. Owned sub-entities are removed via
// ON DELETE CASCADE on their foreign keys.
func (r *Repository) DeleteIncident(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// AppendTimelineEvent appends a timeline event.
func (r *Repository) AppendTimelineEvent(ctx context.Context, event *domain.TimelineEvent) error {
	return r.appendTimelineEvent(ctx, r.db, event)
}

// AppendTimelineEventTx appends a timeline event within a transaction.
func (r *Repository) AppendTimelineEventTx(ctx context.Context, tx pgx.Tx, event *domain.TimelineEvent) error {
	return r.appendTimelineEvent(ctx, tx, event)
}

func (r *Repository) appendTimelineEvent(ctx context.Context, q querier, event *domain.TimelineEvent) error {
	query := `
		INSERT INTO timeline_events (incident_id, owner_id, description, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := q.QueryRow(ctx, query,
		event.IncidentID,
		event.OwnerID,
		event.Description,
		event.OccurredAt,
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

// ListTimelineEvents returns timeline events in append order.
func (r *Repository) ListTimelineEvents(ctx context.Context, incidentID string) ([]*domain.TimelineEvent, error) {
	query := `
		SELECT id, incident_id, owner_id, description, occurred_at, created_at
		FROM timeline_events
		WHERE incident_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.ID, &event.IncidentID, &event.OwnerID, &event.Description, &event.OccurredAt, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		result = append(result, &event)
	}
	return result, rows.Err()
}

// AppendCommunicationLog appends a communication log entry.
func (r *Repository) AppendCommunicationLog(ctx context.Context, entry *domain.CommunicationLog) error {
	query := `
		INSERT INTO communication_logs (incident_id, channel, message, sent_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.IncidentID,
		entry.Channel,
		entry.Message,
		entry.SentAt,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("append communication log: %w", err)
	}
	return nil
}

// ListCommunicationLogs returns communication log entries in append order.
func (r *Repository) ListCommunicationLogs(ctx context.Context, incidentID string) ([]*domain.CommunicationLog, error) {
	query := `
		SELECT id, incident_id, channel, message, sent_at, created_at
		FROM communication_logs
		WHERE incident_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list communication logs: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.CommunicationLog, 0)
	for rows.Next() {
		var entry domain.CommunicationLog
		if err := rows.Scan(&entry.ID, &entry.IncidentID, &entry.Channel, &entry.Message, &entry.SentAt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan communication log: %w", err)
		}
		result = append(result, &entry)
	}
	return result, rows.Err()
}

// GetImpacts retrieves the incident's impact record.
func (r *Repository) GetImpacts(ctx context.Context, incidentID string) (*domain.Impacts, error) {
	query := `
		SELECT incident_id, customer_impact, business_impact, updated_at
		FROM incident_impacts
		WHERE incident_id = $1
	`
	var impacts domain.Impacts
	err := r.db.QueryRow(ctx, query, incidentID).Scan(
		&impacts.IncidentID,
		&impacts.CustomerImpact,
		&impacts.BusinessImpact,
		&impacts.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get impacts: %w", err)
	}
	return &impacts, nil
}

// UpsertImpacts creates or replaces the incident's impact record.
func (r *Repository) UpsertImpacts(ctx context.Context, impacts *domain.Impacts) error {
	return r.upsertImpacts(ctx, r.db, impacts)
}

// UpsertImpactsTx creates or replaces the impact record within a transaction.
func (r *Repository) UpsertImpactsTx(ctx context.Context, tx pgx.Tx, impacts *domain.Impacts) error {
	return r.upsertImpacts(ctx, tx, impacts)
}

func (r *Repository) upsertImpacts(ctx context.Context, q querier, impacts *domain.Impacts) error {
	query := `
		INSERT INTO incident_impacts (incident_id, customer_impact, business_impact)
		VALUES ($1, $2, $3)
		ON CONFLICT (incident_id) DO UPDATE SET
			customer_impact = EXCLUDED.customer_impact,
			business_impact = EXCLUDED.business_impact,
			updated_at = now()
		RETURNING updated_at
	`
	err := q.QueryRow(ctx, query,
		impacts.IncidentID,
		impacts.CustomerImpact,
		impacts.BusinessImpact,
	).Scan(&impacts.UpdatedAt)

	if err != nil {
		return fmt.Errorf("upsert impacts: %w", err)
	}
	return nil
}

// GetShallowRCA retrieves the incident's shallow RCA record.
func (r *Repository) GetShallowRCA(ctx context.Context, incidentID string) (*domain.ShallowRCA, error) {
	query := `
		SELECT incident_id, what_happened, why_it_happened, technical_cause, detection_mechanism, updated_at
		FROM incident_rca
		WHERE incident_id = $1
	`
	var rca domain.ShallowRCA
	err := r.db.QueryRow(ctx, query, incidentID).Scan(
		&rca.IncidentID,
		&rca.WhatHappened,
		&rca.WhyItHappened,
		&rca.TechnicalCause,
		&rca.DetectionMechanism,
		&rca.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get rca: %w", err)
	}
	return &rca, nil
}

// UpsertShallowRCA creates or replaces the incident's shallow RCA record.
func (r *Repository) UpsertShallowRCA(ctx context.Context, rca *domain.ShallowRCA) error {
	return r.upsertShallowRCA(ctx, r.db, rca)
}

// UpsertShallowRCATx creates or replaces the RCA record within a transaction.
func (r *Repository) UpsertShallowRCATx(ctx context.Context, tx pgx.Tx, rca *domain.ShallowRCA) error {
	return r.upsertShallowRCA(ctx, tx, rca)
}

func (r *Repository) upsertShallowRCA(ctx context.Context, q querier, rca *domain.ShallowRCA) error {
	query := `
		INSERT INTO incident_rca (incident_id, what_happened, why_it_happened, technical_cause, detection_mechanism)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (incident_id) DO UPDATE SET
			what_happened = EXCLUDED.what_happened,
			why_it_happened = EXCLUDED.why_it_happened,
			technical_cause = EXCLUDED.technical_cause,
			detection_mechanism = EXCLUDED.detection_mechanism,
			updated_at = now()
		RETURNING updated_at
	`
	err := q.QueryRow(ctx, query,
		rca.IncidentID,
		rca.WhatHappened,
		rca.WhyItHappened,
		rca.TechnicalCause,
		rca.DetectionMechanism,
	).Scan(&rca.UpdatedAt)

	if err != nil {
		return fmt.Errorf("upsert rca: %w", err)
	}
	return nil
}

// GetResolution retrieves the incident's resolution record.
func (r *Repository) GetResolution(ctx context.Context, incidentID string) (*domain.ResolutionMitigation, error) {
	query := `
		SELECT incident_id, resolution_time, remediation_steps, preventative_measures, created_at
		FROM incident_resolutions
		WHERE incident_id = $1
	`
	var res domain.ResolutionMitigation
	err := r.db.QueryRow(ctx, query, incidentID).Scan(
		&res.IncidentID,
		&res.ResolutionTime,
		&res.RemediationSteps,
		&res.PreventativeMeasures,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get resolution: %w", err)
	}
	return &res, nil
}

// CreateResolutionTx creates the resolution record within a transaction.
func (r *Repository) CreateResolutionTx(ctx context.Context, tx pgx.Tx, resolution *domain.ResolutionMitigation) error {
	query := `
		INSERT INTO incident_resolutions (incident_id, resolution_time, remediation_steps, preventative_measures)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (incident_id) DO UPDATE SET
			resolution_time = EXCLUDED.resolution_time,
			remediation_steps = EXCLUDED.remediation_steps,
			preventative_measures = EXCLUDED.preventative_measures
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query,
		resolution.IncidentID,
		resolution.ResolutionTime,
		resolution.RemediationSteps,
		resolution.PreventativeMeasures,
	).Scan(&resolution.CreatedAt)

	if err != nil {
		return fmt.Errorf("create resolution: %w", err)
	}
	return nil
}

// AddSignOff records an approval on the incident.
func (r *Repository) AddSignOff(ctx context.Context, signOff *domain.SignOff) error {
	query := `
		INSERT INTO incident_signoffs (incident_id, user_id, role, note, signed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		signOff.IncidentID,
		signOff.UserID,
		signOff.Role,
		signOff.Note,
		signOff.SignedAt,
	).Scan(&signOff.ID)

	if err != nil {
		return fmt.Errorf("add sign-off: %w", err)
	}
	return nil
}

// ListSignOffs returns the incident's sign-off approvals.
func (r *Repository) ListSignOffs(ctx context.Context, incidentID string) ([]*domain.SignOff, error) {
	query := `
		SELECT id, incident_id, user_id, role, note, signed_at
		FROM incident_signoffs
		WHERE incident_id = $1
		ORDER BY signed_at, id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list sign-offs: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.SignOff, 0)
	for rows.Next() {
		var signOff domain.SignOff
		if err := rows.Scan(&signOff.ID, &signOff.IncidentID, &signOff.UserID, &signOff.Role, &signOff.Note, &signOff.SignedAt); err != nil {
			return nil, fmt.Errorf("scan sign-off: %w", err)
		}
		result = append(result, &signOff)
	}
	return result, rows.Err()
}
