// Package incidents implements the incident lifecycle: creation, status
// transitions, sub-resource mutation rules and commander-based authorization.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/jackc/pgx/v5"
)

// IncidentNotifier is notified after lifecycle milestones. Failures are
// logged, never propagated to the caller.
type IncidentNotifier interface {
	NotifyIncidentCreated(ctx context.Context, incident *domain.Incident) error
	NotifyIncidentResolved(ctx context.Context, incident *domain.Incident) error
}

// Service implements incident business logic.
type Service struct {
	repo     Repository
	notifier IncidentNotifier
}

// NewService creates a new incident service. notifier may be nil.
func NewService(repo Repository, notifier IncidentNotifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
	}
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Title            string
	Severity         domain.IncidentSeverity
	Summary          string
	CommanderID      string // defaults to the acting user
	DetectedByID     *string
	DetectedByName   *string
	DetectedAt       *time.Time
	AlertFingerprint *string
	AutoDetected     bool
	AffectedServices []string
	AffectedRegions  []string
	Impacts          *ImpactsInput
	RCA              *RCAInput
}

// ImpactsInput holds the impact fields of an incident.
type ImpactsInput struct {
	CustomerImpact string
	BusinessImpact string
}

// RCAInput holds the shallow RCA fields of an incident.
type RCAInput struct {
	WhatHappened       string
	WhyItHappened      string
	TechnicalCause     string
	DetectionMechanism string
}

// UpdateProfileInput holds optional profile fields to update. Nil fields
// are left unchanged.
type UpdateProfileInput struct {
	Title            *string
	Severity         *domain.IncidentSeverity
	Summary          *string
	CommanderID      *string
	AffectedServices []string
	AffectedRegions  []string
}

// ResolutionInput holds the resolution record created when an incident
// transitions to resolved.
type ResolutionInput struct {
	RemediationSteps     []string
	PreventativeMeasures []string
}

// TimelineEventInput holds data for appending a timeline event.
type TimelineEventInput struct {
	Description string
	OccurredAt  *time.Time
}

// CommunicationLogInput holds data for appending a communication log entry.
type CommunicationLogInput struct {
	Channel string
	Message string
	SentAt  *time.Time
}

// Create creates a new incident in status open. Every incident starts with a
// synthetic timeline event attributed to its creator, ordered before any
// later entries. Returns ErrDuplicateFingerprint when the alert fingerprint
// is already taken by another incident.
func (s *Service) Create(ctx context.Context, input CreateIncidentInput, actor *domain.User) (*domain.Incident, error) {
	if actor == nil || !actor.IsActive {
		return nil, ErrInsufficientPermissions
	}

	if !input.Severity.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, input.Severity)
	}

	if (input.DetectedByID == nil) == (input.DetectedByName == nil) {
		return nil, ErrInvalidDetectionSource
	}

	commanderID := input.CommanderID
	if commanderID == "" {
		commanderID = actor.ID
	}

	detectedAt := time.Now()
	if input.DetectedAt != nil {
		detectedAt = *input.DetectedAt
	}

	incident := &domain.Incident{
		Title:            input.Title,
		Severity:         input.Severity,
		Status:           domain.IncidentStatusOpen,
		Summary:          input.Summary,
		CommanderID:      commanderID,
		DetectedByID:     input.DetectedByID,
		DetectedByName:   input.DetectedByName,
		DetectedAt:       detectedAt,
		AlertFingerprint: input.AlertFingerprint,
		AutoDetected:     input.AutoDetected,
		AffectedServices: input.AffectedServices,
		AffectedRegions:  input.AffectedRegions,
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if err := s.repo.CreateIncidentTx(ctx, tx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	created := &domain.TimelineEvent{
		IncidentID:  incident.ID,
		OwnerID:     actor.ID,
		Description: fmt.Sprintf("Incident created by %s", actor.Username),
		OccurredAt:  incident.DetectedAt,
	}
	if err := s.repo.AppendTimelineEventTx(ctx, tx, created); err != nil {
		return nil, fmt.Errorf("append created event: %w", err)
	}

	if input.Impacts != nil {
		impacts := &domain.Impacts{
			IncidentID:     incident.ID,
			CustomerImpact: input.Impacts.CustomerImpact,
			BusinessImpact: input.Impacts.BusinessImpact,
		}
		if err := s.repo.UpsertImpactsTx(ctx, tx, impacts); err != nil {
			return nil, fmt.Errorf("create impacts: %w", err)
		}
	}

	if input.RCA != nil {
		rca := &domain.ShallowRCA{
			IncidentID:         incident.ID,
			WhatHappened:       input.RCA.WhatHappened,
			WhyItHappened:      input.RCA.WhyItHappened,
			TechnicalCause:     input.RCA.TechnicalCause,
			DetectionMechanism: input.RCA.DetectionMechanism,
		}
		if err := s.repo.UpsertShallowRCATx(ctx, tx, rca); err != nil {
			return nil, fmt.Errorf("create rca: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.notifyCreated(ctx, incident)

	return incident, nil
}

// notifyCreated dispatches the incident-created notification. Fire and
// forget: failures are logged, never returned.
func (s *Service) notifyCreated(ctx context.Context, incident *domain.Incident) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyIncidentCreated(ctx, incident); err != nil {
		slog.Error("failed to notify incident created",
			"incident_id", incident.ID,
			"error", err,
		)
	}
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// List retrieves incidents with optional filters.
func (s *Service) List(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error) {
	return s.repo.ListIncidents(ctx, filters)
}

// Transition moves the incident to a new status. Resolved is terminal: any
// transition out of it fails, naming the offending from/to pair. Reaching
// resolved stamps the resolution time and writes the resolution record.
func (s *Service) Transition(ctx context.Context, id string, newStatus domain.IncidentStatus, resolution *ResolutionInput, actor *domain.User) (*domain.Incident, error) {
	if !newStatus.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckPermission(incident, actor, false); err != nil {
		return nil, err
	}

	if incident.Status.IsResolved() {
		if newStatus.IsResolved() {
			// Status echo on an already resolved incident is a no-op.
			return incident, nil
		}
		return nil, fmt.Errorf("%w: cannot transition from %q to %q", ErrInvalidTransition, incident.Status, newStatus)
	}

	if newStatus == incident.Status {
		return incident, nil
	}

	from := incident.Status
	incident.Status = newStatus

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if newStatus.IsResolved() {
		now := time.Now()
		incident.ResolvedAt = &now

		record := &domain.ResolutionMitigation{
			IncidentID:     incident.ID,
			ResolutionTime: now,
		}
		if resolution != nil {
			record.RemediationSteps = resolution.RemediationSteps
			record.PreventativeMeasures = resolution.PreventativeMeasures
		}
		if err := s.repo.CreateResolutionTx(ctx, tx, record); err != nil {
			return nil, fmt.Errorf("create resolution: %w", err)
		}
	}

	if err := s.repo.UpdateIncidentTx(ctx, tx, incident); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	entry := &domain.TimelineEvent{
		IncidentID:  incident.ID,
		OwnerID:     actor.ID,
		Description: fmt.Sprintf("Status changed from %s to %s by %s", from, newStatus, actor.Username),
		OccurredAt:  time.Now(),
	}
	if err := s.repo.AppendTimelineEventTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append transition event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if newStatus.IsResolved() {
		s.notifyResolved(ctx, incident)
	}

	return incident, nil
}

func (s *Service) notifyResolved(ctx context.Context, incident *domain.Incident) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyIncidentResolved(ctx, incident); err != nil {
		slog.Error("failed to notify incident resolved",
			"incident_id", incident.ID,
			"error", err,
		)
	}
}

// UpdateProfile updates the incident's profile fields. Requires full
// capability; profile is frozen once the incident is resolved.
func (s *Service) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput, actor *domain.User) (*domain.Incident, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckPermission(incident, actor, false); err != nil {
		return nil, err
	}

	if incident.Status.IsResolved() {
		return nil, fmt.Errorf("%w: profile is frozen", ErrIncidentResolved)
	}

	if input.Title != nil {
		incident.Title = *input.Title
	}
	if input.Severity != nil {
		if !input.Severity.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, *input.Severity)
		}
		incident.Severity = *input.Severity
	}
	if input.Summary != nil {
		incident.Summary = *input.Summary
	}
	if input.CommanderID != nil {
		incident.CommanderID = *input.CommanderID
	}
	if input.AffectedServices != nil {
		incident.AffectedServices = input.AffectedServices
	}
	if input.AffectedRegions != nil {
		incident.AffectedRegions = input.AffectedRegions
	}

	if err := s.repo.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	return incident, nil
}

// UpdateImpacts creates or updates the incident's impact record. Requires
// full capability; impacts are frozen once resolved.
func (s *Service) UpdateImpacts(ctx context.Context, id string, input ImpactsInput, actor *domain.User) (*domain.Impacts, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckPermission(incident, actor, false); err != nil {
		return nil, err
	}

	if incident.Status.IsResolved() {
		return nil, fmt.Errorf("%w: impacts are frozen", ErrIncidentResolved)
	}

	impacts := &domain.Impacts{
		IncidentID:     incident.ID,
		CustomerImpact: input.CustomerImpact,
		BusinessImpact: input.BusinessImpact,
	}
	if err := s.repo.UpsertImpacts(ctx, impacts); err != nil {
		return nil, fmt.Errorf("upsert impacts: %w", err)
	}

	return impacts, nil
}

// UpdateRCA creates or updates the incident's shallow RCA. Requires full
// capability; the RCA is frozen once resolved.
func (s *Service) UpdateRCA(ctx context.Context, id string, input RCAInput, actor *domain.User) (*domain.ShallowRCA, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckPermission(incident, actor, false); err != nil {
		return nil, err
	}

	if incident.Status.IsResolved() {
		return nil, fmt.Errorf("%w: rca is frozen", ErrIncidentResolved)
	}

	rca := &domain.ShallowRCA{
		IncidentID:         incident.ID,
		WhatHappened:       input.WhatHappened,
		WhyItHappened:      input.WhyItHappened,
		TechnicalCause:     input.TechnicalCause,
		DetectionMechanism: input.DetectionMechanism,
	}
	if err := s.repo.UpsertShallowRCA(ctx, rca); err != nil {
		return nil, fmt.Errorf("upsert rca: %w", err)
	}

	return rca, nil
}

// AppendTimelineEvent appends a timeline event. Append-level access
// suffices, but resolved incidents are append-frozen.
func (s *Service) AppendTimelineEvent(ctx context.Context, id string, input TimelineEventInput, actor *domain.User) (*domain.TimelineEvent, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckPermission(incident, actor, true); err != nil {
		return nil, err
	}

	if incident.Status.IsResolved() {
		return nil, fmt.Errorf("%w: timeline is frozen", ErrIncidentResolved)
	}

	occurredAt := time.Now()
	if input.OccurredAt != nil {
		occurredAt = *input.OccurredAt
	}

	event := &domain.TimelineEvent{
		IncidentID:  incident.ID,
		OwnerID:     actor.ID,
		Description: input.Description,
		OccurredAt:  occurredAt,
	}
	if err := s.repo.AppendTimelineEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("append timeline event: %w", err)
	}

	return event, nil
}

// AppendCommunicationLog appends a communication log entry. Append-level
// access suffices, but resolved incidents are append-frozen.
func (s *Service) AppendCommunicationLog(ctx context.Context, id string, input CommunicationLogInput, actor *domain.User) (*domain.CommunicationLog, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckPermission(incident, actor, true); err != nil {
		return nil, err
	}

	if incident.Status.IsResolved() {
		return nil, fmt.Errorf("%w: communication log is frozen", ErrIncidentResolved)
	}

	sentAt := time.Now()
	if input.SentAt != nil {
		sentAt = *input.SentAt
	}

	entry := &domain.CommunicationLog{
		IncidentID: incident.ID,
		Channel:    input.Channel,
		Message:    input.Message,
		SentAt:     sentAt,
	}
	if err := s.repo.AppendCommunicationLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("append communication log: %w", err)
	}

	return entry, nil
}

// AddSignOff records an approval on the incident. Append-level access
// suffices.
func (s *Service) AddSignOff(ctx context.Context, id, role, note string, actor *domain.User) (*domain.SignOff, error) {
	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckPermission(incident, actor, true); err != nil {
		return nil, err
	}

	signOff := &domain.SignOff{
		IncidentID: incident.ID,
		UserID:     actor.ID,
		Role:       role,
		Note:       note,
		SignedAt:   time.Now(),
	}
	if err := s.repo.AddSignOff(ctx, signOff); err != nil {
		return nil, fmt.Errorf("add sign-off: %w", err)
	}

	return signOff, nil
}

// Delete removes a resolved incident and all owned sub-entities. Superuser
// only; active incidents must be resolved first.
func (s *Service) Delete(ctx context.Context, id string, actor *domain.User) error {
	if actor == nil || !actor.IsActive || !actor.IsSuperuser {
		return ErrInsufficientPermissions
	}

	incident, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return err
	}

	if !incident.Status.IsResolved() {
		return fmt.Errorf("%w: cannot delete an active incident", ErrIncidentNotResolved)
	}

	if err := s.repo.DeleteIncident(ctx, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}

	return nil
}

// ListTimelineEvents returns the incident's timeline in append order, the
// synthetic created event first.
func (s *Service) ListTimelineEvents(ctx context.Context, id string) ([]*domain.TimelineEvent, error) {
	if _, err := s.repo.GetIncident(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListTimelineEvents(ctx, id)
}

// ListCommunicationLogs returns the incident's communication log entries.
func (s *Service) ListCommunicationLogs(ctx context.Context, id string) ([]*domain.CommunicationLog, error) {
	if _, err := s.repo.GetIncident(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListCommunicationLogs(ctx, id)
}

// GetImpacts returns the incident's impact record.
func (s *Service) GetImpacts(ctx context.Context, id string) (*domain.Impacts, error) {
	return s.repo.GetImpacts(ctx, id)
}

// GetShallowRCA returns the incident's shallow RCA.
func (s *Service) GetShallowRCA(ctx context.Context, id string) (*domain.ShallowRCA, error) {
	return s.repo.GetShallowRCA(ctx, id)
}

// GetResolution returns the incident's resolution record.
func (s *Service) GetResolution(ctx context.Context, id string) (*domain.ResolutionMitigation, error) {
	return s.repo.GetResolution(ctx, id)
}

// GetByFingerprint returns the incident carrying the given alert
// fingerprint. Used by the alert ingestion pipeline for hard dedup.
func (s *Service) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Incident, error) {
	return s.repo.GetIncidentByFingerprint(ctx, fingerprint)
}

// FindActiveAutoDetectedByTitle returns an open or doing auto-detected
// incident with the given title. Used by the alert ingestion pipeline for
// soft dedup against re-firing alerts.
func (s *Service) FindActiveAutoDetectedByTitle(ctx context.Context, title string) (*domain.Incident, error) {
	return s.repo.FindActiveAutoDetectedByTitle(ctx, title)
}

// HasActiveCommandedIncidents reports whether the user commands any open or
// doing incident. The user directory consults it before deactivating a user.
func (s *Service) HasActiveCommandedIncidents(ctx context.Context, userID string) (bool, error) {
	return s.repo.HasActiveCommandedIncidents(ctx, userID)
}

// ListSignOffs returns the incident's sign-off approvals.
func (s *Service) ListSignOffs(ctx context.Context, id string) ([]*domain.SignOff, error) {
	return s.repo.ListSignOffs(ctx, id)
}
