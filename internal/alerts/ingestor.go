package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/incidents"
)

// IncidentCreator is the slice of the incident service the ingestor needs:
// creation plus the two dedup lookups.
type IncidentCreator interface {
	Create(ctx context.Context, input incidents.CreateIncidentInput, actor *domain.User) (*domain.Incident, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Incident, error)
	FindActiveAutoDetectedByTitle(ctx context.Context, title string) (*domain.Incident, error)
}

// SystemUserResolver resolves the synthetic account that authors
// auto-created incidents.
type SystemUserResolver interface {
	GetSystemUser(ctx context.Context) (*domain.User, error)
}

// AlertFetcher fetches firing alerts from one source endpoint.
type AlertFetcher interface {
	FetchFiringAlerts(ctx context.Context, endpoint string) ([]domain.Alert, error)
}

// IngestorConfig contains ingestor configuration.
type IngestorConfig struct {
	Sources      []string
	FetchTimeout time.Duration
}

// Ingestor runs the alert intake pipeline: fetch firing alerts from each
// source, filter them through the rule engine, deduplicate, and create
// incidents for the survivors. One bad source or one malformed alert never
// blocks the rest of the cycle.
type Ingestor struct {
	config    IngestorConfig
	fetcher   AlertFetcher
	rules     *RuleService
	incidents IncidentCreator
	users     SystemUserResolver
}

// NewIngestor creates a new alert ingestor.
func NewIngestor(config IngestorConfig, fetcher AlertFetcher, rules *RuleService, incidentCreator IncidentCreator, users SystemUserResolver) *Ingestor {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	return &Ingestor{
		config:    config,
		fetcher:   fetcher,
		rules:     rules,
		incidents: incidentCreator,
		users:     users,
	}
}

// RunCycle executes one full ingestion cycle over all configured sources.
// Returns an error only for cycle-wide failures (no system user, rule set
// unavailable); per-source and per-alert failures are logged and counted.
func (ing *Ingestor) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		ingestionCycleDuration.Observe(time.Since(start).Seconds())
	}()

	// Cycle ID correlates log lines across sources within one run.
	cycleID := uuid.New().String()
	logger := slog.With("cycle_id", cycleID)

	systemUser, err := ing.users.GetSystemUser(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSystemUser, err)
	}

	rules, err := ing.rules.ActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("load active rules: %w", err)
	}

	for _, source := range ing.config.Sources {
		alerts, err := ing.fetchSource(ctx, source)
		if err != nil {
			// Source failures are isolated: log and move on.
			recordSourceError(source)
			logger.Error("failed to fetch alerts from source",
				"source", source,
				"error", err,
			)
			continue
		}

		logger.Debug("fetched alerts", "source", source, "count", len(alerts))

		for _, alert := range alerts {
			ing.processAlert(ctx, alert, rules, systemUser)
		}
	}

	return nil
}

// fetchSource fetches firing alerts from one source under the per-source
// timeout budget.
func (ing *Ingestor) fetchSource(ctx context.Context, source string) ([]domain.Alert, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, ing.config.FetchTimeout)
	defer cancel()
	return ing.fetcher.FetchFiringAlerts(fetchCtx, source)
}

// processAlert runs the filter, dedup and create steps for one alert.
// Failures are logged and counted, never propagated: a malformed alert
// must not abort the batch.
func (ing *Ingestor) processAlert(ctx context.Context, alert domain.Alert, rules []domain.AlertFilterRule, systemUser *domain.User) {
	logger := slog.With("fingerprint", alert.Fingerprint, "alertname", alert.Labels["alertname"])

	// Hard dedup: an incident already carries this fingerprint.
	if alert.Fingerprint != "" {
		_, err := ing.incidents.GetByFingerprint(ctx, alert.Fingerprint)
		switch {
		case err == nil:
			recordOutcome(outcomeDuplicate)
			logger.Debug("skipping alert: fingerprint already tracked")
			return
		case !errors.Is(err, incidents.ErrIncidentNotFound):
			recordOutcome(outcomeFailed)
			logger.Error("fingerprint lookup failed", "error", err)
			return
		}
	}

	if !ShouldCreate(alert, rules) {
		recordOutcome(outcomeFiltered)
		logger.Debug("skipping alert: filtered by rules")
		return
	}

	input := MapAlert(alert, systemUser)

	// Soft dedup: the same alert re-firing before resolution maps to the
	// same derived title on a still-active auto-detected incident.
	_, err := ing.incidents.FindActiveAutoDetectedByTitle(ctx, input.Title)
	switch {
	case err == nil:
		recordOutcome(outcomeDuplicate)
		logger.Debug("skipping alert: active incident with same title", "title", input.Title)
		return
	case !errors.Is(err, incidents.ErrIncidentNotFound):
		recordOutcome(outcomeFailed)
		logger.Error("title lookup failed", "error", err)
		return
	}

	incident, err := ing.incidents.Create(ctx, input, systemUser)
	if err != nil {
		// A fingerprint conflict here means another cycle won the race;
		// the uniqueness constraint turns check-then-create into a dedup.
		if errors.Is(err, incidents.ErrDuplicateFingerprint) {
			recordOutcome(outcomeDuplicate)
			logger.Debug("skipping alert: concurrent creation for fingerprint")
			return
		}
		recordOutcome(outcomeFailed)
		logger.Error("failed to create incident from alert", "error", err)
		return
	}

	recordOutcome(outcomeCreated)
	logger.Info("incident auto-created from alert",
		"incident_id", incident.ID,
		"title", incident.Title,
		"severity", incident.Severity,
	)
}
