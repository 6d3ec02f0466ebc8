package incidents

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// UserDirectory resolves authenticated user IDs to directory records.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	users     UserDirectory
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service, users UserDirectory) *Handler {
	return &Handler{
		service:   service,
		users:     users,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident routes. All routes require
// authentication; per-incident authorization happens in the service.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Post("/", h.CreateIncident)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetIncident)
			r.Patch("/", h.UpdateIncident)
			r.Delete("/", h.DeleteIncident)
			r.Post("/status", h.TransitionIncident)
			r.Get("/impacts", h.GetImpacts)
			r.Put("/impacts", h.UpdateImpacts)
			r.Get("/rca", h.GetRCA)
			r.Put("/rca", h.UpdateRCA)
			r.Get("/timeline", h.ListTimeline)
			r.Post("/timeline", h.AppendTimeline)
			r.Get("/communications", h.ListCommunications)
			r.Post("/communications", h.AppendCommunication)
			r.Get("/resolution", h.GetResolution)
			r.Get("/signoffs", h.ListSignOffs)
			r.Post("/signoffs", h.AddSignOff)
		})
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: ErrIncidentResolved, Status: http.StatusConflict},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrIncidentNotResolved, Status: http.StatusConflict},
	{Error: ErrDuplicateFingerprint, Status: http.StatusConflict},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest},
	{Error: ErrInvalidSeverity, Status: http.StatusBadRequest},
	{Error: ErrInvalidDetectionSource, Status: http.StatusBadRequest},
	{Error: ErrInsufficientPermissions, Status: http.StatusForbidden},
}

// actor loads the authenticated user for the request.
func (h *Handler) actor(r *http.Request) (*domain.User, error) {
	return h.users.GetUser(r.Context(), httputil.GetUserID(r.Context()))
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Title            string     `json:"title" validate:"required,min=1,max=255"`
	Severity         string     `json:"severity" validate:"required,oneof=critical high medium low informational"`
	Summary          string     `json:"summary"`
	CommanderID      string     `json:"commander_id" validate:"omitempty,uuid"`
	DetectedByID     *string    `json:"detected_by_id" validate:"omitempty,uuid"`
	DetectedByName   *string    `json:"detected_by_name"`
	DetectedAt       *time.Time `json:"detected_at"`
	AffectedServices []string   `json:"affected_services"`
	AffectedRegions  []string   `json:"affected_regions"`

	Impacts *struct {
		CustomerImpact string `json:"customer_impact"`
		BusinessImpact string `json:"business_impact"`
	} `json:"impacts"`
	RCA *struct {
		WhatHappened       string `json:"what_happened"`
		WhyItHappened      string `json:"why_it_happened"`
		TechnicalCause     string `json:"technical_cause"`
		DetectionMechanism string `json:"detection_mechanism"`
	} `json:"rca"`
}

// CreateIncident handles POST /incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	input := CreateIncidentInput{
		Title:            req.Title,
		Severity:         domain.IncidentSeverity(req.Severity),
		Summary:          req.Summary,
		CommanderID:      req.CommanderID,
		DetectedByID:     req.DetectedByID,
		DetectedByName:   req.DetectedByName,
		DetectedAt:       req.DetectedAt,
		AffectedServices: req.AffectedServices,
		AffectedRegions:  req.AffectedRegions,
	}
	if req.Impacts != nil {
		input.Impacts = &ImpactsInput{
			CustomerImpact: req.Impacts.CustomerImpact,
			BusinessImpact: req.Impacts.BusinessImpact,
		}
	}
	if req.RCA != nil {
		input.RCA = &RCAInput{
			WhatHappened:       req.RCA.WhatHappened,
			WhyItHappened:      req.RCA.WhyItHappened,
			TechnicalCause:     req.RCA.TechnicalCause,
			DetectionMechanism: req.RCA.DetectionMechanism,
		}
	}

	incident, err := h.service.Create(r.Context(), input, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filters := IncidentFilters{Limit: 50}

	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filters.Status = &status
	}
	if v := r.URL.Query().Get("severity"); v != "" {
		severity := domain.IncidentSeverity(v)
		if !severity.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity filter")
			return
		}
		filters.Severity = &severity
	}
	if v := r.URL.Query().Get("commander_id"); v != "" {
		filters.CommanderID = &v
	}

	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// UpdateIncidentRequest represents the request body for updating an
// incident's profile. A status field may ride along; it is applied through
// the lifecycle transition path after the profile fields.
type UpdateIncidentRequest struct {
	Title            *string  `json:"title" validate:"omitempty,min=1,max=255"`
	Severity         *string  `json:"severity" validate:"omitempty,oneof=critical high medium low informational"`
	Summary          *string  `json:"summary"`
	CommanderID      *string  `json:"commander_id" validate:"omitempty,uuid"`
	AffectedServices []string `json:"affected_services"`
	AffectedRegions  []string `json:"affected_regions"`
	Status           *string  `json:"status" validate:"omitempty,oneof=open doing resolved"`
}

func (r *UpdateIncidentRequest) hasProfileFields() bool {
	return r.Title != nil || r.Severity != nil || r.Summary != nil ||
		r.CommanderID != nil || r.AffectedServices != nil || r.AffectedRegions != nil
}

// UpdateIncident handles PATCH /incidents/{id}.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	id := chi.URLParam(r, "id")
	incident, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	// A status echo alone is a no-op, but profile fields riding along are
	// still subject to the resolved freeze.
	if req.hasProfileFields() {
		input := UpdateProfileInput{
			Title:            req.Title,
			Summary:          req.Summary,
			CommanderID:      req.CommanderID,
			AffectedServices: req.AffectedServices,
			AffectedRegions:  req.AffectedRegions,
		}
		if req.Severity != nil {
			severity := domain.IncidentSeverity(*req.Severity)
			input.Severity = &severity
		}
		incident, err = h.service.UpdateProfile(r.Context(), id, input, actor)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
	}

	if req.Status != nil {
		incident, err = h.service.Transition(r.Context(), id, domain.IncidentStatus(*req.Status), nil, actor)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
	}

	httputil.Success(w, http.StatusOK, incident)
}

// TransitionRequest represents the request body for a status transition.
type TransitionRequest struct {
	Status     string `json:"status" validate:"required,oneof=open doing resolved"`
	Resolution *struct {
		RemediationSteps     []string `json:"remediation_steps"`
		PreventativeMeasures []string `json:"preventative_measures"`
	} `json:"resolution"`
}

// TransitionIncident handles POST /incidents/{id}/status.
func (h *Handler) TransitionIncident(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	var resolution *ResolutionInput
	if req.Resolution != nil {
		resolution = &ResolutionInput{
			RemediationSteps:     req.Resolution.RemediationSteps,
			PreventativeMeasures: req.Resolution.PreventativeMeasures,
		}
	}

	incident, err := h.service.Transition(r.Context(), chi.URLParam(r, "id"), domain.IncidentStatus(req.Status), resolution, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// DeleteIncident handles DELETE /incidents/{id}.
func (h *Handler) DeleteIncident(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateImpactsRequest represents the request body for updating impacts.
type UpdateImpactsRequest struct {
	CustomerImpact string `json:"customer_impact"`
	BusinessImpact string `json:"business_impact"`
}

// UpdateImpacts handles PUT /incidents/{id}/impacts.
func (h *Handler) UpdateImpacts(w http.ResponseWriter, r *http.Request) {
	var req UpdateImpactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	impacts, err := h.service.UpdateImpacts(r.Context(), chi.URLParam(r, "id"), ImpactsInput(req), actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, impacts)
}

// GetImpacts handles GET /incidents/{id}/impacts.
func (h *Handler) GetImpacts(w http.ResponseWriter, r *http.Request) {
	impacts, err := h.service.GetImpacts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, impacts)
}

// UpdateRCARequest represents the request body for updating the shallow RCA.
type UpdateRCARequest struct {
	WhatHappened       string `json:"what_happened"`
	WhyItHappened      string `json:"why_it_happened"`
	TechnicalCause     string `json:"technical_cause"`
	DetectionMechanism string `json:"detection_mechanism"`
}

// UpdateRCA handles PUT /incidents/{id}/rca.
func (h *Handler) UpdateRCA(w http.ResponseWriter, r *http.Request) {
	var req UpdateRCARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	rca, err := h.service.UpdateRCA(r.Context(), chi.URLParam(r, "id"), RCAInput(req), actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rca)
}

// GetRCA handles GET /incidents/{id}/rca.
func (h *Handler) GetRCA(w http.ResponseWriter, r *http.Request) {
	rca, err := h.service.GetShallowRCA(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rca)
}

// AppendTimelineRequest represents the request body for a timeline event.
type AppendTimelineRequest struct {
	Description string     `json:"description" validate:"required"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

// AppendTimeline handles POST /incidents/{id}/timeline.
func (h *Handler) AppendTimeline(w http.ResponseWriter, r *http.Request) {
	var req AppendTimelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	event, err := h.service.AppendTimelineEvent(r.Context(), chi.URLParam(r, "id"), TimelineEventInput(req), actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, event)
}

// ListTimeline handles GET /incidents/{id}/timeline.
func (h *Handler) ListTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListTimelineEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, events)
}

// AppendCommunicationRequest represents the request body for a communication
// log entry.
type AppendCommunicationRequest struct {
	Channel string     `json:"channel" validate:"required"`
	Message string     `json:"message" validate:"required"`
	SentAt  *time.Time `json:"sent_at"`
}

// AppendCommunication handles POST /incidents/{id}/communications.
func (h *Handler) AppendCommunication(w http.ResponseWriter, r *http.Request) {
	var req AppendCommunicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	entry, err := h.service.AppendCommunicationLog(r.Context(), chi.URLParam(r, "id"), CommunicationLogInput(req), actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, entry)
}

// ListCommunications handles GET /incidents/{id}/communications.
func (h *Handler) ListCommunications(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListCommunicationLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// GetResolution handles GET /incidents/{id}/resolution.
func (h *Handler) GetResolution(w http.ResponseWriter, r *http.Request) {
	resolution, err := h.service.GetResolution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, resolution)
}

// AddSignOffRequest represents the request body for recording a sign-off.
type AddSignOffRequest struct {
	Role string `json:"role" validate:"required"`
	Note string `json:"note"`
}

// AddSignOff handles POST /incidents/{id}/signoffs.
func (h *Handler) AddSignOff(w http.ResponseWriter, r *http.Request) {
	var req AddSignOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	signOff, err := h.service.AddSignOff(r.Context(), chi.URLParam(r, "id"), req.Role, req.Note, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, signOff)
}

// ListSignOffs handles GET /incidents/{id}/signoffs.
func (h *Handler) ListSignOffs(w http.ResponseWriter, r *http.Request) {
	signOffs, err := h.service.ListSignOffs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, signOffs)
}
