package postmortems

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/incidents"
	"github.com/avolkov/incident-bridge/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// UserDirectory resolves authenticated user IDs to directory records.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Handler handles HTTP requests for the postmortems module.
type Handler struct {
	service   *Service
	users     UserDirectory
	validator *validator.Validate
}

// NewHandler creates a new postmortems handler.
func NewHandler(service *Service, users UserDirectory) *Handler {
	return &Handler{
		service:   service,
		users:     users,
		validator: validator.New(),
	}
}

// RegisterRoutes registers postmortem routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/incidents/{id}/postmortem", h.CreatePostMortem)
	r.Get("/incidents/{id}/postmortem", h.GetByIncident)

	r.Route("/postmortems/{id}", func(r chi.Router) {
		r.Get("/", h.GetPostMortem)
		r.Patch("/", h.UpdatePostMortem)
		r.Get("/action-items", h.ListActionItems)
		r.Post("/action-items", h.CreateActionItem)
		r.Get("/approvals", h.ListApprovals)
		r.Post("/approvals", h.AddApproval)
	})
	r.Patch("/action-items/{id}", h.UpdateActionItem)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrPostMortemNotFound, Status: http.StatusNotFound},
	{Error: ErrActionItemNotFound, Status: http.StatusNotFound},
	{Error: ErrPostMortemAlreadyExists, Status: http.StatusConflict},
	{Error: ErrInvalidStatus, Status: http.StatusBadRequest},
	{Error: incidents.ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: incidents.ErrIncidentNotResolved, Status: http.StatusConflict},
	{Error: incidents.ErrInsufficientPermissions, Status: http.StatusForbidden},
}

func (h *Handler) actor(r *http.Request) (*domain.User, error) {
	return h.users.GetUser(r.Context(), httputil.GetUserID(r.Context()))
}

// CreatePostMortemRequest represents the request body for creating a post-mortem.
type CreatePostMortemRequest struct {
	DeepRCA             string `json:"deep_rca"`
	ContributingFactors string `json:"contributing_factors"`
	LessonsLearned      string `json:"lessons_learned"`
}

// CreatePostMortem handles POST /incidents/{id}/postmortem.
func (h *Handler) CreatePostMortem(w http.ResponseWriter, r *http.Request) {
	var req CreatePostMortemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	pm, err := h.service.Create(r.Context(), chi.URLParam(r, "id"), CreatePostMortemInput(req), actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, pm)
}

// GetByIncident handles GET /incidents/{id}/postmortem.
func (h *Handler) GetByIncident(w http.ResponseWriter, r *http.Request) {
	pm, err := h.service.GetByIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, pm)
}

// GetPostMortem handles GET /postmortems/{id}.
func (h *Handler) GetPostMortem(w http.ResponseWriter, r *http.Request) {
	pm, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, pm)
}

// UpdatePostMortemRequest represents the request body for updating a post-mortem.
type UpdatePostMortemRequest struct {
	Status              *string `json:"status" validate:"omitempty,oneof=draft in_review completed canceled"`
	DeepRCA             *string `json:"deep_rca"`
	ContributingFactors *string `json:"contributing_factors"`
	LessonsLearned      *string `json:"lessons_learned"`
}

// UpdatePostMortem handles PATCH /postmortems/{id}.
func (h *Handler) UpdatePostMortem(w http.ResponseWriter, r *http.Request) {
	var req UpdatePostMortemRequest
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

	input := UpdatePostMortemInput{
		DeepRCA:             req.DeepRCA,
		ContributingFactors: req.ContributingFactors,
		LessonsLearned:      req.LessonsLearned,
	}
	if req.Status != nil {
		status := domain.PostMortemStatus(*req.Status)
		input.Status = &status
	}

	pm, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), input, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, pm)
}

// CreateActionItemRequest represents the request body for creating an action item.
type CreateActionItemRequest struct {
	Description string     `json:"description" validate:"required"`
	OwnerID     string     `json:"owner_id" validate:"required,uuid"`
	DueDate     *time.Time `json:"due_date"`
}

// CreateActionItem handles POST /postmortems/{id}/action-items.
func (h *Handler) CreateActionItem(w http.ResponseWriter, r *http.Request) {
	var req CreateActionItemRequest
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

	item, err := h.service.CreateActionItem(r.Context(), chi.URLParam(r, "id"), ActionItemInput(req), actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, item)
}

// UpdateActionItemRequest represents the request body for updating an action item.
type UpdateActionItemRequest struct {
	Description *string    `json:"description"`
	OwnerID     *string    `json:"owner_id" validate:"omitempty,uuid"`
	DueDate     *time.Time `json:"due_date"`
	Status      *string    `json:"status" validate:"omitempty,oneof=open in_progress completed"`
}

// UpdateActionItem handles PATCH /action-items/{id}.
func (h *Handler) UpdateActionItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateActionItemRequest
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

	input := UpdateActionItemInput{
		Description: req.Description,
		OwnerID:     req.OwnerID,
		DueDate:     req.DueDate,
	}
	if req.Status != nil {
		status := domain.ActionItemStatus(*req.Status)
		input.Status = &status
	}

	item, err := h.service.UpdateActionItem(r.Context(), chi.URLParam(r, "id"), input, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// ListActionItems handles GET /postmortems/{id}/action-items.
func (h *Handler) ListActionItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActionItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// AddApprovalRequest represents the request body for approving a post-mortem.
type AddApprovalRequest struct {
	Note string `json:"note"`
}

// AddApproval handles POST /postmortems/{id}/approvals.
func (h *Handler) AddApproval(w http.ResponseWriter, r *http.Request) {
	var req AddApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	approval, err := h.service.AddApproval(r.Context(), chi.URLParam(r, "id"), req.Note, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, approval)
}

// ListApprovals handles GET /postmortems/{id}/approvals.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.service.ListApprovals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, approvals)
}
