package notifications

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// UserDirectory resolves authenticated user IDs to directory records.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Handler handles HTTP requests for notification channels.
type Handler struct {
	repo      Repository
	users     UserDirectory
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(repo Repository, users UserDirectory) *Handler {
	return &Handler{
		repo:      repo,
		users:     users,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification channel routes. Channel management
// is restricted to superusers.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notification-channels", func(r chi.Router) {
		r.Use(h.requireSuperuser)
		r.Get("/", h.ListChannels)
		r.Post("/", h.CreateChannel)
		r.Get("/{id}", h.GetChannel)
		r.Patch("/{id}", h.UpdateChannel)
		r.Delete("/{id}", h.DeleteChannel)
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrChannelNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidChannelType, Status: http.StatusBadRequest},
}

func (h *Handler) requireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.users.GetUser(r.Context(), httputil.GetUserID(r.Context()))
		if err != nil {
			httputil.Error(w, http.StatusUnauthorized, "unknown user")
			return
		}
		if !user.IsSuperuser {
			httputil.Error(w, http.StatusForbidden, "superuser access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateChannelRequest represents the request body for creating a channel.
type CreateChannelRequest struct {
	Name      string `json:"name" validate:"required,min=1,max=255"`
	Type      string `json:"type" validate:"required,oneof=email webhook"`
	Target    string `json:"target" validate:"required"`
	IsEnabled bool   `json:"is_enabled"`
}

// CreateChannel handles POST /notification-channels.
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	channel := &domain.NotificationChannel{
		Name:      req.Name,
		Type:      domain.ChannelType(req.Type),
		Target:    req.Target,
		IsEnabled: req.IsEnabled,
	}
	if err := h.repo.CreateChannel(r.Context(), channel); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, channel)
}

// ListChannels handles GET /notification-channels.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.repo.ListChannels(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, channels)
}

// GetChannel handles GET /notification-channels/{id}.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := h.repo.GetChannelByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, channel)
}

// UpdateChannelRequest represents the request body for updating a channel.
type UpdateChannelRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=255"`
	Target    *string `json:"target" validate:"omitempty,min=1"`
	IsEnabled *bool   `json:"is_enabled"`
}

// UpdateChannel handles PATCH /notification-channels/{id}.
func (h *Handler) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	var req UpdateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	channel, err := h.repo.GetChannelByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if req.Name != nil {
		channel.Name = *req.Name
	}
	if req.Target != nil {
		channel.Target = *req.Target
	}
	if req.IsEnabled != nil {
		channel.IsEnabled = *req.IsEnabled
	}

	if err := h.repo.UpdateChannel(r.Context(), channel); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, channel)
}

// DeleteChannel handles DELETE /notification-channels/{id}.
func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteChannel(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
