package alerts

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

// Handler handles HTTP requests for alert filter rules.
type Handler struct {
	rules     *RuleService
	users     UserDirectory
	validator *validator.Validate
}

// NewHandler creates a new alert rules handler.
func NewHandler(rules *RuleService, users UserDirectory) *Handler {
	return &Handler{
		rules:     rules,
		users:     users,
		validator: validator.New(),
	}
}

// RegisterRoutes registers alert rule routes. Rule management is restricted
// to superusers; listing is open to any authenticated user.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/alert-rules", func(r chi.Router) {
		r.Get("/", h.ListRules)
		r.Get("/{id}", h.GetRule)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSuperuser)
			r.Post("/", h.CreateRule)
			r.Patch("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeleteRule)
		})
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrRuleNotFound, Status: http.StatusNotFound},
	{Error: ErrRuleAlreadyExists, Status: http.StatusConflict},
	{Error: ErrInvalidMatchType, Status: http.StatusBadRequest},
}

// requireSuperuser rejects requests from non-superuser accounts.
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

// CreateRuleRequest represents the request body for creating a filter rule.
type CreateRuleRequest struct {
	RuleName    string `json:"rule_name" validate:"required,min=1,max=255"`
	TargetField string `json:"target_field" validate:"required"`
	MatchType   string `json:"match_type" validate:"required,oneof=equals not_equals contains not_contains"`
	MatchValue  string `json:"match_value" validate:"required"`
	IsActive    bool   `json:"is_active"`
	IsExclusion bool   `json:"is_exclusion_rule"`
}

// CreateRule handles POST /alert-rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	rule, err := h.rules.Create(r.Context(), CreateRuleInput{
		RuleName:    req.RuleName,
		TargetField: req.TargetField,
		MatchType:   domain.MatchType(req.MatchType),
		MatchValue:  req.MatchValue,
		IsActive:    req.IsActive,
		IsExclusion: req.IsExclusion,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, rule)
}

// ListRules handles GET /alert-rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rules)
}

// GetRule handles GET /alert-rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// UpdateRuleRequest represents the request body for updating a filter rule.
type UpdateRuleRequest struct {
	RuleName    *string `json:"rule_name" validate:"omitempty,min=1,max=255"`
	TargetField *string `json:"target_field" validate:"omitempty,min=1"`
	MatchType   *string `json:"match_type" validate:"omitempty,oneof=equals not_equals contains not_contains"`
	MatchValue  *string `json:"match_value"`
	IsActive    *bool   `json:"is_active"`
	IsExclusion *bool   `json:"is_exclusion_rule"`
}

// UpdateRule handles PATCH /alert-rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateRuleInput{
		RuleName:    req.RuleName,
		TargetField: req.TargetField,
		MatchValue:  req.MatchValue,
		IsActive:    req.IsActive,
		IsExclusion: req.IsExclusion,
	}
	if req.MatchType != nil {
		matchType := domain.MatchType(*req.MatchType)
		input.MatchType = &matchType
	}

	rule, err := h.rules.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /alert-rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
