package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gaiya/internal/billing"
	"gaiya/internal/core"
	"gaiya/internal/types"
)

// SubscriptionService exposes entitlement state to the HTTP layer.
type SubscriptionService interface {
	Status(ctx context.Context, userID string) (*types.Subscription, error)
	Cancel(ctx context.Context, userID string) error
}

// SubscriptionHandler serves entitlement state and the style catalog.
type SubscriptionHandler struct {
	service SubscriptionService
	logger  *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(svc SubscriptionService, l *slog.Logger) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{
		service: svc,
		logger:  l,
	}
}

// RegisterRoutes mounts the subscription routes onto the provided router.
// All routes require authentication.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/subscription-status", h.HandleStatus)
	r.Post("/subscription-cancel", h.HandleCancel)
	r.Get("/styles-list", h.HandleStylesList)
}

// HandleStatus processes GET /subscription-status requests. The response
// reflects the effective tier: a lapsed pro subscription reads as free.
func (h *SubscriptionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	sub, err := h.service.Status(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, sub)
}

// HandleCancel processes POST /subscription-cancel requests. Cancelling
// marks a pro subscription non-renewing; the entitlement runs to its
// paid-through date.
func (h *SubscriptionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	if err := h.service.Cancel(r.Context(), actor.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]string{
		"message": "subscription will not renew",
	})
}

// HandleStylesList processes GET /styles-list requests. The catalog is
// annotated against the caller's tier; optional category and featured
// query parameters filter the result.
func (h *SubscriptionHandler) HandleStylesList(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	sub, err := h.service.Status(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	styles := billing.StylesFor(sub.Tier)

	category := r.URL.Query().Get("category")
	featuredParam := r.URL.Query().Get("featured")
	var featured *bool
	if featuredParam != "" {
		parsed, err := strconv.ParseBool(featuredParam)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidArgument, "featured must be a boolean", err))
			return
		}
		featured = &parsed
	}

	filtered := styles[:0]
	for _, style := range styles {
		if category != "" && style.Category != category {
			continue
		}
		if featured != nil && style.Featured != *featured {
			continue
		}
		filtered = append(filtered, style)
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"styles":    filtered,
		"count":     len(filtered),
		"user_tier": sub.Tier,
	})
}
