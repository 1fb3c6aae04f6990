package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gaiya/internal/core"
	"gaiya/internal/quota"
	"gaiya/internal/types"
)

// UseQuotaRequest is the request body for POST /quota-use.
type UseQuotaRequest struct {
	Feature string `json:"feature" validate:"required,feature"`
	Amount  int    `json:"amount,omitempty" validate:"omitempty,gte=1"`
}

// QuotaService exposes per-user quota windows to the HTTP layer.
type QuotaService interface {
	Status(ctx context.Context, userID string) (*quota.StatusReport, error)
	Use(ctx context.Context, userID string, feature types.Feature, n int) (*types.FeatureQuota, error)
}

// QuotaHandler maps HTTP requests to the quota service. The subject user
// is always the authenticated actor; callers cannot read or spend another
// user's quota.
type QuotaHandler struct {
	service   QuotaService
	logger    *slog.Logger
	validator *core.Validator
}

// NewQuotaHandler creates a new QuotaHandler with the provided dependencies.
func NewQuotaHandler(svc QuotaService, l *slog.Logger, v *core.Validator) *QuotaHandler {
	if l == nil {
		l = slog.Default()
	}
	return &QuotaHandler{
		service:   svc,
		logger:    l,
		validator: v,
	}
}

// RegisterRoutes mounts the quota routes onto the provided router.
// Both routes require authentication.
func (h *QuotaHandler) RegisterRoutes(r chi.Router) {
	r.Get("/quota-status", h.HandleStatus)
	r.Post("/quota-use", h.HandleUse)
}

// HandleStatus processes GET /quota-status requests, reporting every
// feature's window for the calling user.
func (h *QuotaHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	report, err := h.service.Status(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":   actor.ID,
		"user_tier": report.Tier,
		"quotas":    report.Quotas,
	})
}

// HandleUse processes POST /quota-use requests, atomically consuming
// quota for one feature. A depleted window returns 402 quota_exceeded
// with the reset time in the error details.
func (h *QuotaHandler) HandleUse(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req UseQuotaRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	snapshot, err := h.service.Use(r.Context(), actor.ID, types.Feature(req.Feature), req.Amount)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, snapshot)
}
