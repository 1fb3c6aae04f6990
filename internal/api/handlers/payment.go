package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gaiya/internal/core"
	"gaiya/internal/payment"
	"gaiya/internal/types"
)

// maxWebhookBodySize bounds gateway callback payloads (256 KB).
const maxWebhookBodySize = 256 << 10

// CreateOrderRequest is the request body for POST /payment-create-order.
type CreateOrderRequest struct {
	PlanID  string `json:"plan_id" validate:"required"`
	Gateway string `json:"gateway" validate:"required,gateway"`
	PayType string `json:"pay_type,omitempty" validate:"omitempty,oneof=alipay wxpay"`
}

// PaymentService exposes the order lifecycle to the HTTP layer.
type PaymentService interface {
	CreateOrder(ctx context.Context, userID, planID string, gateway types.PaymentGateway, payType string) (*payment.CreateOrderResult, error)
	Query(ctx context.Context, userID, outTradeNo string) (*payment.QueryResult, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]*types.Order, error)
	HandleZPayCallback(ctx context.Context, params map[string]string, rawQuery string) (string, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// PaymentHandler maps HTTP requests to the payment service. The notify
// endpoint speaks each gateway's native dialect rather than the JSON
// envelope; everything else is enveloped like the rest of the API.
type PaymentHandler struct {
	service   PaymentService
	logger    *slog.Logger
	validator *core.Validator
}

// NewPaymentHandler creates a new PaymentHandler with the provided dependencies.
func NewPaymentHandler(svc PaymentService, l *slog.Logger, v *core.Validator) *PaymentHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PaymentHandler{
		service:   svc,
		logger:    l,
		validator: v,
	}
}

// RegisterRoutes mounts the payment routes onto the provided router.
//
// Protected routes:
//   - POST /payment-create-order
//   - GET  /payment-query
//   - GET  /payment-orders
//
// Public callback routes (authenticated by gateway signature):
//   - GET/POST /payment-notify
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payment-create-order", h.HandleCreateOrder)
	r.Get("/payment-query", h.HandleQuery)
	r.Get("/payment-orders", h.HandleListOrders)
	r.Get("/payment-notify", h.HandleNotify)
	r.Post("/payment-notify", h.HandleNotify)
}

// HandleCreateOrder processes POST /payment-create-order requests.
func (h *PaymentHandler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req CreateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.CreateOrder(r.Context(), actor.ID, req.PlanID, types.PaymentGateway(req.Gateway), req.PayType)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, result)
}

// HandleQuery processes GET /payment-query?out_trade_no=... requests.
// For still-created orders, the gateway is consulted so a paid-but-not-
// yet-notified order settles on poll.
func (h *PaymentHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	outTradeNo := r.URL.Query().Get("out_trade_no")
	if outTradeNo == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "out_trade_no is required", nil))
		return
	}

	result, err := h.service.Query(r.Context(), actor.ID, outTradeNo)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, result)
}

// HandleListOrders processes GET /payment-orders requests, returning the
// caller's orders newest first.
func (h *PaymentHandler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	orders, err := h.service.ListOrders(r.Context(), actor.ID, 20)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"orders": orders,
		"count":  len(orders),
	})
}

// HandleNotify processes gateway payment callbacks on /payment-notify.
//
// Stripe deliveries carry a Stripe-Signature header and a JSON body;
// they are acknowledged with a JSON 200. Z-Pay deliveries carry signed
// form or query parameters and must be acknowledged with the literal
// plain-text body "success"; any other body makes the gateway retry.
func (h *PaymentHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	if sig := r.Header.Get("Stripe-Signature"); sig != "" {
		h.handleStripeNotify(w, r, sig)
		return
	}
	h.handleZPayNotify(w, r)
}

func (h *PaymentHandler) handleStripeNotify(w http.ResponseWriter, r *http.Request, signature string) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON, "failed to read webhook body", err))
		return
	}

	if err := h.service.HandleStripeWebhook(r.Context(), payload, signature); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

func (h *PaymentHandler) handleZPayNotify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("unparseable payment callback", "error", err)
		writeCallbackAck(w, http.StatusBadRequest, "fail")
		return
	}

	params := make(map[string]string, len(r.Form))
	for key, values := range r.Form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	rawQuery := r.URL.RawQuery
	if rawQuery == "" {
		rawQuery = r.Form.Encode()
	}

	ack, err := h.service.HandleZPayCallback(r.Context(), params, rawQuery)
	if err != nil {
		status := http.StatusInternalServerError
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus()
		}
		writeCallbackAck(w, status, "fail")
		return
	}

	writeCallbackAck(w, http.StatusOK, ack)
}

// writeCallbackAck writes a plain-text gateway acknowledgement.
func writeCallbackAck(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
