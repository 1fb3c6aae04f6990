package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"golang.org/x/sync/errgroup"

	"gaiya/internal/billing"
	"gaiya/internal/external"
	"gaiya/internal/types"
)

// zpayTradeSuccess is the terminal success status Z-Pay reports in
// notify callbacks.
const zpayTradeSuccess = "TRADE_SUCCESS"

// OrderRepo defines the data access methods needed by the payment
// service for orders.
type OrderRepo interface {
	Create(ctx context.Context, order *types.Order) error
	GetByOutTradeNo(ctx context.Context, outTradeNo string) (*types.Order, error)
	MarkPaid(ctx context.Context, outTradeNo string, gatewayTradeNo string, paidAt time.Time) (alreadyPaid bool, err error)
	SetGatewayTradeNo(ctx context.Context, outTradeNo string, gatewayTradeNo string) error
	UpdateState(ctx context.Context, outTradeNo string, state types.OrderState) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*types.Order, error)
}

// LedgerRepo defines the data access methods for the webhook
// idempotency ledger.
type LedgerRepo interface {
	InsertIfAbsent(ctx context.Context, record *types.WebhookRecord) (inserted bool, err error)
	Get(ctx context.Context, gateway types.PaymentGateway, gatewayTradeNo string) (*types.WebhookRecord, error)
	GetByOutTradeNo(ctx context.Context, outTradeNo string) (*types.WebhookRecord, error)
	SetOutcome(ctx context.Context, id string, outcome string, processedAt time.Time) error
	Reclaim(ctx context.Context, id string) (claimed bool, err error)
}

// EntitlementApplier grants plan entitlements after settlement.
// Implemented by the billing subscription service.
type EntitlementApplier interface {
	Apply(ctx context.Context, userID string, plan types.Plan, source types.PaymentGateway, eventAt time.Time) error
}

// ZPayGateway is the slice of the Z-Pay client the service consumes.
type ZPayGateway interface {
	VerifySignature(params map[string]string) bool
	BuildPaymentURL(order *types.Order, productName, payType, notifyURL, returnURL string) string
	QueryOrder(ctx context.Context, outTradeNo string) (*external.ZPayOrderStatus, error)
}

// StripeGateway is the slice of the Stripe client the service consumes.
type StripeGateway interface {
	CreateCheckoutSession(ctx context.Context, order *types.Order, successURL, cancelURL string) (checkoutURL string, sessionID string, err error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*external.StripeSessionStatus, error)
	VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error)
}

// ServiceConfig carries the deployment URLs callbacks and redirects are
// built from.
type ServiceConfig struct {
	// PublicURL is the externally reachable base of this API, used for
	// gateway notify URLs.
	PublicURL string

	// SuccessURL and CancelURL are the frontend pages users land on
	// after a gateway checkout.
	SuccessURL string
	CancelURL  string
}

// Service orchestrates order creation, settlement callbacks, and order
// queries. All fulfillment side effects are gated by the webhook ledger:
// insert-if-absent on (gateway, gateway_trade_no) decides whether a
// delivery runs side effects or replays the recorded outcome.
type Service struct {
	orders  OrderRepo
	ledger  LedgerRepo
	applier EntitlementApplier
	zpay    ZPayGateway
	stripe  StripeGateway
	config  ServiceConfig
	clock   types.Clock
	logger  *slog.Logger
}

// NewService creates a new payment service.
func NewService(
	orders OrderRepo,
	ledger LedgerRepo,
	applier EntitlementApplier,
	zpay ZPayGateway,
	stripeGW StripeGateway,
	config ServiceConfig,
	clock types.Clock,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orders:  orders,
		ledger:  ledger,
		applier: applier,
		zpay:    zpay,
		stripe:  stripeGW,
		config:  config,
		clock:   clock,
		logger:  logger,
	}
}

// CreateOrderResult is returned to the client to start the checkout.
type CreateOrderResult struct {
	Order      *types.Order `json:"order"`
	PaymentURL string       `json:"payment_url"`
}

// CreateOrder opens a new order for a catalog plan on the chosen
// gateway and returns the redirect URL for checkout. payType selects
// the Z-Pay channel and is ignored for Stripe.
func (s *Service) CreateOrder(ctx context.Context, userID string, planID string, gateway types.PaymentGateway, payType string) (*CreateOrderResult, error) {
	plan, ok := billing.PlanByID(planID)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPlan, "unknown plan", nil)
	}
	if !gateway.IsValid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidGateway, "unsupported payment gateway", nil)
	}

	now := s.clock.Now()
	order := &types.Order{
		UserID:    userID,
		PlanID:    plan.ID,
		Amount:    plan.Price,
		Currency:  plan.Currency,
		Gateway:   gateway,
		State:     types.OrderStateCreated,
		CreatedAt: now,
	}

	// The random suffix makes collisions vanishingly rare, but the
	// unique index makes them harmless: regenerate and retry.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		order.OutTradeNo, err = GenerateOutTradeNo(now)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate order id", err)
		}
		err = s.orders.Create(ctx, order)
		if err == nil {
			break
		}
		if !isAppCode(err, types.ErrCodeConflictOrderState) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	var paymentURL string
	switch gateway {
	case types.GatewayZPay:
		if payType == "" {
			payType = "alipay"
		}
		notifyURL := s.config.PublicURL + "/payment-notify"
		paymentURL = s.zpay.BuildPaymentURL(order, "GaiYa "+plan.ID, payType, notifyURL, s.config.SuccessURL)
	case types.GatewayStripe:
		url, sessionID, stripeErr := s.stripe.CreateCheckoutSession(ctx, order, s.config.SuccessURL, s.config.CancelURL)
		if stripeErr != nil {
			// The order stays in created state; the client can retry or
			// let it expire.
			return nil, stripeErr
		}
		if refErr := s.orders.SetGatewayTradeNo(ctx, order.OutTradeNo, sessionID); refErr != nil {
			s.logger.Error("failed to record checkout session reference",
				"out_trade_no", order.OutTradeNo, "error", refErr)
		}
		order.GatewayTradeNo = sessionID
		paymentURL = url
	}

	s.logger.Info("order created",
		"out_trade_no", order.OutTradeNo,
		"user_id", userID,
		"plan_id", plan.ID,
		"gateway", gateway,
	)
	return &CreateOrderResult{Order: order, PaymentURL: paymentURL}, nil
}

// QueryResult is the settlement view of an order, annotated with where
// the answer came from when the gateway could not be reached.
type QueryResult struct {
	Order              *types.Order `json:"order"`
	GatewayUnreachable bool         `json:"gateway_unreachable,omitempty"`
}

// Query reports an order's settlement state. For an order still in
// created state it consults the gateway and the local webhook ledger
// concurrently; a gateway-confirmed payment is fulfilled through the
// same ledger-gated path the callback uses, so a lost webhook cannot
// strand a paid order.
func (s *Service) Query(ctx context.Context, userID string, outTradeNo string) (*QueryResult, error) {
	if !types.IsOutTradeNo(outTradeNo) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidArgument, "malformed order id", nil)
	}

	order, err := s.orders.GetByOutTradeNo(ctx, outTradeNo)
	if err != nil {
		return nil, err
	}
	// Orders are only visible to their owner. Report not-found rather
	// than forbidden so order ids cannot be probed.
	if order.UserID != userID {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}

	if order.State != types.OrderStateCreated {
		return &QueryResult{Order: order}, nil
	}

	var (
		gatewayPaid    bool
		gatewayTradeNo string
		gatewayDown    bool
		ledgerRecord   *types.WebhookRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		paid, tradeNo, err := s.queryGateway(gctx, order)
		if err != nil {
			gatewayDown = true
			s.logger.Warn("gateway query failed, falling back to ledger",
				"out_trade_no", order.OutTradeNo, "error", err)
			return nil
		}
		gatewayPaid, gatewayTradeNo = paid, tradeNo
		return nil
	})
	g.Go(func() error {
		record, err := s.ledger.GetByOutTradeNo(gctx, order.OutTradeNo)
		if err == nil {
			ledgerRecord = record
		}
		return nil
	})
	// Both goroutines swallow their errors; Wait only propagates a
	// context cancellation.
	if err := g.Wait(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "order query interrupted", err)
	}

	if !gatewayPaid && ledgerRecord != nil && ledgerRecord.SignatureValid {
		// The gateway already notified us even if its query API is
		// down or lagging.
		gatewayPaid = true
		gatewayTradeNo = ledgerRecord.GatewayTradeNo
	}

	if gatewayPaid {
		if err := s.fulfill(ctx, order.Gateway, gatewayTradeNo, order.OutTradeNo, "query-confirmed", s.clock.Now()); err != nil {
			return nil, err
		}
		order, err = s.orders.GetByOutTradeNo(ctx, outTradeNo)
		if err != nil {
			return nil, err
		}
	}

	return &QueryResult{Order: order, GatewayUnreachable: gatewayDown}, nil
}

// queryGateway asks the order's gateway whether it has settled.
func (s *Service) queryGateway(ctx context.Context, order *types.Order) (paid bool, gatewayTradeNo string, err error) {
	switch order.Gateway {
	case types.GatewayZPay:
		status, err := s.zpay.QueryOrder(ctx, order.OutTradeNo)
		if err != nil {
			return false, "", err
		}
		return status.Paid, status.GatewayTradeNo, nil
	case types.GatewayStripe:
		if order.GatewayTradeNo == "" {
			return false, "", nil
		}
		status, err := s.stripe.GetCheckoutSession(ctx, order.GatewayTradeNo)
		if err != nil {
			return false, "", err
		}
		// A session whose purchased price resolves to a different plan
		// must not settle this order.
		if status.PlanID != "" && status.PlanID != order.PlanID {
			s.logger.Error("stripe session plan does not match order",
				"out_trade_no", order.OutTradeNo,
				"order_plan", order.PlanID,
				"session_plan", status.PlanID,
			)
			return false, "", nil
		}
		ref := status.PaymentIntentID
		if ref == "" {
			ref = status.SessionID
		}
		return status.Paid, ref, nil
	default:
		return false, "", nil
	}
}

// HandleZPayCallback processes a Z-Pay notify delivery. The returned ack
// is the literal body the gateway expects; anything other than "success"
// makes it redeliver.
func (s *Service) HandleZPayCallback(ctx context.Context, params map[string]string, rawQuery string) (string, error) {
	if !s.zpay.VerifySignature(params) {
		s.logger.Warn("zpay callback with invalid signature",
			"out_trade_no", params["out_trade_no"])
		return "", types.NewAppError(types.ErrCodeAuthBadSignature, "invalid callback signature", nil)
	}

	if params["trade_status"] != zpayTradeSuccess {
		// Non-success statuses carry no side effects; ack so the
		// gateway stops redelivering.
		return "success", nil
	}

	outTradeNo := params["out_trade_no"]
	gatewayTradeNo := params["trade_no"]
	if !types.IsOutTradeNo(outTradeNo) || gatewayTradeNo == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidArgument, "malformed callback parameters", nil)
	}

	order, err := s.orders.GetByOutTradeNo(ctx, outTradeNo)
	if err != nil {
		return "", err
	}
	if money := params["money"]; money != "" && !coversOrderAmount(money, order.Amount) {
		s.logger.Error("zpay callback amount mismatch",
			"out_trade_no", outTradeNo,
			"expected", order.Amount,
			"got", money,
		)
		return "", types.NewAppError(types.ErrCodeConflictOrderState, "callback amount does not match order", nil)
	}

	if err := s.fulfill(ctx, types.GatewayZPay, gatewayTradeNo, outTradeNo, rawQuery, s.clock.Now()); err != nil {
		return "", err
	}
	return "success", nil
}

// HandleStripeWebhook processes a Stripe webhook delivery.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.stripe.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		return err
	}

	if event.Type != "checkout.session.completed" {
		s.logger.Debug("ignoring stripe event", "type", event.Type)
		return nil
	}

	var session struct {
		ID                string `json:"id"`
		ClientReferenceID string `json:"client_reference_id"`
		PaymentStatus     string `json:"payment_status"`
		PaymentIntent     string `json:"payment_intent"`
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed stripe event payload", err)
	}

	if session.PaymentStatus != "paid" {
		return nil
	}
	if !types.IsOutTradeNo(session.ClientReferenceID) {
		s.logger.Warn("stripe session without order reference", "session_id", session.ID)
		return nil
	}

	gatewayTradeNo := session.PaymentIntent
	if gatewayTradeNo == "" {
		gatewayTradeNo = session.ID
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	return s.fulfill(ctx, types.GatewayStripe, gatewayTradeNo, session.ClientReferenceID, string(payload), eventAt)
}

// fulfill runs the exactly-once settlement pipeline:
//
//  1. Claim (gateway, gateway_trade_no) in the ledger. A losing claim
//     replays the recorded outcome; apply_failed rows are reclaimed so
//     a redelivery can finish the interrupted work.
//  2. Mark the order paid (state-guarded, idempotent).
//  3. Apply the plan entitlement. Failure here records apply_failed and
//     surfaces the error, so the gateway redelivers and step 3 retries
//     without re-running step 2.
func (s *Service) fulfill(ctx context.Context, gateway types.PaymentGateway, gatewayTradeNo string, outTradeNo string, rawPayload string, eventAt time.Time) error {
	now := s.clock.Now()
	record := &types.WebhookRecord{
		ID:             uuid.NewString(),
		Gateway:        gateway,
		GatewayTradeNo: gatewayTradeNo,
		OutTradeNo:     outTradeNo,
		RawPayload:     rawPayload,
		SignatureValid: true,
		Outcome:        types.LedgerOutcomePending,
		ReceivedAt:     now,
	}

	inserted, err := s.ledger.InsertIfAbsent(ctx, record)
	if err != nil {
		return err
	}
	if !inserted {
		prior, err := s.ledger.Get(ctx, gateway, gatewayTradeNo)
		if err != nil {
			return err
		}
		switch prior.Outcome {
		case types.LedgerOutcomeApplied:
			return nil
		case types.LedgerOutcomePending:
			// Another delivery is mid-flight; let it finish.
			return nil
		case types.LedgerOutcomeApplyFailed:
			claimed, err := s.ledger.Reclaim(ctx, prior.ID)
			if err != nil {
				return err
			}
			if !claimed {
				return nil
			}
			record.ID = prior.ID
		default:
			return nil
		}
	}

	order, err := s.orders.GetByOutTradeNo(ctx, outTradeNo)
	if err != nil {
		s.recordOutcome(ctx, record.ID, types.LedgerOutcomeApplyFailed)
		return err
	}

	alreadyPaid, err := s.orders.MarkPaid(ctx, outTradeNo, gatewayTradeNo, eventAt)
	if err != nil {
		s.recordOutcome(ctx, record.ID, types.LedgerOutcomeApplyFailed)
		return err
	}
	if alreadyPaid {
		s.logger.Info("duplicate settlement for paid order",
			"out_trade_no", outTradeNo, "gateway_trade_no", gatewayTradeNo)
	}

	plan, ok := billing.PlanByID(order.PlanID)
	if !ok {
		s.recordOutcome(ctx, record.ID, types.LedgerOutcomeApplyFailed)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "paid order references unknown plan", nil)
	}

	if err := s.applier.Apply(ctx, order.UserID, plan, gateway, eventAt); err != nil {
		if isAppCode(err, types.ErrCodeConflictRedundantPurchase) {
			// The money arrived but the entitlement adds nothing (pro
			// purchase on a lifetime account). Record and settle; the
			// refund happens out of band.
			s.logger.Warn("redundant purchase settled without entitlement change",
				"out_trade_no", outTradeNo, "user_id", order.UserID)
			s.recordOutcome(ctx, record.ID, types.LedgerOutcomeApplied)
			return nil
		}
		s.recordOutcome(ctx, record.ID, types.LedgerOutcomeApplyFailed)
		return err
	}

	s.recordOutcome(ctx, record.ID, types.LedgerOutcomeApplied)
	s.logger.Info("order fulfilled",
		"out_trade_no", outTradeNo,
		"gateway", gateway,
		"gateway_trade_no", gatewayTradeNo,
	)
	return nil
}

// recordOutcome writes the ledger outcome, logging rather than failing
// when the write itself errors.
func (s *Service) recordOutcome(ctx context.Context, recordID string, outcome string) {
	if err := s.ledger.SetOutcome(ctx, recordID, outcome, s.clock.Now()); err != nil {
		s.logger.Error("failed to record ledger outcome",
			"record_id", recordID, "outcome", outcome, "error", err)
	}
}

// ListOrders returns the caller's order history, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string, limit int) ([]*types.Order, error) {
	return s.orders.ListByUser(ctx, userID, limit)
}

// coversOrderAmount accepts a reported amount from the order total up
// to the 5% overpayment tolerance. Anything below the order total, or
// malformed, is a mismatch.
func coversOrderAmount(reported, orderAmount string) bool {
	if !types.IsAmount(reported, orderAmount) {
		return false
	}
	got, ok := types.AmountCents(reported)
	if !ok {
		return false
	}
	want, ok := types.AmountCents(orderAmount)
	if !ok {
		return false
	}
	return got >= want
}

// isAppCode reports whether err is an AppError carrying the given code.
func isAppCode(err error, code types.ErrorCode) bool {
	appErr, ok := err.(*types.AppError)
	return ok && appErr.Code == code
}
