package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gaiya/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripePrices maps catalog plan IDs to the Stripe Price IDs configured
// per deployment.
type StripePrices struct {
	Monthly  string
	Yearly   string
	Lifetime string
}

// PriceIDForPlan resolves the Stripe Price ID for a catalog plan.
func (p StripePrices) PriceIDForPlan(planID string) (string, bool) {
	switch planID {
	case "pro_monthly":
		return p.Monthly, p.Monthly != ""
	case "pro_yearly":
		return p.Yearly, p.Yearly != ""
	case "team_partner":
		return p.Lifetime, p.Lifetime != ""
	default:
		return "", false
	}
}

// PlanIDForPrice is the inverse mapping, used when interpreting webhook
// events that only carry the price.
func (p StripePrices) PlanIDForPrice(priceID string) (string, bool) {
	switch priceID {
	case p.Monthly:
		return "pro_monthly", priceID != ""
	case p.Yearly:
		return "pro_yearly", priceID != ""
	case p.Lifetime:
		return "team_partner", priceID != ""
	default:
		return "", false
	}
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey     types.SecretString
	WebhookSecret types.SecretString
	Prices        StripePrices
	BaseURL       string // Override for testing; defaults to stripeAPIBase
	Logger        *slog.Logger
}

// StripeClient makes direct HTTP calls to the Stripe REST API through
// BaseClient, so all requests inherit the platform's resilience
// infrastructure (circuit breaker, retries, error mapping) and testing
// with httptest stays straightforward.
type StripeClient struct {
	base          *BaseClient
	secretKey     types.SecretString
	webhookSecret types.SecretString
	prices        StripePrices
	baseURL       string
	logger        *slog.Logger
}

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"GaiYa/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:          base,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		prices:        cfg.Prices,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// CreateCheckoutSession opens a one-time payment Checkout Session for an
// order. The local order ID travels as client_reference_id so the
// webhook can correlate the settlement back to the order row.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	order *types.Order,
	successURL string,
	cancelURL string,
) (checkoutURL string, sessionID string, err error) {
	priceID, ok := s.prices.PriceIDForPlan(order.PlanID)
	if !ok {
		return "", "", types.NewAppError(types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("no Stripe price configured for plan %s", order.PlanID), nil)
	}

	params := url.Values{}
	params.Set("mode", "payment")
	params.Set("client_reference_id", order.OutTradeNo)
	params.Set("success_url", successURL)
	params.Set("cancel_url", cancelURL)
	params.Set("metadata[out_trade_no]", order.OutTradeNo)
	params.Set("metadata[user_id]", order.UserID)
	params.Set("metadata[plan_id]", order.PlanID)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// GetCheckoutSession retrieves a Checkout Session's settlement state.
// Used by order queries when the local order is still unpaid. Line items
// are expanded so the purchased price can be mapped back to a catalog
// plan and cross-checked against the order.
func (s *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*StripeSessionStatus, error) {
	params := url.Values{}
	params.Add("expand[]", "line_items")

	resp, err := s.doGet(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), params)
	if err != nil {
		return nil, s.wrapStripeError("GetCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	var planID string
	if len(session.LineItems.Data) > 0 {
		planID, _ = s.prices.PlanIDForPrice(session.LineItems.Data[0].Price.ID)
	}

	return &StripeSessionStatus{
		SessionID:       session.ID,
		OutTradeNo:      session.ClientReferenceID,
		Paid:            session.PaymentStatus == "paid",
		PaymentIntentID: session.PaymentIntent,
		PlanID:          planID,
	}, nil
}

// VerifyWebhook authenticates and parses a webhook delivery using
// stripe-go's signed-payload verification (HMAC-SHA256 with timestamp
// tolerance).
func (s *StripeClient) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret.Unmask())
	if err != nil {
		return stripe.Event{}, types.NewAppError(types.ErrCodeAuthBadSignature,
			"webhook signature verification failed", err)
	}
	return event, nil
}

// StripeSessionStatus is the subset of a Checkout Session the payment
// service consumes. PlanID is the catalog plan resolved from the
// session's price, empty when the price is not in the configured set.
type StripeSessionStatus struct {
	SessionID       string
	OutTradeNo      string
	Paid            bool
	PaymentIntentID string
	PlanID          string
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request to the Stripe API with form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and content headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundOrder,
			fmt.Sprintf("%s: Stripe resource not found: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient errors (circuit breaker, retries exhausted) already
	// carry the right upstream code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCheckoutSession struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentStatus     string `json:"payment_status"`
	PaymentIntent     string `json:"payment_intent"`
	LineItems         struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"line_items"`
}
