package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaiya/internal/types"
)

func TestStripePrices_RoundTrip(t *testing.T) {
	prices := StripePrices{Monthly: "price_m", Yearly: "price_y", Lifetime: "price_l"}

	planID, ok := prices.PlanIDForPrice("price_y")
	require.True(t, ok)
	assert.Equal(t, "pro_yearly", planID)

	priceID, ok := prices.PriceIDForPlan("pro_yearly")
	require.True(t, ok)
	assert.Equal(t, "price_y", priceID)

	_, ok = prices.PlanIDForPrice("price_unknown")
	assert.False(t, ok)

	// An unconfigured price must not resolve, even for empty input.
	_, ok = StripePrices{}.PlanIDForPrice("")
	assert.False(t, ok)
}

func TestGetCheckoutSession_ResolvesPlanFromLineItems(t *testing.T) {
	var gotExpand string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotExpand = r.URL.Query().Get("expand[]")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cs_123",
			"client_reference_id": "GAIYA1749988800000a1b2c3d4",
			"payment_status": "paid",
			"payment_intent": "pi_777",
			"line_items": {"data": [{"price": {"id": "price_m"}}]}
		}`))
	}))
	defer srv.Close()

	client := NewStripeClient(srv.Client(), StripeClientConfig{
		SecretKey: types.SecretString("sk_test"),
		Prices:    StripePrices{Monthly: "price_m"},
		BaseURL:   srv.URL,
	})

	status, err := client.GetCheckoutSession(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.Equal(t, "line_items", gotExpand)
	assert.True(t, status.Paid)
	assert.Equal(t, "pi_777", status.PaymentIntentID)
	assert.Equal(t, "pro_monthly", status.PlanID)
}

func TestGetCheckoutSession_UnknownPriceLeavesPlanEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cs_123",
			"payment_status": "paid",
			"line_items": {"data": [{"price": {"id": "price_from_another_account"}}]}
		}`))
	}))
	defer srv.Close()

	client := NewStripeClient(srv.Client(), StripeClientConfig{
		SecretKey: types.SecretString("sk_test"),
		Prices:    StripePrices{Monthly: "price_m"},
		BaseURL:   srv.URL,
	})

	status, err := client.GetCheckoutSession(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.Empty(t, status.PlanID)
}

func TestGetCheckoutSession_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such checkout session"}}`))
	}))
	defer srv.Close()

	base := NewBaseClient(srv.Client(), "stripe", RetryPolicy{
		MaxRetries: 0,
		MinWait:    time.Millisecond,
		MaxWait:    time.Millisecond,
	}, "GaiYa/1.0")
	client := NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: types.SecretString("sk_test"),
		BaseURL:   srv.URL,
	})

	_, err := client.GetCheckoutSession(context.Background(), "cs_missing")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundOrder, appErr.Code)
}
