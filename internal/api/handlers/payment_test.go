package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gaiya/internal/payment"
	"gaiya/internal/types"
)

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) CreateOrder(ctx context.Context, userID, planID string, gateway types.PaymentGateway, payType string) (*payment.CreateOrderResult, error) {
	args := m.Called(ctx, userID, planID, gateway, payType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CreateOrderResult), args.Error(1)
}

func (m *mockPaymentService) Query(ctx context.Context, userID, outTradeNo string) (*payment.QueryResult, error) {
	args := m.Called(ctx, userID, outTradeNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.QueryResult), args.Error(1)
}

func (m *mockPaymentService) ListOrders(ctx context.Context, userID string, limit int) ([]*types.Order, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Order), args.Error(1)
}

func (m *mockPaymentService) HandleZPayCallback(ctx context.Context, params map[string]string, rawQuery string) (string, error) {
	args := m.Called(ctx, params, rawQuery)
	return args.String(0), args.Error(1)
}

func (m *mockPaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	return m.Called(ctx, payload, signatureHeader).Error(0)
}

func newPaymentHandler(svc PaymentService) *PaymentHandler {
	return NewPaymentHandler(svc, testLogger(), testValidator())
}

func TestHandleCreateOrder_Success(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	svc.On("CreateOrder", mock.Anything, "u1", "pro_monthly", types.GatewayZPay, "alipay").
		Return(&payment.CreateOrderResult{
			Order:      &types.Order{OutTradeNo: "GAIYA1749988800000a1b2c3d4", PlanID: "pro_monthly"},
			PaymentURL: "https://z-pay.cn/submit?x=1",
		}, nil)

	rec := httptest.NewRecorder()
	h.HandleCreateOrder(rec, actorRequest(http.MethodPost, "/payment-create-order",
		strings.NewReader(`{"plan_id":"pro_monthly","gateway":"zpay","pay_type":"alipay"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, "https://z-pay.cn/submit?x=1", data["payment_url"])
}

func TestHandleCreateOrder_RequiresActor(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleCreateOrder(rec, httptest.NewRequest(http.MethodPost, "/payment-create-order",
		strings.NewReader(`{"plan_id":"pro_monthly","gateway":"zpay"}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "CreateOrder",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCreateOrder_BadGateway(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleCreateOrder(rec, actorRequest(http.MethodPost, "/payment-create-order",
		strings.NewReader(`{"plan_id":"pro_monthly","gateway":"paypal"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationInvalidGateway), resp.ErrorCode)
}

func TestHandleQuery_RequiresOutTradeNo(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleQuery(rec, actorRequest(http.MethodGet, "/payment-query", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_ScopedToActor(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	svc.On("Query", mock.Anything, "u1", "GAIYA1749988800000a1b2c3d4").
		Return(&payment.QueryResult{
			Order: &types.Order{OutTradeNo: "GAIYA1749988800000a1b2c3d4", State: types.OrderStatePaid},
		}, nil)

	rec := httptest.NewRecorder()
	h.HandleQuery(rec, actorRequest(http.MethodGet,
		"/payment-query?out_trade_no=GAIYA1749988800000a1b2c3d4", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertCalled(t, "Query", mock.Anything, "u1", "GAIYA1749988800000a1b2c3d4")
}

func TestHandleListOrders(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	svc.On("ListOrders", mock.Anything, "u1", 20).
		Return([]*types.Order{{OutTradeNo: "GAIYA1749988800000a1b2c3d4"}}, nil)

	rec := httptest.NewRecorder()
	h.HandleListOrders(rec, actorRequest(http.MethodGet, "/payment-orders", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, float64(1), data["count"])
}

func TestHandleNotify_RoutesStripeBySignatureHeader(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	svc.On("HandleStripeWebhook", mock.Anything, []byte(`{"stripe":true}`), "t=1,v1=abc").Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/payment-notify", strings.NewReader(`{"stripe":true}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.HandleNotify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	svc.AssertNotCalled(t, "HandleZPayCallback", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNotify_ZPayAckIsPlainText(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	svc.On("HandleZPayCallback", mock.Anything, mock.MatchedBy(func(params map[string]string) bool {
		return params["out_trade_no"] == "GAIYA1749988800000a1b2c3d4" &&
			params["trade_status"] == "TRADE_SUCCESS"
	}), mock.Anything).Return("success", nil)

	req := httptest.NewRequest(http.MethodGet,
		"/payment-notify?out_trade_no=GAIYA1749988800000a1b2c3d4&trade_status=TRADE_SUCCESS&sign=abc", nil)
	rec := httptest.NewRecorder()
	h.HandleNotify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "success", rec.Body.String())
}

func TestHandleNotify_ZPayFailureAcksFail(t *testing.T) {
	svc := new(mockPaymentService)
	h := newPaymentHandler(svc)

	svc.On("HandleZPayCallback", mock.Anything, mock.Anything, mock.Anything).
		Return("", types.NewAppError(types.ErrCodeAuthBadSignature, "invalid callback signature", nil))

	req := httptest.NewRequest(http.MethodGet, "/payment-notify?sign=bogus", nil)
	rec := httptest.NewRecorder()
	h.HandleNotify(rec, req)

	require.Equal(t, "fail", rec.Body.String())
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
