package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"gaiya/internal/quota"
	"gaiya/internal/types"
)

type mockQuotaService struct {
	mock.Mock
}

func (m *mockQuotaService) Status(ctx context.Context, userID string) (*quota.StatusReport, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*quota.StatusReport), args.Error(1)
}

func (m *mockQuotaService) Use(ctx context.Context, userID string, feature types.Feature, n int) (*types.FeatureQuota, error) {
	args := m.Called(ctx, userID, feature, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.FeatureQuota), args.Error(1)
}

func newQuotaHandler(svc QuotaService) *QuotaHandler {
	return NewQuotaHandler(svc, testLogger(), testValidator())
}

func TestHandleQuotaStatus(t *testing.T) {
	svc := new(mockQuotaService)
	h := newQuotaHandler(svc)

	svc.On("Status", mock.Anything, "u1").
		Return(&quota.StatusReport{
			Tier: types.TierPro,
			Quotas: map[types.Feature]types.FeatureQuota{
				types.FeatureChat: {Used: 3, Remaining: 7, Total: 10, ResetAt: time.Now().Add(time.Hour)},
			},
		}, nil)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, actorRequest(http.MethodGet, "/quota-status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, string(types.TierPro), data["user_tier"])
	assert.Contains(t, data["quotas"], "chat")
}

func TestHandleQuotaStatus_RequiresActor(t *testing.T) {
	svc := new(mockQuotaService)
	h := newQuotaHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/quota-status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}

func TestHandleQuotaUse(t *testing.T) {
	svc := new(mockQuotaService)
	h := newQuotaHandler(svc)

	svc.On("Use", mock.Anything, "u1", types.FeatureChat, 1).
		Return(&types.FeatureQuota{Used: 4, Remaining: 6, Total: 10}, nil)

	rec := httptest.NewRecorder()
	h.HandleUse(rec, actorRequest(http.MethodPost, "/quota-use",
		strings.NewReader(`{"feature":"chat","amount":1}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, float64(6), data["remaining"])
}

func TestHandleQuotaUse_UnknownFeature(t *testing.T) {
	svc := new(mockQuotaService)
	h := newQuotaHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleUse(rec, actorRequest(http.MethodPost, "/quota-use",
		strings.NewReader(`{"feature":"time_travel"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationInvalidFeature), resp.ErrorCode)
	svc.AssertNotCalled(t, "Use", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleQuotaUse_ExhaustedReturns402(t *testing.T) {
	svc := new(mockQuotaService)
	h := newQuotaHandler(svc)

	svc.On("Use", mock.Anything, "u1", types.FeatureDailyPlan, 1).
		Return(nil, types.NewAppErrorWithDetails(types.ErrCodeQuotaExceeded, "quota exceeded", nil,
			map[string]any{"reset_at": "2025-06-16T00:00:00Z"}))

	rec := httptest.NewRecorder()
	h.HandleUse(rec, actorRequest(http.MethodPost, "/quota-use",
		strings.NewReader(`{"feature":"daily_plan","amount":1}`)))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeQuotaExceeded), resp.ErrorCode)
	assert.Equal(t, "2025-06-16T00:00:00Z", resp.Details["reset_at"])
}
