package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gaiya/internal/types"
)

type mockSubscriptionRepo struct {
	mock.Mock
}

func (m *mockSubscriptionRepo) Get(ctx context.Context, userID string) (*types.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Subscription), args.Error(1)
}

func (m *mockSubscriptionRepo) Materialize(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockSubscriptionRepo) ApplyEntitlement(ctx context.Context, userID string, tier types.PlanTier, expiresAt *time.Time, source types.PaymentGateway, eventAt time.Time) (bool, error) {
	args := m.Called(ctx, userID, tier, expiresAt, source, eventAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubscriptionRepo) PersistDowngrade(ctx context.Context, userID string, now time.Time) error {
	return m.Called(ctx, userID, now).Error(0)
}

func (m *mockSubscriptionRepo) SetNonRenewing(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newSubService(repo SubscriptionRepo) *SubscriptionService {
	return NewSubscriptionService(repo, fixedClock{now: testNow}, nil)
}

func TestStatus_NoRow_MaterializesFree(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()

	repo.On("Get", ctx, "u1").Return(nil, nil)
	repo.On("Materialize", ctx, "u1").Return(nil)

	sub, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.TierFree, sub.Tier)
	repo.AssertCalled(t, "Materialize", ctx, "u1")
}

func TestStatus_ExpiredPro_ReadsAsFree(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	expired := testNow.Add(-time.Hour)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierPro, ExpiresAt: &expired, NonRenewing: true}, nil)
	repo.On("PersistDowngrade", ctx, "u1", testNow).Return(nil)

	sub, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.TierFree, sub.Tier)
	assert.Nil(t, sub.ExpiresAt)
	assert.False(t, sub.NonRenewing)
	repo.AssertCalled(t, "PersistDowngrade", ctx, "u1", testNow)
}

func TestStatus_ActivePro_Unchanged(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	future := testNow.Add(24 * time.Hour)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierPro, ExpiresAt: &future}, nil)

	sub, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.TierPro, sub.Tier)
	repo.AssertNotCalled(t, "PersistDowngrade", mock.Anything, mock.Anything, mock.Anything)
}

func TestStatus_Lifetime_NeverExpires(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierLifetime}, nil)

	tier, err := svc.EffectiveTier(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.TierLifetime, tier)
}

func TestApply_ProOnLifetime_RedundantPurchase(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	plan, _ := PlanByID(PlanProMonthly)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierLifetime}, nil)

	err := svc.Apply(ctx, "u1", plan, types.GatewayZPay, testNow)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictRedundantPurchase, appErr.Code)
	repo.AssertNotCalled(t, "ApplyEntitlement",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_ProStacksOnRemainingTime(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	currentExpiry := testNow.Add(10 * 24 * time.Hour)
	plan, _ := PlanByID(PlanProMonthly)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierPro, ExpiresAt: &currentExpiry}, nil)
	wantExpiry := currentExpiry.AddDate(0, 0, plan.DurationDays)
	repo.On("ApplyEntitlement", ctx, "u1", types.TierPro, mock.MatchedBy(func(at *time.Time) bool {
		return at != nil && at.Equal(wantExpiry)
	}), types.GatewayZPay, testNow).Return(false, nil)

	require.NoError(t, svc.Apply(ctx, "u1", plan, types.GatewayZPay, testNow))
	repo.AssertExpectations(t)
}

func TestApply_ProOnFree_ExtendsFromNow(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	plan, _ := PlanByID(PlanProYearly)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierFree}, nil)
	wantExpiry := testNow.AddDate(0, 0, plan.DurationDays)
	repo.On("ApplyEntitlement", ctx, "u1", types.TierPro, mock.MatchedBy(func(at *time.Time) bool {
		return at != nil && at.Equal(wantExpiry)
	}), types.GatewayStripe, testNow).Return(false, nil)

	require.NoError(t, svc.Apply(ctx, "u1", plan, types.GatewayStripe, testNow))
}

func TestApply_LifetimeClearsExpiry(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	currentExpiry := testNow.Add(24 * time.Hour)
	plan, _ := PlanByID(PlanTeamPartner)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierPro, ExpiresAt: &currentExpiry}, nil)
	repo.On("ApplyEntitlement", ctx, "u1", types.TierLifetime, (*time.Time)(nil), types.GatewayZPay, testNow).
		Return(false, nil)

	require.NoError(t, svc.Apply(ctx, "u1", plan, types.GatewayZPay, testNow))
	repo.AssertExpectations(t)
}

func TestApply_StaleEventIsNoOp(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	plan, _ := PlanByID(PlanProMonthly)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierFree}, nil)
	repo.On("ApplyEntitlement", ctx, "u1", types.TierPro, mock.Anything, types.GatewayZPay, mock.Anything).
		Return(true, nil)

	assert.NoError(t, svc.Apply(ctx, "u1", plan, types.GatewayZPay, testNow.Add(-time.Hour)))
}

func TestCancel_ProMarksNonRenewing(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()
	future := testNow.Add(24 * time.Hour)

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierPro, ExpiresAt: &future}, nil)
	repo.On("SetNonRenewing", ctx, "u1").Return(nil)

	require.NoError(t, svc.Cancel(ctx, "u1"))
	repo.AssertCalled(t, "SetNonRenewing", ctx, "u1")
}

func TestCancel_FreeTier_Conflict(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	svc := newSubService(repo)
	ctx := context.Background()

	repo.On("Get", ctx, "u1").
		Return(&types.Subscription{UserID: "u1", Tier: types.TierFree}, nil)

	err := svc.Cancel(ctx, "u1")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictOrderState, appErr.Code)
}
