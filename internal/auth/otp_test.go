package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gaiya/internal/types"
)

func newOTPFixture(t *testing.T) (*mockOTPRepo, *mockMailer, *otpService) {
	t.Helper()
	repo := new(mockOTPRepo)
	mailer := new(mockMailer)
	svc := NewOTPService(repo, mailer, &stubTokenGen{}, DefaultOTPConfig(), fixedClock{now: testNow}, nil)
	return repo, mailer, svc
}

func TestOTPIssue_StoresHashedCodeAndDispatches(t *testing.T) {
	repo, mailer, svc := newOTPFixture(t)
	ctx := context.Background()

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurposeSignup).Return(nil, notFoundOTP())
	repo.On("CountIssuedSince", ctx, "a@example.com", testNow.Add(-24*time.Hour)).Return(0, nil)
	repo.On("SupersedeActive", ctx, "a@example.com", types.OTPPurposeSignup).Return(nil)
	repo.On("Create", ctx, mock.MatchedBy(func(o *types.OTP) bool {
		return o.Email == "a@example.com" &&
			o.CodeHash == HashToken(testOTPCode) &&
			o.State == types.OTPStateIssued &&
			o.ExpiresAt.Equal(testNow.Add(DefaultOTPConfig().Lifetime))
	})).Return(nil)
	mailer.On("SendOTP", ctx, "a@example.com", testOTPCode, types.OTPPurposeSignup).Return(nil)

	lifetime, err := svc.Issue(ctx, "a@example.com", types.OTPPurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, DefaultOTPConfig().Lifetime, lifetime)
	repo.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestOTPIssue_SendCooldown(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurposeSignup).
		Return(&types.OTP{ID: "o1", CreatedAt: testNow.Add(-10 * time.Second)}, nil)

	_, err := svc.Issue(ctx, "a@example.com", types.OTPPurposeSignup)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeOTPCooldown, appErr.Code)
	assert.Contains(t, appErr.Details, "retry_after_seconds")
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOTPIssue_DailySendCap(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurposeSignup).Return(nil, notFoundOTP())
	repo.On("CountIssuedSince", ctx, "a@example.com", mock.Anything).
		Return(DefaultOTPConfig().DailySendCap, nil)

	_, err := svc.Issue(ctx, "a@example.com", types.OTPPurposeSignup)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeRateLimit, appErr.Code)
}

func issuedOTP() *types.OTP {
	return &types.OTP{
		ID:          "o1",
		Email:       "a@example.com",
		Purpose:     types.OTPPurposeSignup,
		CodeHash:    HashToken(testOTPCode),
		State:       types.OTPStateIssued,
		MaxAttempts: 5,
		ExpiresAt:   testNow.Add(5 * time.Minute),
		CreatedAt:   testNow.Add(-time.Minute),
	}
}

func TestOTPVerify_Success_ConsumesCode(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurpose("")).Return(issuedOTP(), nil)
	repo.On("Consume", ctx, "o1", testNow).Return(nil)

	otp, err := svc.Verify(ctx, "a@example.com", testOTPCode)
	require.NoError(t, err)
	assert.Equal(t, types.OTPPurposeSignup, otp.Purpose)
	repo.AssertExpectations(t)
}

func TestOTPVerify_WrongCode_IncrementsAttempts(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurpose("")).Return(issuedOTP(), nil)
	repo.On("IncrementAttempts", ctx, "o1").Return(1, nil)

	_, err := svc.Verify(ctx, "a@example.com", "000000")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeOTPInvalid, appErr.Code)
	assert.Equal(t, 4, appErr.Details["attempts_remaining"])
	repo.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
}

func TestOTPVerify_LastWrongAttempt_Exhausts(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurpose("")).Return(issuedOTP(), nil)
	repo.On("IncrementAttempts", ctx, "o1").Return(5, nil)
	repo.On("MarkState", ctx, "o1", types.OTPStateExhausted).Return(nil)

	_, err := svc.Verify(ctx, "a@example.com", "000000")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeOTPExhausted, appErr.Code)
	repo.AssertCalled(t, "MarkState", ctx, "o1", types.OTPStateExhausted)
}

func TestOTPVerify_CorrectCodeAfterExhaustion_StillRejected(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()
	otp := issuedOTP()
	otp.State = types.OTPStateExhausted

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurpose("")).Return(otp, nil)

	_, err := svc.Verify(ctx, "a@example.com", testOTPCode)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeOTPExhausted, appErr.Code)
	repo.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
}

func TestOTPVerify_Expired(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()
	otp := issuedOTP()
	otp.ExpiresAt = testNow.Add(-time.Second)

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurpose("")).Return(otp, nil)
	repo.On("MarkState", ctx, "o1", types.OTPStateExpired).Return(nil)

	_, err := svc.Verify(ctx, "a@example.com", testOTPCode)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeOTPExpired, appErr.Code)
}

func TestOTPVerify_AlreadyUsed(t *testing.T) {
	repo, _, svc := newOTPFixture(t)
	ctx := context.Background()
	otp := issuedOTP()
	otp.State = types.OTPStateVerified

	repo.On("GetLatest", ctx, "a@example.com", types.OTPPurpose("")).Return(otp, nil)

	_, err := svc.Verify(ctx, "a@example.com", testOTPCode)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeOTPInvalid, appErr.Code)
}
