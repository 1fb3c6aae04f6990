package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gaiya/internal/auth"
	"gaiya/internal/core"
	"gaiya/internal/types"
)

// --- Shared test helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

func actorRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx := types.WithActor(req.Context(), types.Actor{ID: "u1", Type: "user", Email: "a@example.com"})
	return req.WithContext(ctx)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) core.APIResponse {
	t.Helper()
	var resp core.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// --- Auth service mock ---

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Signup(ctx context.Context, email, password, handle string) (*auth.SignupResult, error) {
	args := m.Called(ctx, email, password, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.SignupResult), args.Error(1)
}

func (m *mockAuthService) UpdateProfile(ctx context.Context, userID, handle, timezone string) (*types.User, error) {
	args := m.Called(ctx, userID, handle, timezone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *mockAuthService) SendOTP(ctx context.Context, email string, purpose types.OTPPurpose) (int, error) {
	args := m.Called(ctx, email, purpose)
	return args.Int(0), args.Error(1)
}

func (m *mockAuthService) VerifyOTP(ctx context.Context, email, code string) (*auth.VerifyResult, error) {
	args := m.Called(ctx, email, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.VerifyResult), args.Error(1)
}

func (m *mockAuthService) Signin(ctx context.Context, email, password string) (*auth.SigninResult, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.SigninResult), args.Error(1)
}

func (m *mockAuthService) Refresh(ctx context.Context, rawRefreshToken string) (*auth.SigninResult, error) {
	args := m.Called(ctx, rawRefreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.SigninResult), args.Error(1)
}

func (m *mockAuthService) Signout(ctx context.Context, rawAccessToken string) error {
	return m.Called(ctx, rawAccessToken).Error(0)
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) int {
	return m.Called(ctx, email).Int(0)
}

func (m *mockAuthService) CompletePasswordReset(ctx context.Context, email, code, newPassword string) error {
	return m.Called(ctx, email, code, newPassword).Error(0)
}

func (m *mockAuthService) CheckVerification(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockAuthService) CheckVerificationByID(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func newAuthHandler(svc AuthService) *AuthHandler {
	return NewAuthHandler(svc, testLogger(), testValidator())
}

// --- Tests ---

func TestHandleSignup_Success(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("Signup", mock.Anything, "a@example.com", "passw0rd", "").
		Return(&auth.SignupResult{UserID: "u1", PendingVerification: true, OTPExpiresIn: 600}, nil)

	rec := httptest.NewRecorder()
	h.HandleSignup(rec, httptest.NewRequest(http.MethodPost, "/auth-signup",
		strings.NewReader(`{"email":"a@example.com","password":"passw0rd"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, true, data["pending_verification"])
}

func TestHandleSignup_PassesHandleThrough(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("Signup", mock.Anything, "a@example.com", "passw0rd", "gaiya_fan").
		Return(&auth.SignupResult{UserID: "u1", PendingVerification: true}, nil)

	rec := httptest.NewRecorder()
	h.HandleSignup(rec, httptest.NewRequest(http.MethodPost, "/auth-signup",
		strings.NewReader(`{"email":"a@example.com","password":"passw0rd","handle":"gaiya_fan"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertCalled(t, "Signup", mock.Anything, "a@example.com", "passw0rd", "gaiya_fan")
}

func TestHandleSignup_WeakPasswordRejectedBeforeService(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleSignup(rec, httptest.NewRequest(http.MethodPost, "/auth-signup",
		strings.NewReader(`{"email":"a@example.com","password":"short"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationWeakPassword), resp.ErrorCode)
	svc.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleSignup_UnknownFieldRejected(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleSignup(rec, httptest.NewRequest(http.MethodPost, "/auth-signup",
		strings.NewReader(`{"email":"a@example.com","password":"passw0rd","role":"admin"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationInvalidJSON), resp.ErrorCode)
}

func TestHandleSendOTP(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("SendOTP", mock.Anything, "a@example.com", types.OTPPurposeSignup).Return(600, nil)

	rec := httptest.NewRecorder()
	h.HandleSendOTP(rec, httptest.NewRequest(http.MethodPost, "/auth-send-otp",
		strings.NewReader(`{"email":"a@example.com","purpose":"signup"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, float64(600), data["expires_in"])
}

func TestHandleSendOTP_CooldownSurfaced(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("SendOTP", mock.Anything, "a@example.com", types.OTPPurposeSignup).
		Return(0, types.NewAppErrorWithDetails(types.ErrCodeOTPCooldown, "please wait before requesting another code", nil,
			map[string]any{"retry_after_seconds": 42}))

	rec := httptest.NewRecorder()
	h.HandleSendOTP(rec, httptest.NewRequest(http.MethodPost, "/auth-send-otp",
		strings.NewReader(`{"email":"a@example.com","purpose":"signup"}`)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeOTPCooldown), resp.ErrorCode)
	assert.Equal(t, float64(42), resp.Details["retry_after_seconds"])
}

func TestHandleSignin_Success(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("Signin", mock.Anything, "a@example.com", "passw0rd").
		Return(&auth.SigninResult{
			User:   &types.User{ID: "u1", Email: "a@example.com"},
			Tokens: &auth.TokenPair{AccessToken: "gat_x", RefreshToken: "grt_y"},
		}, nil)

	rec := httptest.NewRecorder()
	h.HandleSignin(rec, httptest.NewRequest(http.MethodPost, "/auth-signin",
		strings.NewReader(`{"email":"a@example.com","password":"passw0rd"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, "gat_x", data["access_token"])
	assert.Equal(t, "grt_y", data["refresh_token"])
}

func TestHandleSignin_InvalidCredentials(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("Signin", mock.Anything, "a@example.com", "wrong1234").
		Return(nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil))

	rec := httptest.NewRecorder()
	h.HandleSignin(rec, httptest.NewRequest(http.MethodPost, "/auth-signin",
		strings.NewReader(`{"email":"a@example.com","password":"wrong1234"}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeAuthInvalidCreds), resp.ErrorCode)
}

func TestHandleRefresh(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("Refresh", mock.Anything, "grt_old").
		Return(&auth.SigninResult{
			User:   &types.User{ID: "u1"},
			Tokens: &auth.TokenPair{AccessToken: "gat_new", RefreshToken: "grt_new"},
		}, nil)

	rec := httptest.NewRecorder()
	h.HandleRefresh(rec, httptest.NewRequest(http.MethodPost, "/auth-refresh",
		strings.NewReader(`{"refresh_token":"grt_old"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, "gat_new", data["access_token"])
}

func TestHandleSignout_UsesBearerToken(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("Signout", mock.Anything, "gat_live").Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/auth-signout", nil)
	req.Header.Set("Authorization", "Bearer gat_live")
	rec := httptest.NewRecorder()
	h.HandleSignout(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertCalled(t, "Signout", mock.Anything, "gat_live")
}

func TestHandleSignout_MissingHeader(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleSignout(rec, httptest.NewRequest(http.MethodPost, "/auth-signout", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "Signout", mock.Anything, mock.Anything)
}

func TestHandleSignout_NonBearerScheme(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth-signout", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	h.HandleSignout(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "Signout", mock.Anything, mock.Anything)
}

func TestHandleUpdateProfile_Success(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("UpdateProfile", mock.Anything, "u1", "new_handle", "Europe/Paris").
		Return(&types.User{ID: "u1", Handle: "new_handle", Timezone: "Europe/Paris"}, nil)

	rec := httptest.NewRecorder()
	h.HandleUpdateProfile(rec, actorRequest(http.MethodPost, "/profile-update",
		strings.NewReader(`{"handle":"new_handle","timezone":"Europe/Paris"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, "new_handle", data["handle"])
}

func TestHandleUpdateProfile_RequiresActor(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleUpdateProfile(rec, httptest.NewRequest(http.MethodPost, "/profile-update",
		strings.NewReader(`{"handle":"new_handle"}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleUpdateProfile_NoFieldsRejected(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleUpdateProfile(rec, actorRequest(http.MethodPost, "/profile-update",
		strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), resp.ErrorCode)
	svc.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleResetPassword_RequestMode(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("RequestPasswordReset", mock.Anything, "a@example.com").Return(600)

	rec := httptest.NewRecorder()
	h.HandleResetPassword(rec, httptest.NewRequest(http.MethodPost, "/auth-reset-password",
		strings.NewReader(`{"email":"a@example.com"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Contains(t, data["message"], "If an account exists")
	svc.AssertNotCalled(t, "CompletePasswordReset",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleResetPassword_CompleteMode(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("CompletePasswordReset", mock.Anything, "a@example.com", "123456", "newpass1").Return(nil)

	rec := httptest.NewRecorder()
	h.HandleResetPassword(rec, httptest.NewRequest(http.MethodPost, "/auth-reset-password",
		strings.NewReader(`{"email":"a@example.com","otp_code":"123456","new_password":"newpass1"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertNotCalled(t, "RequestPasswordReset", mock.Anything, mock.Anything)
}

func TestHandleResetPassword_PartialCompletionRejected(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleResetPassword(rec, httptest.NewRequest(http.MethodPost, "/auth-reset-password",
		strings.NewReader(`{"email":"a@example.com","otp_code":"123456"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), resp.ErrorCode)
}

func TestHandleCheckVerification_ByEmail(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	svc.On("CheckVerification", mock.Anything, "a@example.com").Return(true, nil)

	rec := httptest.NewRecorder()
	h.HandleCheckVerification(rec, httptest.NewRequest(http.MethodPost, "/auth-check-verification",
		strings.NewReader(`{"email":"a@example.com"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, true, data["verified"])
}

func TestHandleCheckVerification_NeitherIdentifier(t *testing.T) {
	svc := new(mockAuthService)
	h := newAuthHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleCheckVerification(rec, httptest.NewRequest(http.MethodPost, "/auth-check-verification",
		strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEmailVerified_ServesHTML(t *testing.T) {
	h := newAuthHandler(new(mockAuthService))

	rec := httptest.NewRecorder()
	h.HandleEmailVerified(rec, httptest.NewRequest(http.MethodGet, "/email-verified", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Email verified")
}
