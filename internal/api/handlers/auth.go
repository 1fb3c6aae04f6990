// Package handlers contains the HTTP handler implementations for the GaiYa API.
//
// Each handler is responsible for:
//   - Decoding and validating HTTP requests
//   - Delegating to service-layer logic
//   - Encoding responses and managing HTTP-specific concerns (headers)
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gaiya/internal/auth"
	"gaiya/internal/core"
	"gaiya/internal/types"
)

// --- DTOs ---

// SignupRequest is the request body for POST /auth-signup.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,strong_password"`
	Handle   string `json:"handle,omitempty" validate:"omitempty,max=50"`
}

// SendOTPRequest is the request body for POST /auth-send-otp.
type SendOTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,otp_purpose"`
}

// VerifyOTPRequest is the request body for POST /auth-verify-otp.
type VerifyOTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	OTPCode string `json:"otp_code" validate:"required,otp_code"`
}

// SigninRequest is the request body for POST /auth-signin.
type SigninRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the request body for POST /auth-refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ResetPasswordRequest is the request body for POST /auth-reset-password.
// Sent with only the email, it issues a reset code; sent with otp_code and
// new_password as well, it completes the reset.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	OTPCode     string `json:"otp_code,omitempty" validate:"omitempty,otp_code"`
	NewPassword string `json:"new_password,omitempty" validate:"omitempty,strong_password"`
}

// CheckVerificationRequest is the request body for POST /auth-check-verification.
// Exactly one of email or user_id identifies the account.
type CheckVerificationRequest struct {
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
	UserID string `json:"user_id,omitempty" validate:"omitempty,uuid4"`
}

// UpdateProfileRequest is the request body for POST /profile-update.
// Fields left empty keep their current value.
type UpdateProfileRequest struct {
	Handle   string `json:"handle,omitempty" validate:"omitempty,max=50"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// SessionResponse carries a fresh token pair after signin or refresh.
type SessionResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         *types.User `json:"user"`
}

// --- Service Interface ---

// AuthService orchestrates credential validation and lifecycle flows.
// The handler depends on this abstraction rather than the concrete
// service, enabling testability via mocks.
type AuthService interface {
	Signup(ctx context.Context, email, password, handle string) (*auth.SignupResult, error)
	SendOTP(ctx context.Context, email string, purpose types.OTPPurpose) (int, error)
	VerifyOTP(ctx context.Context, email, code string) (*auth.VerifyResult, error)
	Signin(ctx context.Context, email, password string) (*auth.SigninResult, error)
	Refresh(ctx context.Context, rawRefreshToken string) (*auth.SigninResult, error)
	Signout(ctx context.Context, rawAccessToken string) error
	RequestPasswordReset(ctx context.Context, email string) int
	CompletePasswordReset(ctx context.Context, email, code, newPassword string) error
	CheckVerification(ctx context.Context, email string) (bool, error)
	CheckVerificationByID(ctx context.Context, userID string) (bool, error)
	UpdateProfile(ctx context.Context, userID, handle, timezone string) (*types.User, error)
}

// --- Handler ---

// AuthHandler maps HTTP requests to the auth service layer.
type AuthHandler struct {
	service   AuthService
	logger    *slog.Logger
	validator *core.Validator
}

// NewAuthHandler creates a new AuthHandler with the provided dependencies.
func NewAuthHandler(svc AuthService, l *slog.Logger, v *core.Validator) *AuthHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuthHandler{
		service:   svc,
		logger:    l,
		validator: v,
	}
}

// RegisterRoutes mounts all auth routes onto the provided router.
//
// Public routes (no bearer token required):
//   - POST /auth-signup
//   - POST /auth-send-otp
//   - POST /auth-verify-otp
//   - POST /auth-signin
//   - POST /auth-refresh
//   - POST /auth-reset-password
//   - POST /auth-check-verification
//   - GET  /email-verified
//
// Protected routes (requires valid access token):
//   - POST /auth-signout
//   - POST /profile-update
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth-signup", h.HandleSignup)
	r.Post("/auth-send-otp", h.HandleSendOTP)
	r.Post("/auth-verify-otp", h.HandleVerifyOTP)
	r.Post("/auth-signin", h.HandleSignin)
	r.Post("/auth-refresh", h.HandleRefresh)
	r.Post("/auth-signout", h.HandleSignout)
	r.Post("/auth-reset-password", h.HandleResetPassword)
	r.Post("/auth-check-verification", h.HandleCheckVerification)
	r.Post("/profile-update", h.HandleUpdateProfile)
	r.Get("/email-verified", h.HandleEmailVerified)
}

// --- Handler Methods ---

// HandleSignup processes POST /auth-signup requests. A successful signup
// leaves the account pending verification and dispatches an OTP email.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.Signup(r.Context(), req.Email, req.Password, req.Handle)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, result)
}

// HandleSendOTP processes POST /auth-send-otp requests.
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	expiresIn, err := h.service.SendOTP(r.Context(), req.Email, types.OTPPurpose(req.Purpose))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"expires_in": expiresIn,
	})
}

// HandleVerifyOTP processes POST /auth-verify-otp requests. Consuming a
// signup code marks the account verified.
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), req.Email, req.OTPCode)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, result)
}

// HandleSignin processes POST /auth-signin requests.
func (h *AuthHandler) HandleSignin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, SessionResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		User:         result.User,
	})
}

// HandleRefresh processes POST /auth-refresh requests, rotating the
// refresh token.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, SessionResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		User:         result.User,
	})
}

// HandleSignout processes POST /auth-signout requests. The session to
// revoke is the one behind the bearer token; signout is idempotent.
func (h *AuthHandler) HandleSignout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "Authorization header is required", nil))
		return
	}

	if err := h.service.Signout(r.Context(), token); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleResetPassword processes POST /auth-reset-password requests.
//
// With only an email in the body, it issues a password reset code and
// always reports success so the endpoint cannot be used to probe which
// addresses are registered. With otp_code and new_password present, it
// completes the reset and revokes all live sessions.
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.OTPCode != "" || req.NewPassword != "" {
		if req.OTPCode == "" || req.NewPassword == "" {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"otp_code and new_password must be supplied together", nil))
			return
		}
		if err := h.service.CompletePasswordReset(r.Context(), req.Email, req.OTPCode, req.NewPassword); err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, map[string]string{
			"message": "Password has been reset successfully.",
		})
		return
	}

	expiresIn := h.service.RequestPasswordReset(r.Context(), req.Email)
	core.JSON(w, r, http.StatusOK, map[string]any{
		"message":    "If an account exists with that email, a reset code has been sent.",
		"expires_in": expiresIn,
	})
}

// HandleUpdateProfile processes POST /profile-update requests for the
// authenticated user. At least one mutable field must be supplied.
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req UpdateProfileRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Handle == "" && req.Timezone == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "handle or timezone is required", nil))
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), actor.ID, req.Handle, req.Timezone)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, user)
}

// HandleCheckVerification processes POST /auth-check-verification requests.
func (h *AuthHandler) HandleCheckVerification(w http.ResponseWriter, r *http.Request) {
	var req CheckVerificationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Email == "" && req.UserID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "email or user_id is required", nil))
		return
	}

	var (
		verified bool
		err      error
	)
	if req.Email != "" {
		verified, err = h.service.CheckVerification(r.Context(), req.Email)
	} else {
		verified, err = h.service.CheckVerificationByID(r.Context(), req.UserID)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"verified": verified})
}

// emailVerifiedPage is the confirmation page shown after a user follows
// the verification link from their mailbox.
const emailVerifiedPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Email verified - GaiYa</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #f7f7f8; }
.card { background: #fff; border-radius: 12px; padding: 48px 56px; box-shadow: 0 2px 12px rgba(0,0,0,.08); text-align: center; }
h1 { font-size: 22px; margin: 0 0 8px; color: #111; }
p { color: #666; margin: 0; }
</style>
</head>
<body>
<div class="card">
<h1>Email verified</h1>
<p>Your email address has been confirmed. You can close this page and sign in.</p>
</div>
</body>
</html>
`

// HandleEmailVerified serves GET /email-verified, a static HTML
// confirmation page linked from verification emails.
func (h *AuthHandler) HandleEmailVerified(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emailVerifiedPage))
}

// --- Utility ---

// bearerToken extracts the raw bearer token from the Authorization
// header, rejecting non-Bearer schemes.
func bearerToken(r *http.Request) string {
	return core.ExtractBearerToken(r.Header.Get("Authorization"))
}
