package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"gaiya/internal/types"
)

// UserRepo defines the data access methods needed by the auth service
// for user operations.
type UserRepo interface {
	GetByID(ctx context.Context, userID string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	Create(ctx context.Context, user *types.User) error
	MarkVerified(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, userID string, newHash string) error
	UpdateLastLogin(ctx context.Context, userID string) error
	UpdateProfile(ctx context.Context, userID string, handle string, timezone string) error
}

// AuthTxManager abstracts transactional execution for the auth service.
// The callback receives transaction-scoped repositories so all writes
// within it participate in the same database transaction.
type AuthTxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error) error
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a PasswordHasher with the given bcrypt cost.
// A cost below bcrypt's minimum falls back to cost 12.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = 12
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SignupResult reports the outcome of a signup request. Tokens are only
// present once the email is verified; a fresh signup gets an OTP instead.
type SignupResult struct {
	UserID              string `json:"user_id"`
	PendingVerification bool   `json:"pending_verification"`
	OTPExpiresIn        int    `json:"otp_expires_in_seconds,omitempty"`
}

// SigninResult bundles the authenticated user with its fresh token pair.
type SigninResult struct {
	User      *types.User `json:"user"`
	Tokens    *TokenPair  `json:"tokens"`
	SessionID string      `json:"session_id"`
}

// VerifyResult reports a consumed OTP. Purpose tells the client which
// flow to continue with.
type VerifyResult struct {
	Purpose  types.OTPPurpose `json:"purpose"`
	Verified bool             `json:"verified"`
}

// authService orchestrates signup, signin, token refresh, signout, and
// password reset. It composes the session and OTP services and runs the
// multi-write flows inside transactions.
type authService struct {
	userRepo   UserRepo
	sessionSvc *sessionService
	otpSvc     *otpService
	txManager  AuthTxManager
	hasher     PasswordHasher
	clock      types.Clock
	logger     *slog.Logger
}

// AuthServiceConfig bundles the dependencies for NewAuthService.
type AuthServiceConfig struct {
	UserRepo       UserRepo
	SessionService *sessionService
	OTPService     *otpService
	TxManager      AuthTxManager
	Hasher         PasswordHasher
	Clock          types.Clock
	Logger         *slog.Logger
}

// NewAuthService creates a new auth service. Hasher, Clock, and Logger
// default when nil.
func NewAuthService(cfg AuthServiceConfig) *authService {
	if cfg.Hasher == nil {
		cfg.Hasher = NewBcryptHasher(12)
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &authService{
		userRepo:   cfg.UserRepo,
		sessionSvc: cfg.SessionService,
		otpSvc:     cfg.OTPService,
		txManager:  cfg.TxManager,
		hasher:     cfg.Hasher,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
}

// Signup registers a new account and dispatches a signup OTP.
//
// Branches on the existing row for the canonical email:
//   - verified user exists: conflict_email_exists
//   - unverified user exists: refresh the password hash and re-issue the
//     OTP, so an abandoned signup can be retried
//   - no user: create one and issue the OTP
//
// The handle is optional display identity; it is stored on creation and
// adopted on an abandoned-signup retry the same way the password is.
func (s *authService) Signup(ctx context.Context, email, password, handle string) (*SignupResult, error) {
	email = CanonicalizeEmail(email)

	if !types.IsStrongPassword(password) {
		return nil, types.NewAppError(types.ErrCodeValidationWeakPassword,
			"password must be 8-72 characters with at least one letter and one digit", nil)
	}
	if len(handle) > types.MaxHandleLength {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidArgument,
			"handle is too long", nil)
	}

	hash, err := s.hasher.GenerateFromPassword(password)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil && !isAppCode(err, types.ErrCodeNotFoundUser) {
		return nil, err
	}

	var userID string
	switch {
	case existing != nil && existing.Verified:
		return nil, types.NewAppError(types.ErrCodeConflictEmail, "an account with this email already exists", nil)
	case existing != nil:
		// Unverified leftover from an abandoned signup. Adopt the new
		// password (and handle, if supplied) and re-send the code.
		if err := s.userRepo.UpdatePassword(ctx, existing.ID, hash); err != nil {
			return nil, err
		}
		if handle != "" && handle != existing.Handle {
			if err := s.userRepo.UpdateProfile(ctx, existing.ID, handle, existing.Timezone); err != nil {
				return nil, err
			}
		}
		userID = existing.ID
	default:
		user := &types.User{
			ID:           uuid.NewString(),
			Email:        email,
			Handle:       handle,
			PasswordHash: hash,
			CreatedAt:    s.clock.Now(),
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, err
		}
		userID = user.ID
	}

	lifetime, err := s.otpSvc.Issue(ctx, email, types.OTPPurposeSignup)
	if err != nil {
		return nil, err
	}

	s.logger.Info("signup initiated", "user_id", userID, "email", email)
	return &SignupResult{
		UserID:              userID,
		PendingVerification: true,
		OTPExpiresIn:        int(lifetime.Seconds()),
	}, nil
}

// SendOTP issues a fresh code for an explicit purpose. For
// password_reset the account must exist, but a missing account is
// reported as success to avoid leaking registration state.
func (s *authService) SendOTP(ctx context.Context, email string, purpose types.OTPPurpose) (int, error) {
	email = CanonicalizeEmail(email)

	if purpose == types.OTPPurposePasswordReset {
		if _, err := s.userRepo.GetByEmail(ctx, email); err != nil {
			if isAppCode(err, types.ErrCodeNotFoundUser) {
				s.logger.Info("password reset requested for unknown email", "email", email)
				return int(s.otpSvc.config.Lifetime.Seconds()), nil
			}
			return 0, err
		}
	}

	lifetime, err := s.otpSvc.Issue(ctx, email, purpose)
	if err != nil {
		return 0, err
	}
	return int(lifetime.Seconds()), nil
}

// VerifyOTP consumes the submitted code. A consumed signup code marks
// the account verified as its side effect.
func (s *authService) VerifyOTP(ctx context.Context, email, code string) (*VerifyResult, error) {
	email = CanonicalizeEmail(email)

	otp, err := s.otpSvc.Verify(ctx, email, code)
	if err != nil {
		return nil, err
	}

	if otp.Purpose == types.OTPPurposeSignup {
		if err := s.userRepo.MarkVerified(ctx, email); err != nil {
			return nil, err
		}
		s.logger.Info("email verified", "email", email)
	}

	return &VerifyResult{Purpose: otp.Purpose, Verified: true}, nil
}

// Signin authenticates email/password credentials and opens a fresh
// session chain.
//
// Unknown emails and wrong passwords both report auth_invalid_credentials
// so responses cannot be used to probe which addresses are registered.
func (s *authService) Signin(ctx context.Context, email, password string) (*SigninResult, error) {
	email = CanonicalizeEmail(email)

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if isAppCode(err, types.ErrCodeNotFoundUser) {
			return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	if !user.Verified {
		return nil, types.NewAppError(types.ErrCodeAuthEmailNotVerified, "email address is not verified", nil)
	}

	var (
		session *types.Session
		tokens  *TokenPair
	)
	err = s.txManager.RunInTx(ctx, func(ctx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error {
		if err := txUserRepo.UpdateLastLogin(ctx, user.ID); err != nil {
			return err
		}
		session, tokens, err = s.sessionSvc.withRepo(txSessionRepo).CreateSession(ctx, user.ID, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed in", "user_id", user.ID, "session_id", session.ID)
	return &SigninResult{User: user, Tokens: tokens, SessionID: session.ID}, nil
}

// Refresh rotates a refresh token, revoking the old session and minting
// a replacement in the same chain.
//
// A replayed token (one whose session was already rotated or revoked)
// revokes the entire chain: replay means more than one party holds the
// chain's tokens.
func (s *authService) Refresh(ctx context.Context, rawRefreshToken string) (*SigninResult, error) {
	if !types.IsRefreshToken(rawRefreshToken) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token format", nil)
	}

	session, err := s.sessionSvc.repo.GetByRefreshTokenHash(ctx, HashToken(rawRefreshToken))
	if err != nil {
		return nil, err
	}

	if session.RotatedAt != nil || session.RevokedAt != nil {
		if err := s.sessionSvc.repo.RevokeChain(ctx, session.ChainID); err != nil {
			s.logger.Error("failed to revoke chain after token replay",
				"chain_id", session.ChainID, "error", err)
		}
		s.logger.Warn("refresh token replay detected",
			"session_id", session.ID,
			"chain_id", session.ChainID,
			"user_id", session.UserID,
		)
		return nil, types.NewAppError(types.ErrCodeAuthSessionRevoked, "refresh token already used", nil)
	}

	if s.clock.Now().After(session.RefreshExpiresAt) {
		return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "refresh token has expired", nil)
	}

	var (
		next   *types.Session
		tokens *TokenPair
	)
	err = s.txManager.RunInTx(ctx, func(ctx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error {
		// The claim is the concurrency gate: of two racing refreshes one
		// marks the row first and the loser gets session_revoked.
		if err := txSessionRepo.MarkRotated(ctx, session.ID); err != nil {
			if isAppCode(err, types.ErrCodeAuthSessionRevoked) {
				_ = txSessionRepo.RevokeChain(ctx, session.ChainID)
			}
			return err
		}
		if err := txSessionRepo.Revoke(ctx, session.ID); err != nil {
			return err
		}
		next, tokens, err = s.sessionSvc.withRepo(txSessionRepo).CreateSession(ctx, session.UserID, session.ChainID)
		return err
	})
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("session rotated",
		"old_session_id", session.ID,
		"new_session_id", next.ID,
		"chain_id", session.ChainID,
	)
	return &SigninResult{User: user, Tokens: tokens, SessionID: next.ID}, nil
}

// Signout revokes the session behind an access token. Unknown or
// already-revoked tokens report success; signout is idempotent from the
// client's perspective.
func (s *authService) Signout(ctx context.Context, rawAccessToken string) error {
	if !types.IsAccessToken(rawAccessToken) {
		return nil
	}

	session, err := s.sessionSvc.repo.GetByAccessTokenHash(ctx, HashToken(rawAccessToken))
	if err != nil {
		if isAppCode(err, types.ErrCodeAuthTokenInvalid) {
			return nil
		}
		return err
	}

	if err := s.sessionSvc.repo.Revoke(ctx, session.ID); err != nil {
		return err
	}
	s.logger.Info("user signed out", "session_id", session.ID, "user_id", session.UserID)
	return nil
}

// RequestPasswordReset issues a password_reset OTP. Always reports the
// OTP lifetime; unknown emails and delivery failures are swallowed so
// the endpoint cannot be used to probe registration state.
func (s *authService) RequestPasswordReset(ctx context.Context, email string) int {
	email = CanonicalizeEmail(email)

	if _, err := s.userRepo.GetByEmail(ctx, email); err != nil {
		if !isAppCode(err, types.ErrCodeNotFoundUser) {
			s.logger.Error("password reset lookup failed", "email", email, "error", err)
		}
		return int(s.otpSvc.config.Lifetime.Seconds())
	}

	if _, err := s.otpSvc.Issue(ctx, email, types.OTPPurposePasswordReset); err != nil {
		s.logger.Error("password reset code issue failed", "email", email, "error", err)
	}
	return int(s.otpSvc.config.Lifetime.Seconds())
}

// CompletePasswordReset verifies a password_reset OTP, installs the new
// password, and revokes every live session for the user.
func (s *authService) CompletePasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = CanonicalizeEmail(email)

	if !types.IsStrongPassword(newPassword) {
		return types.NewAppError(types.ErrCodeValidationWeakPassword,
			"password must be 8-72 characters with at least one letter and one digit", nil)
	}

	otp, err := s.otpSvc.Verify(ctx, email, code)
	if err != nil {
		return err
	}
	if otp.Purpose != types.OTPPurposePasswordReset {
		return types.NewAppError(types.ErrCodeOTPInvalid, "code was not issued for password reset", nil)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	hash, err := s.hasher.GenerateFromPassword(newPassword)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	err = s.txManager.RunInTx(ctx, func(ctx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error {
		if err := txUserRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		return txSessionRepo.RevokeAllForUser(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset completed", "user_id", user.ID)
	return nil
}

// UpdateProfile changes the mutable profile fields. Empty fields keep
// their current value; the time zone must name a real IANA zone since
// quota window math depends on it.
func (s *authService) UpdateProfile(ctx context.Context, userID, handle, timezone string) (*types.User, error) {
	if len(handle) > types.MaxHandleLength {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidArgument, "handle is too long", nil)
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidArgument, "unknown time zone", err)
		}
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if handle == "" {
		handle = user.Handle
	}
	if timezone == "" {
		timezone = user.Timezone
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, handle, timezone); err != nil {
		return nil, err
	}
	user.Handle = handle
	user.Timezone = timezone

	s.logger.Info("profile updated", "user_id", userID)
	return user, nil
}

// CheckVerification reports whether the email belongs to a verified
// account. Unknown emails read as unverified.
func (s *authService) CheckVerification(ctx context.Context, email string) (bool, error) {
	email = CanonicalizeEmail(email)

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if isAppCode(err, types.ErrCodeNotFoundUser) {
			return false, nil
		}
		return false, err
	}
	return user.Verified, nil
}

// CheckVerificationByID is CheckVerification keyed by user id.
func (s *authService) CheckVerificationByID(ctx context.Context, userID string) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if isAppCode(err, types.ErrCodeNotFoundUser) {
			return false, nil
		}
		return false, err
	}
	return user.Verified, nil
}

// Authenticate resolves a bearer token to its session and actor. Used by
// the authentication middleware.
func (s *authService) Authenticate(ctx context.Context, rawAccessToken string) (*types.Actor, error) {
	session, err := s.sessionSvc.ValidateAccessToken(ctx, rawAccessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user.DeactivatedAt != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "account is deactivated", nil)
	}

	return &types.Actor{ID: user.ID, Type: "user", Email: user.Email}, nil
}

// isAppCode reports whether err is an AppError carrying the given code.
func isAppCode(err error, code types.ErrorCode) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
