package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gaiya/internal/types"
)

// OTPConfig holds configuration for one-time code issuance and
// verification.
type OTPConfig struct {
	// Lifetime is how long a code stays redeemable. Default: 10 minutes.
	Lifetime time.Duration

	// MaxAttempts bounds wrong-code guesses before the code is
	// exhausted. Default: 5.
	MaxAttempts int

	// SendCooldown is the minimum gap between sends to one email.
	// Default: 1 minute.
	SendCooldown time.Duration

	// DailySendCap bounds sends per email per rolling 24 hours.
	// Default: 10.
	DailySendCap int
}

// DefaultOTPConfig returns the default OTP configuration.
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		Lifetime:     10 * time.Minute,
		MaxAttempts:  5,
		SendCooldown: time.Minute,
		DailySendCap: 10,
	}
}

// OTPRepo defines the data access methods needed by the OTP service.
type OTPRepo interface {
	Create(ctx context.Context, otp *types.OTP) error
	GetLatest(ctx context.Context, email string, purpose types.OTPPurpose) (*types.OTP, error)
	SupersedeActive(ctx context.Context, email string, purpose types.OTPPurpose) error
	IncrementAttempts(ctx context.Context, otpID string) (int, error)
	Consume(ctx context.Context, otpID string, now time.Time) error
	MarkState(ctx context.Context, otpID string, state types.OTPState) error
	CountIssuedSince(ctx context.Context, email string, since time.Time) (int, error)
}

// Mailer dispatches one-time codes to users. Implemented by the Resend
// client in the external package.
type Mailer interface {
	SendOTP(ctx context.Context, email string, code string, purpose types.OTPPurpose) error
}

// otpService issues and verifies one-time codes. The state machine is
// issued -> (verified | exhausted | expired), with terminal states
// absorbing; a re-issue for the same (email, purpose) supersedes the
// prior row.
type otpService struct {
	repo     OTPRepo
	mailer   Mailer
	tokenGen TokenGenerator
	config   OTPConfig
	clock    types.Clock
	logger   *slog.Logger
}

// NewOTPService creates a new OTP service.
func NewOTPService(
	repo OTPRepo,
	mailer Mailer,
	tokenGen TokenGenerator,
	config OTPConfig,
	clock types.Clock,
	logger *slog.Logger,
) *otpService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &otpService{
		repo:     repo,
		mailer:   mailer,
		tokenGen: tokenGen,
		config:   config,
		clock:    clock,
		logger:   logger,
	}
}

// Issue generates, stores, and dispatches a fresh code for the given
// email and purpose. Returns how long the code stays valid.
//
// Flow:
//  1. Enforce the per-email send cooldown against the latest issue.
//  2. Enforce the rolling daily send cap.
//  3. Supersede any still-active prior code for (email, purpose).
//  4. Store the new code hashed, then dispatch via the mail provider.
func (s *otpService) Issue(ctx context.Context, email string, purpose types.OTPPurpose) (time.Duration, error) {
	now := s.clock.Now()

	// Step 1: Send cooldown.
	latest, err := s.repo.GetLatest(ctx, email, purpose)
	if err != nil && !isAppCode(err, types.ErrCodeNotFoundOTP) {
		return 0, err
	}
	if latest != nil {
		elapsed := now.Sub(latest.CreatedAt)
		if elapsed < s.config.SendCooldown {
			retryAfter := s.config.SendCooldown - elapsed
			return 0, types.NewAppErrorWithDetails(types.ErrCodeOTPCooldown,
				"verification code was sent recently", nil,
				map[string]any{"retry_after_seconds": int(retryAfter.Seconds()) + 1})
		}
	}

	// Step 2: Daily send cap.
	sent, err := s.repo.CountIssuedSince(ctx, email, now.Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	if sent >= s.config.DailySendCap {
		return 0, types.NewAppError(types.ErrCodeRateLimit, "daily verification code limit reached", nil)
	}

	// Step 3: Supersede the prior code so only the newest is redeemable.
	if err := s.repo.SupersedeActive(ctx, email, purpose); err != nil {
		return 0, err
	}

	code, err := s.tokenGen.GenerateOTPCode()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate verification code", err)
	}

	otp := &types.OTP{
		ID:          uuid.NewString(),
		Email:       email,
		Purpose:     purpose,
		CodeHash:    HashToken(code),
		State:       types.OTPStateIssued,
		MaxAttempts: s.config.MaxAttempts,
		ExpiresAt:   now.Add(s.config.Lifetime),
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, otp); err != nil {
		return 0, err
	}

	// Step 4: Dispatch. The row exists either way; an undelivered code
	// simply expires.
	if err := s.mailer.SendOTP(ctx, email, code, purpose); err != nil {
		s.logger.Error("failed to dispatch verification code",
			"email", email,
			"purpose", purpose,
			"error", err,
		)
		return 0, err
	}

	s.logger.Info("verification code issued",
		"email", email,
		"purpose", purpose,
	)
	return s.config.Lifetime, nil
}

// Verify checks a submitted code against the latest active OTP for the
// email and consumes it on match. Returns the verified OTP so callers
// can branch on its purpose.
//
// Outcomes:
//   - otp_expired when the window has passed (the row is marked expired)
//   - otp_exhausted when the attempt limit is reached
//   - otp_invalid on mismatch (attempts incremented) or reuse
func (s *otpService) Verify(ctx context.Context, email string, code string) (*types.OTP, error) {
	now := s.clock.Now()

	otp, err := s.repo.GetLatest(ctx, email, "")
	if err != nil {
		return nil, err
	}

	// Terminal states are absorbing.
	switch otp.State {
	case types.OTPStateVerified:
		return nil, types.NewAppError(types.ErrCodeOTPInvalid, "verification code already used", nil)
	case types.OTPStateExhausted:
		return nil, types.NewAppError(types.ErrCodeOTPExhausted, "too many attempts; request a new code", nil)
	case types.OTPStateExpired:
		return nil, types.NewAppError(types.ErrCodeOTPExpired, "verification code has expired", nil)
	}

	if now.After(otp.ExpiresAt) {
		_ = s.repo.MarkState(ctx, otp.ID, types.OTPStateExpired)
		return nil, types.NewAppError(types.ErrCodeOTPExpired, "verification code has expired", nil)
	}

	if otp.Attempts >= otp.MaxAttempts {
		_ = s.repo.MarkState(ctx, otp.ID, types.OTPStateExhausted)
		return nil, types.NewAppError(types.ErrCodeOTPExhausted, "too many attempts; request a new code", nil)
	}

	if subtle.ConstantTimeCompare([]byte(HashToken(code)), []byte(otp.CodeHash)) != 1 {
		attempts, incErr := s.repo.IncrementAttempts(ctx, otp.ID)
		if incErr != nil {
			return nil, incErr
		}
		if attempts >= otp.MaxAttempts {
			_ = s.repo.MarkState(ctx, otp.ID, types.OTPStateExhausted)
			return nil, types.NewAppError(types.ErrCodeOTPExhausted, "too many attempts; request a new code", nil)
		}
		return nil, types.NewAppErrorWithDetails(types.ErrCodeOTPInvalid,
			"incorrect verification code", nil,
			map[string]any{"attempts_remaining": otp.MaxAttempts - attempts})
	}

	// Match: consume exactly once. A concurrent consume of the same row
	// loses here and reports otp_invalid.
	if err := s.repo.Consume(ctx, otp.ID, now); err != nil {
		return nil, err
	}

	s.logger.Info("verification code consumed",
		"email", email,
		"purpose", otp.Purpose,
	)
	return otp, nil
}
