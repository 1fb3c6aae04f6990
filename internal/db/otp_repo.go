package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gaiya/internal/types"
)

// OTPRepository provides data access for the otps table. Codes are stored
// hashed; state transitions are enforced in SQL so terminal states stay
// absorbing under concurrent verification attempts.
type OTPRepository struct {
	db DBTX
}

// NewOTPRepository creates a new OTPRepository backed by the given
// database connection (pool or transaction).
func NewOTPRepository(db DBTX) *OTPRepository {
	return &OTPRepository{db: db}
}

// otpColumns defines the standard set of columns selected for OTP queries.
const otpColumns = `id, email, purpose, code_hash, state, attempts, max_attempts,
	expires_at, created_at, consumed_at`

// scanOTP scans a single OTP row into a types.OTP struct.
// The columns must match the order defined in otpColumns.
func scanOTP(row pgx.Row) (*types.OTP, error) {
	var o types.OTP
	err := row.Scan(
		&o.ID,
		&o.Email,
		&o.Purpose,
		&o.CodeHash,
		&o.State,
		&o.Attempts,
		&o.MaxAttempts,
		&o.ExpiresAt,
		&o.CreatedAt,
		&o.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts a new OTP row in issued state. Callers supersede any
// active prior row for the same (email, purpose) first.
func (r *OTPRepository) Create(ctx context.Context, otp *types.OTP) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO otps (id, email, purpose, code_hash, state, attempts, max_attempts,
		 expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		otp.ID,
		otp.Email,
		otp.Purpose,
		otp.CodeHash,
		otp.State,
		otp.Attempts,
		otp.MaxAttempts,
		otp.ExpiresAt,
		nilIfZeroTime(otp.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create OTP", err)
	}
	return nil
}

// GetLatest retrieves the most recently issued OTP for an email,
// optionally scoped to a purpose (empty purpose matches any). Superseded
// rows are excluded; expired-but-unmarked rows are returned so the
// service can report otp_expired rather than not_found.
func (r *OTPRepository) GetLatest(ctx context.Context, email string, purpose types.OTPPurpose) (*types.OTP, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+otpColumns+`
		 FROM otps
		 WHERE email = $1 AND ($2 = '' OR purpose = $2) AND state <> 'superseded'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		email,
		string(purpose),
	)

	o, err := scanOTP(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOTP, "no verification code found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve OTP", err)
	}
	return o, nil
}

// SupersedeActive transitions all issued OTPs for (email, purpose) to
// superseded. Called before issuing a fresh code so the newest code is
// the only redeemable one.
func (r *OTPRepository) SupersedeActive(ctx context.Context, email string, purpose types.OTPPurpose) error {
	_, err := r.db.Exec(ctx,
		`UPDATE otps SET state = 'superseded'
		 WHERE email = $1 AND purpose = $2 AND state = 'issued'`,
		email,
		purpose,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to supersede prior OTPs", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter on an issued OTP and
// returns the new count. The state guard keeps consumed or exhausted
// rows from accumulating attempts.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, otpID string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`UPDATE otps SET attempts = attempts + 1
		 WHERE id = $1 AND state = 'issued'
		 RETURNING attempts`,
		otpID,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, types.NewAppError(types.ErrCodeNotFoundOTP, "verification code no longer active", nil)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to increment OTP attempts", err)
	}
	return attempts, nil
}

// Consume atomically transitions an issued OTP to verified. The state
// guard makes consumption single-use: a second consume of the same row
// affects zero rows and returns otp_invalid.
func (r *OTPRepository) Consume(ctx context.Context, otpID string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE otps SET state = 'verified', consumed_at = $2
		 WHERE id = $1 AND state = 'issued'`,
		otpID,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to consume OTP", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeOTPInvalid, "verification code no longer valid", nil)
	}
	return nil
}

// MarkState transitions an OTP to a terminal state (expired, exhausted).
// Only issued rows transition; terminal states are absorbing.
func (r *OTPRepository) MarkState(ctx context.Context, otpID string, state types.OTPState) error {
	_, err := r.db.Exec(ctx,
		`UPDATE otps SET state = $2
		 WHERE id = $1 AND state = 'issued'`,
		otpID,
		state,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update OTP state", err)
	}
	return nil
}

// CountIssuedSince returns how many OTPs were created for an email after
// the given instant. Backs the daily send cap.
func (r *OTPRepository) CountIssuedSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM otps WHERE email = $1 AND created_at > $2`,
		email,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count issued OTPs", err)
	}
	return count, nil
}
