package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"gaiya/internal/types"
)

// UserRepository provides data access for the users table.
// Emails are stored normalized (lowercase, trimmed); the unique index on
// email enforces the one-account-per-email invariant.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `id, email, handle, password_hash, verified, timezone,
	created_at, last_login_at, deactivated_at`

// scanUser scans a single user row into a types.User struct.
// The columns must match the order defined in userColumns.
// Uses nullable scan targets for columns that may be NULL in the database
// (handle, timezone, last_login_at, deactivated_at).
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		handle   *string
		timezone *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&handle,
		&u.PasswordHash,
		&u.Verified,
		&timezone,
		&u.CreatedAt,
		&u.LastLoginAt,
		&u.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	if handle != nil {
		u.Handle = *handle
	}
	if timezone != nil {
		u.Timezone = *timezone
	}
	return &u, nil
}

// GetByID retrieves an active user by ID.
// Returns ErrCodeNotFoundUser if no active user is found.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE id = $1 AND deactivated_at IS NULL`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByEmail retrieves an active user by normalized email.
// Returns ErrCodeNotFoundUser if no user exists; callers that must not
// leak account existence translate this before responding.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE email = $1 AND deactivated_at IS NULL`,
		email,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by email", err)
	}
	return u, nil
}

// Create inserts a new user row. The email must already be normalized and
// the password hash computed by the caller; raw credentials never reach
// this layer.
//
// Returns ErrCodeConflictEmail (409) if a user with the same email already
// exists (unique constraint violation).
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, handle, password_hash, verified, timezone, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		user.ID,
		user.Email,
		nilIfEmpty(user.Handle),
		user.PasswordHash,
		user.Verified,
		nilIfEmpty(user.Timezone),
		nilIfZeroTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "user already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// MarkVerified flips the verified flag after a successful signup OTP.
// Idempotent: verifying an already-verified user is not an error.
func (r *UserRepository) MarkVerified(ctx context.Context, email string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET verified = TRUE WHERE email = $1 AND deactivated_at IS NULL`,
		email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark user verified", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdatePassword updates the user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, newHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2 AND deactivated_at IS NULL`,
		newHash,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update password", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdateLastLogin updates the last_login_at timestamp for a user.
// Called within the signin transaction.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET last_login_at = NOW() WHERE id = $1 AND deactivated_at IS NULL`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last login", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdateProfile applies changes to the mutable profile fields (handle,
// timezone). The time zone feeds quota rollover math, so it is validated
// upstream against the IANA database.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, handle string, timezone string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET handle = $1, timezone = $2 WHERE id = $3 AND deactivated_at IS NULL`,
		nilIfEmpty(handle),
		nilIfEmpty(timezone),
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// Deactivate performs a soft deactivation by setting deactivated_at.
// Users are never hard-deleted.
func (r *UserRepository) Deactivate(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET deactivated_at = NOW()
		 WHERE id = $1 AND deactivated_at IS NULL`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate user", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
