package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"gaiya/internal/types"
)

// SessionRepository provides data access for the sessions table.
// Tokens are stored as SHA-256 hashes only; lookups hash the raw token
// before hitting this layer. chain_id groups the rotations derived from
// one signin so replay detection can revoke the whole chain.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// sessionColumns defines the standard set of columns selected for session
// queries. Used consistently across all query methods to avoid column drift.
const sessionColumns = `id, user_id, chain_id, access_token_hash, refresh_token_hash,
	access_expires_at, refresh_expires_at, created_at, revoked_at, rotated_at`

// scanSession scans a single session row into a types.Session struct.
// The columns must match the order defined in sessionColumns.
func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ChainID,
		&s.AccessTokenHash,
		&s.RefreshTokenHash,
		&s.AccessExpiresAt,
		&s.RefreshExpiresAt,
		&s.CreatedAt,
		&s.RevokedAt,
		&s.RotatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, chain_id, access_token_hash, refresh_token_hash,
		 access_expires_at, refresh_expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		session.ID,
		session.UserID,
		session.ChainID,
		session.AccessTokenHash,
		session.RefreshTokenHash,
		session.AccessExpiresAt,
		session.RefreshExpiresAt,
		nilIfZeroTime(session.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByAccessTokenHash retrieves a session by its hashed access token.
// Revoked sessions are excluded; expiry is evaluated by the caller so it
// can distinguish expired from invalid.
func (r *SessionRepository) GetByAccessTokenHash(ctx context.Context, tokenHash string) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE access_token_hash = $1 AND revoked_at IS NULL`,
		tokenHash,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid or revoked token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session", err)
	}
	return s, nil
}

// GetByRefreshTokenHash retrieves a session by its hashed refresh token,
// including rotated and revoked rows. Refresh needs the full row to
// distinguish a live token from a replayed one.
func (r *SessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE refresh_token_hash = $1`,
		tokenHash,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid refresh token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session by refresh token", err)
	}
	return s, nil
}

// MarkRotated stamps rotated_at on a session, claiming the rotation.
// The WHERE clause only matches un-rotated live rows, so of two
// concurrent refreshes exactly one wins; the loser sees
// ErrCodeAuthSessionRevoked.
func (r *SessionRepository) MarkRotated(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET rotated_at = NOW()
		 WHERE id = $1 AND rotated_at IS NULL AND revoked_at IS NULL`,
		sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark session rotated", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthSessionRevoked, "refresh token already used", nil)
	}
	return nil
}

// Revoke invalidates a single session. Idempotent: revoking an already
// revoked session succeeds.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW()
		 WHERE id = $1 AND revoked_at IS NULL`,
		sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke session", err)
	}
	return nil
}

// RevokeAllForUser invalidates every live session belonging to a user.
// Used after a completed password reset.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW()
		 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke user sessions", err)
	}
	return nil
}

// RevokeChain invalidates every session in a rotation chain. Invoked when
// a rotated refresh token is replayed, since replay means the chain may
// be in hostile hands.
func (r *SessionRepository) RevokeChain(ctx context.Context, chainID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW()
		 WHERE chain_id = $1 AND revoked_at IS NULL`,
		chainID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke session chain", err)
	}
	return nil
}
