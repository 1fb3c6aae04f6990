package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"gaiya/internal/types"
)

// Token prefixes make leaked tokens identifiable in logs and scanners
// without revealing anything about their contents.
const (
	accessTokenPrefix  = "gat_"
	refreshTokenPrefix = "grt_"
)

// SessionConfig holds configuration for session management.
type SessionConfig struct {
	// AccessTokenTTL is the lifetime of an access token. Default: 15 minutes.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of a refresh token. Default: 7 days.
	RefreshTokenTTL time.Duration
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
}

// SessionRepo defines the data access methods needed by the session and
// auth services.
type SessionRepo interface {
	Create(ctx context.Context, session *types.Session) error
	GetByAccessTokenHash(ctx context.Context, tokenHash string) (*types.Session, error)
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*types.Session, error)
	MarkRotated(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, sessionID string) error
	RevokeChain(ctx context.Context, chainID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// TokenGenerator abstracts entropy sources for testability.
type TokenGenerator interface {
	GenerateAccessToken() (string, error)
	GenerateRefreshToken() (string, error)
	GenerateOTPCode() (string, error)
}

// TokenPair carries the raw tokens returned to a client exactly once at
// session creation. Only their hashes are persisted.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// sessionService creates and validates sessions. The store is the source
// of truth for revocation; tokens are opaque to clients.
type sessionService struct {
	repo     SessionRepo
	tokenGen TokenGenerator
	config   SessionConfig
	clock    types.Clock
	logger   *slog.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(
	repo SessionRepo,
	tokenGen TokenGenerator,
	config SessionConfig,
	clock types.Clock,
	logger *slog.Logger,
) *sessionService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &sessionService{
		repo:     repo,
		tokenGen: tokenGen,
		config:   config,
		clock:    clock,
		logger:   logger,
	}
}

// CreateSession creates a new session for the given user and returns the
// Session object plus the raw token pair. chainID groups refresh
// rotations; pass an empty string to start a fresh chain.
func (s *sessionService) CreateSession(ctx context.Context, userID string, chainID string) (*types.Session, *TokenPair, error) {
	accessToken, err := s.tokenGen.GenerateAccessToken()
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate access token", err)
	}

	refreshToken, err := s.tokenGen.GenerateRefreshToken()
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate refresh token", err)
	}

	if chainID == "" {
		chainID = uuid.NewString()
	}

	now := s.clock.Now()
	session := &types.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		ChainID:          chainID,
		AccessTokenHash:  HashToken(accessToken),
		RefreshTokenHash: HashToken(refreshToken),
		AccessExpiresAt:  now.Add(s.config.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.config.RefreshTokenTTL),
		CreatedAt:        now,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, nil, err
	}

	s.logger.Info("session created",
		"session_id", session.ID,
		"user_id", userID,
		"chain_id", chainID,
	)

	return session, &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// ValidateAccessToken resolves a raw access token to its session.
// Returns auth_token_invalid for unknown or revoked tokens and
// auth_session_expired past the access expiry.
func (s *sessionService) ValidateAccessToken(ctx context.Context, rawToken string) (*types.Session, error) {
	if !types.IsAccessToken(rawToken) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token format", nil)
	}

	session, err := s.repo.GetByAccessTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, err
	}

	if s.clock.Now().After(session.AccessExpiresAt) {
		return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "access token has expired", nil)
	}

	return session, nil
}

// withRepo returns a copy of the sessionService that uses the given
// SessionRepo for database operations. This enables the AuthService to
// create sessions within a transaction by providing a transaction-scoped
// session repository while reusing the same token generator and config.
func (s *sessionService) withRepo(repo SessionRepo) *sessionService {
	return &sessionService{
		repo:     repo,
		tokenGen: s.tokenGen,
		config:   s.config,
		clock:    s.clock,
		logger:   s.logger,
	}
}

// CryptoTokenGenerator is the production implementation of TokenGenerator
// using crypto/rand for secure random generation.
type CryptoTokenGenerator struct{}

// NewCryptoTokenGenerator creates a new CryptoTokenGenerator.
func NewCryptoTokenGenerator() *CryptoTokenGenerator {
	return &CryptoTokenGenerator{}
}

// GenerateAccessToken generates a cryptographically secure access token.
// Format: "gat_" + 32 random hex bytes (64 hex chars).
func (g *CryptoTokenGenerator) GenerateAccessToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return accessTokenPrefix + hex.EncodeToString(b), nil
}

// GenerateRefreshToken generates a cryptographically secure refresh token.
// Format: "grt_" + 32 random hex bytes (64 hex chars).
func (g *CryptoTokenGenerator) GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return refreshTokenPrefix + hex.EncodeToString(b), nil
}

// GenerateOTPCode generates a uniformly distributed six-digit numeric
// code, zero-padded.
func (g *CryptoTokenGenerator) GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate OTP code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashToken produces a hex-encoded SHA-256 hash of a raw token string.
// Used for session tokens and OTP codes where the hash must be
// searchable in the database (unlike bcrypt which is salted and
// non-searchable).
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// CanonicalizeEmail normalizes email addresses for consistent DB lookups:
// strings.ToLower(strings.TrimSpace(email)).
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
