package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gaiya/internal/types"
)

func newSessionFixture(t *testing.T) (*mockSessionRepo, *sessionService) {
	t.Helper()
	repo := new(mockSessionRepo)
	svc := NewSessionService(repo, &stubTokenGen{}, DefaultSessionConfig(), fixedClock{now: testNow}, nil)
	return repo, svc
}

func TestCreateSession_StoresHashesOnly(t *testing.T) {
	repo, svc := newSessionFixture(t)
	ctx := context.Background()

	var stored *types.Session
	repo.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*types.Session)
	}).Return(nil)

	session, tokens, err := svc.CreateSession(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, testAccessToken, tokens.AccessToken)
	assert.Equal(t, testRefreshToken, tokens.RefreshToken)
	assert.Equal(t, HashToken(testAccessToken), stored.AccessTokenHash)
	assert.Equal(t, HashToken(testRefreshToken), stored.RefreshTokenHash)
	assert.NotContains(t, stored.AccessTokenHash, "gat_")
	assert.NotEmpty(t, session.ChainID)
	assert.Equal(t, testNow.Add(DefaultSessionConfig().AccessTokenTTL), session.AccessExpiresAt)
	assert.Equal(t, testNow.Add(DefaultSessionConfig().RefreshTokenTTL), session.RefreshExpiresAt)
}

func TestCreateSession_ReusesChainID(t *testing.T) {
	repo, svc := newSessionFixture(t)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	session, _, err := svc.CreateSession(context.Background(), "u1", "chain1")
	require.NoError(t, err)
	assert.Equal(t, "chain1", session.ChainID)
}

func TestValidateAccessToken_MalformedFormat(t *testing.T) {
	_, svc := newSessionFixture(t)

	_, err := svc.ValidateAccessToken(context.Background(), "Bearer nonsense")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	repo, svc := newSessionFixture(t)
	ctx := context.Background()
	session := &types.Session{ID: "s1", AccessExpiresAt: testNow.Add(-time.Second)}

	repo.On("GetByAccessTokenHash", ctx, HashToken(testAccessToken)).Return(session, nil)

	_, err := svc.ValidateAccessToken(ctx, testAccessToken)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthSessionExpired, appErr.Code)
}

func TestCryptoTokenGenerator_TokenFormats(t *testing.T) {
	gen := NewCryptoTokenGenerator()

	access, err := gen.GenerateAccessToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(access, "gat_"))
	assert.Len(t, access, 4+64)

	refresh, err := gen.GenerateRefreshToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(refresh, "grt_"))
	assert.Len(t, refresh, 4+64)

	assert.NotEqual(t, access[4:], refresh[4:])
}

func TestCryptoTokenGenerator_OTPCode(t *testing.T) {
	gen := NewCryptoTokenGenerator()

	for i := 0; i < 20; i++ {
		code, err := gen.GenerateOTPCode()
		require.NoError(t, err)
		assert.True(t, types.IsOTPCode(code), "got %q", code)
	}
}

func TestHashToken_DeterministicAndHex(t *testing.T) {
	h1 := HashToken("abc")
	h2 := HashToken("abc")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, HashToken("abd"))
}

func TestCanonicalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "user@example.com"},
		{"  padded@example.com  ", "padded@example.com"},
		{"already@example.com", "already@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalizeEmail(tt.in))
	}
}
