package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/config"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, subject string, expires time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expires)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenAuthenticatorBearer(t *testing.T) {
	a := &TokenAuthenticator{Secret: []byte(testSecret)}
	ctx := context.Background()

	token := signToken(t, testSecret, "ada", time.Hour)
	id, err := a.Authenticate(ctx, ToolRequest{AuthHeader: "Bearer " + token})
	require.NoError(t, err)
	assert.Equal(t, "ada", id.Caller)
	assert.True(t, id.Authenticated)

	_, err = a.Authenticate(ctx, ToolRequest{AuthHeader: "Bearer " + signToken(t, "other-secret", "eve", time.Hour)})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authenticate(ctx, ToolRequest{AuthHeader: "Bearer " + signToken(t, testSecret, "ada", -time.Hour)})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authenticate(ctx, ToolRequest{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenAuthenticatorAPIKey(t *testing.T) {
	a := &TokenAuthenticator{APIKeys: map[string]string{"k-123": "ci-bot"}}
	ctx := context.Background()

	id, err := a.Authenticate(ctx, ToolRequest{AuthHeader: "ApiKey k-123"})
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", id.Caller)

	_, err = a.Authenticate(ctx, ToolRequest{AuthHeader: "ApiKey wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDenyListAuthorizer(t *testing.T) {
	a := &DenyListAuthorizer{Denied: []string{"document_delete"}}
	ctx := context.Background()
	id := Identity{Caller: "ada"}
	assert.NoError(t, a.Authorize(ctx, id, "document_get"))
	assert.ErrorIs(t, a.Authorize(ctx, id, "document_delete"), ErrForbidden)
}

func TestTokenBucketLimiter(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	current := base
	nowFunc = func() time.Time { return current }
	defer func() { nowFunc = time.Now }()

	l := NewTokenBucketLimiter(60, 2)
	id := Identity{Caller: "ada"}

	require.NoError(t, l.Allow(id))
	require.NoError(t, l.Allow(id))
	assert.ErrorIs(t, l.Allow(id), ErrRateLimited)

	// Another caller has its own bucket.
	require.NoError(t, l.Allow(Identity{Caller: "bob"}))

	// A second of refill at 60/min grants one token back.
	current = base.Add(time.Second)
	require.NoError(t, l.Allow(id))
	assert.ErrorIs(t, l.Allow(id), ErrRateLimited)
}

func TestTokenBucketDisabled(t *testing.T) {
	l := NewTokenBucketLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(Identity{Caller: "ada"}))
	}
}

func TestChainDisabledAdmitsAnonymous(t *testing.T) {
	chain := NewChain(nil, nil)
	id, err := chain.Check(context.Background(), ToolRequest{Tool: "document_get"})
	require.NoError(t, err)
	assert.Equal(t, "anonymous", id.Caller)
}

func TestChainEnabled(t *testing.T) {
	cfg := &config.AuthConfig{
		Enabled:            true,
		JWTSecret:          testSecret,
		DeniedTools:        []string{"optimize_dataset"},
		RateLimitPerMinute: 0,
	}
	chain := NewChain(cfg, nil)
	ctx := context.Background()

	_, err := chain.Check(ctx, ToolRequest{Tool: "document_get"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	token := signToken(t, testSecret, "ada", time.Hour)
	id, err := chain.Check(ctx, ToolRequest{Tool: "document_get", AuthHeader: "Bearer " + token})
	require.NoError(t, err)
	assert.Equal(t, "ada", id.Caller)

	_, err = chain.Check(ctx, ToolRequest{Tool: "optimize_dataset", AuthHeader: "Bearer " + token})
	assert.ErrorIs(t, err, ErrForbidden)
}
