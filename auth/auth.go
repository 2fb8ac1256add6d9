// Package auth implements the security middleware chain of the MCP server:
// authentication (bearer JWT or static API key), per-tool authorization,
// per-caller rate limiting, and audit emission. Every hook is a pure
// function of the request and the caller identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/contextframe/contextframe-go/config"
)

// Sentinel failures of the chain; the JSON-RPC layer maps these onto its
// stable error codes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("tool forbidden for caller")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// ToolRequest is the transport-neutral view of one tool invocation.
type ToolRequest struct {
	Tool       string
	AuthHeader string // Authorization header value, empty on stdio
	RemoteAddr string
}

// Identity names the authenticated caller.
type Identity struct {
	Caller        string
	Authenticated bool
}

// Claims are the JWT claims the server understands.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves a request to a caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, req ToolRequest) (Identity, error)
}

// Authorizer decides whether a caller may invoke a tool.
type Authorizer interface {
	Authorize(ctx context.Context, id Identity, tool string) error
}

// RateLimiter throttles per caller.
type RateLimiter interface {
	Allow(id Identity) error
}

// Chain evaluates the hooks in order: authenticate, authorize, rate limit.
// Audit emission happens after the tool runs, through the Auditor.
type Chain struct {
	Authenticator Authenticator
	Authorizer    Authorizer
	RateLimiter   RateLimiter
	Auditor       Auditor
}

// NewChain assembles the chain from configuration. A disabled auth config
// yields the trivial chain that admits everyone as "anonymous".
func NewChain(cfg *config.AuthConfig, auditor Auditor) *Chain {
	if auditor == nil {
		auditor = NopAuditor{}
	}
	if cfg == nil || !cfg.Enabled {
		return &Chain{
			Authenticator: AnonymousAuthenticator{},
			Authorizer:    AllowAllAuthorizer{},
			RateLimiter:   UnlimitedRateLimiter{},
			Auditor:       auditor,
		}
	}
	return &Chain{
		Authenticator: &TokenAuthenticator{Secret: []byte(cfg.JWTSecret), APIKeys: cfg.APIKeys},
		Authorizer:    &DenyListAuthorizer{Denied: cfg.DeniedTools},
		RateLimiter:   NewTokenBucketLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		Auditor:       auditor,
	}
}

// Check runs the pre-invocation hooks and returns the caller identity.
func (c *Chain) Check(ctx context.Context, req ToolRequest) (Identity, error) {
	id, err := c.Authenticator.Authenticate(ctx, req)
	if err != nil {
		return Identity{}, err
	}
	if err := c.Authorizer.Authorize(ctx, id, req.Tool); err != nil {
		return id, err
	}
	if err := c.RateLimiter.Allow(id); err != nil {
		return id, err
	}
	return id, nil
}

// AnonymousAuthenticator admits every request.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Authenticate(ctx context.Context, req ToolRequest) (Identity, error) {
	return Identity{Caller: "anonymous"}, nil
}

// TokenAuthenticator accepts a bearer JWT signed with the shared secret or
// a static API key from the configured key map.
type TokenAuthenticator struct {
	Secret  []byte
	APIKeys map[string]string
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, req ToolRequest) (Identity, error) {
	header := strings.TrimSpace(req.AuthHeader)
	if header == "" {
		return Identity{}, fmt.Errorf("%w: missing Authorization header", ErrUnauthorized)
	}
	if key, ok := strings.CutPrefix(header, "ApiKey "); ok {
		if name, found := a.APIKeys[strings.TrimSpace(key)]; found {
			return Identity{Caller: name, Authenticated: true}, nil
		}
		return Identity{}, fmt.Errorf("%w: unknown API key", ErrUnauthorized)
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if len(a.Secret) == 0 {
		return Identity{}, fmt.Errorf("%w: bearer tokens are not configured", ErrUnauthorized)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
	}
	caller := claims.Subject
	if caller == "" {
		caller = claims.Name
	}
	if caller == "" {
		caller = "token"
	}
	return Identity{Caller: caller, Authenticated: true}, nil
}

// AllowAllAuthorizer permits every tool.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) Authorize(ctx context.Context, id Identity, tool string) error {
	return nil
}

// DenyListAuthorizer blocks the configured tool names for every caller.
type DenyListAuthorizer struct {
	Denied []string
}

func (a *DenyListAuthorizer) Authorize(ctx context.Context, id Identity, tool string) error {
	for _, d := range a.Denied {
		if d == tool {
			return fmt.Errorf("%w: %s", ErrForbidden, tool)
		}
	}
	return nil
}

// UnlimitedRateLimiter never throttles.
type UnlimitedRateLimiter struct{}

func (UnlimitedRateLimiter) Allow(id Identity) error { return nil }

// nowFunc is swapped in rate-limiter tests.
var nowFunc = time.Now
