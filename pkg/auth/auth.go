// Package auth verifies bearer tokens and maps their claims to model and
// collection capabilities. Capability checks happen once per request
// while it is queued; an empty signing secret disables authentication
// and grants everything.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/parley-chat/parley/pkg/config"
)

// Claims are the capability-bearing fields extracted from a verified
// token. Models and Collections hold the ids the principal may use; a
// single "*" entry grants all.
type Claims struct {
	Subject     string
	Models      []string
	Collections []string
}

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(cfg *config.AuthConfig) *Verifier {
	return &Verifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

// Enabled reports whether token verification is configured at all.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// ValidateToken verifies signature, expiry and the configured issuer and
// audience, then extracts the capability claims.
func (v *Verifier) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), options...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{Subject: token.Subject()}
	claims.Models = stringListClaim(token, "models")
	claims.Collections = stringListClaim(token, "collections")
	return claims, nil
}

func stringListClaim(token jwt.Token, name string) []string {
	raw, ok := token.Get(name)
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ClaimsAuthorizer answers capability checks from the claims of verified
// requests. The transport layer records each request's claims before the
// orchestrator consults them by principal.
type ClaimsAuthorizer struct {
	mu     sync.RWMutex
	claims map[string]*Claims
}

func NewClaimsAuthorizer() *ClaimsAuthorizer {
	return &ClaimsAuthorizer{claims: make(map[string]*Claims)}
}

// Observe records a principal's verified claims, replacing any earlier
// ones.
func (a *ClaimsAuthorizer) Observe(claims *Claims) {
	if claims == nil || claims.Subject == "" {
		return
	}
	a.mu.Lock()
	a.claims[claims.Subject] = claims
	a.mu.Unlock()
}

func (a *ClaimsAuthorizer) CanUseModel(_ context.Context, principal, modelID string) bool {
	return a.allowed(principal, modelID, func(c *Claims) []string { return c.Models })
}

func (a *ClaimsAuthorizer) CanAccessCollection(_ context.Context, principal, collectionID string) bool {
	return a.allowed(principal, collectionID, func(c *Claims) []string { return c.Collections })
}

func (a *ClaimsAuthorizer) allowed(principal, id string, list func(*Claims) []string) bool {
	a.mu.RLock()
	claims, ok := a.claims[principal]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	for _, granted := range list(claims) {
		if granted == "*" || granted == id {
			return true
		}
	}
	return false
}

// AllowAll grants every capability. Used when authentication is
// disabled.
type AllowAll struct{}

func (AllowAll) CanUseModel(context.Context, string, string) bool         { return true }
func (AllowAll) CanAccessCollection(context.Context, string, string) bool { return true }
