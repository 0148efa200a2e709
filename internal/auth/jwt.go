// Package auth validates bearer credentials and resolves the per-principal
// set of permitted tools via attribute-based access control.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned for structurally valid but expired tokens.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for malformed or signature-invalid tokens.
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the JWT payload the gateway accepts. Banking attributes ride as
// custom claims; fxn is an issuer-precomputed permitted-tool list (the short
// name keeps the token small).
type Claims struct {
	Scope              string         `json:"scope,omitempty"`
	Roles              []string       `json:"roles,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	MembershipTier     string         `json:"membership_tier,omitempty"`
	Region             string         `json:"region,omitempty"`
	Verified           bool           `json:"verified,omitempty"`
	PermittedFunctions []string       `json:"fxn,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated identity for one request. Immutable for the
// request lifetime.
type Principal struct {
	UserID         string
	Scopes         []string
	Roles          []string
	Attributes     map[string]any
	PermittedTools []string
	ExpiresAt      time.Time
}

// HasTool reports whether the principal may invoke the named tool.
func (p *Principal) HasTool(name string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.PermittedTools {
		if t == name {
			return true
		}
	}
	return false
}

// FinanceUserID returns the identity used against the finance backend: the
// finance_user_id attribute when present, the subject otherwise.
func (p *Principal) FinanceUserID() string {
	if p == nil {
		return ""
	}
	if id, ok := p.Attributes["finance_user_id"].(string); ok && id != "" {
		return id
	}
	return p.UserID
}

// Validator verifies bearer tokens and produces principals.
type Validator struct {
	secret   []byte
	audience string
	resolver *Resolver
	logger   *slog.Logger
}

// NewValidator creates a token validator. audience is optional; when empty no
// audience check is performed.
func NewValidator(secret, audience string, resolver *Resolver, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		secret:   []byte(secret),
		audience: audience,
		resolver: resolver,
		logger:   logger.With("component", "auth"),
	}
}

// Validate parses and verifies the token and resolves the principal's
// permitted tools. A fxn claim short-circuits ABAC resolution: the issuer
// already computed the list and it is trusted as issued.
func (v *Validator) Validate(tokenString string) (*Principal, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}

	principal := &Principal{
		UserID:     claims.Subject,
		Scopes:     splitScopes(claims.Scope),
		Roles:      claims.Roles,
		Attributes: claims.AttributeMap(),
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}

	switch {
	case len(claims.PermittedFunctions) > 0:
		principal.PermittedTools = claims.PermittedFunctions
		v.logger.Debug("permissions sourced from token claim",
			"user_id", principal.UserID,
			"tool_count", len(principal.PermittedTools))
	case v.resolver != nil:
		principal.PermittedTools = v.resolver.Resolve(principal.Scopes, principal.Roles, principal.Attributes)
		v.logger.Debug("permissions resolved",
			"user_id", principal.UserID,
			"tool_count", len(principal.PermittedTools))
	}
	return principal, nil
}

// AttributeMap merges the structured banking claims with the free-form
// attributes map for ABAC evaluation. Explicit claims win.
func (c *Claims) AttributeMap() map[string]any {
	attrs := make(map[string]any, len(c.Attributes)+3)
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	if c.MembershipTier != "" {
		attrs["membership_tier"] = c.MembershipTier
	}
	if c.Region != "" {
		attrs["region"] = c.Region
	}
	attrs["verified"] = c.Verified
	return attrs
}

func splitScopes(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		return nil
	}
	return strings.Fields(scope)
}
