package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func baseClaims(sub string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Scope:          "banking:read banking:write transfers:create",
		Roles:          []string{"customer"},
		MembershipTier: "premium",
		Region:         "domestic",
		Verified:       true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func newTestValidator() *Validator {
	return NewValidator(testSecret, "", NewResolver(DefaultCatalog()), nil)
}

func TestValidateResolvesPermissions(t *testing.T) {
	v := newTestValidator()
	token := signToken(t, testSecret, baseClaims("user-1", time.Hour))

	principal, err := v.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if principal.UserID != "user-1" {
		t.Errorf("user id = %q, want user-1", principal.UserID)
	}
	if !principal.HasTool("transfer_funds") {
		t.Errorf("expected transfer_funds in %v", principal.PermittedTools)
	}
	if principal.HasTool("place_trade_order") {
		t.Errorf("place_trade_order should not resolve without trading scopes")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	v := newTestValidator()
	token := signToken(t, testSecret, baseClaims("user-1", -time.Minute))

	if _, err := v.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestValidateBadSignature(t *testing.T) {
	v := newTestValidator()
	token := signToken(t, "other-secret", baseClaims("user-1", time.Hour))

	if _, err := v.Validate(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateMissingSubject(t *testing.T) {
	v := newTestValidator()
	token := signToken(t, testSecret, baseClaims("", time.Hour))

	if _, err := v.Validate(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateFxnClaimOverridesResolver(t *testing.T) {
	v := newTestValidator()
	claims := baseClaims("user-1", time.Hour)
	claims.PermittedFunctions = []string{"place_trade_order"}
	token := signToken(t, testSecret, claims)

	principal, err := v.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	// The issuer-computed list is trusted as issued, even when the ABAC
	// resolver would disagree.
	if len(principal.PermittedTools) != 1 || principal.PermittedTools[0] != "place_trade_order" {
		t.Fatalf("permitted = %v, want [place_trade_order]", principal.PermittedTools)
	}
}

func TestValidateAudience(t *testing.T) {
	v := NewValidator(testSecret, "canopy-gateway", NewResolver(DefaultCatalog()), nil)

	claims := baseClaims("user-1", time.Hour)
	claims.Audience = jwt.ClaimStrings{"canopy-gateway"}
	if _, err := v.Validate(signToken(t, testSecret, claims)); err != nil {
		t.Fatalf("matching audience rejected: %v", err)
	}

	claims.Audience = jwt.ClaimStrings{"someone-else"}
	if _, err := v.Validate(signToken(t, testSecret, claims)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid for wrong audience", err)
	}
}

func TestFinanceUserID(t *testing.T) {
	p := &Principal{UserID: "sub-1", Attributes: map[string]any{"finance_user_id": "fin-9"}}
	if got := p.FinanceUserID(); got != "fin-9" {
		t.Errorf("FinanceUserID = %q, want fin-9", got)
	}
	p.Attributes = nil
	if got := p.FinanceUserID(); got != "sub-1" {
		t.Errorf("FinanceUserID fallback = %q, want sub-1", got)
	}
}
