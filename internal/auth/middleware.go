package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type principalKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the request principal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// ExtractBearer pulls the bearer token from the Authorization header.
func ExtractBearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// Middleware validates the bearer token and attaches the principal to the
// request context. When required is false, requests without a credential pass
// through unauthenticated; a credential that is present but invalid is still
// rejected.
func (v *Validator) Middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := ExtractBearer(r)
			if !ok {
				if required {
					writeAuthError(w, "missing bearer token", "auth_invalid")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			principal, err := v.Validate(token)
			if err != nil {
				errType := "auth_invalid"
				if errors.Is(err, ErrTokenExpired) {
					errType = "auth_expired"
				}
				v.logger.Warn("authentication failed", "error", err, "path", r.URL.Path)
				writeAuthError(w, err.Error(), errType)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      msg,
		"error_type": errType,
	})
}
