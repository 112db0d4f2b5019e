// ABOUTME: HTTP middleware for JWT authentication on dashboard endpoints
// ABOUTME: Extracts the bearer token and adds the staff claims to context

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// WithClaims stores staff claims in the context.
func WithClaims(ctx context.Context, claims *StaffClaims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the staff claims, or nil when unauthenticated.
func FromContext(ctx context.Context) *StaffClaims {
	claims, _ := ctx.Value(contextKey{}).(*StaffClaims)
	return claims
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware validates the bearer token and attaches StaffClaims to the
// request context. Dashboard SSE clients cannot set headers, so a "token"
// query parameter is accepted as a fallback.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				if qt := r.URL.Query().Get("token"); qt != "" {
					token, errMsg = qt, ""
				}
			}
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
