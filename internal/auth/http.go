// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds principal to context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/strand-relay/internal/store"
)

// PrincipalStore defines the interface for retrieving principals.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*store.Principal, error)
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

// checkPrincipalStatus validates that a principal has an allowed status.
// Returns an error message (empty if allowed).
func checkPrincipalStatus(status store.PrincipalStatus) string {
	switch status {
	case store.PrincipalStatusApproved:
		return ""
	case store.PrincipalStatusPending:
		return "principal status is pending"
	case store.PrincipalStatusRevoked:
		return "principal has been revoked"
	default:
		return "unknown principal status"
	}
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT bearer tokens carried in the Authorization header. The credential
// travels in standard request metadata rather than any transport-specific
// framing, so intermediaries that strip custom headers cannot break auth.
// On success the principal is attached to the request context via WithAuth.
func HTTPAuthMiddleware(principals PrincipalStore, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			principalID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			principal, err := principals.GetPrincipal(r.Context(), principalID)
			if err != nil {
				http.Error(w, `{"error":"principal not found"}`, http.StatusUnauthorized)
				return
			}

			if errMsg = checkPrincipalStatus(principal.Status); errMsg != "" {
				status := http.StatusForbidden
				if errMsg == "unknown principal status" {
					status = http.StatusInternalServerError
				}
				http.Error(w, `{"error":"`+errMsg+`"}`, status)
				return
			}

			authCtx := &AuthContext{
				PrincipalID:   principalID,
				PrincipalType: string(principal.Type),
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// NoAuthMiddleware injects an anonymous auth context when authentication is
// disabled, so handlers always find an identity via FromContext.
func NoAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := &AuthContext{
				PrincipalID:   "anonymous",
				PrincipalType: "anonymous",
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
