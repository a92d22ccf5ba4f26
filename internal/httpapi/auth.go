package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const subjectKey ctxKey = iota

// authMiddleware verifies the bearer token against secret with real HMAC
// signature verification, replacing the teacher's dev-mode token-shape
// check (gateway_v2.go's isValidToken, which accepted "dev"/"test" literals
// and any three-dot-separated string as a JWT).
func authMiddleware(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "AuthError", "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "AuthError", "invalid or expired token")
			return
		}

		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), subjectKey, sub)
		next(w, r.WithContext(ctx))
	}
}

// adminMiddleware additionally requires the configured admin role claim,
// used for the fleet-management endpoints (/api/servers/*).
func adminMiddleware(secret, roleClaim string, next http.HandlerFunc) http.HandlerFunc {
	return authMiddleware(secret, func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		claims := jwt.MapClaims{}
		_, _ = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if role, _ := claims[roleClaim].(string); role != "admin" {
			writeError(w, http.StatusForbidden, "AuthError", "admin role required")
			return
		}
		next(w, r)
	})
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
