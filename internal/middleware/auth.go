package middleware

import (
	"net/http"
	"strings"

	"github.com/darkden-lab/argus-tracker/internal/auth"
	"github.com/darkden-lab/argus-tracker/internal/httputil"
)

// AuthMiddleware requires a valid bearer token and stores its claims in the
// request context.
func AuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				httputil.WriteError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
