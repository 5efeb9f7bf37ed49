package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

// CallerContextKey stores the authenticated caller label in the request context.
const CallerContextKey contextKey = "http_caller"

// NewBearerAuth guards handlers with a static bearer token. An empty token disables the check.
func NewBearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] Validate identity before the handler runs
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// [ENRICHMENT] Downstream handlers can tell an authenticated call apart
			ctx := context.WithValue(r.Context(), CallerContextKey, "bearer")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Caller extracts the caller label set by NewBearerAuth.
func Caller(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(CallerContextKey).(string)
	return c, ok
}
