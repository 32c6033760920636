package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/killerwiki/internal/auth"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// RequireAuth rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func RequireAuth(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				unauthorized(w, "Authentication is required to continue")
				return
			}
			claims, err := tokens.Verify(raw)
			if err != nil {
				hlog.FromRequest(r).Debug().Err(err).Msg("rejected bearer token")
				unauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
		})
	}
}

// ClaimsFrom returns the claims RequireAuth stored in ctx
func ClaimsFrom(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(auth.Claims)
	return c, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
