package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/snapstash/snapstash/internal/auth"
	"github.com/snapstash/snapstash/internal/ratelimit"
)

type contextKey string

const userContextKey contextKey = "user"

// WithUser stores the resolved user identity on the request context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// UserFromContext returns the user identity the auth middleware resolved.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey).(string)
	return userID, ok
}

// AuthMiddleware resolves the caller's identity. With a configured
// authenticator, unknown tokens are rejected. Without one (dev mode) the
// identity is taken from the X-User-ID header; downstream handlers still
// reject an empty identity as an input defect.
func AuthMiddleware(authn *auth.Authenticator, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if authn != nil {
				token := auth.TokenFromRequest(r)
				resolved, ok := authn.UserForToken(token)
				if !ok {
					log.Warn().Str("path", r.URL.Path).Msg("rejected request with invalid credentials")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
					return
				}
				userID = resolved
			} else {
				userID = r.Header.Get("X-User-ID")
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// RateLimitMiddleware enforces per-user rate limits on the capture surface.
func RateLimitMiddleware(limiter *ratelimit.Limiter, requestsPerMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserFromContext(r.Context())
			if userID == "" {
				// No identity; the handler rejects this as an input defect.
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(userID) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"error":"rate limit exceeded"}`))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens(userID))))
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger attaches a request-scoped logger line per request.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}
