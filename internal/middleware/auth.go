package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"query-enhancements/internal/transport"
)

type principalKey struct{}

// WithPrincipal stores the authenticated subject in ctx.
func WithPrincipal(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, principalKey{}, subject)
}

// PrincipalFromContext returns the authenticated subject, if any.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(principalKey{}).(string)
	return s, ok
}

// ForwardCredentials keeps the caller's Authorization header on the request
// context so calls to the default cluster run as the caller.
func ForwardCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			r = r.WithContext(transport.WithCallerCredentials(r.Context(), auth))
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticate requires a valid bearer token and records its subject as the
// request principal.
func Authenticate(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := validator.Validate(r.Context(), token)
			if err != nil {
				logger.Debug("rejected bearer token", "request_id", RequestIDFromContext(r.Context()), "error", err)
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			if claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "token has no subject")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims.Subject)))
		})
	}
}
