package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/taskfleet/taskfleet/internal/api"
)

type principalKey struct{}

// WithPrincipal attaches a resolved principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Middleware is the auth gate. On resolution failure it short-circuits with
// 401 and the failure envelope; the wrapped handler is never reached.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, err := r.Resolve(req.Header)
		if err != nil {
			log.Warn().
				Err(err).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Msg("authentication failed")
			api.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), p)))
	})
}

// RequireAdmin rejects non-admin principals with 403. It assumes the auth
// gate already ran.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, ok := FromContext(req.Context())
		if !ok {
			api.WriteError(w, api.ErrMissingCredentials)
			return
		}
		if !p.IsAdmin() {
			api.WriteFailure(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, req)
	})
}
