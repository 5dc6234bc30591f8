package middlewares

import (
	"crypto/subtle"
	"net/http"

	"github.com/inboxly/mailvault/internal/http/errors"
)

// RequireAPIKey gates a route on the X-Admin-API-Key header. An empty
// configured key disables the gate, which is only acceptable in dev; the
// config layer refuses to start in prod without one.
func RequireAPIKey(key string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get("X-Admin-API-Key")
			if got == "" {
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("X-Admin-API-Key header required"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				errors.WriteError(w, errors.ErrForbidden.WithDetail("invalid API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
