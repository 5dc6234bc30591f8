package middlewares

import "net/http"

// WithNoStore adds Cache-Control: no-store. Used on every endpoint that
// touches token material or connection state.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
