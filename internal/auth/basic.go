// Package auth guards the API with HTTP basic auth and exposes the caller's
// user name to handlers.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// UserHeader carries the authenticated user name to handlers.
const UserHeader = "X-Publisher-User"

func open(r *http.Request) bool {
	return r.URL.Path == "/health" || r.Method == http.MethodOptions
}

// BasicAuth rejects requests without the configured credentials. Health
// checks and CORS preflights pass through.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open(r) {
				next.ServeHTTP(w, r)
				return
			}
			user, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="Publisher"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			r.Header.Set(UserHeader, strings.TrimSpace(user))
			next.ServeHTTP(w, r)
		})
	}
}

func UserFromRequest(r *http.Request) string {
	return r.Header.Get(UserHeader)
}
