package auth

import (
	"net/http"
)

// ExtractUser sets UserHeader from the basic auth user name without checking
// the password. Used when credentials are enforced upstream, e.g. by a
// reverse proxy.
func ExtractUser(defaultUser string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open(r) {
				next.ServeHTTP(w, r)
				return
			}
			user, _, ok := r.BasicAuth()
			if ok && user != "" {
				r.Header.Set(UserHeader, user)
			} else {
				r.Header.Set(UserHeader, defaultUser)
			}
			next.ServeHTTP(w, r)
		})
	}
}
