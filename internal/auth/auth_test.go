package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicAuth(t *testing.T) {
	var gotUser string
	handler := BasicAuth("admin", "secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		path       string
		user, pass string
		want       int
		wantUser   string
	}{
		{name: "health bypass", method: http.MethodGet, path: "/health", want: http.StatusOK},
		{name: "preflight bypass", method: http.MethodOptions, path: "/api/github/publish", want: http.StatusOK},
		{name: "missing credentials", method: http.MethodPost, path: "/api/github/publish", want: http.StatusUnauthorized},
		{name: "wrong password", method: http.MethodPost, path: "/api/github/publish", user: "admin", pass: "nope", want: http.StatusUnauthorized},
		{name: "valid", method: http.MethodPost, path: "/api/github/publish", user: "admin", pass: "secret", want: http.StatusOK, wantUser: "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="Publisher"`, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestExtractUser(t *testing.T) {
	defaultUser := "anonymous"
	var gotUser string
	handler := ExtractUser(defaultUser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("health bypass", func(t *testing.T) {
		gotUser = ""
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Empty(t, gotUser)
	})

	t.Run("basic auth sets user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/projects/min", nil)
		req.SetBasicAuth("alice", "whatever")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "alice", gotUser)
	})

	t.Run("no auth uses default", func(t *testing.T) {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/projects/min", nil))
		assert.Equal(t, defaultUser, gotUser)
	})
}
