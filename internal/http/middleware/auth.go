package middleware

import (
	"net/http"
	"strings"
)

type AuthConfig struct {
	CustomerToken string
	AdminToken    string
}

// adminActions are the queue transitions only moderators may perform. Cancel
// stays on the customer token because owners withdraw their own requests.
var adminActions = map[string]struct{}{
	"claim":    {},
	"begin":    {},
	"complete": {},
	"reject":   {},
	"fail":     {},
	"release":  {},
}

// Auth guards /v1/ routes with bearer tokens. Admin-only routes require the
// admin token; everything else accepts the customer token. An empty
// configured token disables the corresponding check for local runs.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			required := cfg.CustomerToken
			if isAdminRoute(r) {
				required = cfg.AdminToken
			}
			if required == "" {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeUnauthorized(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || token != required {
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAdminRoute(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/v1/admin/") {
		return true
	}
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1/queue/") {
		return false
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/queue/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return false
	}
	_, admin := adminActions[parts[1]]
	return admin
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
