package router

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const adminTokenHeader = "X-Admin-Token"

// requireAdminToken guards the lead and campaign endpoints. Both Bearer and
// the X-Admin-Token header are accepted. An empty expected token disables
// the check.
func requireAdminToken(expected string) func(http.Handler) http.Handler {
	return adminTokenGuard(expected, "")
}

// requireSocketToken guards /ws. Browsers cannot set headers on a websocket
// handshake, so the token may also arrive as the "token" query parameter.
func requireSocketToken(expected string) func(http.Handler) http.Handler {
	return adminTokenGuard(expected, "token")
}

func adminTokenGuard(expected, queryKey string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(adminTokenHeader))
			if token == "" {
				token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if token == "" && queryKey != "" {
				token = strings.TrimSpace(r.URL.Query().Get(queryKey))
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
