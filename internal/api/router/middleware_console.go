package router

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	consoleTokenHeader = "X-Console-Token"
	consoleTokenQuery  = "token"
)

// requireConsoleToken guards the dev console. Browsers cannot set headers on
// a websocket upgrade, so the query parameter is accepted too. An empty
// expected token leaves the console open.
func requireConsoleToken(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(consoleTokenHeader))
			if token == "" {
				token = strings.TrimSpace(r.URL.Query().Get(consoleTokenQuery))
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				http.Error(w, "invalid console token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
