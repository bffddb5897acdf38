// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const scheme = "Bearer "

// BearerToken returns middleware that requires the Authorization header to
// carry a Bearer token matching the expected value. Comparison uses
// constant-time equality to prevent timing side-channel attacks.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, scheme) {
				deny(w, "missing or malformed authorization header")
				return
			}

			got := []byte(auth[len(scheme):])

			if subtle.ConstantTimeCompare(got, expected) != 1 {
				deny(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
