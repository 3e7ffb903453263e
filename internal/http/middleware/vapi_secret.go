package middleware

import (
	"crypto/subtle"
	"net/http"
)

// VapiSecretHeader carries the shared secret configured on the voice assistant.
const VapiSecretHeader = "X-Vapi-Secret"

// VapiSecret rejects webhook requests whose secret header does not match.
// An empty secret disables the check.
func VapiSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		expected := []byte(secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(VapiSecretHeader))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
