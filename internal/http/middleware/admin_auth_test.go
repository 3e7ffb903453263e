package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveAdmin(t *testing.T, secret, authorization string) (*httptest.ResponseRecorder, *AdminClaims) {
	t.Helper()
	var seen *AdminClaims
	h := AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := AdminClaimsFromContext(r.Context())
		require.True(t, ok)
		seen = &claims
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/admin/calls/call-1/state", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestAdminJWTRejects(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		code   int
	}{
		{"auth disabled", "", "Bearer " + signedAdminToken(t, "secret", "admin", time.Minute), http.StatusUnauthorized},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong scheme", "secret", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "secret", "Bearer " + signedAdminToken(t, "other", "admin", time.Minute), http.StatusUnauthorized},
		{"expired", "secret", "Bearer " + signedAdminToken(t, "secret", "admin", -time.Minute), http.StatusUnauthorized},
		{"no expiry", "secret", "Bearer " + signedAdminToken(t, "secret", "admin", 0), http.StatusUnauthorized},
		{"patient role", "secret", "Bearer " + signedAdminToken(t, "secret", "patient", time.Minute), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, seen := serveAdmin(t, tc.secret, tc.header)
			assert.Equal(t, tc.code, rec.Code)
			assert.Nil(t, seen)
		})
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	rec, seen := serveAdmin(t, "secret", "Bearer "+signedAdminToken(t, "secret", "operator", 5*time.Minute))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ops-user", seen.Subject)
	assert.Equal(t, "operator", seen.Role)
}

func signedAdminToken(t *testing.T, secret, role string, ttl time.Duration) string {
	t.Helper()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops-user"},
		Role:             role,
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
