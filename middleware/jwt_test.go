package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-key")

func sign(t *testing.T, key []byte, username string, expires time.Time) string {
	t.Helper()
	claims := &Claims{
		Username: username,
		UserHash: UserHashFromUsername(username, key),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen, _ = c.Get("username").(string)
		return c.NoContent(http.StatusOK)
	}, JWT(testKey))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestJWT(t *testing.T) {
	valid := sign(t, testKey, "admin", time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
		code   int
		user   string
	}{
		{"bare token", valid, http.StatusOK, "admin"},
		{"bearer token", "Bearer " + valid, http.StatusOK, "admin"},
		{"missing", "", http.StatusBadRequest, ""},
		{"wrong key", sign(t, []byte("other"), "admin", time.Now().Add(time.Hour)), http.StatusUnauthorized, ""},
		{"expired", sign(t, testKey, "admin", time.Now().Add(-time.Hour)), http.StatusUnauthorized, ""},
		{"garbage", "not-a-token", http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, user := serve(t, tc.header)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.user, user)
		})
	}
}

func TestUserHashFromUsername(t *testing.T) {
	assert.Equal(t, UserHashFromUsername(" Admin ", testKey), UserHashFromUsername("admin", testKey))
	assert.NotEqual(t, UserHashFromUsername("admin", testKey), UserHashFromUsername("admin", []byte("x")))
}
