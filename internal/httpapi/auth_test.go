package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-gate/aegisgate-go/internal/config"
)

// authProbe sends a bare GET /api/v1/sessions from the given remote
// address with optional header and query decorations.
func authProbe(t *testing.T, srv *Server, remoteAddr, path string, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	if decorate != nil {
		decorate(req)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestNoAuthAcceptsLoopbackOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		remoteAddr string
		wantCode   int
	}{
		{name: "ipv4 loopback", remoteAddr: "127.0.0.1:50000", wantCode: http.StatusOK},
		{name: "ipv6 loopback", remoteAddr: "[::1]:50000", wantCode: http.StatusOK},
		{name: "lan address", remoteAddr: "192.168.1.20:50000", wantCode: http.StatusForbidden},
		{name: "public address", remoteAddr: "203.0.113.7:50000", wantCode: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := authProbe(t, env.srv, tc.remoteAddr, "/api/v1/sessions", nil)
			assert.Equal(t, tc.wantCode, w.Code)
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	const key = "test-api-key-12345"
	env := newTestEnv(t, func(deps *Deps) {
		deps.Auth = &config.APIConfig{AuthMode: config.AuthModeAPIKey, APIKey: key}
	})

	w := authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "loopback gets no free pass once a key is configured")

	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong-key")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", func(r *http.Request) {
		r.Header.Set("X-API-Key", key)
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// Query parameter form, used by EventSource clients.
	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions?apikey="+key, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A valid key authenticates remote callers too.
	w = authProbe(t, env.srv, "203.0.113.7:50000", "/api/v1/sessions", func(r *http.Request) {
		r.Header.Set("X-API-Key", key)
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func signToken(t *testing.T, method jwt.SigningMethod, secret string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "operator",
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuth(t *testing.T) {
	const secret = "jwt-test-secret"
	env := newTestEnv(t, func(deps *Deps) {
		deps.Auth = &config.APIConfig{AuthMode: config.AuthModeJWT, JWTSecret: secret}
	})

	valid := signToken(t, jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour))

	w := authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+valid)
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions?token="+valid, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	wrongSecret := signToken(t, jwt.SigningMethodHS256, "some-other-secret", time.Now().Add(time.Hour))
	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+wrongSecret)
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired := signToken(t, jwt.SigningMethodHS256, secret, time.Now().Add(-time.Hour))
	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+expired)
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Right secret, wrong algorithm. Only HS256 is accepted.
	hs512 := signToken(t, jwt.SigningMethodHS512, secret, time.Now().Add(time.Hour))
	w = authProbe(t, env.srv, "127.0.0.1:50000", "/api/v1/sessions", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+hs512)
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProbesBypassAuth(t *testing.T) {
	env := newTestEnv(t, func(deps *Deps) {
		deps.Auth = &config.APIConfig{AuthMode: config.AuthModeAPIKey, APIKey: "locked"}
	})

	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		w := authProbe(t, env.srv, "203.0.113.7:50000", path, nil)
		assert.Equal(t, http.StatusOK, w.Code, "path %s", path)
	}
}
