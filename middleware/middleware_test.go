package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/internal/sentineltest"
	"github.com/MrEthical07/goSentinel/middleware"
	"github.com/MrEthical07/goSentinel/portal"
)

func principalEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := goSentinel.PrincipalFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(p.IdentityID))
	})
}

func TestGuard(t *testing.T) {
	env := sentineltest.New(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)
	res := env.Login(t, "alice@acme.test")

	h := middleware.Guard(env.Engine)(principalEcho(t))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + res.AccessToken, http.StatusOK},
		{"lowercase scheme", "bearer " + res.AccessToken, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"refresh token", "Bearer " + res.RefreshToken, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", rec.Body.String())
			}
		})
	}
}

func TestGuardCustomErrorWriter(t *testing.T) {
	env := sentineltest.New(t, nil)

	var got error
	h := middleware.Guard(env.Engine, middleware.WithErrorWriter(func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	}))(principalEcho(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, got, goSentinel.ErrTokenInvalid)
}

func TestGuardStoreDownIsServerError(t *testing.T) {
	env := sentineltest.New(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)
	res := env.Login(t, "alice@acme.test")
	env.Redis.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+res.AccessToken)
	rec := httptest.NewRecorder()
	middleware.Guard(env.Engine)(principalEcho(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connect")
}

func TestRequirePortal(t *testing.T) {
	env := sentineltest.New(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)
	res := env.Login(t, "alice@acme.test")

	chain := func(allowed ...portal.Portal) http.Handler {
		return middleware.Guard(env.Engine)(middleware.RequirePortal(allowed...)(principalEcho(t)))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+res.AccessToken)

	rec := httptest.NewRecorder()
	chain(portal.PortalClient).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	chain(portal.PortalAdmin, portal.PortalSuperAdmin).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// without Guard there is no principal
	rec = httptest.NewRecorder()
	middleware.RequirePortal(portal.PortalClient)(principalEcho(t)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestMeta(t *testing.T) {
	var meta goSentinel.RequestMeta
	capture := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		meta = goSentinel.RequestMetaFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("User-Agent", "curl/8.5")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	middleware.RequestMeta(false)(capture).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, goSentinel.RequestMeta{IP: "192.0.2.10", UserAgent: "curl/8.5", Method: "POST", Path: "/login"}, meta)

	middleware.RequestMeta(true)(capture).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", meta.IP)

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	middleware.RequestMeta(true)(capture).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "192.0.2.10", meta.IP)
}

func TestBearerToken(t *testing.T) {
	tok, ok := middleware.BearerToken("Bearer  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = middleware.BearerToken("Bearer ")
	assert.False(t, ok)
}
