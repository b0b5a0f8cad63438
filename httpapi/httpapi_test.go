package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/httpapi"
	"github.com/MrEthical07/goSentinel/internal/sentineltest"
	"github.com/MrEthical07/goSentinel/mfa"
	"github.com/MrEthical07/goSentinel/portal"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func newAPI(t *testing.T, mutate func(*goSentinel.Config)) (*apiClient, *sentineltest.Env) {
	t.Helper()
	env := sentineltest.New(t, mutate)
	router := httpapi.NewRouter(env.Engine, httpapi.Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiClient{t: t, server: srv}, env
}

func (c *apiClient) do(method, path, bearer string, body interface{}) (*http.Response, map[string]interface{}) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.server.URL+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func loginBody(email, pass string) map[string]string {
	return map[string]string{
		"email":        email,
		"password":     pass,
		"tenantDomain": sentineltest.TenantDomain,
		"portalType":   "client",
	}
}

func TestLoginRefreshLogout(t *testing.T) {
	api, env := newAPI(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)

	resp, body := api.do(http.MethodPost, "/login", "", loginBody("alice@acme.test", sentineltest.Password))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access, _ := body["accessToken"].(string)
	refresh, _ := body["refreshToken"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.EqualValues(t, 900, body["expiresIn"])
	session := body["session"].(map[string]interface{})
	assert.Equal(t, "client", session["portalType"])
	assert.NotEmpty(t, session["id"])

	resp, body = api.do(http.MethodGet, "/whoami", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", body["id"])
	assert.Equal(t, "alice@acme.test", body["email"])
	assert.Equal(t, "client", body["role"])

	resp, body = api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newAccess := body["accessToken"].(string)
	newRefresh := body["refreshToken"].(string)

	resp, body = api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "refresh_reuse", body["error"])

	resp, _ = api.do(http.MethodPost, "/logout", "", map[string]string{"accessToken": newAccess, "refreshToken": newRefresh})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = api.do(http.MethodPost, "/logout", "", map[string]string{"accessToken": newAccess})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = api.do(http.MethodGet, "/whoami", newAccess, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "session_blacklisted", body["error"])
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	api, env := newAPI(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)

	resp1, wrong := api.do(http.MethodPost, "/login", "", loginBody("alice@acme.test", "nope"))
	resp2, unknown := api.do(http.MethodPost, "/login", "", loginBody("ghost@acme.test", "nope"))

	assert.Equal(t, http.StatusUnauthorized, resp1.StatusCode)
	assert.Equal(t, resp1.StatusCode, resp2.StatusCode)
	assert.Equal(t, wrong, unknown)
	assert.Equal(t, "invalid_credentials", wrong["error"])
}

func TestLockoutCarriesUnlockTime(t *testing.T) {
	api, env := newAPI(t, func(cfg *goSentinel.Config) {
		cfg.Lockout.MaxAttempts = 2
	})
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)

	for i := 0; i < 2; i++ {
		api.do(http.MethodPost, "/login", "", loginBody("alice@acme.test", "nope"))
	}
	resp, body := api.do(http.MethodPost, "/login", "", loginBody("alice@acme.test", sentineltest.Password))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "account_locked", body["error"])

	until, err := time.Parse(time.RFC3339, body["lockedUntil"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), until, time.Minute)
}

func TestLoginValidationAndAuthorization(t *testing.T) {
	api, env := newAPI(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)

	resp, body := api.do(http.MethodPost, "/login", "", map[string]string{"email": "alice@acme.test"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", body["error"])

	bad := loginBody("alice@acme.test", sentineltest.Password)
	bad["portalType"] = "backoffice"
	resp, _ = api.do(http.MethodPost, "/login", "", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	admin := loginBody("alice@acme.test", sentineltest.Password)
	admin["portalType"] = "admin"
	resp, body = api.do(http.MethodPost, "/login", "", admin)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "portal_access_denied", body["error"])

	ctx := context.Background()
	countOf := func(eventType string) int {
		n, err := env.Store.CountSince(ctx, "u1", eventType, time.Time{})
		require.NoError(t, err)
		return n
	}
	require.Eventually(t, func() bool { return countOf(goSentinel.EventPortalDenied) >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, countOf(goSentinel.EventPortalDenied))
	assert.Equal(t, 0, countOf(goSentinel.EventLoginSuccess))

	sessions, err := env.Engine.ListSessions(ctx, "u1", sentineltest.TenantID, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestMFAEndpoints(t *testing.T) {
	api, env := newAPI(t, nil)
	env.PutIdentity(t, "a1", "admin@acme.test", portal.RoleAdmin)

	adminLogin := loginBody("admin@acme.test", sentineltest.Password)
	adminLogin["portalType"] = "admin"
	resp, body := api.do(http.MethodPost, "/login", "", adminLogin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["mfaSetupRequired"])
	access := body["accessToken"].(string)

	resp, body = api.do(http.MethodPost, "/mfa/setup", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secret := body["secret"].(string)
	assert.Len(t, body["backupCodes"], 10)

	resp, body = api.do(http.MethodPost, "/mfa/enable", access, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, err := mfa.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp, _ = api.do(http.MethodPost, "/mfa/enable", access, map[string]string{"code": code})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/mfa/verify", access, map[string]string{"code": code, "method": "totp"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = api.do(http.MethodPost, "/login", "", adminLogin)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "mfa_required", body["error"])
	assert.Equal(t, "totp", body["mfaMethod"])
	assert.NotContains(t, body, "secret")

	adminLogin["mfaToken"] = code
	resp, _ = api.do(http.MethodPost, "/login", "", adminLogin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/mfa/disable", access, map[string]string{"code": code})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSessionsEndpoint(t *testing.T) {
	api, env := newAPI(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)
	env.Login(t, "alice@acme.test")

	_, body := api.do(http.MethodPost, "/login", "", loginBody("alice@acme.test", sentineltest.Password))
	access := body["accessToken"].(string)

	resp, body := api.do(http.MethodGet, "/sessions", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["sessions"].([]interface{})
	assert.Len(t, list, 2)
}

func TestProtectedRoutesNeedBearer(t *testing.T) {
	api, _ := newAPI(t, nil)

	for _, path := range []string{"/whoami", "/sessions"} {
		resp, body := api.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "token_invalid", body["error"], path)
	}
	resp, _ := api.do(http.MethodPost, "/mfa/setup", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	api, env := newAPI(t, nil)

	resp, body := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.Redis.Close()
	resp, _ = api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStoreFailureIsOpaque(t *testing.T) {
	api, env := newAPI(t, nil)
	env.PutIdentity(t, "u1", "alice@acme.test", portal.RoleClient)
	env.Redis.Close()

	resp, body := api.do(http.MethodPost, "/login", "", loginBody("alice@acme.test", sentineltest.Password))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "store_unavailable", body["error"])
	assert.Equal(t, "internal error", body["message"])
}
