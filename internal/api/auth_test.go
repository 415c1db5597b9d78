package api

import (
	"net/http"
	"testing"

	"bookingsync/internal/config"

	"github.com/stretchr/testify/assert"
)

func authConfig() config.APIConfig {
	cfg := openConfig()
	cfg.Auth = config.APIAuthConfig{
		Enabled:      true,
		HeaderAPIKey: "X-API-Key",
		APIKeys: []config.APIClientKey{
			{Key: "cron-key", Name: "scheduler", Permissions: []string{PermSyncTrigger}},
			{Key: "admin-key", Name: "ops"},
		},
	}
	return cfg
}

func TestHTTPAuth(t *testing.T) {
	env := newAPIEnv(t, authConfig())

	rec := env.do(http.MethodPost, "/api/v1/sync/outbound", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/sync/outbound", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/sync/outbound", nil, map[string]string{"X-API-Key": "cron-key"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/sync/dead-letters", nil, map[string]string{"X-API-Key": "cron-key"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// empty permission list allows everything
	rec = env.do(http.MethodGet, "/api/v1/sync/dead-letters", nil, map[string]string{"X-API-Key": "admin-key"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// webhooks authenticate by signature, not by key
	rec = env.do(http.MethodPost, "/webhooks/unknown", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPRateLimit(t *testing.T) {
	cfg := openConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	env := newAPIEnv(t, cfg)

	headers := map[string]string{"X-API-Key": "a"}
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil, headers).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodGet, "/healthz", nil, headers).Code)

	// separate bucket per client
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil, map[string]string{"X-API-Key": "b"}).Code)
}

func TestRequiredPermission(t *testing.T) {
	cases := map[string]string{
		"/api/v1/sync/outbound":            PermSyncTrigger,
		"/api/v1/sync/full":                PermSyncTrigger,
		"/api/v1/sync/dead-letters":        PermSyncAdmin,
		"/api/v1/integrations/x/logs":      PermSyncAdmin,
		"/api/v1/events/abc":               PermEventsWrite,
		"/api/v1/sync/dead-letters/export": PermSyncAdmin,
	}
	for path, want := range cases {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		got, public := requiredPermissionHTTP(req)
		assert.False(t, public, path)
		assert.Equal(t, want, got, path)
	}

	req, _ := http.NewRequest(http.MethodPost, "/webhooks/abc", nil)
	_, public := requiredPermissionHTTP(req)
	assert.True(t, public)
}
