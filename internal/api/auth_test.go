package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"coachbook/internal/config"

	"github.com/stretchr/testify/assert"
)

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "valid-key", Extra: "valid-extra", Permissions: []string{permReadReservations}},
				{Key: "admin-key", Extra: "admin-extra"},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 200},
	}
}

func TestHTTPAuth_Require(t *testing.T) {
	cfg := testAPIConfig()
	auth := NewHTTPAuth(&cfg)
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	call := func(perm string, headers map[string]string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		auth.Require(perm, ok)(rec, req)
		return rec.Code
	}

	tests := []struct {
		name    string
		perm    string
		headers map[string]string
		want    int
	}{
		{"Success", permReadReservations, map[string]string{"x-api-key": "valid-key", "x-api-extra": "valid-extra"}, http.StatusNoContent},
		{"MissingHeaders", permReadReservations, nil, http.StatusUnauthorized},
		{"InvalidKey", permReadReservations, map[string]string{"x-api-key": "nope", "x-api-extra": "valid-extra"}, http.StatusUnauthorized},
		{"InvalidExtra", permReadReservations, map[string]string{"x-api-key": "valid-key", "x-api-extra": "wrong"}, http.StatusUnauthorized},
		{"PermissionDenied", permWriteReservations, map[string]string{"x-api-key": "valid-key", "x-api-extra": "valid-extra"}, http.StatusForbidden},
		{"EmptyPermissionsAllowAll", permWriteSettlements, map[string]string{"x-api-key": "admin-key", "x-api-extra": "admin-extra"}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(tt.perm, tt.headers))
		})
	}
}

func TestHTTPAuth_Disabled(t *testing.T) {
	cfg := testAPIConfig()
	cfg.Auth.Enabled = false
	auth := NewHTTPAuth(&cfg)

	rec := httptest.NewRecorder()
	auth.Require(permWriteReservations, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reservations", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHTTPAuth_RateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	auth := NewHTTPAuth(&cfg)
	h := auth.Require(permReadReservations, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	send := func(key, extra string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations", nil)
		req.Header.Set("x-api-key", key)
		req.Header.Set("x-api-extra", extra)
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("valid-key", "valid-extra"))
	assert.Equal(t, http.StatusTooManyRequests, send("valid-key", "valid-extra"))
	assert.Equal(t, http.StatusNoContent, send("admin-key", "admin-extra"), "buckets are per key")
}

func TestClientKey(t *testing.T) {
	cfg := testAPIConfig()
	auth := NewHTTPAuth(&cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", auth.clientKey(req))

	req.Header.Set("x-api-key", "valid-key")
	assert.Equal(t, "valid-key", auth.clientKey(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "garbage"
	assert.Equal(t, clientKeyUnknown, auth.clientKey(req))
}
