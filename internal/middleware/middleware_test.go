package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/config"
	"github.com/radiusdt/pulse/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		for _, level := range []string{"debug", "info", "WARN", "error", "bogus"} {
			logger, err := NewLogger(level, format)
			require.NoError(t, err)
			require.NotNil(t, logger)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret",
		SkipPaths: []string{"/health", "/api/track/"},
	}
	h := NewAuthMiddleware(cfg, zap.NewNop()).Handler(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing key", "/api/campaigns/c1/links", nil, http.StatusUnauthorized},
		{"wrong key", "/api/campaigns/c1/links", map[string]string{AuthHeaderName: "nope"}, http.StatusUnauthorized},
		{"valid key", "/api/campaigns/c1/links", map[string]string{AuthHeaderName: "secret"}, http.StatusOK},
		{"bearer token", "/api/campaigns/c1/links", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"skipped health", "/health", nil, http.StatusOK},
		{"skipped tracking", "/api/track/open", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "ApiKey", rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), "API key")
			}
		})
	}
}

func TestAuthMiddlewareDefaultSkipPaths(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Auth.Enabled = true
	cfg.Auth.MasterKey = "secret"
	h := NewAuthMiddleware(cfg.Auth, zap.NewNop()).Handler(okHandler)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/track/open", http.StatusOK},
		{http.MethodGet, "/api/track/click/abc", http.StatusOK},
		{http.MethodPost, "/api/heat-maps/interactions", http.StatusOK},
		{http.MethodGet, "/api/heat-maps/emails/e1/heat-map-visualization", http.StatusUnauthorized},
		{http.MethodGet, "/api/campaigns/c1/engagement", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	h := NewAuthMiddleware(config.AuthConfig{Enabled: false}, zap.NewNop()).Handler(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/campaigns/c1/links", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := NewRecoveryMiddleware(zap.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRateLimitSeparatesTrackingAndManagement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry("test", reg)
	cfg := config.RateLimitConfig{Enabled: true, TrackingRPS: 0.001, TrackingBurst: 2, MgmtRPS: 0.001, MgmtBurst: 1}
	h := NewRateLimitMiddleware(cfg, m, zap.NewNop()).Handler(okHandler)

	do := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/api/campaigns/c1/links"))
	assert.Equal(t, http.StatusTooManyRequests, do("/api/campaigns/c1/links"))

	assert.Equal(t, http.StatusOK, do("/api/track/open"))
	assert.Equal(t, http.StatusOK, do("/api/track/open"))
	assert.Equal(t, http.StatusTooManyRequests, do("/api/track/open"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits.WithLabelValues(limiterMgmt)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits.WithLabelValues(limiterTracking)))
}

func TestRateLimitPerIP(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, TrackingRPS: 0.01, TrackingBurst: 10}
	rl := NewRateLimitMiddleware(cfg, nil, zap.NewNop())
	h := rl.HandlerPerIP(okHandler)

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/track/open", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("198.51.100.1"))
	assert.Equal(t, http.StatusOK, do("198.51.100.2"))

	rl.CleanupIPLimiters()
	assert.Equal(t, http.StatusOK, do("198.51.100.1"))
}

func TestRateLimitDisabled(t *testing.T) {
	h := NewRateLimitMiddleware(config.RateLimitConfig{}, nil, zap.NewNop()).Handler(okHandler)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/track/open", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry("test", reg)

	r := chi.NewRouter()
	r.Use(NewMetricsMiddleware(m).Handler)
	r.Get("/api/campaigns/{campaignID}/links", okHandler)

	for _, id := range []string{"c1", "c2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/campaigns/"+id+"/links", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	count := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/campaigns/{campaignID}/links", "200"))
	assert.Equal(t, float64(2), count)
}

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	var seen *responseWriter
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("tea"))
	})
	h := NewLoggingMiddleware(zap.NewNop()).Handler(inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.NotNil(t, seen)
	assert.Equal(t, http.StatusTeapot, seen.status)
	assert.Equal(t, 3, seen.size)
}
