package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/pkg/metrics"
	"CerberusPlatform/pkg/ratelimit"
	"CerberusPlatform/services/auth-service/internal/middleware"
	"CerberusPlatform/services/auth-service/internal/service"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimitMiddleware_LimitsPerClientAndPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := ratelimit.NewFixedWindowLimiter(ratelimit.NewMemoryStore(ratelimit.WithClock(clock)))
	m := metrics.NewMetrics("auth_service_test")

	handler := middleware.RateLimitMiddleware(limiter, 3, time.Minute, m, logger.NewNop())(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":51000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 3; i++ {
		rec := send("10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(3-i), rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, strconv.FormatInt(now.Add(time.Minute).Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitRejections.WithLabelValues("/login")))

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)

	now = now.Add(61 * time.Second)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Admit(_ context.Context, _ string, limit int, _ time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Limit: limit, Remaining: limit}, errors.New("redis down")
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	handler := middleware.RateLimitMiddleware(brokenLimiter{}, 5, time.Minute, nil, logger.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "3.3.3.3:1", "1.1.1.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 4.4.4.4"}, "3.3.3.3:1", "2.2.2.2"},
		{"real ip", map[string]string{"X-Real-IP": "5.5.5.5"}, "3.3.3.3:1", "5.5.5.5"},
		{"remote addr", nil, "3.3.3.3:1234", "3.3.3.3"},
		{"remote addr without port", nil, "3.3.3.3", "3.3.3.3"},
		{"unknown", nil, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}
			assert.Equal(t, tt.want, middleware.ClientIP(req))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var seen string
	handler := middleware.ClientIPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = service.ClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "9.9.9.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "9.9.9.9", seen)
}
