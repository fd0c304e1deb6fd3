package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetrics_IndependentRegistries проверяет, что повторное создание не паникует
func TestNewMetrics_IndependentRegistries(t *testing.T) {
	first := NewMetrics("auth_test")
	second := NewMetrics("auth_test")

	first.RecordAuthEvent("login")
	assert.Equal(t, float64(1), testutil.ToFloat64(first.AuthEvents.WithLabelValues("login")))
	assert.Equal(t, float64(0), testutil.ToFloat64(second.AuthEvents.WithLabelValues("login")))
}

// TestMiddleware проверяет подсчет запросов и ошибок по шаблону маршрута
func TestMiddleware(t *testing.T) {
	m := NewMetrics("auth_test")
	handler := m.Middleware(func(r *http.Request) string { return "/api-keys/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

	req := httptest.NewRequest(http.MethodDelete, "/api-keys/42", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestCount.WithLabelValues("DELETE", "/api-keys/{id}", "404")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsCount.WithLabelValues("DELETE", "/api-keys/{id}", "client_error")))
}

// TestGetHandler проверяет экспорт метрик
func TestGetHandler(t *testing.T) {
	m := NewMetrics("auth_test")
	m.RecordRateLimitRejection("/login")
	m.SetAuditQueueSize(3)
	m.RecordAuditDropped()

	w := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "auth_test_ratelimit_rejections_total"))
	assert.True(t, strings.Contains(string(body), "auth_test_audit_queue_size 3"))
}

// TestInitializeOpenTelemetry проверяет установку и остановку провайдера
func TestInitializeOpenTelemetry(t *testing.T) {
	shutdown := InitializeOpenTelemetry("auth-service", "test")
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
