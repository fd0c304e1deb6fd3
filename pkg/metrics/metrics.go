package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Metrics представляет систему метрик сервиса
type Metrics struct {
	registry *prometheus.Registry

	// HTTP метрики
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsCount     *prometheus.CounterVec

	// Метрики аутентификации
	AuthEvents          *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec

	// Метрики очереди аудита
	AuditQueueSize prometheus.Gauge
	AuditDropped   prometheus.Counter

	// OpenTelemetry Tracer
	Tracer trace.Tracer `json:"-"`
}

// RouteFunc возвращает метку маршрута для запроса (по умолчанию путь URL)
type RouteFunc func(r *http.Request) string

// NewMetrics создает новую систему метрик с собственным реестром
func NewMetrics(serviceName string) *Metrics {
	namespace := strings.ReplaceAll(serviceName, "-", "_")
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		RequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ErrorsCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "route", "error_type"}),
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Security events by type",
		}, []string{"event"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"route"}),
		AuditQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "queue_size",
			Help:      "Audit events waiting to be written",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit events dropped because the queue was full",
		}),
		Tracer: otel.Tracer(serviceName),
	}

	registry.MustRegister(
		m.RequestCount,
		m.RequestDuration,
		m.ErrorsCount,
		m.AuthEvents,
		m.RateLimitRejections,
		m.AuditQueueSize,
		m.AuditDropped,
	)

	return m
}

// GetHandler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware создает middleware для сбора метрик и трассировки.
// route вычисляется после обработки запроса, когда маршрутизатор уже знает шаблон.
func (m *Metrics) Middleware(route RouteFunc) func(http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := m.Tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
			defer span.End()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			r = r.WithContext(ctx)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			label := route(r)

			m.RequestCount.WithLabelValues(r.Method, label, strconv.Itoa(wrapped.statusCode)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, label).Observe(duration)

			if wrapped.statusCode >= 400 {
				errorType := "client_error"
				if wrapped.statusCode >= 500 {
					errorType = "server_error"
				}
				m.ErrorsCount.WithLabelValues(r.Method, label, errorType).Inc()
			}

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", label),
				attribute.Int("http.status_code", wrapped.statusCode),
				attribute.Float64("http.duration", duration),
			)
		})
	}
}

// RecordAuthEvent увеличивает счетчик событий безопасности
func (m *Metrics) RecordAuthEvent(event string) {
	m.AuthEvents.WithLabelValues(event).Inc()
}

// RecordRateLimitRejection увеличивает счетчик отклоненных запросов
func (m *Metrics) RecordRateLimitRejection(route string) {
	m.RateLimitRejections.WithLabelValues(route).Inc()
}

// SetAuditQueueSize устанавливает размер очереди аудита
func (m *Metrics) SetAuditQueueSize(size int) {
	m.AuditQueueSize.Set(float64(size))
}

// RecordAuditDropped увеличивает счетчик потерянных событий аудита
func (m *Metrics) RecordAuditDropped() {
	m.AuditDropped.Inc()
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader перехватывает установку статуса
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// InitializeOpenTelemetry устанавливает глобальный провайдер трассировки.
// Возвращает функцию остановки провайдера.
func InitializeOpenTelemetry(serviceName, version string) func(context.Context) error {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(0.1))),
		tracesdk.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
