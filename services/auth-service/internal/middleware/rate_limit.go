package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/pkg/metrics"
	"CerberusPlatform/pkg/ratelimit"
	"CerberusPlatform/services/auth-service/internal/service"
)

// MsgTooManyRequests ответ при превышении лимита
const MsgTooManyRequests = "Too many requests"

// RateLimitMiddleware ограничивает частоту запросов с одного адреса к маршруту.
// Заголовки X-RateLimit-* выставляются для любого исхода. Ошибка хранилища
// счетчиков пропускает запрос.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, limit int, window time.Duration, m *metrics.Metrics, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rate-limit:" + ClientIP(r) + ":" + r.URL.Path

			decision, err := limiter.Admit(r.Context(), key, limit, window)
			if err != nil {
				log.Error("Rate limit check failed",
					logger.CtxField(r.Context()),
					logger.String("key", key),
					logger.Error(err))
			}
			if decision.ResetAt.IsZero() {
				decision.ResetAt = time.Now().Add(window)
			}

			header := w.Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				log.Warn("Rate limit exceeded",
					logger.CtxField(r.Context()),
					logger.String("key", key),
					logger.Int("limit", limit),
					logger.Duration("window", window))
				if m != nil {
					m.RecordRateLimitRejection(r.URL.Path)
				}
				pkgErrors.WriteJSON(w, pkgErrors.TooManyRequests(MsgTooManyRequests))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP извлекает адрес клиента: CF-Connecting-IP, первый адрес
// X-Forwarded-For, X-Real-IP, затем RemoteAddr
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// ClientIPMiddleware сохраняет адрес клиента в контексте для журнала аудита
func ClientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := service.WithClientIP(r.Context(), ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
