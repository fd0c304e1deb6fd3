package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/health"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/pkg/metrics"
	"CerberusPlatform/pkg/ratelimit"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/middleware"
	"CerberusPlatform/services/auth-service/internal/service"
)

// RateRule лимит запросов для маршрута
type RateRule struct {
	Limit  int
	Window time.Duration
}

// DefaultRateRules лимиты по умолчанию для публичных маршрутов
func DefaultRateRules() map[string]RateRule {
	return map[string]RateRule{
		"/login":    {Limit: 10, Window: time.Minute},
		"/register": {Limit: 5, Window: time.Minute},
		"/refresh":  {Limit: 10, Window: time.Minute},
	}
}

// Dependencies зависимости HTTP обработчиков
type Dependencies struct {
	Auth      *service.AuthService
	APIKeys   *service.APIKeyService
	RBAC      *service.RBACService
	AuditLogs *service.AuditLogService
	Audit     service.AuditSink
	Limiter   ratelimit.RateLimiter
	Health    health.HealthChecker
	Metrics   *metrics.Metrics
	Logger    logger.Logger

	RateRules  map[string]RateRule
	SetupToken string
}

// Handler обрабатывает HTTP запросы сервиса аутентификации
type Handler struct {
	auth       *service.AuthService
	apiKeys    *service.APIKeyService
	rbac       *service.RBACService
	auditLogs  *service.AuditLogService
	audit      service.AuditSink
	limiter    ratelimit.RateLimiter
	health     health.HealthChecker
	metrics    *metrics.Metrics
	logger     logger.Logger
	rateRules  map[string]RateRule
	setupToken string
}

// NewHandler создает новый экземпляр Handler
func NewHandler(deps Dependencies) *Handler {
	rules := deps.RateRules
	if rules == nil {
		rules = DefaultRateRules()
	}
	audit := deps.Audit
	if audit == nil {
		audit = service.NopAuditSink{}
	}
	return &Handler{
		auth:       deps.Auth,
		apiKeys:    deps.APIKeys,
		rbac:       deps.RBAC,
		auditLogs:  deps.AuditLogs,
		audit:      audit,
		limiter:    deps.Limiter,
		health:     deps.Health,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		rateRules:  rules,
		setupToken: deps.SetupToken,
	}
}

// Router собирает маршруты сервиса
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RecoveryMiddleware(h.logger))
	r.Use(middleware.LoggingMiddleware(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware(routePattern))
	}
	r.Use(middleware.ClientIPMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkgErrors.WriteJSON(w, pkgErrors.NotFound("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, pkgErrors.Body{Error: "Method not allowed"})
	})

	if h.health != nil {
		r.Get("/health", health.Handler(h.health))
		r.Get("/health/ready", health.ReadyHandler(h.health))
	}
	r.Get("/health/live", health.LiveHandler())
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.GetHandler())
	}

	r.With(h.rateLimit("/register")).Post("/register", h.Register)
	r.With(h.rateLimit("/login")).Post("/login", h.Login)
	r.With(h.rateLimit("/refresh")).Post("/refresh", h.Refresh)
	r.Post("/revoke", h.Revoke)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
	r.Post("/seed", h.Seed)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(h.auth, h.apiKeys, h.logger))

		r.Route("/api-keys", func(r chi.Router) {
			r.Post("/", h.CreateAPIKey)
			r.Get("/", h.ListAPIKeys)
			r.Delete("/{id}", h.RevokeAPIKey)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Use(middleware.RequirePermission(h.rbac, h.audit, domain.PermissionManageRoles, h.logger))
			r.Get("/", h.ListRoles)
			r.Post("/", h.CreateRole)
			r.Put("/{id}", h.UpdateRole)
			r.Delete("/{id}", h.DeleteRole)
			r.Post("/{id}/permissions", h.AssignPermission)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePermission(h.rbac, h.audit, domain.PermissionManageUsers, h.logger))
			r.Get("/users", h.ListUsers)
			r.Post("/users/{id}/roles", h.AssignRole)
			r.Delete("/users/{id}/roles/{roleId}", h.UnassignRole)
			r.Get("/users/{id}/permissions", h.UserPermissions)
			r.Get("/audit-logs", h.ListAuditLogs)
		})
	})

	return r
}

// rateLimit возвращает ограничитель для маршрута или пропускает запрос, если правила нет
func (h *Handler) rateLimit(path string) func(http.Handler) http.Handler {
	rule, ok := h.rateRules[path]
	if !ok || h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimitMiddleware(h.limiter, rule.Limit, rule.Window, h.metrics, h.logger)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// messageResponse ответ с текстовым сообщением
type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError отправляет типизированную ошибку, остальные логирует как внутренние
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := pkgErrors.FromError(err)
	if !ok {
		appErr = pkgErrors.Internal(err)
	}
	if appErr.Code == pkgErrors.ErrInternal {
		h.logger.Error("Request failed",
			logger.CtxField(r.Context()),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err))
	}
	pkgErrors.WriteJSON(w, appErr)
}

// decodeJSON читает тело запроса. Пустое тело дает нулевую структуру.
func decodeJSON(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return pkgErrors.Wrap(err, pkgErrors.ErrValidation, "Invalid request body")
}

func (h *Handler) validSetupToken(presented string) bool {
	if h.setupToken == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.setupToken)) == 1
}
