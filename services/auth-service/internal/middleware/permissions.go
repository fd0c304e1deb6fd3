package middleware

import (
	"context"
	"net/http"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/service"
)

// MsgForbidden ответ при отсутствии права
const MsgForbidden = "Forbidden"

// PermissionChecker проверяет наличие права у пользователя
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// RequirePermission пропускает запрос, только если у субъекта есть право.
// Каждое решение попадает в журнал аудита.
func RequirePermission(checker PermissionChecker, audit service.AuditSink, permission string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := service.PrincipalFrom(ctx)
			if !ok {
				pkgErrors.WriteJSON(w, pkgErrors.Unauthorized(MsgAuthorizationRequired))
				return
			}

			granted, err := checker.HasPermission(ctx, principal.UserID, permission)
			if err != nil {
				log.Error("Permission check failed",
					logger.CtxField(ctx),
					logger.String("user_id", principal.UserID),
					logger.String("permission", permission),
					logger.Error(err))
				pkgErrors.WriteJSON(w, pkgErrors.Internal(err))
				return
			}

			metadata := map[string]interface{}{
				"permission": permission,
				"method":     r.Method,
				"path":       r.URL.Path,
			}
			if !granted {
				audit.Record(ctx, service.NewAuditEvent(service.EventAuthzDenied, principal.UserID, service.ClientIP(ctx), metadata))
				pkgErrors.WriteJSON(w, pkgErrors.Forbidden(MsgForbidden))
				return
			}

			audit.Record(ctx, service.NewAuditEvent(service.EventAuthzGranted, principal.UserID, service.ClientIP(ctx), metadata))
			next.ServeHTTP(w, r)
		})
	}
}
