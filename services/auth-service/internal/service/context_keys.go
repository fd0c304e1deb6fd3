package service

import (
	"context"

	"CerberusPlatform/services/auth-service/internal/domain"
)

// Ключи контекста для передачи данных между middleware и обработчиками
type principalKey struct{}

type clientIPKey struct{}

// WithPrincipal сохраняет аутентифицированного субъекта в контексте
func WithPrincipal(ctx context.Context, principal *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom извлекает субъекта из контекста
func PrincipalFrom(ctx context.Context) (*domain.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(*domain.Principal)
	return principal, ok && principal != nil
}

// WithClientIP сохраняет адрес клиента в контексте
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP возвращает адрес клиента или "unknown"
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}
