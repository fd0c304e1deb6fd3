package middleware

import (
	"context"
	"errors"
	"net/http"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/pkg/apikey"
	"CerberusPlatform/services/auth-service/internal/service"
)

const (
	MsgAuthorizationRequired = "Authorization required"
	MsgInvalidToken          = "Invalid token"
)

// TokenVerifier проверяет access токен
type TokenVerifier interface {
	VerifyAccessToken(token string) (*domain.Principal, error)
}

// KeyAuthenticator проверяет API ключ
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, presented string) (*domain.APIKey, error)
}

// AuthMiddleware проверяет аутентификацию запроса.
// Заголовок Authorization: Bearer <JWT> или Bearer crb_<ключ>.
func AuthMiddleware(tokens TokenVerifier, keys KeyAuthenticator, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credentials, err := apikey.ExtractBearer(r.Header.Get("Authorization"))
			if err != nil {
				pkgErrors.WriteJSON(w, pkgErrors.Unauthorized(MsgAuthorizationRequired))
				return
			}

			var principal *domain.Principal
			if apikey.LooksLikeKey(credentials) {
				principal, err = authenticateKey(r.Context(), keys, credentials)
			} else {
				principal, err = tokens.VerifyAccessToken(credentials)
				if err != nil {
					err = pkgErrors.Unauthorized(MsgInvalidToken)
				}
			}
			if err != nil {
				appErr, ok := pkgErrors.FromError(err)
				if !ok {
					log.Error("Failed to authenticate request", logger.CtxField(r.Context()), logger.Error(err))
					appErr = pkgErrors.Internal(err)
				}
				pkgErrors.WriteJSON(w, appErr)
				return
			}

			ctx := service.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticateKey(ctx context.Context, keys KeyAuthenticator, presented string) (*domain.Principal, error) {
	key, err := keys.Authenticate(ctx, presented)
	if errors.Is(err, service.ErrInvalidAPIKey) {
		return nil, pkgErrors.Unauthorized(MsgInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Principal{UserID: key.UserID, Method: domain.AuthMethodAPIKey, APIKeyID: key.ID}, nil
}
