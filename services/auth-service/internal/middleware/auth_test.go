package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/middleware"
	"CerberusPlatform/services/auth-service/internal/pkg/apikey"
	"CerberusPlatform/services/auth-service/internal/service"
)

// MockTokenVerifier мок для TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) VerifyAccessToken(token string) (*domain.Principal, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Principal), args.Error(1)
}

// MockKeyAuthenticator мок для KeyAuthenticator
type MockKeyAuthenticator struct {
	mock.Mock
}

func (m *MockKeyAuthenticator) Authenticate(ctx context.Context, presented string) (*domain.APIKey, error) {
	args := m.Called(ctx, presented)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := service.PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("X-User", principal.UserID)
		w.Header().Set("X-Method", string(principal.Method))
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	plainKey, _, err := apikey.Generate()
	require.NoError(t, err)

	tokens := new(MockTokenVerifier)
	tokens.On("VerifyAccessToken", "good-jwt").Return(&domain.Principal{UserID: "user-1", Method: domain.AuthMethodJWT}, nil)
	tokens.On("VerifyAccessToken", "bad-jwt").Return(nil, errors.New("invalid token"))

	keys := new(MockKeyAuthenticator)
	keys.On("Authenticate", mock.Anything, plainKey).Return(&domain.APIKey{ID: "key-1", UserID: "user-2"}, nil)
	keys.On("Authenticate", mock.Anything, "crb_revoked").Return(nil, service.ErrInvalidAPIKey)
	keys.On("Authenticate", mock.Anything, "crb_broken").Return(nil, errors.New("db down"))

	handler := middleware.AuthMiddleware(tokens, keys, logger.NewNop())(principalEcho())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
		wantUser   string
		wantMethod string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"Authorization required"}`},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"Authorization required"}`},
		{name: "empty bearer", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"Authorization required"}`},
		{name: "valid jwt", header: "Bearer good-jwt", wantStatus: http.StatusOK, wantUser: "user-1", wantMethod: "jwt"},
		{name: "invalid jwt", header: "Bearer bad-jwt", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"Invalid token"}`},
		{name: "valid api key", header: "Bearer " + plainKey, wantStatus: http.StatusOK, wantUser: "user-2", wantMethod: "api_key"},
		{name: "revoked api key", header: "Bearer crb_revoked", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"Invalid token"}`},
		{name: "storage failure", header: "Bearer crb_broken", wantStatus: http.StatusInternalServerError, wantBody: `{"error":"Internal server error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api-keys", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			assert.Equal(t, tt.wantUser, rec.Header().Get("X-User"))
			assert.Equal(t, tt.wantMethod, rec.Header().Get("X-Method"))
		})
	}
}
