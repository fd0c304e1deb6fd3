package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/pkg/apikey"
	"CerberusPlatform/services/auth-service/internal/pkg/hash"
	"CerberusPlatform/services/auth-service/internal/repository"
)

const (
	MsgNameRequired   = "Name is required"
	MsgAPIKeyNotFound = "API key not found"
)

// ErrInvalidAPIKey ключ неизвестен, отозван или имеет неверный формат
var ErrInvalidAPIKey = errors.New("invalid API key")

// CreatedAPIKey ключ с открытым текстом, показывается один раз
type CreatedAPIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyPrefix string `json:"keyPrefix"`
	Key       string `json:"key"`
}

// APIKeyService управление API ключами
type APIKeyService struct {
	keys  repository.APIKeyRepository
	audit AuditSink
	log   logger.Logger
	now   func() time.Time
}

// NewAPIKeyService создает новый экземпляр APIKeyService
func NewAPIKeyService(keys repository.APIKeyRepository, audit AuditSink, log logger.Logger) *APIKeyService {
	return &APIKeyService{
		keys:  keys,
		audit: audit,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create выпускает ключ для пользователя
func (s *APIKeyService) Create(ctx context.Context, userID, name string) (*CreatedAPIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgErrors.Validation(MsgNameRequired)
	}

	plaintext, prefix, err := apikey.Generate()
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}

	key := &domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hash.SHA256(plaintext),
		KeyPrefix: prefix,
		CreatedAt: s.now(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, pkgErrors.Internal(err)
	}

	s.audit.Record(ctx, NewAuditEvent(EventAPIKeyCreated, userID, ClientIP(ctx),
		map[string]interface{}{"apiKeyId": key.ID, "name": name}))

	return &CreatedAPIKey{ID: key.ID, Name: key.Name, KeyPrefix: key.KeyPrefix, Key: plaintext}, nil
}

// List возвращает ключи пользователя без хешей
func (s *APIKeyService) List(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	keys, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	if keys == nil {
		keys = []*domain.APIKey{}
	}
	return keys, nil
}

// Authenticate находит активный ключ по открытому тексту
func (s *APIKeyService) Authenticate(ctx context.Context, presented string) (*domain.APIKey, error) {
	if !apikey.ValidateFormat(presented) {
		return nil, ErrInvalidAPIKey
	}

	key, err := s.keys.FindByHash(ctx, hash.SHA256(presented))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if key.Revoked() {
		return nil, ErrInvalidAPIKey
	}
	return key, nil
}

// Revoke отзывает ключ владельца. Чужой ключ неотличим от несуществующего.
func (s *APIKeyService) Revoke(ctx context.Context, keyID, ownerID string) error {
	_, err := s.keys.Revoke(ctx, keyID, ownerID, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return pkgErrors.NotFound(MsgAPIKeyNotFound)
	}
	if err != nil {
		return pkgErrors.Internal(err)
	}

	s.audit.Record(ctx, NewAuditEvent(EventAPIKeyRevoked, ownerID, ClientIP(ctx),
		map[string]interface{}{"apiKeyId": keyID}))
	return nil
}
