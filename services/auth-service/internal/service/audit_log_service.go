package service

import (
	"context"
	"strings"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/validation"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

// Pagination параметры страницы в ответе
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// AuditPage страница журнала аудита
type AuditPage struct {
	Data       []*domain.AuditEvent `json:"data"`
	Pagination Pagination           `json:"pagination"`
}

// AuditLogService чтение журнала аудита
type AuditLogService struct {
	repo repository.AuditRepository
}

// NewAuditLogService создает новый экземпляр AuditLogService
func NewAuditLogService(repo repository.AuditRepository) *AuditLogService {
	return &AuditLogService{repo: repo}
}

// List возвращает страницу событий, новые первыми
func (s *AuditLogService) List(ctx context.Context, page, limit int, eventType string) (*AuditPage, error) {
	page, limit = validation.Pagination(page, limit)

	events, total, err := s.repo.List(ctx, domain.AuditFilter{
		EventType: strings.TrimSpace(eventType),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}

	return &AuditPage{
		Data:       events,
		Pagination: Pagination{Page: page, Limit: limit, Total: total},
	}, nil
}
