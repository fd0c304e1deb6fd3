package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

// AuditRepository журнал аудита в таблице audit_logs
type AuditRepository struct {
	*BaseRepository
}

// NewAuditRepository создает новый экземпляр AuditRepository
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{BaseRepository: NewBaseRepository(pool)}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

// Insert сохраняет событие аудита
func (r *AuditRepository) Insert(ctx context.Context, event *domain.AuditEvent) error {
	query := `INSERT INTO audit_logs (id, event_type, user_id, ip_address, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.Pool.Exec(ctx, query,
		event.ID,
		event.EventType,
		event.UserID,
		event.IPAddress,
		event.Metadata,
		event.Timestamp)
	return mapError(err, "failed to insert audit event")
}

// List возвращает страницу событий, новые первыми, и общее количество
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEvent, int, error) {
	// Пустой event_type означает отсутствие фильтра
	where := `WHERE ($1 = '' OR event_type = $1)`

	var total int
	if err := r.Pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs `+where, filter.EventType).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count audit events")
	}

	query := `SELECT id, event_type, user_id, ip_address, metadata, timestamp FROM audit_logs ` + where + `
		ORDER BY timestamp DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.Pool.Query(ctx, query, filter.EventType, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, mapError(err, "failed to list audit events")
	}
	defer rows.Close()

	events := make([]*domain.AuditEvent, 0, filter.Limit)
	for rows.Next() {
		var event domain.AuditEvent
		if err := rows.Scan(&event.ID, &event.EventType, &event.UserID, &event.IPAddress, &event.Metadata, &event.Timestamp); err != nil {
			return nil, 0, mapError(err, "failed to scan audit event")
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "failed to iterate audit events")
	}
	return events, total, nil
}
