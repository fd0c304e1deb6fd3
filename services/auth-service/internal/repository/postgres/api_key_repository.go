package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, created_at, revoked_at`

// APIKeyRepository реализация репозитория API ключей для PostgreSQL
type APIKeyRepository struct {
	*BaseRepository
}

// NewAPIKeyRepository создает новый экземпляр APIKeyRepository
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{BaseRepository: NewBaseRepository(pool)}
}

var _ repository.APIKeyRepository = (*APIKeyRepository)(nil)

// Create сохраняет новый API ключ в базе данных
func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	query := `INSERT INTO api_keys (` + apiKeyColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.Pool.Exec(ctx, query,
		key.ID,
		key.UserID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.CreatedAt,
		key.RevokedAt)
	return mapError(err, "failed to create API key")
}

// FindByHash возвращает API ключ по SHA-256 хешу
func (r *APIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`

	key, err := scanAPIKey(r.Pool.QueryRow(ctx, query, keyHash))
	if err != nil {
		return nil, mapError(err, "failed to get API key by hash")
	}
	return key, nil
}

// ListByUser возвращает ключи пользователя, включая отозванные
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := r.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError(err, "failed to list API keys")
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan API key")
		}
		keys = append(keys, key)
	}
	return keys, mapError(rows.Err(), "failed to iterate API keys")
}

// Revoke отзывает ключ владельца. Повторный отзыв сохраняет исходное время отзыва.
func (r *APIKeyRepository) Revoke(ctx context.Context, id, ownerID string, at time.Time) (*domain.APIKey, error) {
	query := `UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $3)
		WHERE id = $1 AND user_id = $2
		RETURNING ` + apiKeyColumns

	key, err := scanAPIKey(r.Pool.QueryRow(ctx, query, id, ownerID, at))
	if err != nil {
		return nil, mapError(err, "failed to revoke API key")
	}
	return key, nil
}

func scanAPIKey(row pgx.Row) (*domain.APIKey, error) {
	var key domain.APIKey
	err := row.Scan(
		&key.ID,
		&key.UserID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.CreatedAt,
		&key.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
