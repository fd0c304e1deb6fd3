package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

// tokenTable таблица и колонка погашения для назначения токена
type tokenTable struct {
	name       string
	consumedAt string
}

func tableFor(purpose domain.Purpose) (tokenTable, error) {
	switch purpose {
	case domain.PurposeSession:
		return tokenTable{name: "refresh_tokens", consumedAt: "revoked_at"}, nil
	case domain.PurposeReset:
		return tokenTable{name: "password_reset_tokens", consumedAt: "used_at"}, nil
	default:
		return tokenTable{}, fmt.Errorf("unknown token purpose %q", purpose)
	}
}

// TokenRepository реализация хранилища одноразовых токенов для PostgreSQL
type TokenRepository struct {
	*BaseRepository
}

// NewTokenRepository создает новый экземпляр TokenRepository
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{BaseRepository: NewBaseRepository(pool)}
}

var _ repository.TokenRepository = (*TokenRepository)(nil)

// Insert сохраняет новый токен
func (r *TokenRepository) Insert(ctx context.Context, token *domain.EphemeralToken) error {
	return insertToken(ctx, r.Pool, token)
}

func insertToken(ctx context.Context, q querier, token *domain.EphemeralToken) error {
	table, err := tableFor(token.Purpose)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`, table.name)
	_, err = q.Exec(ctx, query, token.Token, token.UserID, token.ExpiresAt, token.CreatedAt)
	return mapError(err, "failed to insert token")
}

// Find возвращает токен по значению
func (r *TokenRepository) Find(ctx context.Context, purpose domain.Purpose, value string) (*domain.EphemeralToken, error) {
	table, err := tableFor(purpose)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT token, user_id, expires_at, %s, created_at FROM %s WHERE token = $1`,
		table.consumedAt, table.name)

	token := domain.EphemeralToken{Purpose: purpose}
	err = r.Pool.QueryRow(ctx, query, value).Scan(
		&token.Token,
		&token.UserID,
		&token.ExpiresAt,
		&token.ConsumedAt,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err, "failed to find token")
	}
	return &token, nil
}

// Consume условно помечает токен погашенным
func (r *TokenRepository) Consume(ctx context.Context, purpose domain.Purpose, value string, at time.Time) (bool, error) {
	return consumeToken(ctx, r.Pool, purpose, value, at)
}

func consumeToken(ctx context.Context, q querier, purpose domain.Purpose, value string, at time.Time) (bool, error) {
	table, err := tableFor(purpose)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE token = $1 AND %s IS NULL`,
		table.name, table.consumedAt, table.consumedAt)
	tag, err := q.Exec(ctx, query, value, at)
	if err != nil {
		return false, mapError(err, "failed to consume token")
	}
	return tag.RowsAffected() == 1, nil
}

// Rotate отзывает refresh токен и выпускает потомка в одной транзакции
func (r *TokenRepository) Rotate(ctx context.Context, value string, at time.Time, child *domain.EphemeralToken) (bool, error) {
	rotated := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		ok, err := consumeToken(ctx, tx, domain.PurposeSession, value, at)
		if err != nil || !ok {
			return err
		}
		if err := insertToken(ctx, tx, child); err != nil {
			return err
		}
		rotated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return rotated, nil
}

// DeleteStaleForUser удаляет погашенные и истекшие токены пользователя, кроме keep
func (r *TokenRepository) DeleteStaleForUser(ctx context.Context, purpose domain.Purpose, userID, keep string, now time.Time) (int64, error) {
	table, err := tableFor(purpose)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND token <> $2 AND (%s IS NOT NULL OR expires_at <= $3)`,
		table.name, table.consumedAt)
	tag, err := r.Pool.Exec(ctx, query, userID, keep, now)
	if err != nil {
		return 0, mapError(err, "failed to delete stale tokens")
	}
	return tag.RowsAffected(), nil
}

// DeleteStale удаляет погашенные и истекшие токены всех пользователей
func (r *TokenRepository) DeleteStale(ctx context.Context, purpose domain.Purpose, now time.Time) (int64, error) {
	table, err := tableFor(purpose)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s IS NOT NULL OR expires_at <= $1`, table.name, table.consumedAt)
	tag, err := r.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, mapError(err, "failed to purge stale tokens")
	}
	return tag.RowsAffected(), nil
}
