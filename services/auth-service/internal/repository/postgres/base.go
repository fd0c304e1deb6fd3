package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"CerberusPlatform/services/auth-service/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations возвращает SQL миграции goose сервиса
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// SQLSTATE коды PostgreSQL
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// querier общий интерфейс пула и транзакции
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BaseRepository базовая структура для всех репозиториев PostgreSQL
type BaseRepository struct {
	Pool *pgxpool.Pool
}

// NewBaseRepository создает новый экземпляр базового репозитория
func NewBaseRepository(pool *pgxpool.Pool) *BaseRepository {
	return &BaseRepository{Pool: pool}
}

// withTx выполняет fn в транзакции, откатывая ее при ошибке
func (r *BaseRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.Pool, fn)
}

// mapError переводит ошибки драйвера в типизированные ошибки репозитория
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, repository.ErrUniqueViolation, pgErr.ConstraintName)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w: %s", op, repository.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
