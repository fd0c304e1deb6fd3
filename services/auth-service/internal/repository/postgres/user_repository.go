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

const userColumns = `id, email, password_hash, created_at, updated_at`

// UserRepository реализация репозитория пользователей для PostgreSQL
type UserRepository struct {
	*BaseRepository
}

// NewUserRepository создает новый экземпляр UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{BaseRepository: NewBaseRepository(pool)}
}

var _ repository.UserRepository = (*UserRepository)(nil)

// Create сохраняет нового пользователя в базе данных
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5)`

	_, err := r.Pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt)
	return mapError(err, "failed to create user")
}

// FindByID возвращает пользователя по его ID
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "failed to get user by id")
	}
	return user, nil
}

// FindByEmail возвращает пользователя по его email
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.Pool.QueryRow(ctx, query, email))
	if err != nil {
		return nil, mapError(err, "failed to get user by email")
	}
	return user, nil
}

// UpdatePassword заменяет хеш пароля пользователя
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	query := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`

	tag, err := r.Pool.Exec(ctx, query, id, passwordHash, at)
	if err != nil {
		return mapError(err, "failed to update password")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update password: %w", repository.ErrNotFound)
	}
	return nil
}

// List возвращает всех пользователей в порядке регистрации
func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id`

	rows, err := r.Pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err, "failed to list users")
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan user")
		}
		users = append(users, user)
	}
	return users, mapError(rows.Err(), "failed to iterate users")
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
