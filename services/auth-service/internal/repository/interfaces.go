package repository

import (
	"context"
	"errors"
	"time"

	"CerberusPlatform/services/auth-service/internal/domain"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation нарушено ограничение уникальности
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	List(ctx context.Context) ([]*domain.User, error)
}

// TokenRepository хранилище одноразовых токенов, разделенное по назначению
type TokenRepository interface {
	Insert(ctx context.Context, token *domain.EphemeralToken) error
	Find(ctx context.Context, purpose domain.Purpose, token string) (*domain.EphemeralToken, error)
	// Consume условно помечает токен погашенным; false, если он уже погашен или не найден
	Consume(ctx context.Context, purpose domain.Purpose, token string, at time.Time) (bool, error)
	// Rotate в одной транзакции условно погашает токен и вставляет child.
	// false означает, что токен уже погашен и child не вставлен.
	Rotate(ctx context.Context, token string, at time.Time, child *domain.EphemeralToken) (bool, error)
	// DeleteStaleForUser удаляет погашенные и истекшие токены пользователя, кроме keep
	DeleteStaleForUser(ctx context.Context, purpose domain.Purpose, userID, keep string, now time.Time) (int64, error)
	DeleteStale(ctx context.Context, purpose domain.Purpose, now time.Time) (int64, error)
}

// APIKeyRepository интерфейс для работы с API ключами
type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	FindByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.APIKey, error)
	// Revoke отзывает ключ владельца; чужой или неизвестный ключ дает ErrNotFound
	Revoke(ctx context.Context, id, ownerID string, at time.Time) (*domain.APIKey, error)
}

// RoleRepository интерфейс для работы с ролями и правами
type RoleRepository interface {
	CreateRole(ctx context.Context, role *domain.Role) error
	FindRoleByID(ctx context.Context, id string) (*domain.Role, error)
	FindRoleByName(ctx context.Context, name string) (*domain.Role, error)
	UpdateRole(ctx context.Context, role *domain.Role) error
	ListRoles(ctx context.Context) ([]*domain.RoleWithPermissions, error)
	// DeleteRole удаляет роль и ее права; ErrRoleInUse, если роль назначена пользователям
	DeleteRole(ctx context.Context, id string) error

	FindPermissionByID(ctx context.Context, id string) (*domain.Permission, error)
	// UpsertPermission возвращает право по имени, создавая его при отсутствии
	UpsertPermission(ctx context.Context, name string) (*domain.Permission, error)
	// GrantPermission идемпотентно связывает роль и право
	GrantPermission(ctx context.Context, roleID, permissionID string) error

	// AssignRole идемпотентно назначает роль пользователю
	AssignRole(ctx context.Context, userID, roleID string) error
	// UnassignRole снимает роль; ErrNotFound, если роль не была назначена
	UnassignRole(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]domain.RoleRef, error)
	// PermissionsForUser возвращает права через все роли пользователя, возможно с повторами
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)

	// Bootstrap атомарно создает роль, выдает ей права по именам и назначает ее пользователю.
	// При любой ошибке ничего не сохраняется: ErrUniqueViolation для занятого имени,
	// ErrNotFound для неизвестного пользователя.
	Bootstrap(ctx context.Context, role *domain.Role, permissionNames []string, userID string) error
}

// ErrRoleInUse роль назначена хотя бы одному пользователю
var ErrRoleInUse = errors.New("role is assigned to users")

// AuditRepository хранилище журнала аудита
type AuditRepository interface {
	Insert(ctx context.Context, event *domain.AuditEvent) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEvent, int, error)
}
