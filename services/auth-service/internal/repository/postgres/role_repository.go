package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

// RoleRepository реализация репозитория ролей и прав для PostgreSQL
type RoleRepository struct {
	*BaseRepository
}

// NewRoleRepository создает новый экземпляр RoleRepository
func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{BaseRepository: NewBaseRepository(pool)}
}

var _ repository.RoleRepository = (*RoleRepository)(nil)

// CreateRole сохраняет новую роль
func (r *RoleRepository) CreateRole(ctx context.Context, role *domain.Role) error {
	query := `INSERT INTO roles (id, name, description, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.Pool.Exec(ctx, query, role.ID, role.Name, role.Description, role.CreatedAt)
	return mapError(err, "failed to create role")
}

// FindRoleByID возвращает роль по ID
func (r *RoleRepository) FindRoleByID(ctx context.Context, id string) (*domain.Role, error) {
	query := `SELECT id, name, description, created_at FROM roles WHERE id = $1`
	role, err := scanRole(r.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "failed to get role by id")
	}
	return role, nil
}

// FindRoleByName возвращает роль по имени
func (r *RoleRepository) FindRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	query := `SELECT id, name, description, created_at FROM roles WHERE name = $1`
	role, err := scanRole(r.Pool.QueryRow(ctx, query, name))
	if err != nil {
		return nil, mapError(err, "failed to get role by name")
	}
	return role, nil
}

// UpdateRole обновляет имя и описание роли
func (r *RoleRepository) UpdateRole(ctx context.Context, role *domain.Role) error {
	query := `UPDATE roles SET name = $2, description = $3 WHERE id = $1`
	tag, err := r.Pool.Exec(ctx, query, role.ID, role.Name, role.Description)
	if err != nil {
		return mapError(err, "failed to update role")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update role: %w", repository.ErrNotFound)
	}
	return nil
}

// ListRoles возвращает все роли с отсортированными правами
func (r *RoleRepository) ListRoles(ctx context.Context) ([]*domain.RoleWithPermissions, error) {
	query := `SELECT r.id, r.name, r.description, r.created_at,
			COALESCE(array_agg(p.permission ORDER BY p.permission) FILTER (WHERE p.permission IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		GROUP BY r.id
		ORDER BY r.created_at, r.id`

	rows, err := r.Pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err, "failed to list roles")
	}
	defer rows.Close()

	var roles []*domain.RoleWithPermissions
	for rows.Next() {
		var role domain.RoleWithPermissions
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.Permissions); err != nil {
			return nil, mapError(err, "failed to scan role")
		}
		roles = append(roles, &role)
	}
	return roles, mapError(rows.Err(), "failed to iterate roles")
}

// DeleteRole удаляет роль и ее права, если роль никому не назначена.
// Строка роли блокируется до конца транзакции, поэтому параллельное
// назначение роли ждет завершения удаления.
func (r *RoleRepository) DeleteRole(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err != nil {
			return mapError(err, "failed to lock role")
		}

		var inUse bool
		err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE role_id = $1)`, id).Scan(&inUse)
		if err != nil {
			return mapError(err, "failed to check role assignments")
		}
		if inUse {
			return repository.ErrRoleInUse
		}

		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return mapError(err, "failed to delete role permissions")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
			return mapError(err, "failed to delete role")
		}
		return nil
	})
}

// Bootstrap создает роль с правами и назначает ее пользователю в одной транзакции
func (r *RoleRepository) Bootstrap(ctx context.Context, role *domain.Role, permissionNames []string, userID string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO roles (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
			role.ID, role.Name, role.Description, role.CreatedAt)
		if err != nil {
			return mapError(err, "failed to create role")
		}

		for _, name := range permissionNames {
			permission, err := upsertPermission(ctx, tx, name)
			if err != nil {
				return err
			}
			if err := grantPermission(ctx, tx, role.ID, permission.ID); err != nil {
				return err
			}
		}

		return assignRole(ctx, tx, userID, role.ID)
	})
}

// FindPermissionByID возвращает право по ID
func (r *RoleRepository) FindPermissionByID(ctx context.Context, id string) (*domain.Permission, error) {
	query := `SELECT id, permission, created_at FROM permissions WHERE id = $1`

	var permission domain.Permission
	err := r.Pool.QueryRow(ctx, query, id).Scan(&permission.ID, &permission.Name, &permission.CreatedAt)
	if err != nil {
		return nil, mapError(err, "failed to get permission by id")
	}
	return &permission, nil
}

// UpsertPermission возвращает право по имени, создавая его при отсутствии
func (r *RoleRepository) UpsertPermission(ctx context.Context, name string) (*domain.Permission, error) {
	return upsertPermission(ctx, r.Pool, name)
}

// GrantPermission идемпотентно связывает роль и право
func (r *RoleRepository) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	return grantPermission(ctx, r.Pool, roleID, permissionID)
}

// AssignRole идемпотентно назначает роль пользователю
func (r *RoleRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	return assignRole(ctx, r.Pool, userID, roleID)
}

func upsertPermission(ctx context.Context, q querier, name string) (*domain.Permission, error) {
	// DO UPDATE нужен, чтобы RETURNING вернул существующую строку
	query := `INSERT INTO permissions (id, permission, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (permission) DO UPDATE SET permission = EXCLUDED.permission
		RETURNING id, permission, created_at`

	var permission domain.Permission
	err := q.QueryRow(ctx, query, uuid.NewString(), name, time.Now().UTC()).
		Scan(&permission.ID, &permission.Name, &permission.CreatedAt)
	if err != nil {
		return nil, mapError(err, "failed to upsert permission")
	}
	return &permission, nil
}

func grantPermission(ctx context.Context, q querier, roleID, permissionID string) error {
	query := `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := q.Exec(ctx, query, roleID, permissionID)
	return mapError(err, "failed to grant permission")
}

func assignRole(ctx context.Context, q querier, userID, roleID string) error {
	query := `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := q.Exec(ctx, query, userID, roleID)
	return mapError(err, "failed to assign role")
}

// UnassignRole снимает роль с пользователя
func (r *RoleRepository) UnassignRole(ctx context.Context, userID, roleID string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return mapError(err, "failed to unassign role")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to unassign role: %w", repository.ErrNotFound)
	}
	return nil
}

// RolesForUser возвращает роли пользователя
func (r *RoleRepository) RolesForUser(ctx context.Context, userID string) ([]domain.RoleRef, error) {
	query := `SELECT r.id, r.name FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`

	rows, err := r.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError(err, "failed to list user roles")
	}
	defer rows.Close()

	var roles []domain.RoleRef
	for rows.Next() {
		var ref domain.RoleRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, mapError(err, "failed to scan role")
		}
		roles = append(roles, ref)
	}
	return roles, mapError(rows.Err(), "failed to iterate user roles")
}

// PermissionsForUser возвращает права пользователя через все его роли
func (r *RoleRepository) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT p.permission FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1`

	rows, err := r.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError(err, "failed to resolve permissions")
	}
	defer rows.Close()

	var permissions []string
	for rows.Next() {
		var permission string
		if err := rows.Scan(&permission); err != nil {
			return nil, mapError(err, "failed to scan permission")
		}
		permissions = append(permissions, permission)
	}
	return permissions, mapError(rows.Err(), "failed to iterate permissions")
}

func scanRole(row pgx.Row) (*domain.Role, error) {
	var role domain.Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
		return nil, err
	}
	return &role, nil
}
