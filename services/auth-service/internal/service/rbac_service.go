package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

const (
	MsgRoleNotFound       = "Role not found"
	MsgUserNotFound       = "User not found"
	MsgRoleNameExists     = "Role name already exists"
	MsgRoleInUse          = "Role is assigned to users"
	MsgPermissionRequired = "Permission is required"
	MsgPermissionNotFound = "Permission not found"
	MsgRoleIDRequired     = "roleId is required"
	MsgRoleNotAssigned    = "Role not assigned to user"
	MsgUserIDRequired     = "userId is required"
	MsgAdminRoleExists    = "Admin role already exists"
	adminRoleDescription  = "Administrator with full access"
)

// UserPermissions роли и права пользователя
type UserPermissions struct {
	Permissions []string         `json:"permissions"`
	Roles       []domain.RoleRef `json:"roles"`
}

// BootstrapResult результат первичной настройки администратора
type BootstrapResult struct {
	Role        string   `json:"role"`
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

// RBACService вычисление прав по ролям и администрирование ролей
type RBACService struct {
	roles repository.RoleRepository
	users repository.UserRepository
	audit AuditSink
	log   logger.Logger
	now   func() time.Time
}

// NewRBACService создает новый экземпляр RBACService
func NewRBACService(roles repository.RoleRepository, users repository.UserRepository, audit AuditSink, log logger.Logger) *RBACService {
	return &RBACService{
		roles: roles,
		users: users,
		audit: audit,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// PermissionsFor возвращает объединение прав всех ролей пользователя без повторов
func (s *RBACService) PermissionsFor(ctx context.Context, userID string) ([]string, error) {
	granted, err := s.roles.PermissionsForUser(ctx, userID)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}

	seen := make(map[string]struct{}, len(granted))
	permissions := make([]string, 0, len(granted))
	for _, permission := range granted {
		if _, ok := seen[permission]; ok {
			continue
		}
		seen[permission] = struct{}{}
		permissions = append(permissions, permission)
	}
	sort.Strings(permissions)
	return permissions, nil
}

// HasPermission проверяет наличие права у пользователя
func (s *RBACService) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	permissions, err := s.PermissionsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	idx := sort.SearchStrings(permissions, permission)
	return idx < len(permissions) && permissions[idx] == permission, nil
}

// RolesFor возвращает роли пользователя
func (s *RBACService) RolesFor(ctx context.Context, userID string) ([]domain.RoleRef, error) {
	roles, err := s.roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	if roles == nil {
		roles = []domain.RoleRef{}
	}
	return roles, nil
}

// UserPermissions возвращает права и роли существующего пользователя
func (s *RBACService) UserPermissions(ctx context.Context, userID string) (*UserPermissions, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	permissions, err := s.PermissionsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := s.RolesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserPermissions{Permissions: permissions, Roles: roles}, nil
}

// ListRoles возвращает все роли с правами
func (s *RBACService) ListRoles(ctx context.Context) ([]*domain.RoleWithPermissions, error) {
	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	if roles == nil {
		roles = []*domain.RoleWithPermissions{}
	}
	return roles, nil
}

// CreateRole создает роль с уникальным именем
func (s *RBACService) CreateRole(ctx context.Context, name string, description *string) (*domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgErrors.Validation(MsgNameRequired)
	}

	role := &domain.Role{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, pkgErrors.Conflict(MsgRoleNameExists)
		}
		return nil, pkgErrors.Internal(err)
	}
	return role, nil
}

// UpdateRole переименовывает роль и меняет описание
func (s *RBACService) UpdateRole(ctx context.Context, roleID, name string, description *string) (*domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgErrors.Validation(MsgNameRequired)
	}

	role, err := s.findRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	role.Name = name
	role.Description = description

	if err := s.roles.UpdateRole(ctx, role); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, pkgErrors.NotFound(MsgRoleNotFound)
		case errors.Is(err, repository.ErrUniqueViolation):
			return nil, pkgErrors.Conflict(MsgRoleNameExists)
		}
		return nil, pkgErrors.Internal(err)
	}
	return role, nil
}

// DeleteRole удаляет роль, если она никому не назначена
func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	err := s.roles.DeleteRole(ctx, roleID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return pkgErrors.NotFound(MsgRoleNotFound)
	case errors.Is(err, repository.ErrRoleInUse):
		return pkgErrors.Conflict(MsgRoleInUse)
	case err != nil:
		return pkgErrors.Internal(err)
	}

	s.audit.Record(ctx, NewAuditEvent(EventRoleDeleted, actorID(ctx), ClientIP(ctx),
		map[string]interface{}{"roleId": roleID}))
	return nil
}

// AssignPermission выдает роли право по имени, создавая право при необходимости
func (s *RBACService) AssignPermission(ctx context.Context, roleID, permissionName string) (*domain.Permission, error) {
	permissionName = strings.TrimSpace(permissionName)
	if permissionName == "" {
		return nil, pkgErrors.Validation(MsgPermissionRequired)
	}
	if _, err := s.findRole(ctx, roleID); err != nil {
		return nil, err
	}

	permission, err := s.roles.UpsertPermission(ctx, permissionName)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	if err := s.grant(ctx, roleID, permission.ID); err != nil {
		return nil, err
	}
	return permission, nil
}

// AssignPermissionByID выдает роли существующее право
func (s *RBACService) AssignPermissionByID(ctx context.Context, roleID, permissionID string) (*domain.Permission, error) {
	if _, err := s.findRole(ctx, roleID); err != nil {
		return nil, err
	}
	permission, err := s.roles.FindPermissionByID(ctx, permissionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, pkgErrors.NotFound(MsgPermissionNotFound)
	}
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	if err := s.grant(ctx, roleID, permissionID); err != nil {
		return nil, err
	}
	return permission, nil
}

func (s *RBACService) grant(ctx context.Context, roleID, permissionID string) error {
	err := s.roles.GrantPermission(ctx, roleID, permissionID)
	if errors.Is(err, repository.ErrNotFound) {
		return pkgErrors.NotFound(MsgRoleNotFound)
	}
	if err != nil {
		return pkgErrors.Internal(err)
	}

	s.audit.Record(ctx, NewAuditEvent(EventPermissionGranted, actorID(ctx), ClientIP(ctx),
		map[string]interface{}{"roleId": roleID, "permissionId": permissionID}))
	return nil
}

// AssignRole идемпотентно назначает роль пользователю
func (s *RBACService) AssignRole(ctx context.Context, userID, roleID string) error {
	if strings.TrimSpace(roleID) == "" {
		return pkgErrors.Validation(MsgRoleIDRequired)
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.findRole(ctx, roleID); err != nil {
		return err
	}

	if err := s.roles.AssignRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return pkgErrors.NotFound(MsgRoleNotFound)
		}
		return pkgErrors.Internal(err)
	}

	s.audit.Record(ctx, NewAuditEvent(EventRoleAssigned, actorID(ctx), ClientIP(ctx),
		map[string]interface{}{"userId": userID, "roleId": roleID}))
	return nil
}

// UnassignRole снимает роль с пользователя
func (s *RBACService) UnassignRole(ctx context.Context, userID, roleID string) error {
	err := s.roles.UnassignRole(ctx, userID, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return pkgErrors.NotFound(MsgRoleNotAssigned)
	}
	if err != nil {
		return pkgErrors.Internal(err)
	}

	s.audit.Record(ctx, NewAuditEvent(EventRoleUnassigned, actorID(ctx), ClientIP(ctx),
		map[string]interface{}{"userId": userID, "roleId": roleID}))
	return nil
}

// ListUsers возвращает всех пользователей
func (s *RBACService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	if users == nil {
		users = []*domain.User{}
	}
	return users, nil
}

// Bootstrap создает роль admin с правами управления и назначает ее пользователю
func (s *RBACService) Bootstrap(ctx context.Context, userID string) (*BootstrapResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgErrors.Validation(MsgUserIDRequired)
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	_, err := s.roles.FindRoleByName(ctx, domain.AdminRoleName)
	if err == nil {
		return nil, pkgErrors.Conflict(MsgAdminRoleExists)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, pkgErrors.Internal(err)
	}

	description := adminRoleDescription
	role := &domain.Role{
		ID:          uuid.NewString(),
		Name:        domain.AdminRoleName,
		Description: &description,
		CreatedAt:   s.now(),
	}
	permissions := []string{domain.PermissionManageRoles, domain.PermissionManageUsers}
	err = s.roles.Bootstrap(ctx, role, permissions, userID)
	switch {
	case errors.Is(err, repository.ErrUniqueViolation):
		return nil, pkgErrors.Conflict(MsgAdminRoleExists)
	case errors.Is(err, repository.ErrNotFound):
		return nil, pkgErrors.NotFound(MsgUserNotFound)
	case err != nil:
		return nil, pkgErrors.Internal(err)
	}

	s.log.Info("Admin role bootstrapped", logger.CtxField(ctx), logger.String("user_id", userID))
	s.audit.Record(ctx, NewAuditEvent(EventAdminBootstrapped, userID, ClientIP(ctx), nil))

	return &BootstrapResult{Role: domain.AdminRoleName, UserID: userID, Permissions: permissions}, nil
}

func (s *RBACService) requireUser(ctx context.Context, userID string) error {
	_, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return pkgErrors.NotFound(MsgUserNotFound)
	}
	if err != nil {
		return pkgErrors.Internal(err)
	}
	return nil
}

func (s *RBACService) findRole(ctx context.Context, roleID string) (*domain.Role, error) {
	role, err := s.roles.FindRoleByID(ctx, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, pkgErrors.NotFound(MsgRoleNotFound)
	}
	if err != nil {
		return nil, pkgErrors.Internal(err)
	}
	return role, nil
}

func actorID(ctx context.Context) string {
	if principal, ok := PrincipalFrom(ctx); ok {
		return principal.UserID
	}
	return ""
}
