package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

type junction struct {
	left, right string
}

// Store хранилище всех сущностей сервиса в памяти процесса.
// Все репозитории разделяют один мьютекс, поэтому проверки ссылочной
// целостности (например, удаление назначенной роли) атомарны.
type Store struct {
	mu sync.RWMutex

	users        map[string]*domain.User
	usersByEmail map[string]string

	tokens map[domain.Purpose]map[string]*domain.EphemeralToken

	apiKeys       map[string]*domain.APIKey
	apiKeysByHash map[string]string

	roles           map[string]*domain.Role
	rolesByName     map[string]string
	permissions     map[string]*domain.Permission
	permissionsByNm map[string]string
	rolePermissions map[junction]struct{}
	userRoles       map[junction]struct{}

	audit []*domain.AuditEvent
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		users:        make(map[string]*domain.User),
		usersByEmail: make(map[string]string),
		tokens: map[domain.Purpose]map[string]*domain.EphemeralToken{
			domain.PurposeSession: {},
			domain.PurposeReset:   {},
		},
		apiKeys:         make(map[string]*domain.APIKey),
		apiKeysByHash:   make(map[string]string),
		roles:           make(map[string]*domain.Role),
		rolesByName:     make(map[string]string),
		permissions:     make(map[string]*domain.Permission),
		permissionsByNm: make(map[string]string),
		rolePermissions: make(map[junction]struct{}),
		userRoles:       make(map[junction]struct{}),
	}
}

// Users возвращает репозиторий пользователей
func (s *Store) Users() *UserRepository { return &UserRepository{s} }

// Tokens возвращает репозиторий одноразовых токенов
func (s *Store) Tokens() *TokenRepository { return &TokenRepository{s} }

// APIKeys возвращает репозиторий API ключей
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{s} }

// Roles возвращает репозиторий ролей
func (s *Store) Roles() *RoleRepository { return &RoleRepository{s} }

// Audit возвращает журнал аудита
func (s *Store) Audit() *AuditRepository { return &AuditRepository{s} }

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
}

func conflict(op string) error {
	return fmt.Errorf("%s: %w", op, repository.ErrUniqueViolation)
}

// UserRepository пользователи в памяти
type UserRepository struct{ s *Store }

var _ repository.UserRepository = (*UserRepository)(nil)

// Create сохраняет нового пользователя
func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.usersByEmail[user.Email]; ok {
		return conflict("failed to create user")
	}
	if _, ok := r.s.users[user.ID]; ok {
		return conflict("failed to create user")
	}
	stored := *user
	r.s.users[user.ID] = &stored
	r.s.usersByEmail[user.Email] = user.ID
	return nil
}

// FindByID возвращает пользователя по ID
func (r *UserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, notFound("failed to get user by id")
	}
	found := *user
	return &found, nil
}

// FindByEmail возвращает пользователя по email
func (r *UserRepository) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.usersByEmail[email]
	if !ok {
		return nil, notFound("failed to get user by email")
	}
	found := *r.s.users[id]
	return &found, nil
}

// UpdatePassword заменяет хеш пароля
func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return notFound("failed to update password")
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = at
	return nil
}

// List возвращает всех пользователей в порядке регистрации
func (r *UserRepository) List(_ context.Context) ([]*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	users := make([]*domain.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		copied := *user
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// TokenRepository одноразовые токены в памяти
type TokenRepository struct{ s *Store }

var _ repository.TokenRepository = (*TokenRepository)(nil)

func (r *TokenRepository) table(purpose domain.Purpose) (map[string]*domain.EphemeralToken, error) {
	table, ok := r.s.tokens[purpose]
	if !ok {
		return nil, fmt.Errorf("unknown token purpose %q", purpose)
	}
	return table, nil
}

// Insert сохраняет новый токен
func (r *TokenRepository) Insert(_ context.Context, token *domain.EphemeralToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(token)
}

func (r *TokenRepository) insertLocked(token *domain.EphemeralToken) error {
	table, err := r.table(token.Purpose)
	if err != nil {
		return err
	}
	if _, ok := table[token.Token]; ok {
		return conflict("failed to insert token")
	}
	if _, ok := r.s.users[token.UserID]; !ok {
		return notFound("failed to insert token")
	}
	stored := *token
	stored.ConsumedAt = nil
	table[token.Token] = &stored
	return nil
}

// Find возвращает токен по значению
func (r *TokenRepository) Find(_ context.Context, purpose domain.Purpose, value string) (*domain.EphemeralToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	table, err := r.table(purpose)
	if err != nil {
		return nil, err
	}
	token, ok := table[value]
	if !ok {
		return nil, notFound("failed to find token")
	}
	found := *token
	return &found, nil
}

// Consume условно помечает токен погашенным
func (r *TokenRepository) Consume(_ context.Context, purpose domain.Purpose, value string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.consumeLocked(purpose, value, at)
}

func (r *TokenRepository) consumeLocked(purpose domain.Purpose, value string, at time.Time) (bool, error) {
	table, err := r.table(purpose)
	if err != nil {
		return false, err
	}
	token, ok := table[value]
	if !ok || token.ConsumedAt != nil {
		return false, nil
	}
	consumedAt := at
	token.ConsumedAt = &consumedAt
	return true, nil
}

// Rotate атомарно отзывает refresh токен и сохраняет потомка
func (r *TokenRepository) Rotate(_ context.Context, value string, at time.Time, child *domain.EphemeralToken) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	table := r.s.tokens[domain.PurposeSession]
	if _, exists := table[child.Token]; exists {
		return false, conflict("failed to insert token")
	}

	ok, err := r.consumeLocked(domain.PurposeSession, value, at)
	if err != nil || !ok {
		return false, err
	}
	if err := r.insertLocked(child); err != nil {
		// откатываем погашение, как откатилась бы транзакция
		table[value].ConsumedAt = nil
		return false, err
	}
	return true, nil
}

// DeleteStaleForUser удаляет погашенные и истекшие токены пользователя, кроме keep
func (r *TokenRepository) DeleteStaleForUser(_ context.Context, purpose domain.Purpose, userID, keep string, now time.Time) (int64, error) {
	return r.deleteStale(purpose, now, func(t *domain.EphemeralToken) bool { return t.UserID == userID && t.Token != keep })
}

// DeleteStale удаляет погашенные и истекшие токены всех пользователей
func (r *TokenRepository) DeleteStale(_ context.Context, purpose domain.Purpose, now time.Time) (int64, error) {
	return r.deleteStale(purpose, now, func(*domain.EphemeralToken) bool { return true })
}

func (r *TokenRepository) deleteStale(purpose domain.Purpose, now time.Time, match func(*domain.EphemeralToken) bool) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	table, err := r.table(purpose)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for value, token := range table {
		if match(token) && (token.Consumed() || token.Expired(now)) {
			delete(table, value)
			deleted++
		}
	}
	return deleted, nil
}

// APIKeyRepository API ключи в памяти
type APIKeyRepository struct{ s *Store }

var _ repository.APIKeyRepository = (*APIKeyRepository)(nil)

// Create сохраняет новый API ключ
func (r *APIKeyRepository) Create(_ context.Context, key *domain.APIKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.apiKeysByHash[key.KeyHash]; ok {
		return conflict("failed to create API key")
	}
	if _, ok := r.s.users[key.UserID]; !ok {
		return notFound("failed to create API key")
	}
	stored := *key
	r.s.apiKeys[key.ID] = &stored
	r.s.apiKeysByHash[key.KeyHash] = key.ID
	return nil
}

// FindByHash возвращает ключ по хешу
func (r *APIKeyRepository) FindByHash(_ context.Context, keyHash string) (*domain.APIKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.apiKeysByHash[keyHash]
	if !ok {
		return nil, notFound("failed to get API key by hash")
	}
	found := *r.s.apiKeys[id]
	return &found, nil
}

// ListByUser возвращает ключи пользователя
func (r *APIKeyRepository) ListByUser(_ context.Context, userID string) ([]*domain.APIKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var keys []*domain.APIKey
	for _, key := range r.s.apiKeys {
		if key.UserID == userID {
			copied := *key
			keys = append(keys, &copied)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys, nil
}

// Revoke отзывает ключ владельца
func (r *APIKeyRepository) Revoke(_ context.Context, id, ownerID string, at time.Time) (*domain.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key, ok := r.s.apiKeys[id]
	if !ok || key.UserID != ownerID {
		return nil, notFound("failed to revoke API key")
	}
	if key.RevokedAt == nil {
		revokedAt := at
		key.RevokedAt = &revokedAt
	}
	revoked := *key
	return &revoked, nil
}

// RoleRepository роли и права в памяти
type RoleRepository struct{ s *Store }

var _ repository.RoleRepository = (*RoleRepository)(nil)

// CreateRole сохраняет новую роль
func (r *RoleRepository) CreateRole(_ context.Context, role *domain.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rolesByName[role.Name]; ok {
		return conflict("failed to create role")
	}
	stored := *role
	r.s.roles[role.ID] = &stored
	r.s.rolesByName[role.Name] = role.ID
	return nil
}

// FindRoleByID возвращает роль по ID
func (r *RoleRepository) FindRoleByID(_ context.Context, id string) (*domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	role, ok := r.s.roles[id]
	if !ok {
		return nil, notFound("failed to get role by id")
	}
	found := *role
	return &found, nil
}

// FindRoleByName возвращает роль по имени
func (r *RoleRepository) FindRoleByName(_ context.Context, name string) (*domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.rolesByName[name]
	if !ok {
		return nil, notFound("failed to get role by name")
	}
	found := *r.s.roles[id]
	return &found, nil
}

// UpdateRole обновляет имя и описание роли
func (r *RoleRepository) UpdateRole(_ context.Context, role *domain.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.roles[role.ID]
	if !ok {
		return notFound("failed to update role")
	}
	if ownerID, taken := r.s.rolesByName[role.Name]; taken && ownerID != role.ID {
		return conflict("failed to update role")
	}
	delete(r.s.rolesByName, existing.Name)
	existing.Name = role.Name
	existing.Description = role.Description
	r.s.rolesByName[role.Name] = role.ID
	return nil
}

// ListRoles возвращает все роли с правами
func (r *RoleRepository) ListRoles(_ context.Context) ([]*domain.RoleWithPermissions, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	roles := make([]*domain.RoleWithPermissions, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		permissions := []string{}
		for link := range r.s.rolePermissions {
			if link.left == role.ID {
				permissions = append(permissions, r.s.permissions[link.right].Name)
			}
		}
		sort.Strings(permissions)
		roles = append(roles, &domain.RoleWithPermissions{Role: *role, Permissions: permissions})
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].CreatedAt.Equal(roles[j].CreatedAt) {
			return roles[i].ID < roles[j].ID
		}
		return roles[i].CreatedAt.Before(roles[j].CreatedAt)
	})
	return roles, nil
}

// DeleteRole удаляет роль и ее права, если роль никому не назначена
func (r *RoleRepository) DeleteRole(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	role, ok := r.s.roles[id]
	if !ok {
		return notFound("failed to delete role")
	}
	for link := range r.s.userRoles {
		if link.right == id {
			return repository.ErrRoleInUse
		}
	}
	for link := range r.s.rolePermissions {
		if link.left == id {
			delete(r.s.rolePermissions, link)
		}
	}
	delete(r.s.rolesByName, role.Name)
	delete(r.s.roles, id)
	return nil
}

// FindPermissionByID возвращает право по ID
func (r *RoleRepository) FindPermissionByID(_ context.Context, id string) (*domain.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	permission, ok := r.s.permissions[id]
	if !ok {
		return nil, notFound("failed to get permission by id")
	}
	found := *permission
	return &found, nil
}

// UpsertPermission возвращает право по имени, создавая его при отсутствии
func (r *RoleRepository) UpsertPermission(_ context.Context, name string) (*domain.Permission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id, ok := r.s.permissionsByNm[name]; ok {
		found := *r.s.permissions[id]
		return &found, nil
	}
	permission := &domain.Permission{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	r.s.permissions[permission.ID] = permission
	r.s.permissionsByNm[name] = permission.ID
	created := *permission
	return &created, nil
}

// GrantPermission идемпотентно связывает роль и право
func (r *RoleRepository) GrantPermission(_ context.Context, roleID, permissionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.roles[roleID]; !ok {
		return notFound("failed to grant permission")
	}
	if _, ok := r.s.permissions[permissionID]; !ok {
		return notFound("failed to grant permission")
	}
	r.s.rolePermissions[junction{roleID, permissionID}] = struct{}{}
	return nil
}

// AssignRole идемпотентно назначает роль пользователю
func (r *RoleRepository) AssignRole(_ context.Context, userID, roleID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[userID]; !ok {
		return notFound("failed to assign role")
	}
	if _, ok := r.s.roles[roleID]; !ok {
		return notFound("failed to assign role")
	}
	r.s.userRoles[junction{userID, roleID}] = struct{}{}
	return nil
}

// Bootstrap проверяет все условия до изменения состояния, поэтому ошибка ничего не оставляет
func (r *RoleRepository) Bootstrap(_ context.Context, role *domain.Role, permissionNames []string, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rolesByName[role.Name]; ok {
		return conflict("failed to create role")
	}
	if _, ok := r.s.users[userID]; !ok {
		return notFound("failed to assign role")
	}

	stored := *role
	r.s.roles[role.ID] = &stored
	r.s.rolesByName[role.Name] = role.ID

	now := time.Now().UTC()
	for _, name := range permissionNames {
		id, ok := r.s.permissionsByNm[name]
		if !ok {
			id = uuid.NewString()
			r.s.permissions[id] = &domain.Permission{ID: id, Name: name, CreatedAt: now}
			r.s.permissionsByNm[name] = id
		}
		r.s.rolePermissions[junction{role.ID, id}] = struct{}{}
	}
	r.s.userRoles[junction{userID, role.ID}] = struct{}{}
	return nil
}

// UnassignRole снимает роль с пользователя
func (r *RoleRepository) UnassignRole(_ context.Context, userID, roleID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	link := junction{userID, roleID}
	if _, ok := r.s.userRoles[link]; !ok {
		return notFound("failed to unassign role")
	}
	delete(r.s.userRoles, link)
	return nil
}

// RolesForUser возвращает роли пользователя
func (r *RoleRepository) RolesForUser(_ context.Context, userID string) ([]domain.RoleRef, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var roles []domain.RoleRef
	for link := range r.s.userRoles {
		if link.left == userID {
			role := r.s.roles[link.right]
			roles = append(roles, domain.RoleRef{ID: role.ID, Name: role.Name})
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// PermissionsForUser возвращает права пользователя через все его роли
func (r *RoleRepository) PermissionsForUser(_ context.Context, userID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var permissions []string
	for userLink := range r.s.userRoles {
		if userLink.left != userID {
			continue
		}
		for roleLink := range r.s.rolePermissions {
			if roleLink.left == userLink.right {
				permissions = append(permissions, r.s.permissions[roleLink.right].Name)
			}
		}
	}
	return permissions, nil
}

// AuditRepository журнал аудита в памяти
type AuditRepository struct{ s *Store }

var _ repository.AuditRepository = (*AuditRepository)(nil)

// Insert сохраняет событие аудита
func (r *AuditRepository) Insert(_ context.Context, event *domain.AuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *event
	r.s.audit = append(r.s.audit, &stored)
	return nil
}

// List возвращает страницу событий, новые первыми
func (r *AuditRepository) List(_ context.Context, filter domain.AuditFilter) ([]*domain.AuditEvent, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []*domain.AuditEvent
	for _, event := range r.s.audit {
		if filter.EventType == "" || event.EventType == filter.EventType {
			matched = append(matched, event)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if filter.Limit <= 0 || end > total {
		end = total
	}

	page := make([]*domain.AuditEvent, 0, end-start)
	for _, event := range matched[start:end] {
		copied := *event
		page = append(page, &copied)
	}
	return page, total, nil
}
