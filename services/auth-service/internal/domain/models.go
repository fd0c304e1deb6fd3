package domain

import (
	"time"
)

// User представляет пользователя системы
// Пароль хранится как hex(salt):hex(PBKDF2-HMAC-SHA256), email уникален
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Purpose назначение одноразового токена
type Purpose string

const (
	// PurposeSession refresh токен сессии, при погашении ротируется
	PurposeSession Purpose = "session"
	// PurposeReset токен сброса пароля, погашается один раз
	PurposeReset Purpose = "reset"
)

// Valid проверяет, что назначение известно
func (p Purpose) Valid() bool {
	return p == PurposeSession || p == PurposeReset
}

// EphemeralToken одноразовый токен с ограниченным сроком действия
type EphemeralToken struct {
	Token      string     `json:"-"`
	UserID     string     `json:"user_id"`
	Purpose    Purpose    `json:"purpose"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Consumed возвращает true, если токен уже погашен или отозван
func (t *EphemeralToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// Expired возвращает true, если срок действия истек к моменту now
func (t *EphemeralToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// APIKey представляет API ключ для доступа к системе
// Открытый текст ключа не хранится: только SHA-256 и первые 8 символов
type APIKey struct {
	ID        string     `json:"id"`
	UserID    string     `json:"-"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	KeyPrefix string     `json:"keyPrefix"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt"`
}

// Revoked возвращает true, если ключ отозван
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Role роль пользователя
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"-"`
}

// RoleWithPermissions роль вместе с правами
type RoleWithPermissions struct {
	Role
	Permissions []string `json:"permissions"`
}

// RoleRef краткое представление роли
type RoleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Permission право доступа, создается лениво по имени
type Permission struct {
	ID        string    `json:"id"`
	Name      string    `json:"permission"`
	CreatedAt time.Time `json:"created_at"`
}

// Встроенные права администратора
const (
	PermissionManageRoles = "manage_roles"
	PermissionManageUsers = "manage_users"
	AdminRoleName         = "admin"
)

// AuditEvent запись журнала аудита
type AuditEvent struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	UserID    *string   `json:"userId"`
	IPAddress string    `json:"ipAddress"`
	Metadata  *string   `json:"metadata"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditFilter параметры выборки журнала аудита
type AuditFilter struct {
	EventType string
	Limit     int
	Offset    int
}

// AuthMethod способ аутентификации запроса
type AuthMethod string

const (
	AuthMethodJWT    AuthMethod = "jwt"
	AuthMethodAPIKey AuthMethod = "api_key"
)

// Principal аутентифицированный субъект запроса
type Principal struct {
	UserID   string     `json:"user_id"`
	Method   AuthMethod `json:"method"`
	APIKeyID string     `json:"api_key_id,omitempty"`
}
