package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations количество итераций PBKDF2
	Iterations = 100_000
	// SaltLength длина соли в байтах
	SaltLength = 16
	// KeyLength длина производного ключа в байтах
	KeyLength = 32
)

// Hasher интерфейс для работы с паролями
type Hasher interface {
	Hash(password string) (string, error)
	Check(password, stored string) bool
}

// PBKDF2Hasher хранит пароли в виде hex(salt):hex(PBKDF2-HMAC-SHA256)
type PBKDF2Hasher struct{}

// NewPBKDF2Hasher создает новый PBKDF2Hasher
func NewPBKDF2Hasher() *PBKDF2Hasher {
	return &PBKDF2Hasher{}
}

// Hash хеширует пароль со свежей случайной солью
func (h *PBKDF2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := derive(password, salt)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// Check проверяет пароль против сохраненного значения.
// Некорректный формат сохраненного значения означает несовпадение.
func (h *PBKDF2Hasher) Check(password, stored string) bool {
	saltHex, keyHex, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := hex.DecodeString(keyHex)
	if err != nil || len(expected) != KeyLength {
		return false
	}

	return subtle.ConstantTimeCompare(derive(password, salt), expected) == 1
}

func derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeyLength, sha256.New)
}
