package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix распознаваемый префикс ключа
	Prefix = "crb_"
	// EntropyBytes количество случайных байт в ключе
	EntropyBytes = 32
	// DisplayPrefixLength длина отображаемого префикса ключа
	DisplayPrefixLength = 8
)

// Generate генерирует новый ключ API и его отображаемый префикс
func Generate() (plaintext, prefix string, err error) {
	buf := make([]byte, EntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintext = Prefix + hex.EncodeToString(buf)
	return plaintext, plaintext[:DisplayPrefixLength], nil
}

// LooksLikeKey проверяет, что значение похоже на ключ API, а не на JWT
func LooksLikeKey(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// ValidateFormat проверяет формат ключа: префикс и hex тело нужной длины
func ValidateFormat(key string) bool {
	if !strings.HasPrefix(key, Prefix) {
		return false
	}
	body := key[len(Prefix):]
	if len(body) != EntropyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// ExtractBearer извлекает учетные данные из заголовка Authorization
func ExtractBearer(authHeader string) (string, error) {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return "", fmt.Errorf("empty authorization header")
	}

	scheme, credentials, ok := strings.Cut(authHeader, " ")
	if !ok {
		return "", fmt.Errorf("invalid authorization header format")
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("unsupported authorization type: %s", scheme)
	}

	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		return "", fmt.Errorf("empty credentials")
	}
	return credentials, nil
}
