package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Size количество случайных байт в непрозрачном токене
const Size = 32

// Generate возвращает непрозрачный URL-безопасный токен без паддинга
func Generate() (string, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
