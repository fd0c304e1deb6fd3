package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 возвращает hex представление SHA-256 от значения.
// Используется для высокоэнтропийных секретов (API ключи), где медленный KDF не нужен.
func SHA256(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
