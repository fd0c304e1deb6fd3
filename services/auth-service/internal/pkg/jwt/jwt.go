package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTTL время жизни access токена по умолчанию
const DefaultAccessTTL = time.Hour

var (
	// ErrInvalidToken токен поврежден, подписан другим ключом или алгоритмом
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired срок действия токена истек
	ErrTokenExpired = errors.New("token expired")
)

// Claims содержимое access токена: sub, iat, exp
type Claims struct {
	jwt.RegisteredClaims
}

// Signer выпускает и проверяет HS256 токены
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option настройка Signer
type Option func(*Signer)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner создает новый экземпляр Signer
func NewSigner(secret string, ttl time.Duration, opts ...Option) *Signer {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	s := &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL возвращает время жизни выпускаемых токенов
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue выпускает токен со временем жизни по умолчанию
func (s *Signer) Issue(subject string) (string, error) {
	return s.IssueWithTTL(subject, s.ttl)
}

// IssueWithTTL выпускает токен для subject; exp - iat == ttl с точностью до секунды
func (s *Signer) IssueWithTTL(subject string, ttl time.Duration) (string, error) {
	issuedAt := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify проверяет подпись и срок действия токена
func (s *Signer) Verify(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
