package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/pkg/token"
	"CerberusPlatform/services/auth-service/internal/repository"
)

// Outcome результат погашения одноразового токена
type Outcome int

// Порядок проверки: NotFound, AlreadyConsumed, Expired, Valid
const (
	OutcomeValid Outcome = iota
	OutcomeNotFound
	OutcomeAlreadyConsumed
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAlreadyConsumed:
		return "already_consumed"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TokenPolicy политика жизненного цикла токенов одного назначения
type TokenPolicy struct {
	TTL time.Duration
	// Rotate: успешное погашение выпускает потомка вместо простого погашения
	Rotate bool
}

const (
	SessionTokenTTL = 7 * 24 * time.Hour
	ResetTokenTTL   = time.Hour
)

// DefaultPolicies возвращает политики по умолчанию
func DefaultPolicies() map[domain.Purpose]TokenPolicy {
	return map[domain.Purpose]TokenPolicy{
		domain.PurposeSession: {TTL: SessionTokenTTL, Rotate: true},
		domain.PurposeReset:   {TTL: ResetTokenTTL, Rotate: false},
	}
}

// Redemption итог погашения. Token и ExpiresAt заполнены только при ротации.
type Redemption struct {
	Outcome   Outcome
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Ledger хранилище одноразовых токенов с политиками по назначению
type Ledger struct {
	tokens   repository.TokenRepository
	policies map[domain.Purpose]TokenPolicy
	generate func() (string, error)
	now      func() time.Time
	log      logger.Logger
}

// LedgerOption настройка Ledger
type LedgerOption func(*Ledger)

// WithLedgerClock подменяет источник времени
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithTokenGenerator подменяет генератор значений токенов
func WithTokenGenerator(generate func() (string, error)) LedgerOption {
	return func(l *Ledger) {
		l.generate = generate
	}
}

// WithPolicy переопределяет политику для назначения
func WithPolicy(purpose domain.Purpose, policy TokenPolicy) LedgerOption {
	return func(l *Ledger) {
		l.policies[purpose] = policy
	}
}

// NewLedger создает новый экземпляр Ledger
func NewLedger(tokens repository.TokenRepository, log logger.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		tokens:   tokens,
		policies: DefaultPolicies(),
		generate: token.Generate,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) policy(purpose domain.Purpose) (TokenPolicy, error) {
	if !purpose.Valid() {
		return TokenPolicy{}, fmt.Errorf("unknown token purpose %q", purpose)
	}
	policy, ok := l.policies[purpose]
	if !ok {
		return TokenPolicy{}, fmt.Errorf("no policy for token purpose %q", purpose)
	}
	return policy, nil
}

// Issue выпускает новый токен. ttl <= 0 означает срок из политики.
func (l *Ledger) Issue(ctx context.Context, userID string, purpose domain.Purpose, ttl time.Duration) (string, error) {
	policy, err := l.policy(purpose)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = policy.TTL
	}

	var issued *domain.EphemeralToken
	err = l.withFreshValue(func(value string) error {
		now := l.now()
		issued = &domain.EphemeralToken{
			Token:     value,
			UserID:    userID,
			Purpose:   purpose,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		return l.tokens.Insert(ctx, issued)
	})
	if err != nil {
		return "", fmt.Errorf("failed to issue %s token: %w", purpose, err)
	}
	return issued.Token, nil
}

// withFreshValue вызывает store с новым значением токена и один раз
// повторяет попытку при нарушении уникальности
func (l *Ledger) withFreshValue(store func(value string) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var value string
		value, err = l.generate()
		if err != nil {
			return err
		}
		err = store(value)
		if !errors.Is(err, repository.ErrUniqueViolation) {
			return err
		}
	}
	return err
}

// Redeem погашает токен по политике назначения.
// Любой исход кроме OutcomeValid окончателен для вызова.
func (l *Ledger) Redeem(ctx context.Context, value string, purpose domain.Purpose) (*Redemption, error) {
	policy, err := l.policy(purpose)
	if err != nil {
		return nil, err
	}

	stored, err := l.tokens.Find(ctx, purpose, value)
	if errors.Is(err, repository.ErrNotFound) {
		return &Redemption{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s token: %w", purpose, err)
	}

	now := l.now()
	switch {
	case stored.Consumed():
		return &Redemption{Outcome: OutcomeAlreadyConsumed, UserID: stored.UserID}, nil
	case stored.Expired(now):
		return &Redemption{Outcome: OutcomeExpired, UserID: stored.UserID}, nil
	}

	if policy.Rotate {
		return l.rotate(ctx, stored, policy, now)
	}

	consumed, err := l.tokens.Consume(ctx, purpose, value, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s token: %w", purpose, err)
	}
	if !consumed {
		return &Redemption{Outcome: OutcomeAlreadyConsumed, UserID: stored.UserID}, nil
	}
	return &Redemption{Outcome: OutcomeValid, UserID: stored.UserID}, nil
}

func (l *Ledger) rotate(ctx context.Context, stored *domain.EphemeralToken, policy TokenPolicy, now time.Time) (*Redemption, error) {
	var child *domain.EphemeralToken
	rotated := false
	err := l.withFreshValue(func(value string) error {
		child = &domain.EphemeralToken{
			Token:     value,
			UserID:    stored.UserID,
			Purpose:   stored.Purpose,
			ExpiresAt: now.Add(policy.TTL),
			CreatedAt: now,
		}
		var err error
		rotated, err = l.tokens.Rotate(ctx, stored.Token, now, child)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rotate %s token: %w", stored.Purpose, err)
	}
	if !rotated {
		return &Redemption{Outcome: OutcomeAlreadyConsumed, UserID: stored.UserID}, nil
	}

	// Только что отозванный родитель остается, чтобы его повторное
	// предъявление распознавалось как AlreadyConsumed
	deleted, err := l.tokens.DeleteStaleForUser(ctx, stored.Purpose, stored.UserID, stored.Token, now)
	if err != nil {
		l.log.Warn("Failed to collect stale tokens",
			logger.CtxField(ctx),
			logger.String("user_id", stored.UserID),
			logger.Error(err))
	} else if deleted > 0 {
		l.log.Debug("Stale tokens collected",
			logger.String("user_id", stored.UserID),
			logger.Int64("deleted", deleted))
	}

	return &Redemption{
		Outcome:   OutcomeValid,
		UserID:    stored.UserID,
		Token:     child.Token,
		ExpiresAt: child.ExpiresAt,
	}, nil
}

// Revoke отзывает токен без выпуска потомка. Повторный отзыв успешен.
func (l *Ledger) Revoke(ctx context.Context, value string, purpose domain.Purpose) (*Redemption, error) {
	stored, err := l.tokens.Find(ctx, purpose, value)
	if errors.Is(err, repository.ErrNotFound) {
		return &Redemption{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s token: %w", purpose, err)
	}

	if _, err := l.tokens.Consume(ctx, purpose, value, l.now()); err != nil {
		return nil, fmt.Errorf("failed to revoke %s token: %w", purpose, err)
	}
	return &Redemption{Outcome: OutcomeValid, UserID: stored.UserID}, nil
}

// PurgeStale удаляет погашенные и истекшие токены всех пользователей
func (l *Ledger) PurgeStale(ctx context.Context, purpose domain.Purpose) (int64, error) {
	deleted, err := l.tokens.DeleteStale(ctx, purpose, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s tokens: %w", purpose, err)
	}
	return deleted, nil
}
