package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"CerberusPlatform/pkg/logger"
)

// RetryConfig содержит конфигурацию повторных попыток
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// JitterPercent разброс задержки в процентах (0 отключает)
	JitterPercent uint64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 25,
	}
}

// RetryFunc представляет функцию для повторной попытки
type RetryFunc func(ctx context.Context) error

// backoff строит экспоненциальную стратегию go-retry по конфигурации
func (c RetryConfig) backoff() retry.Backoff {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := c.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	b := retry.NewExponential(delay)
	if c.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.MaxDelay, b)
	}
	if c.JitterPercent > 0 {
		b = retry.WithJitterPercent(c.JitterPercent, b)
	}
	// Первая попытка не считается повтором
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// WithRetry выполняет функцию с экспоненциальной задержкой между попытками.
// Каждая ошибка операции считается временной.
func WithRetry(ctx context.Context, config RetryConfig, log logger.Logger, name string, operation RetryFunc) error {
	attempt := 0
	err := retry.Do(ctx, config.backoff(), func(ctx context.Context) error {
		attempt++
		if err := operation(ctx); err != nil {
			if log != nil {
				log.Warn("Connection attempt failed",
					logger.String("target", name),
					logger.Int("attempt", attempt),
					logger.Error(err))
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: operation failed after %d attempts: %w", name, attempt, err)
	}
	return nil
}
