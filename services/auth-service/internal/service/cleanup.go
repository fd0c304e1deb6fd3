package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
)

// Sweeper удаляет истекшие записи и возвращает их количество
type Sweeper func() int

// CleanupJob периодически удаляет погашенные и истекшие токены
type CleanupJob struct {
	ledger   *Ledger
	sweepers map[string]Sweeper
	cron     *cron.Cron
	logger   logger.Logger

	mu        sync.Mutex
	isRunning bool
}

// NewCleanupJob создает новый экземпляр CleanupJob
func NewCleanupJob(ledger *Ledger, log logger.Logger) *CleanupJob {
	return &CleanupJob{
		ledger:   ledger,
		sweepers: make(map[string]Sweeper),
		cron:     cron.New(),
		logger:   log,
	}
}

// AddSweeper регистрирует дополнительную очистку, например счетчиков лимитов в памяти
func (j *CleanupJob) AddSweeper(name string, sweeper Sweeper) {
	j.sweepers[name] = sweeper
}

// Start планирует очистку по cron выражению
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.isRunning {
		return nil
	}

	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup job %q: %w", schedule, err)
	}
	j.cron.Start()
	j.isRunning = true

	j.logger.Info("Cleanup job scheduled", logger.CtxField(ctx), logger.String("schedule", schedule))
	return nil
}

// Stop останавливает планировщик и ждет текущий запуск
func (j *CleanupJob) Stop(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.isRunning {
		return
	}
	j.isRunning = false

	stopped := j.cron.Stop()
	select {
	case <-stopped.Done():
		j.logger.Info("Cleanup job stopped", logger.CtxField(ctx))
	case <-ctx.Done():
		j.logger.Warn("Cleanup job stop timeout", logger.CtxField(ctx))
	}
}

// RunOnce выполняет одну очистку всех назначений токенов
func (j *CleanupJob) RunOnce(ctx context.Context) {
	start := time.Now()

	for _, purpose := range []domain.Purpose{domain.PurposeSession, domain.PurposeReset} {
		deleted, err := j.ledger.PurgeStale(ctx, purpose)
		if err != nil {
			j.logger.Error("Failed to purge stale tokens",
				logger.String("purpose", string(purpose)),
				logger.Error(err),
				logger.CtxField(ctx))
			continue
		}
		if deleted > 0 {
			j.logger.Info("Stale tokens purged",
				logger.String("purpose", string(purpose)),
				logger.Int64("deleted", deleted))
		}
	}

	for name, sweep := range j.sweepers {
		if removed := sweep(); removed > 0 {
			j.logger.Debug("Expired entries swept", logger.String("sweeper", name), logger.Int("removed", removed))
		}
	}

	j.logger.Debug("Cleanup finished", logger.Duration("duration", time.Since(start)))
}
