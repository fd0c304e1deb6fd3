package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Counter текущее состояние счетчика окна
type Counter struct {
	Count     int64
	ExpiresAt time.Time
}

// Store хранилище счетчиков фиксированного окна.
// Increment должен быть атомарным для одного ключа: при первом обращении
// или после истечения окна счетчик сбрасывается в 1 с новым сроком now+window.
type Store interface {
	Get(ctx context.Context, key string) (int64, error)
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)
}

// Clock источник текущего времени
type Clock func() time.Time

// Decision результат проверки лимита
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter интерфейс для ограничения частоты запросов
type RateLimiter interface {
	// Admit учитывает запрос и решает, пропускать ли его
	Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// FixedWindowLimiter ограничитель с фиксированным окном поверх Store
type FixedWindowLimiter struct {
	store Store
}

// NewFixedWindowLimiter создает новый экземпляр FixedWindowLimiter
func NewFixedWindowLimiter(store Store) *FixedWindowLimiter {
	return &FixedWindowLimiter{store: store}
}

// Admit увеличивает счетчик ключа. Запрос с номером limit еще проходит,
// limit+1 уже отклоняется.
func (l *FixedWindowLimiter) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	counter, err := l.store.Increment(ctx, key, window)
	if err != nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	remaining := int64(limit) - counter.Count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   counter.Count <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   counter.ExpiresAt,
	}, nil
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore хранилище счетчиков в памяти процесса для одного экземпляра сервиса
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     Clock
}

// MemoryOption настройка MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock подменяет источник времени
func WithClock(clock Clock) MemoryOption {
	return func(s *MemoryStore) {
		s.now = clock
	}
}

// NewMemoryStore создает новый экземпляр MemoryStore
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get возвращает текущее значение счетчика или 0, если окно истекло
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}

// Increment атомарно увеличивает счетчик ключа
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &memoryEntry{count: 0, expiresAt: now.Add(window)}
		s.entries[key] = entry
	}
	entry.count++

	return Counter{Count: entry.count, ExpiresAt: entry.expiresAt}, nil
}

// Sweep удаляет истекшие счетчики и возвращает их количество
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
