package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"CerberusPlatform/pkg/ratelimit"
)

// incrementScript увеличивает счетчик и при первом обращении в окне
// ставит срок жизни. Возвращает {count, pttl}.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateLimitStore хранилище счетчиков фиксированного окна в Redis,
// общее для всех экземпляров сервиса
type RateLimitStore struct {
	client *redis.Client
	now    ratelimit.Clock
}

var _ ratelimit.Store = (*RateLimitStore)(nil)

// NewRateLimitStore создает новый экземпляр RateLimitStore
func NewRateLimitStore(client *redis.Client) *RateLimitStore {
	return &RateLimitStore{client: client, now: time.Now}
}

// Get возвращает текущее значение счетчика или 0, если ключа нет
func (s *RateLimitStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit counter: %w", err)
	}
	return count, nil
}

// Increment атомарно увеличивает счетчик ключа
func (s *RateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (ratelimit.Counter, error) {
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	values, err := incrementScript.Run(ctx, s.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return ratelimit.Counter{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if len(values) != 2 {
		return ratelimit.Counter{}, fmt.Errorf("unexpected rate limit script reply: %v", values)
	}

	return ratelimit.Counter{
		Count:     values[0],
		ExpiresAt: s.now().Add(time.Duration(values[1]) * time.Millisecond),
	}, nil
}
