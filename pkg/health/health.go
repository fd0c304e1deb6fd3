package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker интерфейс для проверки здоровья сервиса
type HealthChecker interface {
	Check(ctx context.Context) *HealthStatus
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Healthy возвращает true, если все зависимости доступны
func (s *HealthStatus) Healthy() bool {
	return s.Status == StatusHealthy
}

// Status представляет статус сервиса
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// CheckFunc проверка одной зависимости
type CheckFunc func(ctx context.Context) error

// CompositeChecker проверяет набор именованных зависимостей
type CompositeChecker struct {
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewCompositeChecker создает новый CompositeChecker
func NewCompositeChecker(version string, timeout time.Duration) *CompositeChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &CompositeChecker{
		version: version,
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

// Register добавляет проверку зависимости
func (c *CompositeChecker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check выполняет все проверки параллельно
func (c *CompositeChecker) Check(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]Status, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		c.mu.RLock()
		check := c.checks[name]
		c.mu.RUnlock()

		wg.Add(1)
		go func(i int, check CheckFunc) {
			defer wg.Done()
			if err := check(ctx); err != nil {
				results[i] = Status{Status: StatusUnhealthy, Details: err.Error()}
				return
			}
			results[i] = Status{Status: StatusHealthy}
		}(i, check)
	}
	wg.Wait()

	status := &HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   c.version,
	}
	if len(names) > 0 {
		status.Services = make(map[string]Status, len(names))
	}
	for i, name := range names {
		status.Services[name] = results[i]
		if results[i].Status != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

// Handler создает HTTP обработчик для health check эндпоинта.
// Всегда отвечает 200, состояние зависимостей передается в теле.
func Handler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checker.Check(r.Context()))
	}
}

// ReadyHandler создает HTTP обработчик для ready check эндпоинта
// Возвращает 503, если хотя бы одна зависимость недоступна
func ReadyHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// LiveHandler создает HTTP обработчик для live check эндпоинта
// Возвращает 200 если сервис жив
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
