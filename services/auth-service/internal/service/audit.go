package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/pkg/metrics"
	"CerberusPlatform/pkg/rabbitmq"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
)

// Типы событий аудита
const (
	EventRegister               = "register"
	EventLogin                  = "login"
	EventLoginFailed            = "login_failed"
	EventRefresh                = "refresh"
	EventRevoke                 = "revoke"
	EventPasswordResetRequested = "password_reset_requested"
	EventPasswordResetFailed    = "password_reset_failed"
	EventPasswordResetCompleted = "password_reset_completed"
	EventAPIKeyCreated          = "api_key_created"
	EventAPIKeyRevoked          = "api_key_revoked"
	EventAuthzGranted           = "authz_granted"
	EventAuthzDenied            = "authz_denied"
	EventAdminBootstrapped      = "admin_bootstrapped"
	EventRoleAssigned           = "role_assigned"
	EventRoleUnassigned         = "role_unassigned"
	EventPermissionGranted      = "permission_granted"
	EventRoleDeleted            = "role_deleted"
)

// AuditSink принимает события безопасности. Record не блокирует
// вызывающего и не возвращает ошибок.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

// AuditWriter сохраняет событие в конкретное хранилище
type AuditWriter interface {
	Write(ctx context.Context, event *domain.AuditEvent) error
}

// NewAuditEvent создает событие с новым ID и текущим временем.
// metadata сериализуется в JSON, nil оставляет поле пустым.
func NewAuditEvent(eventType, userID, ipAddress string, metadata map[string]interface{}) domain.AuditEvent {
	event := domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		IPAddress: ipAddress,
		Timestamp: time.Now().UTC(),
	}
	if userID != "" {
		event.UserID = &userID
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			encoded := string(raw)
			event.Metadata = &encoded
		}
	}
	return event
}

// NopAuditSink отбрасывает все события
type NopAuditSink struct{}

// Record ничего не делает
func (NopAuditSink) Record(context.Context, domain.AuditEvent) {}

// RepositoryAuditWriter пишет события в журнал аудита репозитория
type RepositoryAuditWriter struct {
	repo repository.AuditRepository
}

// NewRepositoryAuditWriter создает новый экземпляр RepositoryAuditWriter
func NewRepositoryAuditWriter(repo repository.AuditRepository) *RepositoryAuditWriter {
	return &RepositoryAuditWriter{repo: repo}
}

// Write сохраняет событие
func (w *RepositoryAuditWriter) Write(ctx context.Context, event *domain.AuditEvent) error {
	return w.repo.Insert(ctx, event)
}

// PublisherAuditWriter публикует события в брокер сообщений
type PublisherAuditWriter struct {
	publisher rabbitmq.Publisher
}

// NewPublisherAuditWriter создает новый экземпляр PublisherAuditWriter
func NewPublisherAuditWriter(publisher rabbitmq.Publisher) *PublisherAuditWriter {
	return &PublisherAuditWriter{publisher: publisher}
}

// Write публикует событие в формате JSON
func (w *PublisherAuditWriter) Write(ctx context.Context, event *domain.AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return w.publisher.Publish(ctx, body, rabbitmq.WithMessageID(event.ID))
}

// FanOutAuditWriter передает событие всем писателям
type FanOutAuditWriter []AuditWriter

// Write вызывает каждого писателя и объединяет ошибки
func (f FanOutAuditWriter) Write(ctx context.Context, event *domain.AuditEvent) error {
	var errs []error
	for _, writer := range f {
		if err := writer.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncAuditSink очередь событий с фоновой записью.
// При переполнении очереди событие отбрасывается с предупреждением.
type AsyncAuditSink struct {
	writer       AuditWriter
	log          logger.Logger
	metrics      *metrics.Metrics
	queue        chan *domain.AuditEvent
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// AuditOption настройка AsyncAuditSink
type AuditOption func(*AsyncAuditSink)

// WithQueueSize задает емкость очереди
func WithQueueSize(size int) AuditOption {
	return func(s *AsyncAuditSink) {
		if size > 0 {
			s.queue = make(chan *domain.AuditEvent, size)
		}
	}
}

// WithAuditMetrics подключает метрики очереди
func WithAuditMetrics(m *metrics.Metrics) AuditOption {
	return func(s *AsyncAuditSink) {
		s.metrics = m
	}
}

// WithWriteTimeout ограничивает время записи одного события
func WithWriteTimeout(timeout time.Duration) AuditOption {
	return func(s *AsyncAuditSink) {
		s.writeTimeout = timeout
	}
}

const defaultAuditQueueSize = 1024

// NewAsyncAuditSink создает очередь и запускает фоновую запись
func NewAsyncAuditSink(writer AuditWriter, log logger.Logger, opts ...AuditOption) *AsyncAuditSink {
	s := &AsyncAuditSink{
		writer:       writer,
		log:          log,
		queue:        make(chan *domain.AuditEvent, defaultAuditQueueSize),
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// Record ставит событие в очередь
func (s *AsyncAuditSink) Record(ctx context.Context, event domain.AuditEvent) {
	if s.metrics != nil {
		s.metrics.RecordAuthEvent(event.EventType)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(ctx, &event, "audit sink is closed")
		return
	}

	select {
	case s.queue <- &event:
		if s.metrics != nil {
			s.metrics.SetAuditQueueSize(len(s.queue))
		}
	default:
		s.drop(ctx, &event, "audit queue is full")
	}
}

func (s *AsyncAuditSink) drop(ctx context.Context, event *domain.AuditEvent, reason string) {
	if s.metrics != nil {
		s.metrics.RecordAuditDropped()
	}
	s.log.Warn("Audit event dropped",
		logger.CtxField(ctx),
		logger.String("event_type", event.EventType),
		logger.String("reason", reason))
}

func (s *AsyncAuditSink) run() {
	defer close(s.done)

	for event := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.writer.Write(ctx, event); err != nil {
			s.log.Warn("Failed to write audit event",
				logger.String("event_id", event.ID),
				logger.String("event_type", event.EventType),
				logger.Error(err))
		}
		cancel()

		if s.metrics != nil {
			s.metrics.SetAuditQueueSize(len(s.queue))
		}
	}
}

// Close прекращает прием событий и ждет записи очереди или отмены ctx
func (s *AsyncAuditSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit queue not drained: %w", ctx.Err())
	}
}
