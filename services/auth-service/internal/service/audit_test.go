package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/pkg/metrics"
	"CerberusPlatform/pkg/rabbitmq"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository/memory"
	"CerberusPlatform/services/auth-service/internal/service"
)

// blockingWriter зависает до закрытия release
type blockingWriter struct {
	release chan struct{}
	mu      sync.Mutex
	written []string
}

func (w *blockingWriter) Write(ctx context.Context, event *domain.AuditEvent) error {
	select {
	case <-w.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, event.EventType)
	return nil
}

type failingWriter struct{}

func (failingWriter) Write(context.Context, *domain.AuditEvent) error {
	return errors.New("audit storage unavailable")
}

func TestNewAuditEvent(t *testing.T) {
	event := service.NewAuditEvent(service.EventLogin, "user-1", "10.0.0.1", map[string]interface{}{"reason": "x"})

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, service.EventLogin, event.EventType)
	require.NotNil(t, event.UserID)
	assert.Equal(t, "user-1", *event.UserID)
	require.NotNil(t, event.Metadata)
	assert.JSONEq(t, `{"reason":"x"}`, *event.Metadata)

	anonymous := service.NewAuditEvent(service.EventLoginFailed, "", "unknown", nil)
	assert.Nil(t, anonymous.UserID)
	assert.Nil(t, anonymous.Metadata)
}

func TestAsyncAuditSink_WritesEvents(t *testing.T) {
	store := memory.NewStore()
	sink := service.NewAsyncAuditSink(service.NewRepositoryAuditWriter(store.Audit()), logger.NewNop())

	sink.Record(context.Background(), service.NewAuditEvent(service.EventRegister, "u", "ip", nil))
	sink.Record(context.Background(), service.NewAuditEvent(service.EventLogin, "u", "ip", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	_, total, err := store.Audit().List(context.Background(), domain.AuditFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// после закрытия события отбрасываются без паники
	sink.Record(context.Background(), service.NewAuditEvent(service.EventLogin, "u", "ip", nil))
}

func TestAsyncAuditSink_NeverBlocksOnHangingWriter(t *testing.T) {
	writer := &blockingWriter{release: make(chan struct{})}
	m := metrics.NewMetrics("auth_service_test")
	sink := service.NewAsyncAuditSink(writer, logger.NewNop(),
		service.WithQueueSize(2),
		service.WithAuditMetrics(m),
		service.WithWriteTimeout(time.Minute))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			sink.Record(context.Background(), service.NewAuditEvent(service.EventAuthzGranted, "u", "ip", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a hanging writer")
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.AuditDropped), float64(47))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.AuthEvents.WithLabelValues(service.EventAuthzGranted)))

	close(writer.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
}

func TestAsyncAuditSink_SwallowsWriterErrors(t *testing.T) {
	sink := service.NewAsyncAuditSink(failingWriter{}, logger.NewNop())

	sink.Record(context.Background(), service.NewAuditEvent(service.EventRevoke, "u", "ip", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sink.Close(ctx))
}

// MockPublisher мок для rabbitmq.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, body []byte, options ...rabbitmq.PublishOption) error {
	args := m.Called(ctx, body, options)
	return args.Error(0)
}

func TestPublisherAuditWriter(t *testing.T) {
	publisher := new(MockPublisher)
	event := service.NewAuditEvent(service.EventLogin, "user-1", "10.0.0.1", nil)

	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(body []byte) bool {
		var decoded domain.AuditEvent
		return json.Unmarshal(body, &decoded) == nil && decoded.ID == event.ID && decoded.EventType == service.EventLogin
	}), mock.Anything).Return(nil)

	writer := service.NewPublisherAuditWriter(publisher)
	require.NoError(t, writer.Write(context.Background(), &event))
	publisher.AssertExpectations(t)
}

func TestFanOutAuditWriter(t *testing.T) {
	store := memory.NewStore()
	writer := service.FanOutAuditWriter{failingWriter{}, service.NewRepositoryAuditWriter(store.Audit())}
	event := service.NewAuditEvent(service.EventLogin, "user-1", "ip", nil)

	err := writer.Write(context.Background(), &event)
	require.Error(t, err)

	_, total, err := store.Audit().List(context.Background(), domain.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "a failing writer must not stop the others")
}

func TestAuditLogService_List(t *testing.T) {
	store := memory.NewStore()
	audit := service.NewAuditLogService(store.Audit())
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		event := service.NewAuditEvent(service.EventLogin, "u", "ip", nil)
		event.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Audit().Insert(ctx, &event))
	}
	failed := service.NewAuditEvent(service.EventLoginFailed, "", "ip", nil)
	failed.Timestamp = base
	require.NoError(t, store.Audit().Insert(ctx, &failed))

	page, err := audit.List(ctx, 0, 500, "")
	require.NoError(t, err)
	assert.Equal(t, service.Pagination{Page: 1, Limit: 100, Total: 151}, page.Pagination)
	assert.Len(t, page.Data, 100)
	assert.Equal(t, base.Add(149*time.Second), page.Data[0].Timestamp)

	page, err = audit.List(ctx, 2, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 20, page.Pagination.Limit)
	assert.Len(t, page.Data, 20)

	page, err = audit.List(ctx, 1, 10, service.EventLoginFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, failed.ID, page.Data[0].ID)

	page, err = audit.List(ctx, 99, 10, service.EventLoginFailed)
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}
