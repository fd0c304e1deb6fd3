package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/pkg/jwt"
	"CerberusPlatform/services/auth-service/internal/pkg/password"
	"CerberusPlatform/services/auth-service/internal/repository/memory"
	"CerberusPlatform/services/auth-service/internal/service"
)

const testSecret = "test-secret-with-at-least-32-bytes!!"

// recordingSink собирает события аудита синхронно
type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *recordingSink) Record(_ context.Context, event domain.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.events))
	for _, event := range s.events {
		types = append(types, event.EventType)
	}
	return types
}

func (s *recordingSink) last() domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

// clock управляемое время
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *memory.Store
	clock  *clock
	sink   *recordingSink
	ledger *service.Ledger
	auth   *service.AuthService
	keys   *service.APIKeyService
	rbac   *service.RBACService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewNop()
	store := memory.NewStore()
	clk := newTestClock()
	sink := &recordingSink{}
	ledger := service.NewLedger(store.Tokens(), log, service.WithLedgerClock(clk.Now))
	signer := jwt.NewSigner(testSecret, jwt.DefaultAccessTTL)

	return &fixture{
		store:  store,
		clock:  clk,
		sink:   sink,
		ledger: ledger,
		auth:   service.NewAuthService(store.Users(), ledger, signer, password.NewPBKDF2Hasher(), sink, log),
		keys:   service.NewAPIKeyService(store.APIKeys(), sink, log),
		rbac:   service.NewRBACService(store.Roles(), store.Users(), sink, log),
	}
}

func (f *fixture) register(t *testing.T, email string) *domain.User {
	t.Helper()
	user, err := f.auth.Register(context.Background(), email, "pw123456")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}
