package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/services/auth-service/internal/domain"
	"CerberusPlatform/services/auth-service/internal/repository"
	"CerberusPlatform/services/auth-service/internal/service"
)

func TestLedger_RotationChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "chain@test.com")

	tokenA, err := f.ledger.Issue(ctx, user.ID, domain.PurposeSession, 0)
	require.NoError(t, err)

	redemption, err := f.ledger.Redeem(ctx, tokenA, domain.PurposeSession)
	require.NoError(t, err)
	require.Equal(t, service.OutcomeValid, redemption.Outcome)
	tokenB := redemption.Token
	assert.NotEqual(t, tokenA, tokenB)
	assert.Equal(t, user.ID, redemption.UserID)
	assert.Equal(t, f.clock.Now().Add(service.SessionTokenTTL), redemption.ExpiresAt)

	redemption, err = f.ledger.Redeem(ctx, tokenA, domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConsumed, redemption.Outcome)

	redemption, err = f.ledger.Redeem(ctx, tokenB, domain.PurposeSession)
	require.NoError(t, err)
	require.Equal(t, service.OutcomeValid, redemption.Outcome)
	tokenC := redemption.Token

	redemption, err = f.ledger.Redeem(ctx, tokenB, domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConsumed, redemption.Outcome)

	// A собран при ротации B -> C
	redemption, err = f.ledger.Redeem(ctx, tokenA, domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeNotFound, redemption.Outcome)

	stored, err := f.store.Tokens().Find(ctx, domain.PurposeSession, tokenC)
	require.NoError(t, err)
	assert.False(t, stored.Consumed())
}

func TestLedger_ReuseBeforeCollectionIsAlreadyConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "reuse@test.com")

	tokenA, err := f.ledger.Issue(ctx, user.ID, domain.PurposeSession, 0)
	require.NoError(t, err)
	ok, err := f.store.Tokens().Consume(ctx, domain.PurposeSession, tokenA, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	redemption, err := f.ledger.Redeem(ctx, tokenA, domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConsumed, redemption.Outcome)
	assert.Empty(t, redemption.Token)
}

func TestLedger_OutcomePrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "precedence@test.com")

	redemption, err := f.ledger.Redeem(ctx, "unknown", domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeNotFound, redemption.Outcome)

	// погашенный и истекший токен дает AlreadyConsumed
	both, err := f.ledger.Issue(ctx, user.ID, domain.PurposeReset, time.Minute)
	require.NoError(t, err)
	_, err = f.store.Tokens().Consume(ctx, domain.PurposeReset, both, f.clock.Now())
	require.NoError(t, err)

	expired, err := f.ledger.Issue(ctx, user.ID, domain.PurposeReset, time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	redemption, err = f.ledger.Redeem(ctx, both, domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConsumed, redemption.Outcome)

	redemption, err = f.ledger.Redeem(ctx, expired, domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeExpired, redemption.Outcome)

	stored, err := f.store.Tokens().Find(ctx, domain.PurposeReset, expired)
	require.NoError(t, err)
	assert.False(t, stored.Consumed(), "expired token must not be consumed")
}

func TestLedger_ResetConsumesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "reset@test.com")

	value, err := f.ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	require.NoError(t, err)

	redemption, err := f.ledger.Redeem(ctx, value, domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeValid, redemption.Outcome)
	assert.Equal(t, user.ID, redemption.UserID)
	assert.Empty(t, redemption.Token, "reset redemption never mints a child")

	redemption, err = f.ledger.Redeem(ctx, value, domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConsumed, redemption.Outcome)
}

func TestLedger_ResetTokenExpiresAfterOneHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "hour@test.com")

	value, err := f.ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	require.NoError(t, err)

	f.clock.Advance(service.ResetTokenTTL)

	redemption, err := f.ledger.Redeem(ctx, value, domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeExpired, redemption.Outcome)
}

func TestLedger_ConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "race@test.com")

	value, err := f.ledger.Issue(ctx, user.ID, domain.PurposeSession, 0)
	require.NoError(t, err)

	var valid, consumed int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			redemption, err := f.ledger.Redeem(ctx, value, domain.PurposeSession)
			if err != nil {
				return
			}
			switch redemption.Outcome {
			case service.OutcomeValid:
				atomic.AddInt32(&valid, 1)
			case service.OutcomeAlreadyConsumed, service.OutcomeNotFound:
				atomic.AddInt32(&consumed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), valid)
	assert.Equal(t, int32(31), consumed)
}

func TestLedger_IssueRetriesOnceOnCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "collision@test.com")

	values := []string{"dup", "dup", "fresh"}
	var calls int32
	ledger := service.NewLedger(f.store.Tokens(), logger.NewNop(),
		service.WithTokenGenerator(func() (string, error) {
			n := atomic.AddInt32(&calls, 1)
			return values[n-1], nil
		}))

	first, err := ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	require.NoError(t, err)
	assert.Equal(t, "dup", first)

	second, err := ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	require.NoError(t, err)
	assert.Equal(t, "fresh", second)
	assert.Equal(t, int32(3), calls)
}

func TestLedger_IssueGivesUpAfterSecondCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "giveup@test.com")

	ledger := service.NewLedger(f.store.Tokens(), logger.NewNop(),
		service.WithTokenGenerator(func() (string, error) { return "same", nil }))

	_, err := ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	require.NoError(t, err)

	_, err = ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	assert.ErrorIs(t, err, repository.ErrUniqueViolation)
}

func TestLedger_RevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "revoke@test.com")

	value, err := f.ledger.Issue(ctx, user.ID, domain.PurposeSession, 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		redemption, err := f.ledger.Revoke(ctx, value, domain.PurposeSession)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeValid, redemption.Outcome)
	}

	redemption, err := f.ledger.Redeem(ctx, value, domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConsumed, redemption.Outcome)

	redemption, err = f.ledger.Revoke(ctx, "missing", domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeNotFound, redemption.Outcome)
}

// MockTokenRepository мок для TokenRepository
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Insert(ctx context.Context, token *domain.EphemeralToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) Find(ctx context.Context, purpose domain.Purpose, token string) (*domain.EphemeralToken, error) {
	args := m.Called(ctx, purpose, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EphemeralToken), args.Error(1)
}

func (m *MockTokenRepository) Consume(ctx context.Context, purpose domain.Purpose, token string, at time.Time) (bool, error) {
	args := m.Called(ctx, purpose, token, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenRepository) Rotate(ctx context.Context, token string, at time.Time, child *domain.EphemeralToken) (bool, error) {
	args := m.Called(ctx, token, at, child)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenRepository) DeleteStaleForUser(ctx context.Context, purpose domain.Purpose, userID, keep string, now time.Time) (int64, error) {
	args := m.Called(ctx, purpose, userID, keep, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTokenRepository) DeleteStale(ctx context.Context, purpose domain.Purpose, now time.Time) (int64, error) {
	args := m.Called(ctx, purpose, now)
	return args.Get(0).(int64), args.Error(1)
}

func TestLedger_CollectionFailureDoesNotFailRotation(t *testing.T) {
	ctx := context.Background()
	clk := newTestClock()
	repo := new(MockTokenRepository)

	repo.On("Find", ctx, domain.PurposeSession, "parent").Return(&domain.EphemeralToken{
		Token: "parent", UserID: "user-1", Purpose: domain.PurposeSession, ExpiresAt: clk.Now().Add(time.Hour),
	}, nil)
	repo.On("Rotate", ctx, "parent", clk.Now(), mock.AnythingOfType("*domain.EphemeralToken")).Return(true, nil)
	repo.On("DeleteStaleForUser", ctx, domain.PurposeSession, "user-1", "parent", clk.Now()).Return(int64(0), errors.New("connection reset"))

	ledger := service.NewLedger(repo, logger.NewNop(),
		service.WithLedgerClock(clk.Now),
		service.WithTokenGenerator(func() (string, error) { return "child", nil }))

	redemption, err := ledger.Redeem(ctx, "parent", domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeValid, redemption.Outcome)
	assert.Equal(t, "child", redemption.Token)
	repo.AssertExpectations(t)
}

func TestLedger_LostRotationIsAlreadyConsumed(t *testing.T) {
	ctx := context.Background()
	clk := newTestClock()
	repo := new(MockTokenRepository)

	repo.On("Find", ctx, domain.PurposeSession, "parent").Return(&domain.EphemeralToken{
		Token: "parent", UserID: "user-1", Purpose: domain.PurposeSession, ExpiresAt: clk.Now().Add(time.Hour),
	}, nil)
	repo.On("Rotate", ctx, "parent", clk.Now(), mock.Anything).Return(false, nil)

	ledger := service.NewLedger(repo, logger.NewNop(), service.WithLedgerClock(clk.Now))

	redemption, err := ledger.Redeem(ctx, "parent", domain.PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConsumed, redemption.Outcome)
	repo.AssertNotCalled(t, "DeleteStaleForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLedger_PurgeStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "purge@test.com")

	_, err := f.ledger.Issue(ctx, user.ID, domain.PurposeReset, time.Minute)
	require.NoError(t, err)
	live, err := f.ledger.Issue(ctx, user.ID, domain.PurposeReset, time.Hour)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	deleted, err := f.ledger.PurgeStale(ctx, domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = f.store.Tokens().Find(ctx, domain.PurposeReset, live)
	require.NoError(t, err)
}

func TestLedger_UnknownPurposeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "purpose@test.com")

	_, err := f.ledger.Issue(ctx, user.ID, domain.Purpose("invite"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown token purpose")

	_, err = f.ledger.Redeem(ctx, "whatever", domain.Purpose("invite"))
	assert.Error(t, err)
}

func TestLedger_WithPolicyOverridesTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "policy@test.com")

	ledger := service.NewLedger(f.store.Tokens(), logger.NewNop(),
		service.WithLedgerClock(f.clock.Now),
		service.WithPolicy(domain.PurposeReset, service.TokenPolicy{TTL: 10 * time.Minute}))

	value, err := ledger.Issue(ctx, user.ID, domain.PurposeReset, 0)
	require.NoError(t, err)

	f.clock.Advance(10*time.Minute + time.Second)

	redemption, err := ledger.Redeem(ctx, value, domain.PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeExpired, redemption.Outcome)
}
