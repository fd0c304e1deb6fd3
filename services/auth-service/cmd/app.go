package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"CerberusPlatform/pkg/config"
	"CerberusPlatform/pkg/connection"
	"CerberusPlatform/pkg/database"
	pkgGrpc "CerberusPlatform/pkg/grpc"
	"CerberusPlatform/pkg/health"
	"CerberusPlatform/pkg/logger"
	"CerberusPlatform/pkg/metrics"
	"CerberusPlatform/pkg/rabbitmq"
	"CerberusPlatform/pkg/ratelimit"
	pkgRedis "CerberusPlatform/pkg/redis"
	"CerberusPlatform/services/auth-service/internal/domain"
	authHttp "CerberusPlatform/services/auth-service/internal/handler/http"
	"CerberusPlatform/services/auth-service/internal/pkg/jwt"
	"CerberusPlatform/services/auth-service/internal/pkg/password"
	"CerberusPlatform/services/auth-service/internal/repository"
	"CerberusPlatform/services/auth-service/internal/repository/memory"
	"CerberusPlatform/services/auth-service/internal/repository/postgres"
	redisRepo "CerberusPlatform/services/auth-service/internal/repository/redis"
	"CerberusPlatform/services/auth-service/internal/service"
)

const (
	healthCheckTimeout  = 5 * time.Second
	healthWatchInterval = 15 * time.Second
)

// repositories набор хранилищ сервиса
type repositories struct {
	users  repository.UserRepository
	tokens repository.TokenRepository
	keys   repository.APIKeyRepository
	roles  repository.RoleRepository
	audit  repository.AuditRepository
}

// closers закрывается в обратном порядке
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// listenGRPC занимает порт gRPC. При выключенном gRPC возвращает nil.
func listenGRPC(cfg *config.Config) (net.Listener, error) {
	if !cfg.GRPC.Enabled {
		return nil, nil
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	return listener, nil
}

func loadConfig(configFile string) (*config.Config, logger.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, appLogger, nil
}

func retryConfig(cfg *config.Config) connection.RetryConfig {
	retry := connection.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.InitialDelay = config.Duration(cfg.Retry.InitialDelay)
	retry.MaxDelay = config.Duration(cfg.Retry.MaxDelay)
	return retry
}

func connectPostgres(ctx context.Context, cfg *config.Config, appLogger logger.Logger) (*database.Postgres, error) {
	dbConfig := database.NewConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.User = cfg.Database.User
	dbConfig.Password = cfg.Database.Password
	dbConfig.Database = cfg.Database.Name
	dbConfig.SSLMode = cfg.Database.SSLMode
	dbConfig.MaxConns = cfg.Database.MaxConns
	dbConfig.MinConns = cfg.Database.MinConns
	dbConfig.Retry = retryConfig(cfg)

	return database.Connect(ctx, dbConfig, appLogger)
}

// runMigrate применяет миграции и завершается
func runMigrate(ctx context.Context, configFile string) error {
	cfg, appLogger, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	defer func() { _ = appLogger.Sync() }()

	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("migrate requires storage.driver=postgres, got %s", cfg.Storage.Driver)
	}

	db, err := connectPostgres(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.Migrate(ctx, db.Pool, postgres.Migrations(), appLogger)
}

// openStorage подключает хранилище согласно storage.driver
func openStorage(ctx context.Context, cfg *config.Config, appLogger logger.Logger, checker *health.CompositeChecker, cleanup *closers) (*repositories, error) {
	if cfg.Storage.Driver == "memory" {
		appLogger.Warn("Using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &repositories{
			users:  store.Users(),
			tokens: store.Tokens(),
			keys:   store.APIKeys(),
			roles:  store.Roles(),
			audit:  store.Audit(),
		}, nil
	}

	db, err := connectPostgres(ctx, cfg, appLogger)
	if err != nil {
		return nil, err
	}
	cleanup.add(db.Close)
	checker.Register("database", db.HealthCheck)

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, db.Pool, postgres.Migrations(), appLogger); err != nil {
			return nil, err
		}
	}

	return &repositories{
		users:  postgres.NewUserRepository(db.Pool),
		tokens: postgres.NewTokenRepository(db.Pool),
		keys:   postgres.NewAPIKeyRepository(db.Pool),
		roles:  postgres.NewRoleRepository(db.Pool),
		audit:  postgres.NewAuditRepository(db.Pool),
	}, nil
}

// openRateLimitStore возвращает хранилище счетчиков. Для памяти также
// возвращается функция очистки истекших окон.
func openRateLimitStore(ctx context.Context, cfg *config.Config, appLogger logger.Logger, checker *health.CompositeChecker, cleanup *closers) (ratelimit.Store, service.Sweeper, error) {
	if cfg.RateLimiting.Store == "memory" {
		store := ratelimit.NewMemoryStore()
		return store, store.Sweep, nil
	}

	redisConfig := pkgRedis.NewConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
	redisConfig.Retry = retryConfig(cfg)

	client, err := pkgRedis.Connect(ctx, redisConfig, appLogger)
	if err != nil {
		return nil, nil, err
	}
	cleanup.add(func() { _ = client.Close() })
	checker.Register("redis", client.HealthCheck)

	return redisRepo.NewRateLimitStore(client.Client), nil, nil
}

// auditWriter пишет события в хранилище и, если включено, публикует их в RabbitMQ
func auditWriter(ctx context.Context, cfg *config.Config, repos *repositories, appLogger logger.Logger, checker *health.CompositeChecker, cleanup *closers) (service.AuditWriter, error) {
	var writer service.AuditWriter = service.NewRepositoryAuditWriter(repos.audit)
	if !cfg.Audit.Publish {
		return writer, nil
	}

	rabbitConfig := rabbitmq.NewConfig()
	rabbitConfig.URL = cfg.RabbitMQ.URL
	rabbitConfig.Exchange = cfg.RabbitMQ.Exchange
	rabbitConfig.RoutingKey = cfg.RabbitMQ.RoutingKey
	rabbitConfig.Queue = cfg.RabbitMQ.Queue
	rabbitConfig.Retry = retryConfig(cfg)

	conn, err := rabbitmq.Connect(ctx, rabbitConfig, appLogger)
	if err != nil {
		return nil, err
	}
	cleanup.add(func() {
		if err := conn.Close(); err != nil {
			appLogger.Warn("Failed to close RabbitMQ connection", logger.Error(err))
		}
	})
	checker.Register("rabbitmq", conn.HealthCheck)

	publisher := service.NewPublisherAuditWriter(rabbitmq.NewProducer(conn, rabbitConfig))
	return service.FanOutAuditWriter{writer, publisher}, nil
}

func rateRules(cfg *config.Config) map[string]authHttp.RateRule {
	rules := make(map[string]authHttp.RateRule, len(cfg.RateLimiting.Rules))
	for path, rule := range cfg.RateLimiting.Rules {
		rules[path] = authHttp.RateRule{Limit: rule.Limit, Window: config.Duration(rule.Window)}
	}
	return rules
}

// runServe собирает зависимости и обслуживает запросы до отмены контекста
func runServe(ctx context.Context, configFile string) error {
	cfg, appLogger, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := appLogger.Sync(); err != nil {
			log.Printf("Error syncing logger: %v", err)
		}
	}()

	var cleanup closers
	defer cleanup.closeAll()

	checker := health.NewCompositeChecker(cfg.Version, healthCheckTimeout)

	repos, err := openStorage(ctx, cfg, appLogger, checker, &cleanup)
	if err != nil {
		return err
	}
	rateStore, sweepRateLimits, err := openRateLimitStore(ctx, cfg, appLogger, checker, &cleanup)
	if err != nil {
		return err
	}
	writer, err := auditWriter(ctx, cfg, repos, appLogger, checker, &cleanup)
	if err != nil {
		return err
	}

	metricCollector := metrics.NewMetrics(serviceName)
	shutdownTracing := metrics.InitializeOpenTelemetry(serviceName, cfg.Version)

	auditSink := service.NewAsyncAuditSink(writer, appLogger,
		service.WithQueueSize(cfg.Audit.QueueSize),
		service.WithAuditMetrics(metricCollector))

	ledger := service.NewLedger(repos.tokens, appLogger,
		service.WithPolicy(domain.PurposeSession, service.TokenPolicy{
			TTL:    config.Duration(cfg.Tokens.RefreshTokenTTL),
			Rotate: true,
		}),
		service.WithPolicy(domain.PurposeReset, service.TokenPolicy{
			TTL: config.Duration(cfg.Tokens.ResetTokenTTL),
		}))
	signer := jwt.NewSigner(cfg.JWT.Secret, config.Duration(cfg.JWT.AccessTokenTTL))
	authService := service.NewAuthService(repos.users, ledger, signer, password.NewPBKDF2Hasher(), auditSink, appLogger)
	apiKeyService := service.NewAPIKeyService(repos.keys, auditSink, appLogger)
	rbacService := service.NewRBACService(repos.roles, repos.users, auditSink, appLogger)

	// Порт gRPC занимается до старта HTTP сервера
	grpcListener, err := listenGRPC(cfg)
	if err != nil {
		return err
	}
	if grpcListener != nil {
		cleanup.add(func() { _ = grpcListener.Close() })
	}

	cleanupJob := service.NewCleanupJob(ledger, appLogger)
	if sweepRateLimits != nil {
		cleanupJob.AddSweeper("rate_limit_windows", sweepRateLimits)
	}
	if cfg.Maintenance.CleanupSchedule != "" {
		if err := cleanupJob.Start(ctx, cfg.Maintenance.CleanupSchedule); err != nil {
			return err
		}
	}

	if cfg.Admin.SetupToken == "" {
		appLogger.Warn("admin.setup_token is empty, /seed is disabled")
	}

	handler := authHttp.NewHandler(authHttp.Dependencies{
		Auth:       authService,
		APIKeys:    apiKeyService,
		RBAC:       rbacService,
		AuditLogs:  service.NewAuditLogService(repos.audit),
		Audit:      auditSink,
		Limiter:    ratelimit.NewFixedWindowLimiter(rateStore),
		Health:     checker,
		Metrics:    metricCollector,
		Logger:     appLogger,
		RateRules:  rateRules(cfg),
		SetupToken: cfg.Admin.SetupToken,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		appLogger.Info("Starting auth service server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *pkgGrpc.Server
	if grpcListener != nil {
		grpcServer = pkgGrpc.NewServer(appLogger)
		go grpcServer.WatchHealth(ctx, checker, healthWatchInterval)
		go func() {
			if err := grpcServer.Serve(grpcListener); err != nil {
				serverErrors <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err = <-serverErrors:
		appLogger.Error("Server failed", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		appLogger.Error("Server shutdown failed", logger.Error(shutdownErr))
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	cleanupJob.Stop(shutdownCtx)
	if closeErr := auditSink.Close(shutdownCtx); closeErr != nil {
		appLogger.Warn("Audit queue was not drained", logger.Error(closeErr))
	}
	if traceErr := shutdownTracing(shutdownCtx); traceErr != nil {
		appLogger.Warn("Failed to shut down tracing", logger.Error(traceErr))
	}

	appLogger.Info("Server stopped")
	return err
}
