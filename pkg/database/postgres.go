package database

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"CerberusPlatform/pkg/connection"
	"CerberusPlatform/pkg/logger"
)

// Postgres представляет подключение к PostgreSQL
type Postgres struct {
	Pool *pgxpool.Pool
}

// Config представляет конфигурацию PostgreSQL
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Настройки пула соединений
	MaxConns    int
	MinConns    int
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
	// Настройки повторных подключений
	Retry connection.RetryConfig
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig() *Config {
	return &Config{
		Host:        "localhost",
		Port:        5432,
		User:        "postgres",
		Password:    "postgres",
		Database:    "postgres",
		SSLMode:     "disable",
		MaxConns:    20,
		MinConns:    2,
		MaxConnLife: 30 * time.Minute,
		MaxConnIdle: 5 * time.Minute,
		HealthCheck: 30 * time.Second,
		Retry:       connection.DefaultRetryConfig(),
	}
}

// DSN собирает строку подключения
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connect устанавливает подключение к PostgreSQL с retry логикой
func Connect(ctx context.Context, config *Config, log logger.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConns)
	poolConfig.MinConns = int32(config.MinConns)
	poolConfig.MaxConnLifetime = config.MaxConnLife
	poolConfig.MaxConnIdleTime = config.MaxConnIdle
	poolConfig.HealthCheckPeriod = config.HealthCheck

	var pool *pgxpool.Pool
	err = connection.WithRetry(ctx, config.Retry, log, "postgres", func(ctx context.Context) error {
		candidate, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("failed to create pool: %w", err)
		}
		if err := candidate.Ping(ctx); err != nil {
			candidate.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		pool = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Postgres{Pool: pool}, nil
}

// Close закрывает подключение к базе данных
func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// HealthCheck проверяет состояние подключения к базе данных
func (p *Postgres) HealthCheck(ctx context.Context) error {
	if p.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	var result string
	return p.Pool.QueryRow(ctx, "SELECT 'healthy'").Scan(&result)
}

// Migrate применяет SQL миграции goose из fsys (корень fsys содержит *.sql файлы)
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, log logger.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, result := range results {
		log.Info("Migration applied",
			logger.String("source", result.Source.Path),
			logger.Duration("duration", result.Duration))
	}
	return nil
}
