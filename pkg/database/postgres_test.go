package database

import (
	"context"
	"net/url"
	"testing"
	"time"

	"CerberusPlatform/pkg/connection"
	"CerberusPlatform/pkg/logger"
)

// TestConnect_Unreachable проверяет, что подключение к недоступной базе завершается ошибкой
func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	config := NewConfig()
	config.Port = 1
	config.Retry = connection.RetryConfig{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond}

	if _, err := Connect(ctx, config, logger.NewNop()); err == nil {
		t.Error("Expected error when connecting to non-existent database")
	}
}

// TestHealthCheck проверяет health check без пула
func TestHealthCheck(t *testing.T) {
	postgres := &Postgres{}
	if err := postgres.HealthCheck(context.Background()); err == nil {
		t.Error("Expected error when pool is not initialized")
	}
}

// TestDSN проверяет экранирование параметров в строке подключения
func TestDSN(t *testing.T) {
	config := NewConfig()
	config.User = "auth"
	config.Password = "p@ss:word"
	config.Database = "cerberus"

	parsed, err := url.Parse(config.DSN())
	if err != nil {
		t.Fatalf("DSN is not a valid URL: %v", err)
	}

	password, _ := parsed.User.Password()
	if password != "p@ss:word" {
		t.Errorf("Expected password to survive escaping, got %q", password)
	}
	if parsed.Path != "/cerberus" {
		t.Errorf("Expected database path, got %s", parsed.Path)
	}
	if parsed.Query().Get("sslmode") != "disable" {
		t.Errorf("Expected sslmode=disable, got %s", parsed.Query().Get("sslmode"))
	}
}
