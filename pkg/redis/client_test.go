package redis

import (
	"context"
	"testing"
	"time"

	"CerberusPlatform/pkg/connection"
	"CerberusPlatform/pkg/logger"
)

// TestConnect_Unreachable проверяет ошибку подключения к недоступному Redis
func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	config := NewConfig()
	config.Addr = "127.0.0.1:1"
	config.Retry = connection.RetryConfig{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond}

	if _, err := Connect(ctx, config, logger.NewNop()); err == nil {
		t.Error("Expected error when connecting to non-existent redis")
	}
}

// TestHealthCheck проверяет health check без клиента
func TestHealthCheck(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("Expected error when client is not initialized")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Expected nil on closing empty client, got %v", err)
	}
}

// TestNewConfig проверяет значения по умолчанию
func TestNewConfig(t *testing.T) {
	config := NewConfig()
	if config.Addr != "localhost:6379" {
		t.Errorf("Expected default addr, got %s", config.Addr)
	}
	if config.Retry.MaxAttempts == 0 {
		t.Error("Expected retry attempts to be set")
	}
}
