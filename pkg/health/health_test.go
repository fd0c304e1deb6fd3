package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestCompositeChecker_AllHealthy проверяет работу проверки здоровья
func TestCompositeChecker_AllHealthy(t *testing.T) {
	checker := NewCompositeChecker("v1.0.0", time.Second)
	checker.Register("postgres", func(ctx context.Context) error { return nil })
	checker.Register("redis", func(ctx context.Context) error { return nil })

	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("Expected status 'healthy', got %s", status.Status)
	}
	if status.Timestamp.IsZero() {
		t.Error("Expected timestamp, got zero")
	}
	if status.Version != "v1.0.0" {
		t.Errorf("Expected version 'v1.0.0', got %s", status.Version)
	}
	if len(status.Services) != 2 {
		t.Errorf("Expected 2 services, got %d", len(status.Services))
	}
}

// TestCompositeChecker_Unhealthy проверяет деградацию при сбое зависимости
func TestCompositeChecker_Unhealthy(t *testing.T) {
	checker := NewCompositeChecker("v1.0.0", time.Second)
	checker.Register("postgres", func(ctx context.Context) error { return nil })
	checker.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	status := checker.Check(context.Background())

	if status.Healthy() {
		t.Fatal("Expected unhealthy status")
	}
	if got := status.Services["redis"]; got.Status != StatusUnhealthy || got.Details != "connection refused" {
		t.Errorf("Unexpected redis status: %+v", got)
	}
	if got := status.Services["postgres"]; got.Status != StatusHealthy {
		t.Errorf("Unexpected postgres status: %+v", got)
	}
}

// TestReadyHandler проверяет коды ответа ready эндпоинта
func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "ready", err: nil, wantCode: http.StatusOK},
		{name: "dependency down", err: errors.New("down"), wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCompositeChecker("test", time.Second)
			checker.Register("postgres", func(ctx context.Context) error { return tt.err })

			w := httptest.NewRecorder()
			ReadyHandler(checker)(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("Expected status code %d, got %d", tt.wantCode, w.Code)
			}
			if w.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got %s", w.Header().Get("Content-Type"))
			}
		})
	}
}

// TestHandler проверяет HTTP обработчик
func TestHandler(t *testing.T) {
	checker := NewCompositeChecker("v1.0.0", time.Second)
	checker.Register("redis", func(ctx context.Context) error { return errors.New("down") })

	w := httptest.NewRecorder()
	Handler(checker)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("Expected status 'unhealthy', got %s", response.Status)
	}
}

// TestLiveHandler проверяет live эндпоинт
func TestLiveHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LiveHandler()(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("Expected status 'alive', got %s", response["status"])
	}
}
