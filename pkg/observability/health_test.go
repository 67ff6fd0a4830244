package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	checker.Liveness(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["status"] != StatusHealthy {
		t.Errorf("Expected status %q, got %v", StatusHealthy, body["status"])
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("healthy with no dependencies", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()

		checker.Readiness(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("healthy database", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create sqlmock: %v", err)
		}
		defer db.Close()
		mock.ExpectPing()

		checker := NewHealthChecker(db, nil)

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()

		checker.Readiness(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Dependencies["vault_db"].Status != StatusHealthy {
			t.Errorf("Expected vault_db to be healthy, got %s", status.Dependencies["vault_db"].Status)
		}
	})

	t.Run("unhealthy database returns 503", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create sqlmock: %v", err)
		}
		mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
		db.Close()

		checker := NewHealthChecker(db, nil)

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()

		checker.Readiness(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status code %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})

	t.Run("redis failure degrades but stays ready", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		mr.Close()

		checker := NewHealthChecker(nil, client)

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()

		checker.Readiness(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Status != StatusDegraded {
			t.Errorf("Expected overall status %q, got %q", StatusDegraded, status.Status)
		}
	})

	t.Run("healthy redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		checker := NewHealthChecker(nil, client)

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()

		checker.Readiness(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
		}
	})
}
