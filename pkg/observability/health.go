package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker probes the vault database and the optional Redis session
// cache
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthChecker creates a health checker; either dependency may be nil
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms,omitempty"`
}

// Liveness always returns 200 while the process is running
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all dependencies; 503 when the vault database is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check probes every configured dependency
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dbStatus := h.checkDatabase(ctx)
		status.Dependencies["vault_db"] = dbStatus
		if dbStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		status.Dependencies["redis"] = redisStatus
		// Redis is an optional cache: degraded, not unhealthy
		if redisStatus.Status == StatusUnhealthy && status.Status != StatusUnhealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return DependencyStatus{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: time.Since(start) / time.Millisecond,
		}
	}
	return DependencyStatus{
		Status:  StatusHealthy,
		Latency: time.Since(start) / time.Millisecond,
	}
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return DependencyStatus{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: time.Since(start) / time.Millisecond,
		}
	}
	return DependencyStatus{
		Status:  StatusHealthy,
		Latency: time.Since(start) / time.Millisecond,
	}
}
