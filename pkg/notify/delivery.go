package notify

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog records one webhook delivery and its attempts
type DeliveryLog struct {
	ID           string         `json:"id"`
	EndpointID   string         `json:"endpoint_id"`
	EventID      string         `json:"event_id"`
	EventType    EventType      `json:"event_type"`
	URL          string         `json:"url"`
	Status       DeliveryStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
}

func (l *DeliveryLog) markSucceeded() {
	l.Status = DeliveryStatusSuccess
	l.ErrorMessage = ""
	now := time.Now()
	l.CompletedAt = &now
}

func (l *DeliveryLog) markFailed(msg string) {
	l.Status = DeliveryStatusFailed
	l.ErrorMessage = msg
	now := time.Now()
	l.CompletedAt = &now
}

// DeliveryLogStore is a bounded in-memory store of delivery logs
type DeliveryLogStore struct {
	mu      sync.RWMutex
	logs    map[string]*DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]*DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add stores a delivery log, evicting the oldest entries when full
func (s *DeliveryLogStore) Add(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	s.logs[log.ID] = log
}

// Get retrieves a delivery log by id
func (s *DeliveryLogStore) Get(id string) (*DeliveryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	return log, ok
}

// Update replaces a delivery log
func (s *DeliveryLogStore) Update(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.ID] = log
}

// GetByEndpoint returns delivery logs for an endpoint, newest first
func (s *DeliveryLogStore) GetByEndpoint(endpointID string, limit int) []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*DeliveryLog
	for _, log := range s.logs {
		if log.EndpointID == endpointID {
			result = append(result, log)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetPendingRetries returns logs whose retry time has arrived
func (s *DeliveryLogStore) GetPendingRetries() []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var result []*DeliveryLog
	for _, log := range s.logs {
		if log.Status == DeliveryStatusRetrying &&
			log.NextRetryAt != nil &&
			log.NextRetryAt.Before(now) {
			result = append(result, log)
		}
	}
	return result
}

// Prune removes completed logs older than the cutoff and returns the
// number removed
func (s *DeliveryLogStore) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, log := range s.logs {
		terminal := log.Status == DeliveryStatusSuccess || log.Status == DeliveryStatusFailed
		if terminal && log.CreatedAt.Before(cutoff) {
			delete(s.logs, id)
			removed++
		}
	}
	return removed
}

// evictOldest removes the oldest 10% of logs. Caller holds the lock.
func (s *DeliveryLogStore) evictOldest() {
	logs := make([]*DeliveryLog, 0, len(s.logs))
	for _, log := range s.logs {
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})

	evictCount := len(logs) / 10
	if evictCount == 0 {
		evictCount = 1
	}
	for i := 0; i < evictCount && i < len(logs); i++ {
		delete(s.logs, logs[i].ID)
	}
}

// GetStats aggregates delivery statistics for an endpoint
func (s *DeliveryLogStore) GetStats(endpointID string) DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := DeliveryStats{EndpointID: endpointID}
	for _, log := range s.logs {
		if log.EndpointID != endpointID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
		if log.CompletedAt != nil {
			stats.TotalDuration += log.Duration
		}
	}

	if stats.Successful > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

// DeliveryStats summarizes delivery outcomes for one endpoint
type DeliveryStats struct {
	EndpointID      string        `json:"endpoint_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
}
