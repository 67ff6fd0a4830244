package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpass/agentpass/pkg/async"
	"github.com/agentpass/agentpass/pkg/observability"
)

// EventType represents the type of a bus event
type EventType string

const (
	EventAgentRegistered   EventType = "agent.registered"
	EventAgentLoggedIn     EventType = "agent.logged_in"
	EventAgentLoginFailed  EventType = "agent.login_failed"
	EventCredentialStored  EventType = "agent.credential_stored"
	EventCaptchaEscalated  EventType = "agent.captcha_escalated"
	EventErrorReported     EventType = "agent.error_reported"
	EventEscalationResolved EventType = "escalation.resolved"
	EventErrorDecided      EventType = "error.decided"
	EventPassportCreated   EventType = "passport.created"
	EventPassportRevoked   EventType = "passport.revoked"
)

// Event is a structured notification
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Endpoint is a registered webhook receiver
type Endpoint struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Secret      string      `json:"secret,omitempty"`
	Active      bool        `json:"active"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (e *Endpoint) wants(t EventType) bool {
	for _, et := range e.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Bus fans events out to webhook endpoints and in-process subscribers.
// Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	endpoints   map[string]*Endpoint
	subscribers []chan *Event

	client        *http.Client
	deliveryStore *DeliveryLogStore
	retryWorker   *RetryWorker
	retryPolicy   *RetryPolicy
	rateLimiter   *RateLimiter
	logger        *observability.Logger
}

// NewBus creates a notification bus with the default retry policy
func NewBus(logger *observability.Logger) *Bus {
	return NewBusWithRetryConfig(logger, DefaultRetryConfig())
}

// NewBusWithRetryConfig creates a notification bus with a custom
// redelivery policy
func NewBusWithRetryConfig(logger *observability.Logger, retryCfg RetryConfig) *Bus {
	deliveryStore := NewDeliveryLogStore(1000)

	b := &Bus{
		endpoints: make(map[string]*Endpoint),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveryStore: deliveryStore,
		retryPolicy:   NewRetryPolicy(retryCfg),
		rateLimiter:   NewRateLimiter(100, time.Minute),
		logger:        logger,
	}
	b.retryWorker = NewRetryWorker(b, deliveryStore, b.retryPolicy, logger)
	return b
}

// StartRetryWorker starts background redelivery of failed webhooks
func (b *Bus) StartRetryWorker(ctx context.Context) {
	b.retryWorker.Start(ctx, 30*time.Second)
}

// Close stops the retry worker and closes subscriber channels
func (b *Bus) Close() {
	b.retryWorker.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

// Register registers a webhook endpoint
func (b *Bus) Register(ep *Endpoint) error {
	if ep.URL == "" {
		return fmt.Errorf("endpoint URL is required")
	}
	if len(ep.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}

	ep.ID = uuid.NewString()
	ep.Active = true
	ep.CreatedAt = time.Now()
	ep.UpdatedAt = ep.CreatedAt

	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[ep.ID] = ep
	return nil
}

// Unregister removes an endpoint
func (b *Bus) Unregister(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[id]; !ok {
		return fmt.Errorf("endpoint not found")
	}
	delete(b.endpoints, id)
	return nil
}

// Get retrieves an endpoint by id
func (b *Bus) Get(id string) (*Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint not found")
	}
	return ep, nil
}

// List returns all registered endpoints
func (b *Bus) List() []*Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	return eps
}

// Subscribe returns a channel receiving every published event. The
// channel is buffered; events are dropped (and logged) when a subscriber
// falls behind, so a stalled consumer cannot block publication.
func (b *Bus) Subscribe(buffer int) <-chan *Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish dispatches an event to matching endpoints and all subscribers.
// Delivery is asynchronous and never returns a delivery error.
func (b *Bus) Publish(ctx context.Context, eventType EventType, data map[string]interface{}) *Event {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	subscribers := make([]chan *Event, len(b.subscribers))
	copy(subscribers, b.subscribers)
	var targets []*Endpoint
	for _, ep := range b.endpoints {
		if ep.Active && ep.wants(eventType) {
			targets = append(targets, ep)
		}
	}
	b.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			b.logger.WithField("event_type", string(eventType)).Warn("Subscriber channel full, dropping event")
		}
	}

	for _, ep := range targets {
		logEntry := &DeliveryLog{
			ID:         uuid.NewString(),
			EndpointID: ep.ID,
			EventID:    event.ID,
			EventType:  event.Type,
			URL:        ep.URL,
			Status:     DeliveryStatusPending,
			CreatedAt:  time.Now(),
		}
		b.deliveryStore.Add(logEntry)

		ep := ep
		async.SafeGo(ctx, 15*time.Second, "webhook delivery", func(ctx context.Context) error {
			b.deliverWithLog(ctx, ep, event, logEntry)
			return nil
		})
	}

	return event
}

// deliverWithLog attempts one delivery and records the outcome
func (b *Bus) deliverWithLog(ctx context.Context, ep *Endpoint, event *Event, logEntry *DeliveryLog) {
	logEntry.Attempts++
	start := time.Now()

	err := b.deliver(ctx, ep, event)
	logEntry.Duration = time.Since(start)

	policy := b.retryPolicy
	if err != nil {
		b.logger.WithFields(map[string]interface{}{
			"endpoint_id": ep.ID,
			"event_type":  string(event.Type),
			"error":       err.Error(),
		}).Warn("Webhook delivery failed")

		if policy.ShouldRetry(logEntry.Attempts, err) {
			logEntry.Status = DeliveryStatusRetrying
			next := policy.NextRetryTime(logEntry.Attempts)
			logEntry.NextRetryAt = &next
			logEntry.ErrorMessage = err.Error()
		} else {
			logEntry.markFailed(err.Error())
		}
	} else {
		logEntry.markSucceeded()
	}

	b.deliveryStore.Update(logEntry)
}

// deliver posts one event to one endpoint
func (b *Bus) deliver(ctx context.Context, ep *Endpoint, event *Event) error {
	if !b.rateLimiter.Allow(ep.ID) {
		return fmt.Errorf("rate limit exceeded for endpoint %s", ep.ID)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AgentPass-Event", string(event.Type))
	req.Header.Set("X-AgentPass-Event-ID", event.ID)
	req.Header.Set("X-AgentPass-Delivery", time.Now().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-AgentPass-Signature", Signature(payload, ep.Secret))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// DeliveryLogs returns delivery logs for an endpoint
func (b *Bus) DeliveryLogs(endpointID string, limit int) []*DeliveryLog {
	return b.deliveryStore.GetByEndpoint(endpointID, limit)
}

// DeliveryStats returns delivery statistics for an endpoint
func (b *Bus) DeliveryStats(endpointID string) DeliveryStats {
	return b.deliveryStore.GetStats(endpointID)
}

// PruneDeliveryLogs drops completed logs older than the cutoff
func (b *Bus) PruneDeliveryLogs(olderThan time.Duration) int {
	return b.deliveryStore.Prune(olderThan)
}

// Signature computes the HMAC-SHA256 signature header value for a payload
func Signature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies a webhook signature on the receiver side
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Signature(payload, secret)), []byte(signature))
}
