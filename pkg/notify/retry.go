package notify

import (
	"context"
	"math"
	"time"

	"github.com/agentpass/agentpass/pkg/observability"
)

// RetryConfig configures webhook redelivery behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff retry logic
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling in defaults for
// unset fields
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Minute
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry determines if a delivery should be retried
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay calculates the delay before the next retry
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// NextRetryTime calculates when the next retry should occur
func (p *RetryPolicy) NextRetryTime(attempts int) time.Time {
	return time.Now().Add(p.NextRetryDelay(attempts))
}

// RetryWorker periodically redelivers failed webhook deliveries
type RetryWorker struct {
	bus           *Bus
	deliveryStore *DeliveryLogStore
	retryPolicy   *RetryPolicy
	logger        *observability.Logger
	stopCh        chan struct{}
	ticker        *time.Ticker
}

// NewRetryWorker creates a retry worker over the bus's delivery store
func NewRetryWorker(bus *Bus, deliveryStore *DeliveryLogStore, retryPolicy *RetryPolicy, logger *observability.Logger) *RetryWorker {
	return &RetryWorker{
		bus:           bus,
		deliveryStore: deliveryStore,
		retryPolicy:   retryPolicy,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start begins scanning for due retries every checkInterval
func (w *RetryWorker) Start(ctx context.Context, checkInterval time.Duration) {
	w.ticker = time.NewTicker(checkInterval)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.WithField("panic", r).Error("Retry worker panicked")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-w.ticker.C:
				w.processRetries(ctx)
			}
		}
	}()
}

// Stop halts the worker
func (w *RetryWorker) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

// processRetries redelivers every due log entry
func (w *RetryWorker) processRetries(ctx context.Context) {
	for _, log := range w.deliveryStore.GetPendingRetries() {
		ep, err := w.bus.Get(log.EndpointID)
		if err != nil {
			log.markFailed("endpoint no longer registered")
			w.deliveryStore.Update(log)
			continue
		}
		if !ep.Active {
			log.markFailed("endpoint is inactive")
			w.deliveryStore.Update(log)
			continue
		}
		w.retryDelivery(ctx, ep, log)
	}
}

// retryDelivery attempts one redelivery. The original payload data is
// not retained in the log, so the replayed event carries ids only.
func (w *RetryWorker) retryDelivery(ctx context.Context, ep *Endpoint, log *DeliveryLog) {
	log.Attempts++

	event := &Event{
		ID:        log.EventID,
		Type:      log.EventType,
		Timestamp: log.CreatedAt,
		Data:      make(map[string]interface{}),
	}

	start := time.Now()
	err := w.bus.deliver(ctx, ep, event)
	log.Duration = time.Since(start)

	if err != nil {
		if w.retryPolicy.ShouldRetry(log.Attempts, err) {
			log.Status = DeliveryStatusRetrying
			next := w.retryPolicy.NextRetryTime(log.Attempts)
			log.NextRetryAt = &next
			log.ErrorMessage = err.Error()
		} else {
			log.markFailed("max retries exceeded: " + err.Error())
		}
	} else {
		log.markSucceeded()
	}

	w.deliveryStore.Update(log)
}
