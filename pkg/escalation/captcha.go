package escalation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpass/agentpass/pkg/notify"
	"github.com/agentpass/agentpass/pkg/observability"
)

// DefaultCaptchaTimeout is how long a pending escalation waits for a human
// before it is considered abandoned.
const DefaultCaptchaTimeout = 5 * time.Minute

// CaptchaStatus is the lifecycle state of an escalation.
type CaptchaStatus string

const (
	CaptchaPending  CaptchaStatus = "pending"
	CaptchaResolved CaptchaStatus = "resolved"
	CaptchaTimedOut CaptchaStatus = "timed_out"
)

// ErrEscalationNotFound is returned for unknown escalation IDs.
var ErrEscalationNotFound = errors.New("escalation not found")

// ErrEscalationTimedOut is returned when resolving an escalation whose
// wait window has already elapsed.
var ErrEscalationTimedOut = errors.New("escalation already timed out")

// Escalation is one CAPTCHA handed off to a human.
type Escalation struct {
	ID          string        `json:"id"`
	PassportID  string        `json:"passport_id"`
	Service     string        `json:"service"`
	CaptchaType string        `json:"captcha_type"`
	PageURL     string        `json:"page_url,omitempty"`
	// ScreenshotRef points at the stored page capture, when one exists.
	ScreenshotRef string        `json:"screenshot_ref,omitempty"`
	Status        CaptchaStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}

// CaptchaLedger tracks CAPTCHA escalations in memory.
type CaptchaLedger struct {
	mu          sync.Mutex
	escalations map[string]*Escalation
	timeout     time.Duration
	bus         *notify.Bus
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewCaptchaLedger creates a ledger; bus and metrics may be nil, and a
// non-positive timeout falls back to DefaultCaptchaTimeout.
func NewCaptchaLedger(timeout time.Duration, bus *notify.Bus, metrics *observability.Metrics, logger *observability.Logger) *CaptchaLedger {
	if timeout <= 0 {
		timeout = DefaultCaptchaTimeout
	}
	return &CaptchaLedger{
		escalations: make(map[string]*Escalation),
		timeout:     timeout,
		bus:         bus,
		metrics:     metrics,
		logger:      logger,
	}
}

// Escalate records a CAPTCHA for human attention and returns the new
// escalation.
func (l *CaptchaLedger) Escalate(ctx context.Context, passportID, service, captchaType, pageURL, screenshotRef string) *Escalation {
	esc := &Escalation{
		ID:            uuid.NewString(),
		PassportID:    passportID,
		Service:       service,
		CaptchaType:   captchaType,
		PageURL:       pageURL,
		ScreenshotRef: screenshotRef,
		Status:        CaptchaPending,
		CreatedAt:     time.Now().UTC(),
	}

	l.mu.Lock()
	l.escalations[esc.ID] = esc
	l.mu.Unlock()

	l.logger.WithFields(map[string]interface{}{
		"escalation_id": esc.ID,
		"passport_id":   passportID,
		"service":       service,
		"captcha_type":  captchaType,
	}).Warn("captcha escalated to owner")

	if l.metrics != nil {
		l.metrics.CaptchaEscalations.WithLabelValues(captchaType).Inc()
		l.metrics.EscalationsPending.Inc()
	}
	if l.bus != nil {
		l.bus.Publish(ctx, notify.EventCaptchaEscalated, map[string]interface{}{
			"escalation_id": esc.ID,
			"passport_id":   passportID,
			"service":       service,
			"captcha_type":  captchaType,
			"page_url":      pageURL,
		})
	}

	return esc
}

// applyTimeout flips a pending escalation to timed_out once its window has
// elapsed. Callers must hold the lock.
func (l *CaptchaLedger) applyTimeout(esc *Escalation) {
	if esc.Status == CaptchaPending && time.Since(esc.CreatedAt) >= l.timeout {
		esc.Status = CaptchaTimedOut
		if l.metrics != nil {
			l.metrics.EscalationsPending.Dec()
		}
	}
}

// CheckResolution returns the escalation with its current status.
func (l *CaptchaLedger) CheckResolution(id string) (*Escalation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	esc, ok := l.escalations[id]
	if !ok {
		return nil, ErrEscalationNotFound
	}
	l.applyTimeout(esc)
	out := *esc
	return &out, nil
}

// Resolve marks a pending escalation resolved. Both terminal states are
// final: a resolved escalation never reverts past the timeout, and a
// timed-out one cannot be resolved late. Resolving an already-resolved
// escalation is a no-op that returns the record.
func (l *CaptchaLedger) Resolve(ctx context.Context, id string) (*Escalation, error) {
	l.mu.Lock()
	esc, ok := l.escalations[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrEscalationNotFound
	}
	l.applyTimeout(esc)
	if esc.Status == CaptchaTimedOut {
		l.mu.Unlock()
		return nil, ErrEscalationTimedOut
	}
	wasPending := esc.Status == CaptchaPending
	if esc.Status != CaptchaResolved {
		now := time.Now().UTC()
		esc.Status = CaptchaResolved
		esc.ResolvedAt = &now
	}
	out := *esc
	l.mu.Unlock()

	if wasPending && l.metrics != nil {
		l.metrics.EscalationsPending.Dec()
	}
	if l.bus != nil {
		l.bus.Publish(ctx, notify.EventEscalationResolved, map[string]interface{}{
			"escalation_id": out.ID,
			"passport_id":   out.PassportID,
			"service":       out.Service,
		})
	}

	return &out, nil
}

// List returns all escalations with timeouts applied.
func (l *CaptchaLedger) List() []*Escalation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Escalation, 0, len(l.escalations))
	for _, esc := range l.escalations {
		l.applyTimeout(esc)
		cp := *esc
		out = append(out, &cp)
	}
	return out
}

// PruneTerminal drops resolved and timed-out escalations and returns how
// many were removed.
func (l *CaptchaLedger) PruneTerminal() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for id, esc := range l.escalations {
		l.applyTimeout(esc)
		if esc.Status != CaptchaPending {
			delete(l.escalations, id)
			pruned++
		}
	}
	return pruned
}
