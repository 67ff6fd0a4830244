package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpass/agentpass/pkg/notify"
	"github.com/agentpass/agentpass/pkg/observability"
)

// RecoveryAction is what the owner wants the agent to do about a failed
// authentication step.
type RecoveryAction string

const (
	// ActionRetry re-runs the failed flow.
	ActionRetry RecoveryAction = "retry"
	// ActionSkip abandons the flow for this service.
	ActionSkip RecoveryAction = "skip"
	// ActionManual supplies owner-provided credentials to use instead.
	ActionManual RecoveryAction = "manual"
)

// ErrorStatus is the lifecycle state of an error record.
type ErrorStatus string

const (
	ErrorWaiting ErrorStatus = "waiting"
	ErrorDecided ErrorStatus = "decided"
)

// ErrRecordNotFound is returned for unknown error record IDs.
var ErrRecordNotFound = errors.New("error record not found")

// ManualCredentials carries owner-supplied credentials for ActionManual.
type ManualCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// Decision is the owner's answer to an error record.
type Decision struct {
	Action      RecoveryAction     `json:"action"`
	Credentials *ManualCredentials `json:"credentials,omitempty"`
	DecidedAt   time.Time          `json:"decided_at"`
}

// ErrorRecord is one failed authentication step waiting on the owner.
// Records never time out; they wait until decided or pruned.
type ErrorRecord struct {
	ID         string      `json:"id"`
	PassportID string      `json:"passport_id"`
	Service    string      `json:"service"`
	Step       string      `json:"step"`
	Message    string      `json:"message"`
	// ScreenshotRef points at the stored page capture, when one exists.
	ScreenshotRef string `json:"screenshot_ref,omitempty"`
	Status     ErrorStatus `json:"status"`
	Decision   *Decision   `json:"decision,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ErrorLedger tracks error records in memory.
type ErrorLedger struct {
	mu      sync.Mutex
	records map[string]*ErrorRecord
	bus     *notify.Bus
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewErrorLedger creates a ledger; bus and metrics may be nil.
func NewErrorLedger(bus *notify.Bus, metrics *observability.Metrics, logger *observability.Logger) *ErrorLedger {
	return &ErrorLedger{
		records: make(map[string]*ErrorRecord),
		bus:     bus,
		metrics: metrics,
		logger:  logger,
	}
}

// ReportError records a failed step and returns the new record.
func (l *ErrorLedger) ReportError(ctx context.Context, passportID, service, step, message, screenshotRef string) *ErrorRecord {
	rec := &ErrorRecord{
		ID:            uuid.NewString(),
		PassportID:    passportID,
		Service:       service,
		Step:          step,
		Message:       message,
		ScreenshotRef: screenshotRef,
		Status:        ErrorWaiting,
		CreatedAt:     time.Now().UTC(),
	}

	l.mu.Lock()
	l.records[rec.ID] = rec
	l.mu.Unlock()

	l.logger.WithFields(map[string]interface{}{
		"error_id":    rec.ID,
		"passport_id": passportID,
		"service":     service,
		"step":        step,
	}).Warn("authentication error reported to owner")

	if l.metrics != nil {
		l.metrics.ErrorReportsTotal.WithLabelValues(step).Inc()
		l.metrics.ErrorRecordsPending.Inc()
	}
	if l.bus != nil {
		l.bus.Publish(ctx, notify.EventErrorReported, map[string]interface{}{
			"error_id":    rec.ID,
			"passport_id": passportID,
			"service":     service,
			"step":        step,
			"message":     message,
		})
	}

	return rec
}

// Get returns the record for the given ID.
func (l *ErrorLedger) Get(id string) (*ErrorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := *rec
	return &out, nil
}

// GetOwnerDecision returns the decision for the record, or nil while the
// record is still waiting.
func (l *ErrorLedger) GetOwnerDecision(id string) (*Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if rec.Decision == nil {
		return nil, nil
	}
	out := *rec.Decision
	return &out, nil
}

// SubmitDecision records the owner's decision. ActionManual requires
// credentials; the other actions reject them. A record accepts exactly
// one decision.
func (l *ErrorLedger) SubmitDecision(ctx context.Context, id string, action RecoveryAction, creds *ManualCredentials) (*ErrorRecord, error) {
	switch action {
	case ActionRetry, ActionSkip:
		if creds != nil {
			return nil, fmt.Errorf("action %q does not take credentials", action)
		}
	case ActionManual:
		if creds == nil || creds.Username == "" || creds.Password == "" {
			return nil, fmt.Errorf("action %q requires a username and password", action)
		}
	default:
		return nil, fmt.Errorf("unknown recovery action %q", action)
	}

	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrRecordNotFound
	}
	if rec.Status == ErrorDecided {
		l.mu.Unlock()
		return nil, fmt.Errorf("error record %s already decided", id)
	}
	rec.Status = ErrorDecided
	rec.Decision = &Decision{
		Action:      action,
		Credentials: creds,
		DecidedAt:   time.Now().UTC(),
	}
	out := *rec
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.ErrorRecordsPending.Dec()
	}
	if l.bus != nil {
		l.bus.Publish(ctx, notify.EventErrorDecided, map[string]interface{}{
			"error_id":    out.ID,
			"passport_id": out.PassportID,
			"service":     out.Service,
			"action":      string(action),
		})
	}

	return &out, nil
}

// List returns all records.
func (l *ErrorLedger) List() []*ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*ErrorRecord, 0, len(l.records))
	for _, rec := range l.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// PruneDecided drops decided records and returns how many were removed.
func (l *ErrorLedger) PruneDecided() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for id, rec := range l.records {
		if rec.Status == ErrorDecided {
			delete(l.records, id)
			pruned++
		}
	}
	return pruned
}
