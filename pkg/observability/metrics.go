package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the passport service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication flow metrics
	AuthAttemptsTotal   *prometheus.CounterVec
	AuthFlowDuration    *prometheus.HistogramVec
	AuthRetriesTotal    prometheus.Counter
	CaptchaEscalations  *prometheus.CounterVec
	ErrorReportsTotal   *prometheus.CounterVec
	ChallengesIssued    prometheus.Counter
	ChallengesVerified  *prometheus.CounterVec

	// Vault metrics
	VaultOperationsTotal   *prometheus.CounterVec
	VaultOperationDuration *prometheus.HistogramVec

	// Session cache metrics
	SessionCacheHits   prometheus.Counter
	SessionCacheMisses prometheus.Counter
	SessionsActive     prometheus.Gauge

	// Webhook metrics
	WebhookDeliveriesTotal  *prometheus.CounterVec
	WebhookDeliveryDuration prometheus.Histogram

	// Business metrics
	PassportsTotal        prometheus.Gauge
	EscalationsPending    prometheus.Gauge
	ErrorRecordsPending   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpass_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpass_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpass_auth_attempts_total",
				Help: "Total number of authentication attempts by method and outcome",
			},
			[]string{"method", "status"},
		),
		AuthFlowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpass_auth_flow_duration_seconds",
				Help:    "End-to-end authentication flow duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		AuthRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpass_auth_retries_total",
				Help: "Total number of browser operation retries",
			},
		),
		CaptchaEscalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpass_captcha_escalations_total",
				Help: "Total number of CAPTCHA escalations by captcha type",
			},
			[]string{"captcha_type"},
		),
		ErrorReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpass_error_reports_total",
				Help: "Total number of error records created by flow step",
			},
			[]string{"step"},
		),
		ChallengesIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpass_challenges_issued_total",
				Help: "Total number of challenges issued",
			},
		),
		ChallengesVerified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpass_challenges_verified_total",
				Help: "Total number of challenge verifications by outcome",
			},
			[]string{"result"},
		),
		VaultOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpass_vault_operations_total",
				Help: "Total number of vault operations",
			},
			[]string{"operation", "status"},
		),
		VaultOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpass_vault_operation_duration_seconds",
				Help:    "Vault operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		SessionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpass_session_cache_hits_total",
				Help: "Total number of session cache hits",
			},
		),
		SessionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpass_session_cache_misses_total",
				Help: "Total number of session cache misses",
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpass_sessions_active",
				Help: "Number of live cached sessions",
			},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpass_webhook_deliveries_total",
				Help: "Total number of webhook deliveries by status",
			},
			[]string{"status"},
		),
		WebhookDeliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentpass_webhook_delivery_duration_seconds",
				Help:    "Webhook delivery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		PassportsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpass_passports_total",
				Help: "Number of stored passports",
			},
		),
		EscalationsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpass_escalations_pending",
				Help: "Number of CAPTCHA escalations awaiting the owner",
			},
		),
		ErrorRecordsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpass_error_records_pending",
				Help: "Number of error records awaiting an owner decision",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.AuthFlowDuration,
		m.AuthRetriesTotal,
		m.CaptchaEscalations,
		m.ErrorReportsTotal,
		m.ChallengesIssued,
		m.ChallengesVerified,
		m.VaultOperationsTotal,
		m.VaultOperationDuration,
		m.SessionCacheHits,
		m.SessionCacheMisses,
		m.SessionsActive,
		m.WebhookDeliveriesTotal,
		m.WebhookDeliveryDuration,
		m.PassportsTotal,
		m.EscalationsPending,
		m.ErrorRecordsPending,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveVaultOperation records one vault operation
func (m *Metrics) ObserveVaultOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.VaultOperationsTotal.WithLabelValues(operation, status).Inc()
	m.VaultOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
