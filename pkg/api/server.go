package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/google/uuid"

	"github.com/agentpass/agentpass/pkg/contextkeys"
	"github.com/agentpass/agentpass/pkg/escalation"
	"github.com/agentpass/agentpass/pkg/httputil"
	"github.com/agentpass/agentpass/pkg/middleware"
	"github.com/agentpass/agentpass/pkg/notify"
	"github.com/agentpass/agentpass/pkg/observability"
	"github.com/agentpass/agentpass/pkg/orchestrator"
	"github.com/agentpass/agentpass/pkg/registry"
	"github.com/agentpass/agentpass/pkg/screenshots"
)

// Deps bundles the collaborators the API server dispatches to. Metrics,
// bus, shots, and rate limiter may be nil; the corresponding routes
// then degrade (webhook routes 503, screenshot routes 404) or the
// middleware is skipped instead of panicking.
type Deps struct {
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Captchas     *escalation.CaptchaLedger
	Errors       *escalation.ErrorLedger
	Bus          *notify.Bus
	Screenshots  screenshots.Store
	Metrics      *observability.Metrics
	RateLimiter  *middleware.RateLimitMiddleware
	Logger       *logrus.Logger
}

// Server is the AgentPass HTTP API server
type Server struct {
	router   *mux.Router
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
	captchas *escalation.CaptchaLedger
	errs     *escalation.ErrorLedger
	bus      *notify.Bus
	shots    screenshots.Store
	metrics  *observability.Metrics
	limiter  *middleware.RateLimitMiddleware
	logger   *logrus.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		router:   mux.NewRouter(),
		registry: deps.Registry,
		orch:     deps.Orchestrator,
		captchas: deps.Captchas,
		errs:     deps.Errors,
		bus:      deps.Bus,
		shots:    deps.Screenshots,
		metrics:  deps.Metrics,
		limiter:  deps.RateLimiter,
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	if s.limiter != nil {
		s.router.Use(s.limiter.Handler)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Passport routes
	v1.HandleFunc("/passports", s.createPassport).Methods("POST")
	v1.HandleFunc("/passports", s.listPassports).Methods("GET")
	v1.HandleFunc("/passports/{id}", s.getPassport).Methods("GET")
	v1.HandleFunc("/passports/{id}/revoke", s.revokePassport).Methods("POST")

	// Challenge routes
	v1.HandleFunc("/passports/{id}/challenges", s.issueChallenge).Methods("POST")
	v1.HandleFunc("/passports/{id}/challenges/verify", s.verifyChallenge).Methods("POST")
	v1.HandleFunc("/passports/{id}/challenges/sign", s.signChallenge).Methods("POST")

	// Authentication routes
	v1.HandleFunc("/auth", s.authenticate).Methods("POST")
	v1.HandleFunc("/auth/status", s.authStatus).Methods("GET")

	// Human escalation routes
	v1.HandleFunc("/escalations", s.listEscalations).Methods("GET")
	v1.HandleFunc("/escalations/{id}", s.getEscalation).Methods("GET")
	v1.HandleFunc("/escalations/{id}/resolve", s.resolveEscalation).Methods("POST")
	v1.HandleFunc("/errors", s.listErrors).Methods("GET")
	v1.HandleFunc("/errors/{id}", s.getError).Methods("GET")
	v1.HandleFunc("/errors/{id}/decision", s.submitDecision).Methods("POST")

	// Webhook management routes
	v1.HandleFunc("/webhooks", s.createWebhook).Methods("POST")
	v1.HandleFunc("/webhooks", s.listWebhooks).Methods("GET")
	v1.HandleFunc("/webhooks/{id}", s.getWebhook).Methods("GET")
	v1.HandleFunc("/webhooks/{id}", s.deleteWebhook).Methods("DELETE")
	v1.HandleFunc("/webhooks/{id}/deliveries", s.webhookDeliveries).Methods("GET")
	v1.HandleFunc("/webhooks/{id}/stats", s.webhookStats).Methods("GET")

	// Screenshot routes
	v1.HandleFunc("/screenshots/{ref}", s.getScreenshot).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped with OpenTelemetry HTTP tracing
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "agentpass-api")
}

// statusRecorder captures the response status for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request and records HTTP metrics keyed by
// the mux route template, not the raw path, to bound label cardinality.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       path,
			"status":     rec.status,
			"duration":   duration.String(),
			"remote":     r.RemoteAddr,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Info("request handled")

		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(r.Method, path, rec.status, duration)
		}
	})
}

// requestIDMiddleware stamps each request with a UUID, honoring an
// X-Request-ID supplied by the caller, and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoveryMiddleware turns handler panics into 500 responses
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithField("panic", rec).Error("handler panicked")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
