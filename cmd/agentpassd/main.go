package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentpass/agentpass/pkg/api"
	"github.com/agentpass/agentpass/pkg/config"
	"github.com/agentpass/agentpass/pkg/credentials"
	"github.com/agentpass/agentpass/pkg/escalation"
	"github.com/agentpass/agentpass/pkg/identity"
	"github.com/agentpass/agentpass/pkg/middleware"
	"github.com/agentpass/agentpass/pkg/notify"
	"github.com/agentpass/agentpass/pkg/observability"
	"github.com/agentpass/agentpass/pkg/orchestrator"
	"github.com/agentpass/agentpass/pkg/registry"
	"github.com/agentpass/agentpass/pkg/screenshots"
	"github.com/agentpass/agentpass/pkg/session"
	"github.com/agentpass/agentpass/pkg/vault"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agentpassd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	logger.Info("starting agentpassd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(cfg.Server.ShutdownTimeout, logger)

	// OpenTelemetry
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers != nil {
		shutdown.Register("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	// Metrics
	var metrics *observability.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	// Vault
	vaultKey, err := loadVaultKey(cfg.Vault.KeyFile, logger)
	if err != nil {
		return err
	}
	store, err := vault.Open(vault.Config{Driver: cfg.Vault.Driver, DSN: cfg.Vault.DSN})
	if err != nil {
		return fmt.Errorf("failed to open vault store: %w", err)
	}
	v, err := vault.New(store, vaultKey)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to open vault: %w", err)
	}
	shutdown.Register("vault", func(ctx context.Context) error { return v.Close() })

	// Session cache
	sessions, redisClient, err := openSessionCache(cfg.Session)
	if err != nil {
		return err
	}
	shutdown.Register("session cache", func(ctx context.Context) error {
		sessions.Close()
		return nil
	})

	// Notification bus
	bus := notify.NewBusWithRetryConfig(logger, notify.RetryConfig{
		MaxAttempts:  cfg.Webhooks.RetryMaxAttempts,
		InitialDelay: cfg.Webhooks.RetryInitialDelay,
		MaxDelay:     cfg.Webhooks.RetryMaxDelay,
	})
	bus.StartRetryWorker(ctx)
	shutdown.Register("notification bus", func(ctx context.Context) error {
		bus.Close()
		return nil
	})

	// Escalation ledgers
	captchas := escalation.NewCaptchaLedger(cfg.Escalation.CaptchaTimeout, bus, metrics, logger)
	errs := escalation.NewErrorLedger(bus, metrics, logger)

	// Screenshot store
	shots, err := openScreenshotStore(ctx, cfg.Screenshots)
	if err != nil {
		return err
	}
	shutdown.Register("screenshot store", func(ctx context.Context) error { return shots.Close() })

	// Passport registry
	challenges := identity.NewChallengeRegistry(5 * time.Minute)
	reg := registry.New(v, challenges, bus, metrics, logger)

	// Orchestrator with browser and mail sidecars
	orch := orchestrator.New(
		orchestrator.Config{
			MaxRetries:       cfg.Orchestrator.MaxRetries,
			BackoffBase:      cfg.Orchestrator.BackoffBase,
			EmailWaitTimeout: cfg.Orchestrator.EmailWaitTimeout,
			EmailDomain:      cfg.Orchestrator.EmailDomain,
		},
		v, credentials.NewStore(v), sessions, captchas, errs,
		orchestrator.NewHTTPBrowser(cfg.Orchestrator.BrowserURL, cfg.Orchestrator.BrowserTimeout),
		orchestrator.NewHTTPEmail(cfg.Orchestrator.MailURL),
		shots, bus, metrics, logger)

	// Background maintenance sweeps
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Maintenance.Schedule, func() {
		runMaintenance(ctx, logger, sessions, captchas, errs, bus, cfg.Webhooks.LogRetention)
	}); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Maintenance.Schedule, err)
	}
	sweeper.Start()
	shutdown.Register("maintenance", func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})

	// API server
	httpLogger := logrus.New()
	httpLogger.SetFormatter(&logrus.JSONFormatter{})
	httpLogger.SetLevel(logrusLevel(cfg.Observability.LogLevel))

	var limiter *middleware.RateLimitMiddleware
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimitMiddleware(&middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.RateLimitPerMinute,
			WindowDuration:    time.Minute,
			BurstSize:         cfg.Server.RateLimitPerMinute / 10,
		}, nil)
	}

	apiServer := api.NewServer(api.Deps{
		Registry:     reg,
		Orchestrator: orch,
		Captchas:     captchas,
		Errors:       errs,
		Bus:          bus,
		Screenshots:  shots,
		Metrics:      metrics,
		RateLimiter:  limiter,
		Logger:       httpLogger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.WithField("addr", srv.Addr).Info("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	}()
	shutdown.Register("api server", srv.Shutdown)

	// Health and metrics server
	healthSrv := healthServer(cfg, store, redisClient, promRegistry, logger)
	go func() {
		logger.WithField("addr", healthSrv.Addr).Info("health server listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	shutdown.Register("health server", healthSrv.Shutdown)

	shutdown.WaitForShutdown()
	return nil
}

// loadVaultKey derives the vault encryption key from the service key
// file, generating the key on first start. The file holds the encoded
// Ed25519 private key and is readable by the service user only.
func loadVaultKey(path string, logger *observability.Logger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		keys, genErr := identity.GenerateKeyPair()
		if genErr != nil {
			return nil, genErr
		}
		if writeErr := os.WriteFile(path, []byte(keys.PrivateKey+"\n"), 0o600); writeErr != nil {
			return nil, fmt.Errorf("failed to write service key file: %w", writeErr)
		}
		logger.WithField("path", path).Info("generated new service key")
		return vault.DeriveVaultKey(keys.PrivateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read service key file: %w", err)
	}

	encoded := strings.TrimSpace(string(data))
	if _, err := identity.DecodePrivateKey(encoded); err != nil {
		return nil, fmt.Errorf("invalid service key file %s: %w", path, err)
	}
	return vault.DeriveVaultKey(encoded)
}

// openSessionCache builds the configured session cache and returns the
// redis client, if any, for health checks.
func openSessionCache(cfg config.SessionConfig) (session.Cache, *redis.Client, error) {
	switch cfg.Backend {
	case "redis":
		cache, err := session.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return cache, cache.Client(), nil
	default:
		return session.NewMemoryCache(cfg.TTL), nil, nil
	}
}

// openScreenshotStore builds the configured screenshot store
func openScreenshotStore(ctx context.Context, cfg config.ScreenshotsConfig) (screenshots.Store, error) {
	switch cfg.Backend {
	case "s3":
		return screenshots.NewS3Store(ctx, screenshots.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return screenshots.NewFilesystemStore(cfg.Dir)
	}
}

// healthServer builds the liveness/readiness/metrics server
func healthServer(cfg *config.Config, store vault.BlobStore, redisClient *redis.Client, promRegistry *prometheus.Registry, logger *observability.Logger) *http.Server {
	var db *sql.DB
	if dbStore, ok := store.(interface{ DB() *sql.DB }); ok {
		db = dbStore.DB()
	}
	health := observability.NewHealthChecker(db, redisClient)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Liveness)
	mux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", observability.Handler(promRegistry))
	}

	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// runMaintenance prunes expired and terminal records across stores. The
// passes are independent and run concurrently.
func runMaintenance(ctx context.Context, logger *observability.Logger, sessions session.Cache,
	captchas *escalation.CaptchaLedger, errs *escalation.ErrorLedger, bus *notify.Bus, logRetention time.Duration) {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := sessions.PruneExpired(ctx)
		if err != nil {
			return fmt.Errorf("session prune: %w", err)
		}
		if n > 0 {
			logger.WithField("count", n).Debug("pruned expired sessions")
		}
		return nil
	})
	g.Go(func() error {
		if n := captchas.PruneTerminal(); n > 0 {
			logger.WithField("count", n).Debug("pruned terminal escalations")
		}
		return nil
	})
	g.Go(func() error {
		if n := errs.PruneDecided(); n > 0 {
			logger.WithField("count", n).Debug("pruned decided error records")
		}
		return nil
	})
	g.Go(func() error {
		if n := bus.PruneDeliveryLogs(logRetention); n > 0 {
			logger.WithField("count", n).Debug("pruned webhook delivery logs")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Warn("maintenance sweep failed")
	}
}

// logrusLevel maps the configured level to logrus for the HTTP layer
func logrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
