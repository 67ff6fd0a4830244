package observability

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is called during graceful shutdown
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager coordinates graceful shutdown of server components
type ShutdownManager struct {
	mu            sync.Mutex
	shutdownFuncs []namedShutdownFunc
	timeout       time.Duration
	logger        *Logger
}

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a shutdown manager with the given timeout
func NewShutdownManager(timeout time.Duration, logger *Logger) *ShutdownManager {
	return &ShutdownManager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown function; functions run in reverse registration
// order so dependents stop before their dependencies
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs all registered
// shutdown functions
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	sm.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	sm.Shutdown()
}

// Shutdown runs all registered shutdown functions within the timeout
func (sm *ShutdownManager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	funcs := make([]namedShutdownFunc, len(sm.shutdownFuncs))
	copy(funcs, sm.shutdownFuncs)
	sm.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		sm.logger.WithField("component", f.name).Info("shutting down component")
		if err := f.fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("component", f.name).Error("component shutdown failed")
		}
	}
	sm.logger.Info("shutdown complete")
}
