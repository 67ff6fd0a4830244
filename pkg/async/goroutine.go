package async

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// SafeGo executes fn in a goroutine with context cancellation, a timeout,
// panic recovery, and error logging. Use it instead of a bare `go func()`
// for any task whose failure must not take down the process.
//
// Example:
//
//	async.SafeGo(ctx, 15*time.Second, "webhook delivery", func(ctx context.Context) error {
//	    return bus.deliver(ctx, endpoint, event)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			// Logged, never propagated: the caller has already moved on
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}

// SafeGoNoError is SafeGo for functions that do not return errors
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
