// Package async provides panic-safe goroutine spawning for
// fire-and-forget work such as webhook delivery, where a failure must be
// logged but never crash the process or block the caller.
package async
