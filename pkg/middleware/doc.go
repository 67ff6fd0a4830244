// Package middleware provides HTTP middleware shared by the daemon's
// API surface, currently token bucket rate limiting keyed by client
// address with a tighter budget for authentication runs.
package middleware
