// Package session caches authenticated browser sessions per passport and
// service so repeated authentication requests can skip the browser entirely.
//
// Sessions expire after a fixed TTL and are dropped lazily on read. Two
// backends are provided: an in-memory map for single-process deployments and
// a Redis-backed cache for deployments that need sessions to survive
// restarts.
package session
