package session

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a cached session stays reusable.
const DefaultTTL = time.Hour

// Session is an authenticated browser session for one passport on one
// service.
type Session struct {
	PassportID string            `json:"passport_id"`
	Service    string            `json:"service"`
	Token      string            `json:"token,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Valid reports whether the session has not yet expired.
func (s *Session) Valid() bool {
	return time.Now().Before(s.ExpiresAt)
}

// Cache stores sessions keyed by passport ID and service.
type Cache interface {
	// Put stores a session, replacing any existing one for the same
	// passport and service.
	Put(ctx context.Context, sess *Session) error
	// Get returns the live session for the passport and service, or nil
	// when none exists or it has expired. Expired entries are removed.
	Get(ctx context.Context, passportID, service string) (*Session, error)
	// Delete removes the session for the passport and service if present.
	Delete(ctx context.Context, passportID, service string) error
	// PruneExpired removes all expired sessions and returns how many were
	// dropped.
	PruneExpired(ctx context.Context) (int, error)
	// Len returns the number of entries currently held, expired or not.
	Len(ctx context.Context) (int, error)
	// Close releases backend resources.
	Close() error
}

// MemoryCache is an in-process session cache.
type MemoryCache struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewMemoryCache creates an in-memory cache; a non-positive ttl falls back
// to DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// TTL returns the cache's session lifetime.
func (c *MemoryCache) TTL() time.Duration { return c.ttl }

func cacheKey(passportID, service string) string {
	return passportID + ":" + service
}

// Put stores a session, stamping CreatedAt and ExpiresAt.
func (c *MemoryCache) Put(ctx context.Context, sess *Session) error {
	now := time.Now()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[cacheKey(sess.PassportID, sess.Service)] = sess
	return nil
}

// Get returns the live session or nil, dropping it if expired.
func (c *MemoryCache) Get(ctx context.Context, passportID, service string) (*Session, error) {
	key := cacheKey(passportID, service)

	c.mu.RLock()
	sess, ok := c.sessions[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if sess.Valid() {
		return sess, nil
	}

	c.mu.Lock()
	// Re-check under the write lock; Put may have replaced the entry.
	if cur, ok := c.sessions[key]; ok && !cur.Valid() {
		delete(c.sessions, key)
	}
	c.mu.Unlock()
	return nil, nil
}

// Delete removes the session if present.
func (c *MemoryCache) Delete(ctx context.Context, passportID, service string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, cacheKey(passportID, service))
	return nil
}

// PruneExpired removes all expired sessions.
func (c *MemoryCache) PruneExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for key, sess := range c.sessions {
		if !sess.Valid() {
			delete(c.sessions, key)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of entries currently held.
func (c *MemoryCache) Len(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions), nil
}

// Close is a no-op for the in-memory cache.
func (c *MemoryCache) Close() error { return nil }
