// Package cache holds recently validated attestation results so that a chat
// turn does not trigger a fresh hardware quote round-trip every time.
// Staleness is bounded by the TTL and surfaced through VerifiedAt.
package cache

import (
	"sync"
	"time"

	"github.com/scrtlabs/attesthub/internal/baseline"
	"github.com/scrtlabs/attesthub/internal/quote"
)

// DefaultTTL bounds how long a validated attestation may be served without
// re-querying the VM.
const DefaultTTL = 300 * time.Second

// Entry pairs a validation verdict with the measurements it was derived
// from and the moment the attestation was actually performed.
type Entry struct {
	Verdict      *baseline.Verdict
	Measurements *quote.Measurements
	VerifiedAt   time.Time

	expiresAt time.Time
}

// Cache is a TTL cache keyed by VM identity. Expired entries are treated as
// absent and evicted lazily on the next access. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Entry
}

// New creates a cache with the given TTL. ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(ttl time.Duration, now func() time.Time) *Cache {
	c := New(ttl)
	c.now = now
	return c
}

// Get returns the cached entry for identity if it has not expired.
func (c *Cache) Get(identity string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[identity]
	if !ok {
		return Entry{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, identity)
		return Entry{}, false
	}
	return e, true
}

// Put stores a validated attestation for identity using the cache TTL.
func (c *Cache) Put(identity string, verdict *baseline.Verdict, m *quote.Measurements) {
	c.PutTTL(identity, verdict, m, c.ttl)
}

// PutTTL stores a validated attestation with an explicit TTL.
func (c *Cache) PutTTL(identity string, verdict *baseline.Verdict, m *quote.Measurements, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity] = Entry{
		Verdict:      verdict,
		Measurements: m,
		VerifiedAt:   now,
		expiresAt:    now.Add(ttl),
	}
}

// Purge drops the entry for identity, if any.
func (c *Cache) Purge(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, identity)
}

// Len counts non-expired entries, evicting expired ones as it goes.
func (c *Cache) Len() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
	return len(c.entries)
}
