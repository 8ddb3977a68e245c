// Package cache provides a TTL-bounded in-memory cache for the
// read-heavy registry endpoints (asset listing, health overview).
// Registry state only changes on discovery passes and execution intake,
// so mutations invalidate the whole cache rather than tracking keys.
package cache

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

type entry struct {
	body       []byte
	expiresAt  time.Time
	insertedAt time.Time
}

// ResponseCache caches GET response bodies keyed by request URI. Expired
// entries are evicted lazily on read; at capacity the oldest entry (by
// insertion time) is dropped.
type ResponseCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	ttl        time.Duration
}

// New creates a response cache holding at most maxEntries bodies for ttl.
func New(maxEntries int, ttl time.Duration) *ResponseCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ResponseCache{
		entries:    make(map[string]*entry, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (c *ResponseCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

func (c *ResponseCache) set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &entry{
		body:       body,
		expiresAt:  now.Add(c.ttl),
		insertedAt: now,
	}
}

// InvalidateAll drops every cached response.
func (c *ResponseCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.maxEntries)
}

// Len returns the number of cached entries, counting any that expired
// but have not been read since.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest must be called with c.mu held.
func (c *ResponseCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.insertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// captureWriter records the status and body of a response on its way out.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware caches successful GET responses, keyed by request URI.
// Hits carry an X-Cache: HIT header; everything else passes through.
func (c *ResponseCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.RequestURI()
		if body, ok := c.get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		cw.Header().Set("X-Cache", "MISS")
		next.ServeHTTP(cw, r)

		if cw.status == http.StatusOK {
			c.set(key, cw.body.Bytes())
		}
	})
}

// InvalidateAfter wraps mutating handlers: any response below 400 drops
// the cached reads, since the registry just changed.
func (c *ResponseCache) InvalidateAfter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)
		if cw.status < http.StatusBadRequest {
			c.InvalidateAll()
		}
	})
}
