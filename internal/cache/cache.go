// Package cache memoizes expensive parse and convert results keyed by file
// identity. An entry is served only while the file's (mtime, size) pair
// still matches what it had at cache time and the entry is younger than the
// TTL; either check failing is a miss and evicts the stale entry on the
// spot. The cache is an explicitly constructed service object, never a
// package-level singleton, so tests stay isolated.
package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultTTL         = 3600 * time.Second
	DefaultMaxEntries  = 1024
	DefaultMaxMemoryMB = 64
)

// Kind names one of the two cache sides.
type Kind string

const (
	KindAST Kind = "ast"
	KindIR  Kind = "ir"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	ASTHits   uint64 `json:"astHits"`
	ASTMisses uint64 `json:"astMisses"`
	IRHits    uint64 `json:"irHits"`
	IRMisses  uint64 `json:"irMisses"`
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"sizeBytes"`
	Evictions uint64 `json:"evictions"`
}

type key struct {
	kind Kind
	path string
}

type entry struct {
	value    any
	size     int64
	mtime    time.Time
	fileSize int64
	cachedAt time.Time
}

// Cache holds AST and IR conversion results for source files. Safe for
// concurrent use; each key is replaced atomically under the lock.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	maxBytes   int64
	now        func() time.Time
	logger     *slog.Logger

	mu        sync.Mutex
	entries   map[key]*entry
	sizeBytes int64
	astHits   uint64
	astMisses uint64
	irHits    uint64
	irMisses  uint64
	evictions uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the maximum entry age.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithMaxEntries sets the entry-count bound that triggers eviction.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithMaxMemoryMB sets the estimated-bytes bound that triggers eviction.
func WithMaxMemoryMB(mb int) Option {
	return func(c *Cache) { c.maxBytes = int64(mb) * 1024 * 1024 }
}

// WithClock replaces the wall clock, for deterministic TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New constructs an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		maxBytes:   int64(DefaultMaxMemoryMB) * 1024 * 1024,
		now:        time.Now,
		logger:     slog.Default(),
		entries:    make(map[key]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAST returns the cached AST for path, false on any miss.
func (c *Cache) GetAST(path string) (any, bool) {
	return c.get(KindAST, path)
}

// SetAST caches an AST for path, capturing the file's current identity.
func (c *Cache) SetAST(path string, ast any) {
	c.set(KindAST, path, ast)
}

// GetIR returns the cached IR document for path, false on any miss.
func (c *Cache) GetIR(path string) (ir.Document, bool) {
	v, ok := c.get(KindIR, path)
	if !ok {
		return ir.Document{}, false
	}
	doc, ok := v.(ir.Document)
	return doc, ok
}

// SetIR caches an IR document for path, capturing the file's current
// identity.
func (c *Cache) SetIR(path string, doc ir.Document) {
	c.set(KindIR, path, doc)
}

// Invalidate forcibly drops both cache kinds for a path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key{KindAST, path})
	c.removeLocked(key{KindIR, path})
}

// Reset drops every entry and zeroes all counters.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[key]*entry)
	c.sizeBytes = 0
	c.astHits, c.astMisses = 0, 0
	c.irHits, c.irMisses = 0, 0
	c.evictions = 0
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ASTHits:   c.astHits,
		ASTMisses: c.astMisses,
		IRHits:    c.irHits,
		IRMisses:  c.irMisses,
		Entries:   len(c.entries),
		SizeBytes: c.sizeBytes,
		Evictions: c.evictions,
	}
}

func (c *Cache) get(kind Kind, path string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{kind, path}
	e, ok := c.entries[k]
	if !ok {
		c.countLocked(kind, false)
		return nil, false
	}

	if c.now().Sub(e.cachedAt) >= c.ttl {
		c.removeLocked(k)
		c.countLocked(kind, false)
		return nil, false
	}

	info, err := os.Stat(path)
	if err != nil || !info.ModTime().Equal(e.mtime) || info.Size() != e.fileSize {
		c.removeLocked(k)
		c.countLocked(kind, false)
		return nil, false
	}

	c.countLocked(kind, true)
	return e.value, true
}

func (c *Cache) set(kind Kind, path string, value any) {
	info, err := os.Stat(path)
	if err != nil {
		// Nothing to validate future gets against; caching would serve
		// entries for a file we cannot identify.
		c.logger.Debug("cache set skipped, file unreadable", "kind", string(kind), "path", path, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{kind, path}
	c.removeLocked(k)
	e := &entry{
		value:    value,
		size:     estimateSize(value),
		mtime:    info.ModTime(),
		fileSize: info.Size(),
		cachedAt: c.now(),
	}
	c.entries[k] = e
	c.sizeBytes += e.size

	if len(c.entries) > c.maxEntries || c.sizeBytes > c.maxBytes {
		c.evictOldestLocked()
	}
}

func (c *Cache) countLocked(kind Kind, hit bool) {
	switch {
	case kind == KindAST && hit:
		c.astHits++
	case kind == KindAST:
		c.astMisses++
	case hit:
		c.irHits++
	default:
		c.irMisses++
	}
}

func (c *Cache) removeLocked(k key) {
	if e, ok := c.entries[k]; ok {
		c.sizeBytes -= e.size
		delete(c.entries, k)
	}
}

// evictOldestLocked drops the oldest 10% of entries by cache time, across
// both kinds combined, at least one.
func (c *Cache) evictOldestLocked() {
	type aged struct {
		k        key
		cachedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.cachedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].cachedAt.Equal(all[j].cachedAt) {
			return all[i].cachedAt.Before(all[j].cachedAt)
		}
		// Tie-break on key so eviction order is deterministic
		if all[i].k.path != all[j].k.path {
			return all[i].k.path < all[j].k.path
		}
		return all[i].k.kind < all[j].k.kind
	})

	n := len(all) / 10
	if n < 1 {
		n = 1
	}
	for _, a := range all[:n] {
		c.removeLocked(a.k)
		c.evictions++
	}
	c.logger.Debug("cache evicted oldest entries", "count", n, "remaining", len(c.entries))
}

// estimateSize approximates an entry's memory footprint by its serialized
// size. Opaque values that do not marshal get a flat estimate rather than
// failing the set.
func estimateSize(v any) int64 {
	const opaqueEstimate = 512
	switch val := v.(type) {
	case nil:
		return 0
	case []byte:
		return int64(len(val))
	case string:
		return int64(len(val))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return opaqueEstimate
	}
	return int64(len(data))
}
