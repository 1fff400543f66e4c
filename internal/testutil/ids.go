package testutil

import (
	"fmt"
	"sync"
)

// FixedIDs mints sequential operation ids ("op-000001", "op-000002", ...)
// in place of the engine's UUIDv7 generator. Stable ids keep tracker and
// journal assertions readable across runs.
type FixedIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDs creates a generator with the given prefix. An empty prefix
// defaults to "op".
func NewFixedIDs(prefix string) *FixedIDs {
	if prefix == "" {
		prefix = "op"
	}
	return &FixedIDs{prefix: prefix}
}

// Generate returns the next id in sequence.
func (g *FixedIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
