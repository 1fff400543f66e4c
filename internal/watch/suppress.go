package watch

import (
	"sync"
	"time"
)

// DefaultSuppressionWindow covers write-then-fsync latency plus the
// debounce delay for files the engine writes itself.
const DefaultSuppressionWindow = 500 * time.Millisecond

// Suppressor is the self-write suppression table. The engine registers a
// path right before writing it; watch events for that path whose detection
// time falls inside the window are dropped. This is what breaks the
// convert-A, generate-B, watch-B, convert-B, generate-A feedback loop.
type Suppressor struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	until map[string]time.Time
	drops uint64
}

// SuppressorOption configures a Suppressor.
type SuppressorOption func(*Suppressor)

// WithSuppressorClock replaces the wall clock, for deterministic tests.
func WithSuppressorClock(now func() time.Time) SuppressorOption {
	return func(s *Suppressor) { s.now = now }
}

// NewSuppressor creates a table with the given window; zero or negative
// means DefaultSuppressionWindow.
func NewSuppressor(window time.Duration, opts ...SuppressorOption) *Suppressor {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	s := &Suppressor{
		window: window,
		now:    time.Now,
		until:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register opens (or extends) the suppression window for a path, starting
// now. Call immediately before writing the file.
func (s *Suppressor) Register(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[path] = s.now().Add(s.window)
}

// Suppressed reports whether an event on path detected at the given time
// falls inside the path's window. A true result counts as a drop; expired
// entries are removed on the way.
func (s *Suppressor) Suppressed(path string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.until[path]
	if !ok {
		return false
	}
	if !at.Before(until) {
		delete(s.until, path)
		return false
	}
	s.drops++
	return true
}

// Drops returns how many events the table has dropped.
func (s *Suppressor) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

// Window returns the configured suppression window.
func (s *Suppressor) Window() time.Duration {
	return s.window
}
