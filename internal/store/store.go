package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/migrate"
)

// Entry is one stored version of a logical unit's IR.
type Entry struct {
	LogicalID string      `json:"logicalId"`
	Version   int         `json:"version"`
	StoredAt  time.Time   `json:"storedAt"`
	Checksum  string      `json:"checksum"`
	IR        ir.Document `json:"ir"`
}

// Store persists IR documents as JSON files with full version history.
// Mutations are serialized by a single lock; the archive-then-replace
// sequence must not interleave. Reads take no lock since rename keeps
// every visible file complete.
type Store struct {
	root      string
	validator ir.Validator
	migrator  *migrate.Registry
	now       func() time.Time
	logger    *slog.Logger

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithValidator replaces the structural validator, e.g. with the CUE-backed
// one from internal/schema.
func WithValidator(v ir.Validator) Option {
	return func(s *Store) { s.validator = v }
}

// WithMigrator replaces the default migration registry.
func WithMigrator(r *migrate.Registry) Option {
	return func(s *Store) { s.migrator = r }
}

// WithClock replaces the wall clock, for deterministic StoredAt in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open prepares a store rooted at the given directory, creating it if
// needed. Safe to call repeatedly on the same root.
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("open store: root is empty")
	}

	s := &Store{
		root:      root,
		validator: ir.StructuralValidator{},
		migrator:  migrate.DefaultRegistry(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Join(root, historyDirName), 0o755); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// historyDirName is reserved under the root; logical ids must not start
// with it or current entries would land inside the archive tree.
const historyDirName = "history"

func (s *Store) currentPath(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id)+".json")
}

func (s *Store) historyDir(id string) string {
	return filepath.Join(s.root, historyDirName, filepath.FromSlash(id))
}

func (s *Store) versionPath(id string, version int) string {
	return filepath.Join(s.historyDir(id), fmt.Sprintf("v%d.json", version))
}

// validateLogicalID rejects ids that would escape the root or collide with
// the history tree. Logical ids are slash-separated relative paths.
func validateLogicalID(id string) error {
	if id == "" {
		return errors.New("logical id is empty")
	}
	if strings.ContainsRune(id, '\\') {
		return fmt.Errorf("logical id %q contains a backslash", id)
	}
	if strings.HasPrefix(id, "/") || strings.HasSuffix(id, "/") {
		return fmt.Errorf("logical id %q must be a relative path", id)
	}
	for _, seg := range strings.Split(id, "/") {
		switch seg {
		case "", ".", "..":
			return fmt.Errorf("logical id %q contains segment %q", id, seg)
		}
	}
	if id == historyDirName || strings.HasPrefix(id, historyDirName+"/") {
		return fmt.Errorf("logical id %q collides with the %s directory", id, historyDirName)
	}
	return nil
}

// Delete removes the current entry and all archived versions for id. The
// bool reports whether anything existed; missing data is never an error.
func (s *Store) Delete(id string) (bool, error) {
	if err := validateLogicalID(id); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existed := false
	if err := os.Remove(s.currentPath(id)); err == nil {
		existed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}

	histDir := s.historyDir(id)
	if _, err := os.Stat(histDir); err == nil {
		if err := os.RemoveAll(histDir); err != nil {
			return existed, fmt.Errorf("delete %s history: %w", id, err)
		}
		existed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return existed, fmt.Errorf("delete %s history: %w", id, err)
	}

	if existed {
		s.logger.Debug("deleted entry", "logical_id", id)
	}
	return existed, nil
}
