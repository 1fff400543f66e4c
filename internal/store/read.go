package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/duplex/internal/ir"
)

// Retrieve loads the current entry for id. A missing, corrupted, or
// schema-invalid entry yields (nil, nil): one bad file must not wedge the
// sync loop, so invalidity is logged and treated like absence. IO failures
// are returned.
func (s *Store) Retrieve(id string) (*Entry, error) {
	if err := validateLogicalID(id); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return s.readEntry(id, s.currentPath(id))
}

// RetrieveVersion loads a specific version. Archived versions come from
// history; the newest version lives only in the current file until the next
// Store archives it, so that file is checked as a fallback.
func (s *Store) RetrieveVersion(id string, version int) (*Entry, error) {
	if err := validateLogicalID(id); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if version < 1 {
		return nil, fmt.Errorf("retrieve %s: version %d out of range", id, version)
	}

	e, err := s.readEntry(id, s.versionPath(id, version))
	if err != nil || e != nil {
		return e, err
	}

	cur, err := s.readEntry(id, s.currentPath(id))
	if err != nil || cur == nil {
		return nil, err
	}
	if cur.Version != version {
		return nil, nil
	}
	return cur, nil
}

// HasChanged reports whether doc's canonical checksum differs from the
// stored current entry's, true when no readable entry exists. Store never
// gates on this itself; callers that want idempotent convergence check
// HasChanged first.
func (s *Store) HasChanged(id string, doc ir.Document) (bool, error) {
	if err := validateLogicalID(id); err != nil {
		return false, fmt.Errorf("has changed: %w", err)
	}

	migrated, err := s.migrator.Migrate(doc, ir.CurrentSchemaVersion)
	if err != nil {
		return false, fmt.Errorf("has changed %s: %w", id, err)
	}
	sum, err := ir.Checksum(migrated)
	if err != nil {
		return false, fmt.Errorf("has changed %s: %w", id, err)
	}

	cur, err := s.Retrieve(id)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return true, nil
	}
	return sum != cur.Checksum, nil
}

// History returns archived entries ascending by version. Unreadable or
// invalid archives are skipped with a log line. The slice is empty, never
// nil, when no history exists.
func (s *Store) History(id string) ([]Entry, error) {
	if err := validateLogicalID(id); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	dirents, err := os.ReadDir(s.historyDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}

	versions := make([]int, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		if v, ok := parseVersionFile(d.Name()); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)

	entries := make([]Entry, 0, len(versions))
	for _, v := range versions {
		e, err := s.readEntry(id, s.versionPath(id, v))
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// readEntry decodes, migrates, and re-validates one entry file. Corruption
// and invalidity are soft: logged, nil returned.
func (s *Store) readEntry(id, path string) (*Entry, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}

	e, err := decodeEntry(raw)
	if err != nil {
		s.logger.Error("stored entry unreadable",
			"logical_id", id,
			"path", path,
			"error", err)
		return nil, nil
	}

	migrated, err := s.migrator.Migrate(e.IR, ir.CurrentSchemaVersion)
	if err != nil {
		s.logger.Error("stored entry failed migration",
			"logical_id", id,
			"path", path,
			"error", err)
		return nil, nil
	}
	if res := s.validator.Validate(migrated); !res.Valid {
		s.logger.Error("stored entry failed validation",
			"logical_id", id,
			"path", path,
			"error", res.Err())
		return nil, nil
	}

	e.IR = migrated
	return &e, nil
}

// parseVersionFile extracts N from "vN.json".
func parseVersionFile(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "v")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
