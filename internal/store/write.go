package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/duplex/internal/ir"
)

// Store persists doc as the new current version for id.
//
// The document is migrated to the current schema version and validated
// before anything touches disk; a validation failure (matchable with
// ir.IsValidationFailure) leaves the store untouched. On success the prior
// current entry, if any, has been archived under history and the new entry
// is version prior+1.
func (s *Store) Store(id string, doc ir.Document) (Entry, error) {
	if err := validateLogicalID(id); err != nil {
		return Entry{}, fmt.Errorf("store: %w", err)
	}

	migrated, err := s.migrator.Migrate(doc, ir.CurrentSchemaVersion)
	if err != nil {
		return Entry{}, fmt.Errorf("store %s: %w", id, err)
	}
	if res := s.validator.Validate(migrated); !res.Valid {
		return Entry{}, fmt.Errorf("store %s: %w", id, res.Err())
	}
	sum, err := ir.Checksum(migrated)
	if err != nil {
		return Entry{}, fmt.Errorf("store %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, err := s.archiveCurrentLocked(id)
	if err != nil {
		return Entry{}, fmt.Errorf("store %s: %w", id, err)
	}

	entry := Entry{
		LogicalID: id,
		Version:   prior + 1,
		StoredAt:  s.now().UTC(),
		Checksum:  sum,
		IR:        migrated,
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("store %s: %w", id, err)
	}
	if err := writeFileAtomic(s.currentPath(id), data); err != nil {
		return Entry{}, fmt.Errorf("store %s: %w", id, err)
	}

	s.logger.Debug("stored entry",
		"logical_id", id,
		"version", entry.Version,
		"checksum", sum)
	return entry, nil
}

// archiveCurrentLocked copies the current file into history and returns its
// version, 0 when no current entry exists. A current file that no longer
// decodes is still archived, slotted after the last archived version, so a
// Store never destroys bytes.
func (s *Store) archiveCurrentLocked(id string) (int, error) {
	raw, err := os.ReadFile(s.currentPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read current: %w", err)
	}

	version := 0
	if e, decErr := decodeEntry(raw); decErr == nil && e.Version > 0 {
		version = e.Version
	} else {
		max, histErr := s.maxHistoryVersion(id)
		if histErr != nil {
			return 0, histErr
		}
		version = max + 1
		s.logger.Warn("current entry unreadable, archiving raw bytes",
			"logical_id", id,
			"version", version)
	}

	if err := writeFileAtomic(s.versionPath(id, version), raw); err != nil {
		return 0, fmt.Errorf("archive v%d: %w", version, err)
	}
	return version, nil
}

func (s *Store) maxHistoryVersion(id string) (int, error) {
	dirents, err := os.ReadDir(s.historyDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan history: %w", err)
	}
	max := 0
	for _, d := range dirents {
		if v, ok := parseVersionFile(d.Name()); ok && v > max {
			max = v
		}
	}
	return max, nil
}

// writeFileAtomic writes data via a temp file in the target directory and
// renames it into place so readers never observe a partial entry.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
