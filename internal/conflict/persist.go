package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteRecord writes rec to <dir>/<rec.ID>.json atomically, replacing any
// earlier copy. Records are keyed by conflict id, not logical id, so a
// unit that conflicts twice keeps both files.
func WriteRecord(dir string, rec Record) error {
	if err := validateRecordID(rec.ID); err != nil {
		return fmt.Errorf("write conflict record: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write conflict record %s: %w", rec.ID, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("write conflict record %s: %w", rec.ID, err)
	}

	path := filepath.Join(dir, rec.ID+".json")
	tmp, err := os.CreateTemp(dir, rec.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("write conflict record %s: %w", rec.ID, err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write conflict record %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write conflict record %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write conflict record %s: %w", rec.ID, err)
	}
	return nil
}

// ReadRecord reads one persisted record.
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read conflict record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("read conflict record %s: %w", path, err)
	}
	if rec.ID == "" || !rec.Status.Valid() {
		return Record{}, fmt.Errorf("read conflict record %s: not a conflict record", path)
	}
	return rec, nil
}

// LoadRecords reads every persisted record under dir, oldest first. A
// missing directory is an empty result, and files that do not parse as
// records are skipped: the bytes stay on disk for manual inspection.
func LoadRecords(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conflict records: %w", err)
	}

	var out []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := ReadRecord(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func validateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("empty record id")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("record id %q is not a file name", id)
	}
	return nil
}
