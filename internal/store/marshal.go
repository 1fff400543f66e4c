package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// encodeEntry renders the persisted form. Indented and HTML-escape-free so
// the files diff cleanly under version control; the checksum inside the
// entry is over canonical JSON of the IR, never over this file's bytes.
func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}
