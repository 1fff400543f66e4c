package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/ir"
)

func TestStoreFirstVersion(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Store("screens/home", testDoc("Home"))
	require.NoError(t, err)

	assert.Equal(t, "screens/home", e.LogicalID)
	assert.Equal(t, 1, e.Version)
	assert.Len(t, e.Checksum, 64)
	assert.False(t, e.StoredAt.IsZero())
	assert.Equal(t, ir.MustChecksum(e.IR), e.Checksum)

	// Current file exists, no history yet
	_, err = os.Stat(filepath.Join(s.Root(), "screens", "home.json"))
	assert.NoError(t, err)
	hist, err := s.History("screens/home")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestStoreArchivesPriorVersion(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Store("w", testDoc("one"))
	require.NoError(t, err)
	second, err := s.Store("w", testDoc("two"))
	require.NoError(t, err)
	third, err := s.Store("w", testDoc("three"))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, []int{first.Version, second.Version, third.Version})

	hist, err := s.History("w")
	require.NoError(t, err)
	require.Len(t, hist, 2, "current version is not in history until replaced")
	assert.Equal(t, 1, hist[0].Version)
	assert.Equal(t, first.Checksum, hist[0].Checksum)
	assert.Equal(t, 2, hist[1].Version)
	assert.Equal(t, second.Checksum, hist[1].Checksum)

	cur, err := s.Retrieve("w")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, 3, cur.Version)
	assert.Equal(t, third.Checksum, cur.Checksum)
}

func TestStoreIsNotIdempotent(t *testing.T) {
	s := newTestStore(t)

	doc := testDoc("same")
	first, err := s.Store("w", doc)
	require.NoError(t, err)
	second, err := s.Store("w", doc)
	require.NoError(t, err)

	assert.Equal(t, first.Checksum, second.Checksum)
	assert.Equal(t, first.Version+1, second.Version,
		"identical content still bumps the version; HasChanged is the caller's gate")
}

func TestStoreValidationFailureWritesNothing(t *testing.T) {
	s := newTestStore(t)

	good := testDoc("good")
	_, err := s.Store("w", good)
	require.NoError(t, err)

	bad := testDoc("bad")
	bad.Nodes = append(bad.Nodes, ir.Node{
		ID: "root", Type: "Screen", Props: ir.NewIRObject(), Children: []ir.Node{},
	}) // duplicate id

	_, err = s.Store("w", bad)
	require.Error(t, err)
	assert.True(t, ir.IsValidationFailure(err))

	// Prior entry untouched, version unchanged
	cur, err := s.Retrieve("w")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, 1, cur.Version)
	title, _ := cur.IR.Nodes[0].Props.Get("title")
	assert.Equal(t, ir.IRString("good"), title)

	hist, err := s.History("w")
	require.NoError(t, err)
	assert.Empty(t, hist, "failed store must not archive")
}

func TestStoreMigratesRawDocument(t *testing.T) {
	s := newTestStore(t)

	// Pre-schema document: version 0, nodes missing ids
	raw := ir.Document{
		Nodes: []ir.Node{{Type: "Button"}},
	}

	e, err := s.Store("w", raw)
	require.NoError(t, err)
	assert.Equal(t, ir.CurrentSchemaVersion, e.IR.SchemaVersion)
	require.Len(t, e.IR.Nodes, 1)
	assert.NotEmpty(t, e.IR.Nodes[0].ID)
	assert.NotNil(t, e.IR.Nodes[0].Props)
	assert.NotNil(t, e.IR.Nodes[0].Children)
}

func TestStoreRejectsBadLogicalID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Store("../escape", testDoc("x"))
	assert.Error(t, err)
	_, err = s.Store("history/x", testDoc("x"))
	assert.Error(t, err)
}

func TestStoreEntryFileShape(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Store("w", testDoc("shape"))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(s.Root(), "w.json"))
	require.NoError(t, err)

	var onDisk map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	for _, key := range []string{"logicalId", "version", "storedAt", "checksum", "ir"} {
		assert.Contains(t, onDisk, key)
	}

	assert.True(t, strings.HasPrefix(string(raw), "{\n"), "entries are indented for diffing")
	assert.Contains(t, string(raw), e.Checksum)
}

func TestStoreSalvagesCorruptCurrent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Store("w", testDoc("one"))
	require.NoError(t, err)
	_, err = s.Store("w", testDoc("two"))
	require.NoError(t, err)

	// Clobber the current file (version 2) with garbage
	curPath := filepath.Join(s.Root(), "w.json")
	require.NoError(t, os.WriteFile(curPath, []byte("{not json"), 0o644))

	e, err := s.Store("w", testDoc("three"))
	require.NoError(t, err)
	assert.Equal(t, 3, e.Version, "version derives from history when current is unreadable")

	// The garbage bytes were preserved under v2, not destroyed
	raw, err := os.ReadFile(filepath.Join(s.Root(), "history", "w", "v2.json"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))

	// History skips the unreadable archive but keeps v1
	hist, err := s.History("w")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	require.NoError(t, writeFileAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, writeFileAtomic(path, []byte(`{"a":2}`)))

	dirents, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, dirents, 1)
	assert.Equal(t, "out.json", dirents[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))
}
