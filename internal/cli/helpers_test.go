package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/convert"
	"github.com/roach88/duplex/internal/ir"
)

// testTree is a scratch project layout with a written config file.
type testTree struct {
	ConfigPath string
	RootA      string
	RootB      string
	StoreRoot  string
	Conflicts  string
	Journal    string // empty when the journal is disabled
}

// newTestTree lays out side roots, store, conflicts dir, and a config
// file under a fresh temp dir.
func newTestTree(t *testing.T, journalEnabled bool) testTree {
	t.Helper()
	tmp := t.TempDir()

	tree := testTree{
		ConfigPath: filepath.Join(tmp, "duplex.yaml"),
		RootA:      filepath.Join(tmp, "a"),
		RootB:      filepath.Join(tmp, "b"),
		StoreRoot:  filepath.Join(tmp, "store"),
		Conflicts:  filepath.Join(tmp, "conflicts"),
	}
	if journalEnabled {
		tree.Journal = filepath.Join(tmp, "journal.db")
	}
	require.NoError(t, os.MkdirAll(tree.RootA, 0o755))
	require.NoError(t, os.MkdirAll(tree.RootB, 0o755))

	cfg := fmt.Sprintf(`sides:
  a:
    root: %q
    extension: .jsx
  b:
    root: %q
    extension: .widget
store:
  root: %q
conflicts:
  root: %q
  strategy: manual
journal:
  path: %q
`, tree.RootA, tree.RootB, tree.StoreRoot, tree.Conflicts, tree.Journal)
	require.NoError(t, os.WriteFile(tree.ConfigPath, []byte(cfg), 0o644))
	return tree
}

// executeCommand runs the full CLI with args and captures stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func titledDoc(title string) ir.Document {
	return ir.Document{
		SchemaVersion: ir.CurrentSchemaVersion,
		Metadata:      ir.DocumentMeta{SourceKind: ir.SourceKindJSX},
		Nodes: []ir.Node{
			{
				ID:       "root",
				Type:     "Screen",
				Props:    ir.NewIRObjectFromPairs(ir.O("title", ir.NewIRString(title))),
				Children: []ir.Node{},
			},
		},
	}
}

// writeSourceFile renders doc in side's on-disk format at path.
func writeSourceFile(t *testing.T, path string, side ir.Side, doc ir.Document) {
	t.Helper()
	data, err := convert.IRJSONCodec(side).Generate(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
