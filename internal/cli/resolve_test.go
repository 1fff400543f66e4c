package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/convert"
	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/journal"
	"github.com/roach88/duplex/internal/store"
)

func TestResolvePicksWinner(t *testing.T) {
	tree := newTestTree(t, true)
	winnerDoc := titledDoc("Home v2")
	writeSourceFile(t, filepath.Join(tree.RootA, "home.jsx"), ir.SideA, winnerDoc)
	writeSourceFile(t, filepath.Join(tree.RootB, "home.widget"), ir.SideB, titledDoc("Home stale"))
	seedConflict(t, tree, "c-1", "home", conflict.StatusPending)

	out, err := executeCommand(t, "resolve", "c-1", "--use", "a", "--config", tree.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Conflict c-1 resolved")
	assert.Contains(t, out, "side a wins")

	// The losing file is regenerated from the winning side's document.
	loserPath := filepath.Join(tree.RootB, "home.widget")
	data, err := os.ReadFile(loserPath)
	require.NoError(t, err)
	doc, err := convert.IRJSONCodec(ir.SideB).Convert(data, loserPath)
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)
	title, ok := doc.Nodes[0].Props.Get("title")
	require.True(t, ok)
	assert.True(t, ir.EqualValues(ir.NewIRString("Home v2"), title))

	// The record is settled on disk.
	rec, err := conflict.ReadRecord(filepath.Join(tree.Conflicts, "c-1.json"))
	require.NoError(t, err)
	assert.Equal(t, conflict.StatusResolved, rec.Status)
	require.NotNil(t, rec.Resolution)
	assert.Equal(t, ir.SideA, rec.Resolution.Winner)
	assert.Equal(t, conflict.StrategyManual, rec.Resolution.Strategy)

	// The store holds the winning content as the new authoritative version.
	st, err := store.Open(tree.StoreRoot)
	require.NoError(t, err)
	entry, err := st.Retrieve("home")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ir.MustChecksum(winnerDoc), entry.Checksum)

	// The journal mirrors the settled record.
	j, err := journal.Open(tree.Journal)
	require.NoError(t, err)
	defer j.Close()
	records, err := j.Conflicts(context.Background(), journal.ConflictFilter{Status: conflict.StatusResolved})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c-1", records[0].ID)
}

func TestResolvePicksWinnerB(t *testing.T) {
	tree := newTestTree(t, false)
	writeSourceFile(t, filepath.Join(tree.RootA, "menu.jsx"), ir.SideA, titledDoc("Menu stale"))
	writeSourceFile(t, filepath.Join(tree.RootB, "menu.widget"), ir.SideB, titledDoc("Menu v3"))
	seedConflict(t, tree, "c-2", "menu", conflict.StatusPending)

	_, err := executeCommand(t, "resolve", "c-2", "--use", "b", "--config", tree.ConfigPath)
	require.NoError(t, err)

	// Side A is the loser here and gets regenerated.
	loserPath := filepath.Join(tree.RootA, "menu.jsx")
	data, err := os.ReadFile(loserPath)
	require.NoError(t, err)
	doc, err := convert.IRJSONCodec(ir.SideA).Convert(data, loserPath)
	require.NoError(t, err)
	title, ok := doc.Nodes[0].Props.Get("title")
	require.True(t, ok)
	assert.True(t, ir.EqualValues(ir.NewIRString("Menu v3"), title))
}

func TestResolveAlreadySettled(t *testing.T) {
	tree := newTestTree(t, false)
	seedConflict(t, tree, "c-3", "home", conflict.StatusResolved)

	out, err := executeCommand(t, "resolve", "c-3", "--use", "b", "--config", tree.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, out, "already settled")
	// The original winner is reported, not the one just asked for.
	assert.Contains(t, out, "side a")
}

func TestResolveInvalidSide(t *testing.T) {
	tree := newTestTree(t, false)

	out, err := executeCommand(t, "resolve", "c-1", "--use", "left", "--config", tree.ConfigPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "must be a or b")
}

func TestResolveUnknownConflict(t *testing.T) {
	tree := newTestTree(t, false)

	_, err := executeCommand(t, "resolve", "missing", "--use", "a", "--config", tree.ConfigPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read conflict record")
}

func TestResolveWinnerFileMissing(t *testing.T) {
	tree := newTestTree(t, false)
	// Record exists but the winning source was deleted since detection.
	seedConflict(t, tree, "c-4", "gone", conflict.StatusPending)

	_, err := executeCommand(t, "resolve", "c-4", "--use", "a", "--config", tree.ConfigPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read winning source")
}

func TestResolveUnparseableWinner(t *testing.T) {
	tree := newTestTree(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(tree.RootA, "bad.jsx"), []byte("not json"), 0o644))
	writeSourceFile(t, filepath.Join(tree.RootB, "bad.widget"), ir.SideB, titledDoc("Bad"))
	seedConflict(t, tree, "c-5", "bad", conflict.StatusPending)

	out, err := executeCommand(t, "resolve", "c-5", "--use", "a", "--config", tree.ConfigPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not parse")

	// A failed resolution leaves the record pending for another try.
	rec, err := conflict.ReadRecord(filepath.Join(tree.Conflicts, "c-5.json"))
	require.NoError(t, err)
	assert.True(t, rec.Pending())
}

func TestResolveJSON(t *testing.T) {
	tree := newTestTree(t, false)
	writeSourceFile(t, filepath.Join(tree.RootA, "home.jsx"), ir.SideA, titledDoc("Home"))
	writeSourceFile(t, filepath.Join(tree.RootB, "home.widget"), ir.SideB, titledDoc("Stale"))
	seedConflict(t, tree, "c-6", "home", conflict.StatusPending)

	out, err := executeCommand(t, "--format", "json", "resolve", "c-6", "--use", "a", "--config", tree.ConfigPath)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   ResolveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "c-6", resp.Data.ConflictID)
	assert.Equal(t, "a", resp.Data.Winner)
	assert.Equal(t, 1, resp.Data.Version)
	assert.False(t, resp.Data.AlreadyResolved)
}
