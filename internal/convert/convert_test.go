package convert

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/ir"
)

func testRoots(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	return filepath.Join(base, "jsx"), filepath.Join(base, "widgets")
}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	rootA, rootB := testRoots(t)
	m, err := NewMapper(rootA, rootB, ".jsx", ".widget")
	require.NoError(t, err)
	return m
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ir.SideA, IRJSONCodec(ir.SideA)))

	_, ok := r.Codec(ir.SideA)
	assert.True(t, ok)
	_, ok = r.Codec(ir.SideB)
	assert.False(t, ok)
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(ir.Side("x"), IRJSONCodec(ir.SideA))
	assert.Error(t, err)

	err = r.Register(ir.SideA, Codec{Convert: IRJSONCodec(ir.SideA).Convert})
	assert.Error(t, err, "generator missing")

	err = r.Register(ir.SideA, Codec{Generate: IRJSONCodec(ir.SideA).Generate})
	assert.Error(t, err, "converter missing")
}

func TestRegistryUnregisteredSide(t *testing.T) {
	r := NewRegistry()

	_, err := r.Convert(ir.SideA, []byte("{}"), "jsx/home.jsx")
	assert.Error(t, err)

	_, err = r.Generate(ir.SideB, ir.Document{})
	assert.Error(t, err)
}

func TestRegistryReplacesCodec(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ir.SideA, IRJSONCodec(ir.SideA)))

	called := false
	require.NoError(t, r.Register(ir.SideA, Codec{
		Convert: func(source []byte, path string) (ir.Document, error) {
			called = true
			return ir.Document{}, nil
		},
		Generate: IRJSONCodec(ir.SideA).Generate,
	}))

	_, err := r.Convert(ir.SideA, nil, "x.jsx")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestMapperLogicalID(t *testing.T) {
	m := newTestMapper(t)
	rootA, rootB := m.rootA, m.rootB

	id, side, err := m.LogicalID(filepath.Join(rootA, "screens", "home.jsx"))
	require.NoError(t, err)
	assert.Equal(t, "screens/home", id)
	assert.Equal(t, ir.SideA, side)

	id, side, err = m.LogicalID(filepath.Join(rootB, "screens", "home.widget"))
	require.NoError(t, err)
	assert.Equal(t, "screens/home", id)
	assert.Equal(t, ir.SideB, side)

	id, _, err = m.LogicalID(filepath.Join(rootA, "app.jsx"))
	require.NoError(t, err)
	assert.Equal(t, "app", id)
}

func TestMapperPathRoundTrip(t *testing.T) {
	m := newTestMapper(t)

	for _, side := range []ir.Side{ir.SideA, ir.SideB} {
		path := m.Path("screens/settings/audio", side)
		id, gotSide, err := m.LogicalID(path)
		require.NoError(t, err)
		assert.Equal(t, "screens/settings/audio", id)
		assert.Equal(t, side, gotSide)
	}
}

func TestMapperOppositePath(t *testing.T) {
	m := newTestMapper(t)

	aPath := m.Path("screens/home", ir.SideA)
	bPath, side, err := m.OppositePath(aPath)
	require.NoError(t, err)
	assert.Equal(t, ir.SideB, side)
	assert.Equal(t, m.Path("screens/home", ir.SideB), bPath)

	back, side, err := m.OppositePath(bPath)
	require.NoError(t, err)
	assert.Equal(t, ir.SideA, side)
	assert.Equal(t, aPath, back)
}

func TestMapperRejectsForeignPaths(t *testing.T) {
	m := newTestMapper(t)

	_, _, err := m.LogicalID(filepath.Join(t.TempDir(), "elsewhere.jsx"))
	assert.Error(t, err, "outside both roots")

	_, _, err = m.LogicalID(filepath.Join(m.rootA, "notes.txt"))
	assert.Error(t, err, "wrong extension")

	_, _, err = m.LogicalID(filepath.Join(m.rootA, "screens", "home.widget"))
	assert.Error(t, err, "side B extension under root A")

	_, _, err = m.LogicalID(filepath.Join(m.rootA, ".jsx"))
	assert.Error(t, err, "empty unit name")
}

func TestMapperNormalizesExtensions(t *testing.T) {
	rootA, rootB := testRoots(t)
	m, err := NewMapper(rootA, rootB, "jsx", "widget")
	require.NoError(t, err)

	id, side, err := m.LogicalID(filepath.Join(rootA, "home.jsx"))
	require.NoError(t, err)
	assert.Equal(t, "home", id)
	assert.Equal(t, ir.SideA, side)
}

func TestNewMapperValidation(t *testing.T) {
	rootA, rootB := testRoots(t)

	_, err := NewMapper("", rootB, ".jsx", ".widget")
	assert.Error(t, err)

	_, err = NewMapper(rootA, rootB, "", ".widget")
	assert.Error(t, err)

	_, err = NewMapper(rootA, rootA, ".jsx", ".widget")
	assert.Error(t, err, "identical roots")

	_, err = NewMapper(rootA, filepath.Join(rootA, "nested"), ".jsx", ".widget")
	assert.Error(t, err, "nested roots")
}
