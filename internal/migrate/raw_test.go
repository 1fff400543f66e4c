package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/ir"
)

func TestDecodeRawFullDocument(t *testing.T) {
	raw := []byte(`{
		"schemaVersion": 1,
		"metadata": {
			"sourceKind": "jsx",
			"sourceFile": "screens/home.jsx",
			"generatedAt": "2026-08-01T10:30:00Z"
		},
		"nodes": [{
			"id": "root",
			"type": "Screen",
			"props": {"title": "Home", "padding": 12.5, "count": 3},
			"state": {"loading": false},
			"children": [{"id": "btn", "type": "Button"}],
			"events": [{"name": "onLoad", "handler": "fetchData"}],
			"lifecycleHooks": [{"phase": "mount", "body": "subscribe()"}],
			"metadata": {"lineNumber": 7, "doc": "Home screen"}
		}]
	}`)

	doc, err := DecodeRaw(raw)
	require.NoError(t, err)

	assert.Equal(t, 1, doc.SchemaVersion)
	assert.Equal(t, ir.SourceKindJSX, doc.Metadata.SourceKind)
	assert.Equal(t, "screens/home.jsx", doc.Metadata.SourceFile)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), doc.Metadata.GeneratedAt)

	require.Len(t, doc.Nodes, 1)
	n := doc.Nodes[0]
	assert.Equal(t, "root", n.ID)
	assert.Equal(t, "Screen", n.Type)

	title, _ := n.Props.Get("title")
	assert.Equal(t, ir.IRString("Home"), title)
	padding, _ := n.Props.Get("padding")
	assert.Equal(t, ir.IRFloat(12.5), padding)
	count, _ := n.Props.Get("count")
	assert.Equal(t, ir.IRInt(3), count, "whole numbers decode as integers")

	require.NotNil(t, n.State)
	loading, _ := n.State.Get("loading")
	assert.Equal(t, ir.IRBool(false), loading)

	require.Len(t, n.Children, 1)
	assert.Equal(t, "btn", n.Children[0].ID)

	require.Len(t, n.Events, 1)
	assert.Equal(t, ir.EventBinding{Name: "onLoad", Handler: "fetchData"}, n.Events[0])

	require.Len(t, n.Hooks, 1)
	assert.Equal(t, ir.LifecycleHook{Phase: ir.PhaseMount, Body: "subscribe()"}, n.Hooks[0])

	assert.Equal(t, 7, n.Meta.Line)
	assert.Equal(t, "Home screen", n.Meta.Doc)
}

func TestDecodeRawErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "truncated", input: `{"nodes": [`},
		{name: "array root", input: `[1, 2]`},
		{name: "string root", input: `"just text"`},
		{name: "empty input", input: ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRaw([]byte(tc.input))
			assert.Error(t, err)
		})
	}
}

func TestDecodeRawCoercesBadShapes(t *testing.T) {
	raw := []byte(`{
		"schemaVersion": "nope",
		"metadata": 42,
		"nodes": {"not": "an array"}
	}`)

	doc, err := DecodeRaw(raw)
	require.NoError(t, err, "wrong-shaped fields are coerced, not rejected")
	assert.Equal(t, 0, doc.SchemaVersion)
	assert.Equal(t, ir.DocumentMeta{}, doc.Metadata)
	assert.NotNil(t, doc.Nodes)
	assert.Empty(t, doc.Nodes)
}

func TestDecodeRawSkipsNonObjectEntries(t *testing.T) {
	raw := []byte(`{
		"nodes": [
			{"id": "keep", "type": "Text"},
			"stray string",
			17,
			{"id": "also-keep", "type": "Text", "children": [null, {"id": "c"}]}
		]
	}`)

	doc, err := DecodeRaw(raw)
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "keep", doc.Nodes[0].ID)
	assert.Equal(t, "also-keep", doc.Nodes[1].ID)
	require.Len(t, doc.Nodes[1].Children, 1)
	assert.Equal(t, "c", doc.Nodes[1].Children[0].ID)
}

func TestDecodeRawPropValues(t *testing.T) {
	raw := []byte(`{
		"nodes": [{
			"id": "n", "type": "T",
			"props": {
				"nullish": null,
				"nested": {"deep": [1, 2.5, "three"]},
				"huge": 1e999
			}
		}]
	}`)

	doc, err := DecodeRaw(raw)
	require.NoError(t, err)

	props := doc.Nodes[0].Props
	require.NotNil(t, props)

	nullish, ok := props.Get("nullish")
	require.True(t, ok)
	assert.Equal(t, ir.IRNull{}, nullish)

	nested, ok := props.Get("nested")
	require.True(t, ok)
	obj, ok := nested.(*ir.IRObject)
	require.True(t, ok)
	deep, _ := obj.Get("deep")
	assert.Equal(t, ir.IRArray{ir.IRInt(1), ir.IRFloat(2.5), ir.IRString("three")}, deep)

	_, ok = props.Get("huge")
	assert.False(t, ok, "out-of-range numbers are dropped during salvage")
}

func TestDecodeRawEmptyStateOmitted(t *testing.T) {
	raw := []byte(`{"nodes": [{"id": "n", "type": "T", "state": {}}]}`)

	doc, err := DecodeRaw(raw)
	require.NoError(t, err)
	assert.Nil(t, doc.Nodes[0].State, "empty state collapses to absent")
}

func TestDecodeRawBadTimestampIgnored(t *testing.T) {
	raw := []byte(`{"metadata": {"sourceKind": "widget", "generatedAt": "yesterday-ish"}}`)

	doc, err := DecodeRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, ir.SourceKindWidget, doc.Metadata.SourceKind)
	assert.True(t, doc.Metadata.GeneratedAt.IsZero())
}
