package schema

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/ir"
)

func validDocument() ir.Document {
	doc := ir.NewDocument(ir.SourceKindJSX, "screens/home.jsx", time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	doc.Nodes = []ir.Node{
		{
			ID:    "root",
			Type:  "Screen",
			Props: ir.NewIRObjectFromPairs(ir.O("title", ir.NewIRString("Home"))),
			Children: []ir.Node{
				{
					ID:       "save",
					Type:     "Button",
					Props:    ir.NewIRObjectFromPairs(ir.O("label", ir.NewIRString("Save"))),
					Children: []ir.Node{},
					Events:   []ir.EventBinding{{Name: "press", Handler: "onSave"}},
				},
			},
		},
	}
	return doc
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func codes(result ir.ValidationResult) []string {
	out := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		out = append(out, e.Code)
	}
	return out
}

func TestNewCompilesEmbeddedSchema(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestNewFromSourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{
			name:    "broken syntax",
			source:  "{ #Document: ",
			wantErr: "compile",
		},
		{
			name:    "missing definition",
			source:  "x: 1",
			wantErr: "lookup #Document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromSource("bad.cue", tt.source)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	v := newValidator(t)

	result := v.Validate(validDocument())
	assert.True(t, result.Valid, "unexpected findings: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.NoError(t, v.ValidateStrict(validDocument()))
}

func TestValidateCollectsStructuralAndSchemaFindings(t *testing.T) {
	v := newValidator(t)

	doc := validDocument()
	doc.Nodes[0].Props = nil

	result := v.Validate(doc)
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ir.ErrNodePropsNil)
	assert.Contains(t, codes(result), ErrSchemaConflict)
}

func TestValidateRejectsUnknownSourceKind(t *testing.T) {
	v := newValidator(t)

	doc := validDocument()
	doc.Metadata.SourceKind = "vue"

	result := v.Validate(doc)
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ir.ErrDocSourceKind)
	assert.Contains(t, codes(result), ErrSchemaConflict)
}

// A negative line number passes the structural rules but not the
// schema, so the finding must come from the schema pass alone.
func TestValidateFlagsNegativeLineNumber(t *testing.T) {
	v := newValidator(t)

	doc := validDocument()
	doc.Nodes[0].Meta.Line = -4

	require.Empty(t, ir.ValidateDocument(doc))

	result := v.Validate(doc)
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ErrSchemaConflict)
}

// Duplicate node ids are invisible to the schema; only the structural
// pass can see across the tree.
func TestValidateDuplicateIDsStructuralOnly(t *testing.T) {
	v := newValidator(t)

	doc := validDocument()
	doc.Nodes[0].Children[0].ID = "root"

	result := v.Validate(doc)
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ir.ErrNodeIDDuplicate)
	assert.NotContains(t, codes(result), ErrSchemaConflict)
}

func TestValidateStrictClassifiesFailure(t *testing.T) {
	v := newValidator(t)

	doc := validDocument()
	doc.Nodes[0].Type = ""

	err := v.ValidateStrict(doc)
	require.Error(t, err)
	assert.True(t, ir.IsValidationFailure(err))
}

func TestValidateReportsUnencodableDocument(t *testing.T) {
	v := newValidator(t)

	doc := validDocument()
	doc.Nodes[0].Props = ir.NewIRObjectFromPairs(ir.O("opacity", ir.NewIRFloat(math.NaN())))

	result := v.Validate(doc)
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ErrSchemaEncode)
}

func TestValidateJSONAcceptsMinimalDocument(t *testing.T) {
	v := newValidator(t)

	raw := []byte(`{"schemaVersion":1,"metadata":{"sourceKind":"unknown","sourceFile":""},"nodes":[]}`)

	result := v.ValidateJSON(raw)
	assert.True(t, result.Valid, "unexpected findings: %v", result.Errors)
}

func TestValidateJSONRejectsUnknownFields(t *testing.T) {
	v := newValidator(t)

	raw := []byte(`{"schemaVersion":1,"metadata":{"sourceKind":"jsx","sourceFile":""},"nodes":[],"stylesheet":{}}`)

	result := v.ValidateJSON(raw)
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ErrSchemaConflict)

	named := false
	for _, e := range result.Errors {
		if e.Field == "stylesheet" || strings.Contains(e.Message, "stylesheet") {
			named = true
		}
	}
	assert.True(t, named, "expected a finding naming the unknown field: %v", result.Errors)
}

func TestValidateJSONRejectsWrongTypes(t *testing.T) {
	v := newValidator(t)

	raw := []byte(`{"schemaVersion":"one","metadata":{"sourceKind":"jsx","sourceFile":""},"nodes":[]}`)

	result := v.ValidateJSON(raw)
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ErrSchemaConflict)
	assert.Contains(t, codes(result), ErrSchemaDecode)
}

func TestValidateJSONRejectsMalformedInput(t *testing.T) {
	v := newValidator(t)

	result := v.ValidateJSON([]byte(`{"schemaVersion":`))
	require.False(t, result.Valid)
	assert.Contains(t, codes(result), ErrSchemaDecode)
}

func TestFieldPath(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{name: "empty", segments: nil, want: "document"},
		{name: "top level", segments: []string{"schemaVersion"}, want: "schemaVersion"},
		{name: "nested", segments: []string{"metadata", "sourceKind"}, want: "metadata.sourceKind"},
		{name: "indexed", segments: []string{"nodes", "0", "children", "2", "id"}, want: "nodes[0].children[2].id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldPath(tt.segments))
		})
	}
}

func TestValidateConcurrent(t *testing.T) {
	v := newValidator(t)

	good := validDocument()
	bad := validDocument()
	bad.Nodes[0].ID = ""

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.True(t, v.Validate(good).Valid)
			} else {
				assert.False(t, v.Validate(bad).Valid)
			}
		}(i)
	}
	wg.Wait()
}
