package convert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/migrate"
)

// IRJSONCodec returns the built-in codec for a side whose files are the
// IR itself, serialized as indented JSON. It exists for tests, demos, and
// as the default when no real parser is injected: two trees of IR files
// still exercise every sync path. Converting tolerates hand-edited
// documents (the raw decoder coerces bad shapes; the baseline migration
// repairs the rest at store time), and generating restamps the side's
// source kind so a regenerated file declares its own provenance.
func IRJSONCodec(side ir.Side) Codec {
	return Codec{
		Convert: func(source []byte, path string) (ir.Document, error) {
			doc, err := migrate.DecodeRaw(source)
			if err != nil {
				return ir.Document{}, fmt.Errorf("parse %s: %w", path, err)
			}
			doc.Metadata.SourceKind = side.SourceKind()
			doc.Metadata.SourceFile = path
			return doc, nil
		},
		Generate: func(doc ir.Document) ([]byte, error) {
			doc.Metadata.SourceKind = side.SourceKind()
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(doc); err != nil {
				return nil, fmt.Errorf("generate %s document: %w", side.SourceKind(), err)
			}
			return buf.Bytes(), nil
		},
	}
}

// DefaultRegistry returns a registry with the IR-JSON codec installed on
// both sides.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Register only fails on invalid input; both calls here are static.
	_ = r.Register(ir.SideA, IRJSONCodec(ir.SideA))
	_ = r.Register(ir.SideB, IRJSONCodec(ir.SideB))
	return r
}
