package migrate

import (
	"github.com/google/uuid"

	"github.com/roach88/duplex/internal/ir"
)

// Baseline returns the 0 -> 1 normalization step. It is the mechanism by
// which externally-authored or hand-edited documents become well-formed:
//
//   - missing schemaVersion is filled in
//   - missing metadata is synthesized with an unknown source kind
//   - absent nodes become an empty array
//   - every node is recursively repaired: a missing id is generated,
//     a missing type becomes the "Unknown" sentinel, and missing
//     props/children/metadata are defaulted
//
// nextID supplies generated node ids; nil uses UUIDv7. Tests pass a
// deterministic generator.
func Baseline(nextID func() string) MigrateFunc {
	if nextID == nil {
		nextID = func() string {
			return uuid.Must(uuid.NewV7()).String()
		}
	}

	return func(doc ir.Document) (ir.Document, error) {
		doc.SchemaVersion = 1
		if doc.Metadata.SourceKind == "" {
			doc.Metadata.SourceKind = ir.SourceKindUnknown
		}
		if doc.Nodes == nil {
			doc.Nodes = []ir.Node{}
		}

		seen := make(map[string]bool)
		for i := range doc.Nodes {
			repairNode(&doc.Nodes[i], nextID, seen)
		}
		return doc, nil
	}
}

// repairNode defaults missing node fields in place, depth-first. Generated
// and regenerated ids are tracked in seen so repairs never introduce
// duplicates, even when the input reuses an id.
func repairNode(n *ir.Node, nextID func() string, seen map[string]bool) {
	if n.ID == "" || seen[n.ID] {
		n.ID = nextID()
	}
	seen[n.ID] = true

	if n.Type == "" {
		n.Type = "Unknown"
	}
	if n.Props == nil {
		n.Props = ir.NewIRObject()
	}
	if n.Children == nil {
		n.Children = []ir.Node{}
	}
	if n.Meta.Line < 0 {
		n.Meta.Line = 0
	}

	for i := range n.Children {
		repairNode(&n.Children[i], nextID, seen)
	}
}
