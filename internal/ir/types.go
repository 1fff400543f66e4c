package ir

import (
	"fmt"
	"time"
)

// Side identifies which source tree a file or change belongs to.
type Side string

const (
	// SideA is the component-tree source (JSX-like).
	SideA Side = "a"
	// SideB is the widget-tree source (declarative widgets).
	SideB Side = "b"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

func (s Side) String() string {
	return string(s)
}

// SourceKind returns the document metadata kind produced by parsing
// this side's source.
func (s Side) SourceKind() string {
	switch s {
	case SideA:
		return SourceKindJSX
	case SideB:
		return SourceKindWidget
	default:
		return SourceKindUnknown
	}
}

// Source kinds recorded in DocumentMeta.SourceKind.
const (
	SourceKindJSX     = "jsx"
	SourceKindWidget  = "widget"
	SourceKindUnknown = "unknown"
)

// Document represents one logical UI unit (a screen or component) in
// framework-neutral form. It is the exchange format between the two
// source kinds.
type Document struct {
	SchemaVersion int          `json:"schemaVersion"`
	Metadata      DocumentMeta `json:"metadata"`
	Nodes         []Node       `json:"nodes"`
}

// DocumentMeta records where a document came from. It is provenance,
// not content: Checksum ignores it entirely.
type DocumentMeta struct {
	SourceKind  string    `json:"sourceKind"`
	SourceFile  string    `json:"sourceFile"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Node is one element of the UI tree.
//
// Invariants (enforced by Validate, repaired by the baseline migration):
//   - ID is non-empty and unique within the document
//   - Type is non-empty ("Unknown" is the repair sentinel)
//   - Props is non-nil and Children is non-nil, even when empty
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Props    *IRObject       `json:"props"`
	Children []Node          `json:"children"`
	State    *IRObject       `json:"state,omitempty"`
	Events   []EventBinding  `json:"events,omitempty"`
	Hooks    []LifecycleHook `json:"lifecycleHooks,omitempty"`
	Meta     NodeMeta        `json:"metadata"`
}

// EventBinding attaches a handler expression to a named UI event.
type EventBinding struct {
	Name    string `json:"name"`
	Handler string `json:"handler"`
}

// LifecycleHook carries a lifecycle phase and its handler body.
type LifecycleHook struct {
	Phase string `json:"phase"`
	Body  string `json:"body"`
}

// Lifecycle phases used by LifecycleHook.Phase.
const (
	PhaseMount   = "mount"
	PhaseUpdate  = "update"
	PhaseUnmount = "unmount"
)

// NodeMeta is per-node source metadata. Line is positional (excluded from
// identity); Doc is authored prose (included in identity when non-empty).
type NodeMeta struct {
	Line int    `json:"lineNumber"`
	Doc  string `json:"doc,omitempty"`
}

// NewDocument creates an empty document at the current schema version for
// the given source.
func NewDocument(sourceKind, sourceFile string, generatedAt time.Time) Document {
	return Document{
		SchemaVersion: CurrentSchemaVersion,
		Metadata: DocumentMeta{
			SourceKind:  sourceKind,
			SourceFile:  sourceFile,
			GeneratedAt: generatedAt,
		},
		Nodes: []Node{},
	}
}

// Walk visits every node reachable from doc.Nodes in depth-first order,
// parents before children. The visitor receives the node and its path
// (e.g. "nodes[0].children[2]") for error reporting.
func (doc Document) Walk(visit func(n *Node, path string)) {
	for i := range doc.Nodes {
		walkNode(&doc.Nodes[i], fmt.Sprintf("nodes[%d]", i), visit)
	}
}

func walkNode(n *Node, path string, visit func(n *Node, path string)) {
	visit(n, path)
	for i := range n.Children {
		walkNode(&n.Children[i], fmt.Sprintf("%s.children[%d]", path, i), visit)
	}
}

// CountNodes returns the total number of nodes reachable from doc.Nodes.
func (doc Document) CountNodes() int {
	n := 0
	doc.Walk(func(*Node, string) { n++ })
	return n
}
