package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDocument = "duplex/document/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Checksum computes the content-addressed checksum of a document: SHA-256
// over the RFC 8785 canonical serialization, domain-separated.
//
// DESIGN DECISION: the checksum covers CONTENT, not PROVENANCE. Document
// metadata (sourceKind, sourceFile, generatedAt) and per-node line numbers
// are excluded. This is what lets the engine recognize a re-parse of its own
// generated output as unchanged: the regenerated file carries different
// provenance and line positions but the same content, so hasChanged-gated
// callers skip the store and the loop dies out. Authored node documentation
// (NodeMeta.Doc) IS content and is included.
func Checksum(doc Document) (string, error) {
	canonical, err := MarshalCanonical(documentIdentity(doc))
	if err != nil {
		return "", fmt.Errorf("Checksum: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// MustChecksum is like Checksum but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChecksum(doc Document) string {
	sum, err := Checksum(doc)
	if err != nil {
		panic(err)
	}
	return sum
}

// CanonicalDocument returns the exact canonical bytes Checksum hashes.
// Useful for debugging checksum mismatches and for golden fixtures.
func CanonicalDocument(doc Document) ([]byte, error) {
	return MarshalCanonical(documentIdentity(doc))
}

// documentIdentity builds the IRValue tree that defines a document's
// identity for hashing.
func documentIdentity(doc Document) *IRObject {
	nodes := make(IRArray, len(doc.Nodes))
	for i := range doc.Nodes {
		nodes[i] = nodeIdentity(&doc.Nodes[i])
	}
	return NewIRObjectFromPairs(
		O("schemaVersion", IRInt(int64(doc.SchemaVersion))),
		O("nodes", nodes),
	)
}

// nodeIdentity builds the identity value for one node. Optional collections
// are included only when present so that adding an empty slice later does
// not silently change every existing checksum.
func nodeIdentity(n *Node) *IRObject {
	children := make(IRArray, len(n.Children))
	for i := range n.Children {
		children[i] = nodeIdentity(&n.Children[i])
	}

	props := n.Props
	if props == nil {
		props = NewIRObject()
	}

	obj := NewIRObjectFromPairs(
		O("id", IRString(n.ID)),
		O("type", IRString(n.Type)),
		O("props", props),
		O("children", children),
	)

	if n.State != nil && n.State.Len() > 0 {
		obj.Set("state", n.State)
	}
	if len(n.Events) > 0 {
		events := make(IRArray, len(n.Events))
		for i, e := range n.Events {
			events[i] = NewIRObjectFromPairs(
				O("name", IRString(e.Name)),
				O("handler", IRString(e.Handler)),
			)
		}
		obj.Set("events", events)
	}
	if len(n.Hooks) > 0 {
		hooks := make(IRArray, len(n.Hooks))
		for i, h := range n.Hooks {
			hooks[i] = NewIRObjectFromPairs(
				O("phase", IRString(h.Phase)),
				O("body", IRString(h.Body)),
			)
		}
		obj.Set("lifecycleHooks", hooks)
	}
	if n.Meta.Doc != "" {
		obj.Set("doc", IRString(n.Meta.Doc))
	}

	return obj
}
