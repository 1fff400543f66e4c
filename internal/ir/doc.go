// Package ir defines the framework-neutral intermediate representation that
// both source sides are converted into and generated from.
//
// This package contains type definitions and serialization only. All other
// internal packages import ir; ir imports nothing internal. This ensures the
// IR remains the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Prop, state, and list values are a sealed tagged union (IRValue) so
//     generators can pattern-match exhaustively instead of duck typing
//   - Objects preserve insertion order; canonical serialization (RFC 8785)
//     sorts keys, so checksums are independent of authoring order
//   - Checksums cover document content, not provenance: document metadata
//     and per-node line numbers are excluded from identity
//   - All JSON tags use camelCase to match the on-disk document format
package ir
