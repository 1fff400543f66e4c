// Package store provides file-backed versioned storage for IR documents.
//
// Layout under the store root:
//
//	<root>/<logicalID>.json            current entry
//	<root>/history/<logicalID>/vN.json archived versions, ascending
//
// Versions increment by exactly one per successful Store; the previous
// current entry is archived before the new one replaces it, never deleted
// or skipped. All writes go through a temp file plus rename so readers
// never observe a partial entry.
//
// Absence and invalidity are soft on the read path: a missing, corrupted,
// or schema-invalid entry comes back as a nil Entry with a log line, not an
// error. IO failures (permissions, disk) stay hard errors so callers can
// retry them.
//
// Store is not idempotent on purpose. Writing identical content bumps the
// version; callers that want convergence gate writes with HasChanged.
package store
