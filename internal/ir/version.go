package ir

// Version constants for the IR schema and engine.
const (
	// CurrentSchemaVersion is the document schema version this engine
	// reads and writes. Documents at older versions are migrated forward
	// before use; version 0 denotes a raw, pre-schema document.
	CurrentSchemaVersion = 1

	// EngineVersion is the duplex engine version.
	EngineVersion = "0.1.0"
)
