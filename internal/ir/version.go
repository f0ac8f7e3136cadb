package ir

// Version constants for the replication format and engine.
const (
	// WireVersion is the changeset wire format version.
	WireVersion = "1"

	// EngineVersion is the crr engine version.
	EngineVersion = "0.1.0"
)
