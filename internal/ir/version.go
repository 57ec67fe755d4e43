package ir

// Version constants for the graph schema and tool.
const (
	// SchemaVersion is the graph IR schema version.
	SchemaVersion = "1"

	// ToolVersion is the cigraph release reported by --version.
	ToolVersion = "0.1.0"
)
