package ir

// Version constants recorded with every stored run.
const (
	// FormatVersion is the module file format version accepted by the loader.
	FormatVersion = "1"

	// ToolVersion is the meminstrument version.
	ToolVersion = "0.1.0"
)
