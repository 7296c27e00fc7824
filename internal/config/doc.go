// Package config loads meminstrument configuration.
//
// A configuration file is YAML. It is checked twice: first against the
// embedded CUE schema (schema.cue), which rejects unknown keys and
// out-of-range values with precise messages, then decoded strictly into
// Config. The version key is a semantic version whose major must be v1.
//
// Example:
//
//	version: v1.0.0
//	policy: access-only
//	strategy: after-inflow
//	mechanism: splay
//	filters: [annotation, dominance]
//	db: runs.db
//
// Environment variables prefixed MEMINSTRUMENT_ override the file; command
// line flags override both.
package config
