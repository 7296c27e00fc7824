// Package compiler turns module documents into validated ir.Modules.
//
// A module document is YAML (see ModuleSource). Loading happens in two
// passes so phis and branches may reference values and blocks defined later
// in the function. Identifiers are NFC-normalized.
//
// Loading never fails fast: every problem found is returned as a
// ValidationError with an E2xx code, so a single run reports everything
// wrong with a file.
//
// AnalyzePhiCycles reports loop-carried pointer phis, which become cyclic
// regions of the witness graph.
package compiler
