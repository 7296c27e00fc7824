package compiler

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModuleSource is the on-disk form of a module.
//
// Example:
//
//	name: demo
//	declarations:
//	  - {name: malloc, type: "i8* (i64)", attrs: [allocator]}
//	functions:
//	  - name: first
//	    type: "i8 (i8*)"
//	    params: [p]
//	    blocks:
//	      - name: entry
//	        instrs:
//	          - {op: load, name: v, type: i8, args: ["%p"]}
//	          - {op: ret, args: ["%v"]}
type ModuleSource struct {
	Name         string           `yaml:"name"`
	Globals      []GlobalSource   `yaml:"globals,omitempty"`
	Declarations []FunctionSource `yaml:"declarations,omitempty"`
	Functions    []FunctionSource `yaml:"functions"`
}

// GlobalSource declares a global variable; Type is the element type.
type GlobalSource struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FunctionSource declares or defines a function. Type is the function type,
// e.g. "i32 (i8*, i64)". Declarations have no blocks.
type FunctionSource struct {
	Name   string        `yaml:"name"`
	Type   string        `yaml:"type"`
	Params []string      `yaml:"params,omitempty"`
	Attrs  []string      `yaml:"attrs,omitempty"`
	Blocks []BlockSource `yaml:"blocks,omitempty"`
}

// BlockSource is a named basic block.
type BlockSource struct {
	Name   string        `yaml:"name"`
	Instrs []InstrSource `yaml:"instrs"`
}

// InstrSource is one instruction.
//
// Operands are written as "%local", "@global", integer literals ("8",
// "8:i32"), "true"/"false", "null:T", "undef:T" or constant expressions
// "gep:T(@g, 0, 1)", "bitcast:T(@g)", "select:T(true, @a, @b)".
type InstrSource struct {
	Op       string            `yaml:"op"`
	Name     string            `yaml:"name,omitempty"`
	Type     string            `yaml:"type,omitempty"`
	Args     []string          `yaml:"args,omitempty"`
	Callee   string            `yaml:"callee,omitempty"`
	Alloc    string            `yaml:"alloc,omitempty"`
	Incoming [][]string        `yaml:"incoming,omitempty"`
	Targets  []string          `yaml:"targets,omitempty"`
	Indices  []int64           `yaml:"indices,omitempty"`
	Pred     string            `yaml:"pred,omitempty"`
	Meta     map[string]string `yaml:"meta,omitempty"`
}

// ParseSource decodes a module document. Unknown fields are rejected so
// typos ("instr:" for "instrs:") surface instead of silently producing an
// empty block.
func ParseSource(data []byte) (*ModuleSource, error) {
	var src ModuleSource
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil {
		return nil, fmt.Errorf("failed to parse module YAML: %w", err)
	}
	return &src, nil
}

// ReadSource reads and decodes a module file.
func ReadSource(path string) (*ModuleSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module file: %w", err)
	}
	return ParseSource(data)
}
