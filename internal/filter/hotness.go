package filter

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Profile holds block execution counts per function.
//
// Example:
//
//	functions:
//	  walk:
//	    entry: 1
//	    loop: 1000000
type Profile struct {
	Functions map[string]map[string]int64 `yaml:"functions"`
}

// ParseProfile decodes a profile document.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
	}
	return &p, nil
}

// LoadProfile reads and decodes a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// Count returns the execution count of a block, and false when the profile
// has no entry for it.
func (p *Profile) Count(fn, block string) (int64, bool) {
	blocks, ok := p.Functions[fn]
	if !ok {
		return 0, false
	}
	n, ok := blocks[block]
	return n, ok
}

// Unknown returns profiled function names that m does not define.
func (p *Profile) Unknown(m *ir.Module) []string {
	var out []string
	for name := range p.Functions {
		if f := m.Function(name); f == nil || f.IsDeclaration() {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Hotness trades safety for speed: checks in blocks executed more than
// Threshold times are dropped. Witness-only targets are kept so callers and
// stores still receive valid bounds.
type Hotness struct {
	Profile   *Profile
	Threshold int64
}

func (*Hotness) Name() string { return NameHotness }

func (h *Hotness) Apply(f *ir.Function, targets []*itarget.ITarget) []*itarget.ITarget {
	for _, t := range targets {
		if !t.IsValid() || !t.HasCheck() {
			continue
		}
		n, ok := h.Profile.Count(f.Name(), t.Location().Block.Name)
		if ok && n > h.Threshold {
			t.Invalidate()
		}
	}
	return targets
}
