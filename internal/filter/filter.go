// Package filter prunes instrumentation targets before the witness engine
// sees them.
//
// Filters never delete targets. They invalidate them, which keeps the record
// around for reports and dumps while removing it from graph construction.
package filter

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Filter mutates the target list of one function.
type Filter interface {
	Name() string
	// Apply may invalidate targets or append new ones and returns the
	// resulting list.
	Apply(f *ir.Function, targets []*itarget.ITarget) []*itarget.ITarget
}

// Filter names accepted by New.
const (
	NameAnnotation = "annotation"
	NameDominance  = "dominance"
	NameHotness    = "hotness"
)

// Names lists the available filters in their default order.
func Names() []string { return []string{NameAnnotation, NameDominance, NameHotness} }

// Options configure filter construction.
type Options struct {
	// Profile supplies block counts for the hotness filter.
	Profile *Profile
	// HotThreshold is the block count above which checks are dropped.
	HotThreshold int64
	// DomCache is shared by the dominance filter. Nil gives the filter a
	// private cache of DomCacheSize trees.
	DomCache *DomCache
	// DomCacheSize bounds a private dominator-tree cache. Zero uses a default.
	DomCacheSize int
}

// New constructs the named filter.
func New(name string, opts Options) (Filter, error) {
	switch name {
	case NameAnnotation:
		return Annotation{}, nil
	case NameDominance:
		cache := opts.DomCache
		if cache == nil {
			var err error
			if cache, err = NewDomCache(opts.DomCacheSize); err != nil {
				return nil, err
			}
		}
		return NewDominance(cache), nil
	case NameHotness:
		if opts.Profile == nil {
			return nil, fmt.Errorf("filter %q needs a profile", name)
		}
		return &Hotness{Profile: opts.Profile, Threshold: opts.HotThreshold}, nil
	}
	return nil, fmt.Errorf("unknown filter %q (want one of %s)", name, strings.Join(Names(), ", "))
}

// Pipeline runs filters in order.
type Pipeline []Filter

// NewPipeline builds a pipeline from filter names.
func NewPipeline(names []string, opts Options) (Pipeline, error) {
	p := make(Pipeline, 0, len(names))
	for _, n := range names {
		f, err := New(strings.TrimSpace(n), opts)
		if err != nil {
			return nil, err
		}
		p = append(p, f)
	}
	return p, nil
}

// Run applies every filter to targets and returns the resulting list.
func (p Pipeline) Run(f *ir.Function, targets []*itarget.ITarget) []*itarget.ITarget {
	for _, flt := range p {
		before := itarget.CountValid(targets)
		targets = flt.Apply(f, targets)
		after := itarget.CountValid(targets)
		slog.Debug("filter applied",
			"filter", flt.Name(),
			"function", f.Name(),
			"valid_before", before,
			"valid_after", after)
	}
	return targets
}
