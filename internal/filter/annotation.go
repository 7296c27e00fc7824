package filter

import (
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Attribute and metadata keys honored by Annotation.
const (
	AttrNoInstrument = "noinstrument"
	MetaNoCheck      = "nocheck"
)

// Annotation honors source annotations: a function attributed noinstrument
// gets no targets at all, and an instruction carrying nocheck metadata gets
// none at that location.
type Annotation struct{}

func (Annotation) Name() string { return NameAnnotation }

func (Annotation) Apply(f *ir.Function, targets []*itarget.ITarget) []*itarget.ITarget {
	skipAll := f.HasAttr(AttrNoInstrument)
	for _, t := range targets {
		if skipAll {
			t.Invalidate()
			continue
		}
		if _, ok := t.Location().Meta[MetaNoCheck]; ok {
			t.Invalidate()
		}
	}
	return targets
}
