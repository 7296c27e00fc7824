package filter

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

const defaultDomCacheSize = 256

// DomCache holds dominator trees keyed by function fingerprint. Shared
// between runs, it lets a module that is loaded again, such as one module
// under several scenarios, reuse the trees computed for an earlier load.
// It is safe for concurrent use.
type DomCache struct {
	trees  *lru.Cache[string, *ir.DomTree]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewDomCache returns a cache of up to size trees. Zero uses a default.
func NewDomCache(size int) (*DomCache, error) {
	if size <= 0 {
		size = defaultDomCacheSize
	}
	trees, err := lru.New[string, *ir.DomTree](size)
	if err != nil {
		return nil, err
	}
	return &DomCache{trees: trees}, nil
}

// Tree returns the dominator tree of f, computing it on a miss. Call it
// before f is instrumented: the key is f's printed form.
func (c *DomCache) Tree(f *ir.Function) *ir.DomTree {
	key := ir.Fingerprint(f)
	if dt, ok := c.trees.Get(key); ok {
		if bound := dt.Rebind(f); bound != nil {
			c.hits.Add(1)
			return bound
		}
	}
	c.misses.Add(1)
	dt := ir.Dominators(f)
	c.trees.Add(key, dt)
	return dt
}

// Stats returns the number of hits and misses so far.
func (c *DomCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached trees.
func (c *DomCache) Len() int { return c.trees.Len() }

// Dominance drops a constant-size check that is subsumed by an earlier one:
// same pointer, a dominating location, at least as many bytes, and at least
// the same flags.
//
// Temporal checks are never dropped; memory may be freed between the two
// locations.
type Dominance struct {
	cache *DomCache
}

// NewDominance returns a dominance filter that takes its trees from cache.
func NewDominance(cache *DomCache) *Dominance {
	return &Dominance{cache: cache}
}

func (*Dominance) Name() string { return NameDominance }

func (d *Dominance) Apply(f *ir.Function, targets []*itarget.ITarget) []*itarget.ITarget {
	dt := d.cache.Tree(f)
	for _, late := range targets {
		if !subsumable(late) {
			continue
		}
		for _, early := range targets {
			if early != late && subsumes(dt, early, late) {
				late.Invalidate()
				break
			}
		}
	}
	return targets
}

func subsumable(t *itarget.ITarget) bool {
	return t.IsValid() && t.Kind() == itarget.ConstSizeCheck && !t.HasFlags(itarget.CheckTemporal)
}

func subsumes(dt *ir.DomTree, early, late *itarget.ITarget) bool {
	if !early.IsValid() || early.Kind() != itarget.ConstSizeCheck {
		return false
	}
	if early.Instrumentee() != late.Instrumentee() || early.Location() == late.Location() {
		return false
	}
	es, _ := early.ConstSize()
	ls, _ := late.ConstSize()
	return es >= ls &&
		early.Flags().Has(late.Flags()) &&
		dt.DominatesInstr(early.Location(), late.Location())
}
