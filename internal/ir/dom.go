package ir

import "slices"

// DomTree holds the immediate dominators of a function's reachable blocks.
type DomTree struct {
	idom   map[*Block]*Block
	order  map[*Block]int // reverse postorder index
	blocks []*Block       // the function's blocks when the tree was computed
}

// Dominators computes the dominator tree with the iterative algorithm of
// Cooper, Harvey and Kennedy.
func Dominators(f *Function) *DomTree {
	dt := &DomTree{idom: map[*Block]*Block{}, order: map[*Block]int{}, blocks: slices.Clone(f.Blocks)}
	entry := f.Entry()
	if entry == nil {
		return dt
	}

	var post []*Block
	seen := map[*Block]bool{}
	var walk func(*Block)
	walk = func(b *Block) {
		seen[b] = true
		for _, s := range b.Succs() {
			if !seen[s] {
				walk(s)
			}
		}
		post = append(post, b)
	}
	walk(entry)

	rpo := make([]*Block, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}
	for i, b := range rpo {
		dt.order[b] = i
	}

	preds := map[*Block][]*Block{}
	for _, b := range rpo {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}

	dt.idom[entry] = entry
	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			var newIdom *Block
			for _, p := range preds[b] {
				if _, ok := dt.idom[p]; !ok {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = dt.intersect(p, newIdom)
				}
			}
			if newIdom != nil && dt.idom[b] != newIdom {
				dt.idom[b] = newIdom
				changed = true
			}
		}
	}
	return dt
}

func (dt *DomTree) intersect(a, b *Block) *Block {
	for a != b {
		for dt.order[a] > dt.order[b] {
			a = dt.idom[a]
		}
		for dt.order[b] > dt.order[a] {
			b = dt.idom[b]
		}
	}
	return a
}

// Idom returns the immediate dominator of b; the entry block is its own.
func (dt *DomTree) Idom(b *Block) *Block { return dt.idom[b] }

// Dominates reports whether block a dominates block b. Unreachable blocks
// are dominated by nothing.
func (dt *DomTree) Dominates(a, b *Block) bool {
	if _, ok := dt.idom[b]; !ok {
		return false
	}
	for {
		if a == b {
			return true
		}
		next := dt.idom[b]
		if next == b {
			return false
		}
		b = next
	}
}

// DominatesInstr reports whether a executes before b on every path to b.
func (dt *DomTree) DominatesInstr(a, b *Instr) bool {
	if a.Block == b.Block {
		return a.Index() < b.Index()
	}
	return dt.Dominates(a.Block, b.Block)
}

// Rebind returns the tree for f, a function with the same blocks in the same
// order as the one dt was computed for, e.g. the same function loaded again.
// It returns dt itself when f's blocks are the very same, and nil when the
// block lists differ in length or names.
func (dt *DomTree) Rebind(f *Function) *DomTree {
	if len(f.Blocks) != len(dt.blocks) {
		return nil
	}
	same := true
	for i, b := range f.Blocks {
		if b.Name != dt.blocks[i].Name {
			return nil
		}
		same = same && b == dt.blocks[i]
	}
	if same {
		return dt
	}

	to := make(map[*Block]*Block, len(f.Blocks))
	for i, b := range dt.blocks {
		to[b] = f.Blocks[i]
	}
	out := &DomTree{
		idom:   make(map[*Block]*Block, len(dt.idom)),
		order:  make(map[*Block]int, len(dt.order)),
		blocks: slices.Clone(f.Blocks),
	}
	for b, d := range dt.idom {
		out.idom[to[b]] = to[d]
	}
	for b, n := range dt.order {
		out.order[to[b]] = n
	}
	return out
}
