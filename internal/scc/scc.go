// Package scc finds strongly connected components with Tarjan's algorithm.
//
// Components are returned in reverse topological order: a component is
// emitted only after every component reachable from it. Callers that need
// "dependencies first" processing can iterate the result front to back.
package scc

// Tarjan returns the strongly connected components of the graph whose nodes
// are nodes and whose edges are given by succ. Traversal follows the order of
// nodes and of each succ result, so the output is deterministic.
//
// Successors not listed in nodes are still visited.
func Tarjan[K comparable](nodes []K, succ func(K) []K) [][]K {
	var (
		index   = 0
		stack   []K
		indices = make(map[K]int)
		lowlink = make(map[K]int)
		onStack = make(map[K]bool)
		sccs    [][]K
	)

	var strongConnect func(K)
	strongConnect = func(v K) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succ(v) {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of a component: pop it
		if lowlink[v] == indices[v] {
			var comp []K
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, comp)
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// HasSelfLoop reports whether n lists itself as a successor.
func HasSelfLoop[K comparable](n K, succ func(K) []K) bool {
	for _, w := range succ(n) {
		if w == n {
			return true
		}
	}
	return false
}

// IsCyclic reports whether a component returned by Tarjan forms a cycle:
// more than one member, or a single member with a self loop.
func IsCyclic[K comparable](comp []K, succ func(K) []K) bool {
	return len(comp) > 1 || len(comp) == 1 && HasSelfLoop(comp[0], succ)
}
