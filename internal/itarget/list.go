package itarget

// Dedupe returns targets with exact duplicates (see Equal) removed,
// keeping the first occurrence. Order is preserved.
func Dedupe(targets []*ITarget) []*ITarget {
	out := make([]*ITarget, 0, len(targets))
outer:
	for _, t := range targets {
		for _, kept := range out {
			if kept.Equal(t) {
				continue outer
			}
		}
		out = append(out, t)
	}
	return out
}

// Valid returns the targets that have not been invalidated.
func Valid(targets []*ITarget) []*ITarget {
	var out []*ITarget
	for _, t := range targets {
		if t.IsValid() {
			out = append(out, t)
		}
	}
	return out
}

// CountValid counts the live targets.
func CountValid(targets []*ITarget) int {
	n := 0
	for _, t := range targets {
		if t.IsValid() {
			n++
		}
	}
	return n
}

// Stats summarizes a target list by kind.
type Stats struct {
	Total   int          `json:"total"`
	Valid   int          `json:"valid"`
	ByKind  map[Kind]int `json:"by_kind"`
	Checks  int          `json:"checks"`
	Witness int          `json:"witnessed"`
}

// Summarize computes Stats over targets.
func Summarize(targets []*ITarget) Stats {
	s := Stats{ByKind: map[Kind]int{}}
	for _, t := range targets {
		s.Total++
		if !t.IsValid() {
			continue
		}
		s.Valid++
		s.ByKind[t.kind]++
		if t.HasCheck() {
			s.Checks++
		}
		if t.HasBoundWitness() {
			s.Witness++
		}
	}
	return s
}
