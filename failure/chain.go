package failure

// reaches reports whether target is v or appears anywhere in v's causes.
func (v *Value) reaches(target *Value) bool {
	if v == target {
		return true
	}
	for _, c := range v.causes {
		if c.reaches(target) {
			return true
		}
	}
	return false
}

// Chain returns v followed by its causes, depth first, oldest cause first.
// Causes are acyclic by construction, so every value appears once.
func (v *Value) Chain() []*Value {
	if v == nil {
		return nil
	}
	var out []*Value
	var walk func(*Value)
	walk = func(n *Value) {
		for _, seen := range out {
			if seen == n {
				return
			}
		}
		out = append(out, n)
		for _, c := range n.causes {
			walk(c)
		}
	}
	walk(v)
	return out
}

// Any returns the first value in the chain accepted by match.
func (v *Value) Any(match func(*Value) bool) (*Value, bool) {
	for _, n := range v.Chain() {
		if match(n) {
			return n, true
		}
	}
	return nil, false
}

// All returns every value in the chain accepted by match, in chain order.
func (v *Value) All(match func(*Value) bool) []*Value {
	var out []*Value
	for _, n := range v.Chain() {
		if match(n) {
			out = append(out, n)
		}
	}
	return out
}

// OfType is a chain predicate selecting values whose tag matches pattern.
func OfType(pattern string) func(*Value) bool {
	return func(n *Value) bool { return n.tag.Matches(pattern) }
}
