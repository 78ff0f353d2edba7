// Package permissions computes what a tenant user may do: the effective
// capability set from direct and role-inherited attributes, and the gate
// that checks it against route policy and admin-role rules.
package permissions

import "sort"

// CapabilitySet is an unordered set of capability names.
type CapabilitySet map[string]struct{}

// NewCapabilitySet builds a set from names.
func NewCapabilitySet(names ...string) CapabilitySet {
	s := make(CapabilitySet, len(names))
	s.Add(names...)
	return s
}

// Add inserts names into the set.
func (s CapabilitySet) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

// Has reports whether name is in the set.
func (s CapabilitySet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Intersects reports whether s and other share at least one name.
func (s CapabilitySet) Intersects(other CapabilitySet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for n := range small {
		if large.Has(n) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

// Sorted returns the names in lexical order.
func (s CapabilitySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsAuthorized reports whether held contains any of required. An empty
// required set authorizes nobody.
func IsAuthorized(required, held CapabilitySet) bool {
	return required.Intersects(held)
}
