// Package selection holds the page-session selection state: an explicit set
// of term keys kept in sync with the tree widget's checkboxes.
package selection

// Set is an insertion-ordered set of term keys.
type Set struct {
	order  []string
	member map[string]struct{}
}

func NewSet() *Set {
	return &Set{member: map[string]struct{}{}}
}

// Add inserts key; inserting a present key is a no-op.
func (s *Set) Add(key string) {
	if key == "" {
		return
	}
	if _, ok := s.member[key]; ok {
		return
	}
	s.member[key] = struct{}{}
	s.order = append(s.order, key)
}

// Remove deletes key if present; a no-op otherwise.
func (s *Set) Remove(key string) {
	if _, ok := s.member[key]; !ok {
		return
	}
	delete(s.member, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Set) Has(key string) bool {
	_, ok := s.member[key]
	return ok
}

func (s *Set) Len() int { return len(s.order) }

// Keys returns the members in insertion order. The result is a copy.
func (s *Set) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) Clear() {
	s.order = s.order[:0]
	s.member = map[string]struct{}{}
}
