package discovery

// CandidateSet is an insertion-ordered set of CandidateEntry values. The
// zero value is not usable; use NewCandidateSet.
type CandidateSet struct {
	entries []CandidateEntry
	index   map[CandidateEntry]struct{}
}

func NewCandidateSet() *CandidateSet {
	return &CandidateSet{index: make(map[CandidateEntry]struct{})}
}

// Add inserts e and reports whether it was new.
func (s *CandidateSet) Add(e CandidateEntry) bool {
	if _, ok := s.index[e]; ok {
		return false
	}
	s.index[e] = struct{}{}
	s.entries = append(s.entries, e)
	return true
}

func (s *CandidateSet) Contains(e CandidateEntry) bool {
	_, ok := s.index[e]
	return ok
}

func (s *CandidateSet) Len() int {
	return len(s.entries)
}

// Clear drops every entry.
func (s *CandidateSet) Clear() {
	s.entries = nil
	clear(s.index)
}

// Entries returns a copy of the entries in insertion order.
func (s *CandidateSet) Entries() []CandidateEntry {
	out := make([]CandidateEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
