package registry

// seenSet is a bounded set of recently seen final utterance ids. When full,
// the oldest entry is evicted first. It guards against vendor retransmits
// and reconnect replays.
type seenSet struct {
	cap   int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(cap int) *seenSet {
	return &seenSet{
		cap: cap,
		ids: make(map[string]struct{}, cap),
	}
}

// observe records id and reports whether it was already present.
func (s *seenSet) observe(id string) bool {
	if _, ok := s.ids[id]; ok {
		return true
	}
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.order = append(s.order, id)
	s.ids[id] = struct{}{}
	return false
}

func (s *seenSet) len() int { return len(s.ids) }
