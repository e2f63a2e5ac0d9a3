package ledger

import (
	"encoding/json"
)

// MarketSet is an insertion-ordered set of market ids. The zero value is an
// empty set. Membership tests are O(1); removal is O(n) in the set size.
type MarketSet struct {
	ids   []uint64
	index map[uint64]int
}

// NewMarketSet builds a set from ids, dropping duplicates and keeping the
// first occurrence.
func NewMarketSet(ids ...uint64) MarketSet {
	var s MarketSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. It returns false if id was already present.
func (s *MarketSet) Add(id uint64) bool {
	if s.Contains(id) {
		return false
	}
	if s.index == nil {
		s.index = make(map[uint64]int)
	}
	s.index[id] = len(s.ids)
	s.ids = append(s.ids, id)
	return true
}

// Remove deletes id. It returns false if id was absent.
func (s *MarketSet) Remove(id uint64) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}

	// Build a new backing array so clones sharing the old one are unaffected.
	ids := make([]uint64, 0, len(s.ids)-1)
	ids = append(ids, s.ids[:i]...)
	ids = append(ids, s.ids[i+1:]...)
	s.ids = ids

	delete(s.index, id)
	for j := i; j < len(s.ids); j++ {
		s.index[s.ids[j]] = j
	}
	return true
}

// Contains reports whether id is in the set.
func (s *MarketSet) Contains(id uint64) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of members.
func (s *MarketSet) Len() int {
	return len(s.ids)
}

// IDs returns the members in insertion order.
func (s *MarketSet) IDs() []uint64 {
	out := make([]uint64, len(s.ids))
	copy(out, s.ids)
	return out
}

// Clone returns an independent copy.
func (s MarketSet) Clone() MarketSet {
	return NewMarketSet(s.ids...)
}

func (s MarketSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *MarketSet) UnmarshalJSON(data []byte) error {
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewMarketSet(ids...)
	return nil
}
