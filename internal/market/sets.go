package market

import "github.com/ethereum/go-ethereum/common"

// tokenSet is an index set of token ids with O(1) membership and
// swap-remove deletion. Iteration order is implementation-defined: removal
// moves the last element into the vacated slot, so callers must never
// assume arrival-time ordering.
type tokenSet struct {
	items []uint64
	pos   map[uint64]int
}

func newTokenSet() *tokenSet {
	return &tokenSet{pos: make(map[uint64]int)}
}

func (s *tokenSet) Add(v uint64) bool {
	if _, ok := s.pos[v]; ok {
		return false
	}
	s.pos[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

func (s *tokenSet) Remove(v uint64) bool {
	i, ok := s.pos[v]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	moved := s.items[last]
	s.items[i] = moved
	s.pos[moved] = i
	s.items = s.items[:last]
	delete(s.pos, v)
	return true
}

func (s *tokenSet) Contains(v uint64) bool {
	_, ok := s.pos[v]
	return ok
}

func (s *tokenSet) Len() int {
	return len(s.items)
}

func (s *tokenSet) At(i int) uint64 {
	return s.items[i]
}

// addressSet mirrors tokenSet for bidder addresses.
type addressSet struct {
	items []common.Address
	pos   map[common.Address]int
}

func newAddressSet() *addressSet {
	return &addressSet{pos: make(map[common.Address]int)}
}

func (s *addressSet) Add(v common.Address) bool {
	if _, ok := s.pos[v]; ok {
		return false
	}
	s.pos[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

func (s *addressSet) Remove(v common.Address) bool {
	i, ok := s.pos[v]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	moved := s.items[last]
	s.items[i] = moved
	s.pos[moved] = i
	s.items = s.items[:last]
	delete(s.pos, v)
	return true
}

func (s *addressSet) Len() int {
	return len(s.items)
}

func (s *addressSet) At(i int) common.Address {
	return s.items[i]
}
