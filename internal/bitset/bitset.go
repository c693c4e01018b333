// Package bitset provides a growable index set with deterministic
// lowest-index-first iteration, used for the per-cycle high/low
// candidate masks of both rebalancing loops.
package bitset

import "math/bits"

const wordBits = 64

// Set is a bitset over small non-negative integers. The zero value is
// an empty set ready for use.
type Set struct {
	words []uint64
}

func New(indexes ...int) *Set {
	s := &Set{}
	for _, i := range indexes {
		s.Add(i)
	}
	return s
}

func (s *Set) Add(i int) {
	if i < 0 {
		return
	}
	w := i / wordBits
	for len(s.words) <= w {
		s.words = append(s.words, 0)
	}
	s.words[w] |= 1 << uint(i%wordBits)
}

func (s *Set) Remove(i int) {
	if i < 0 {
		return
	}
	w := i / wordBits
	if w < len(s.words) {
		s.words[w] &^= 1 << uint(i%wordBits)
	}
}

func (s *Set) Contains(i int) bool {
	if i < 0 {
		return false
	}
	w := i / wordBits
	return w < len(s.words) && s.words[w]&(1<<uint(i%wordBits)) != 0
}

func (s *Set) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func (s *Set) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Lowest returns the smallest member, or -1 if the set is empty.
func (s *Set) Lowest() int {
	for wi, w := range s.words {
		if w != 0 {
			return wi*wordBits + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// PopLowest removes and returns the smallest member. Lowest-index-first
// order is a contract callers rely on for deterministic tie-breaking,
// not an implementation accident.
func (s *Set) PopLowest() (int, bool) {
	i := s.Lowest()
	if i < 0 {
		return 0, false
	}
	s.Remove(i)
	return i, true
}

func (s *Set) Clone() *Set {
	c := &Set{}
	if len(s.words) > 0 {
		c.words = append([]uint64(nil), s.words...)
	}
	return c
}

func (s *Set) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// Members returns the set contents in ascending order.
func (s *Set) Members() []int {
	out := make([]int, 0, s.Len())
	for wi, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, wi*wordBits+b)
			w &^= 1 << uint(b)
		}
	}
	return out
}
