// Package set provides the word-packed bitsets the match engine uses
// for candidate masks. Capacity is fixed at creation: the number of
// candidates is known once a machine specification is built.
package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Bitmap struct {
		b []uint64
	}
)

func MakeBitmap(n int) Bitmap {
	return Bitmap{b: make([]uint64, (n+63)/64)}
}

func (s Bitmap) Set(i int) {
	s.b[i/64] |= 1 << (i % 64)
}

func (s Bitmap) Clear(i int) {
	s.b[i/64] &^= 1 << (i % 64)
}

func (s Bitmap) IsSet(i int) bool {
	if i/64 >= len(s.b) {
		return false
	}

	return s.b[i/64]&(1<<(i%64)) != 0
}

func (s Bitmap) And(x Bitmap) {
	for i := range s.b {
		if i < len(x.b) {
			s.b[i] &= x.b[i]
		} else {
			s.b[i] = 0
		}
	}
}

func (s Bitmap) AndCopy(x Bitmap) Bitmap {
	cp := s.Copy()
	cp.And(x)

	return cp
}

func (s Bitmap) Or(x Bitmap) {
	for i, w := range x.b {
		s.b[i] |= w
	}
}

func (s Bitmap) Copy() Bitmap {
	cp := Bitmap{b: make([]uint64, len(s.b))}
	copy(cp.b, s.b)

	return cp
}

func (s Bitmap) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s Bitmap) Size() (r int) {
	for _, w := range s.b {
		r += bits.OnesCount64(w)
	}

	return r
}

func (s Bitmap) First() int {
	for i, w := range s.b {
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
	}

	return -1
}

func (s Bitmap) Range(f func(i int) bool) {
	for i, w := range s.b {
		for w != 0 {
			j := bits.TrailingZeros64(w)
			w &^= 1 << j

			if !f(i*64 + j) {
				return
			}
		}
	}
}

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)

		return true
	})

	b = e.AppendBreak(b)

	return b
}
