package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int32 | ~int64
	}

	// Bitmap is a dense set of small non-negative keys.
	// Node ids and virtual registers both fit.
	Bitmap[K Key] struct {
		b  []uint64
		b0 [2]uint64
	}
)

func NewBitmap[K Key](n int) *Bitmap[K] {
	s := MakeBitmap[K](n)
	return &s
}

func MakeBitmap[K Key](n int) Bitmap[K] {
	s := Bitmap[K]{}
	s.b = s.b0[:]

	n = (n + 63) / 64

	if n > len(s.b) {
		s.b = make([]uint64, n)
	}

	return s
}

func (s *Bitmap[K]) Set(k K) {
	i, j := s.ij(k)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s *Bitmap[K]) SetAll(ks ...K) {
	for _, k := range ks {
		s.Set(k)
	}
}

func (s *Bitmap[K]) Clear(k K) {
	i, j := s.ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bitmap[K]) IsSet(k K) bool {
	if s == nil || k < 0 {
		return false
	}

	i, j := s.ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

// TestAndSet sets k and reports whether it was already set.
func (s *Bitmap[K]) TestAndSet(k K) bool {
	if s.IsSet(k) {
		return true
	}

	s.Set(k)

	return false
}

func (s *Bitmap[K]) Or(x Bitmap[K]) {
	s.grow(len(x.b) - 1)

	for i, x := range x.b {
		s.b[i] |= x
	}
}

func (s *Bitmap[K]) AndNot(x Bitmap[K]) {
	for i, x := range x.b {
		if i == len(s.b) {
			break
		}

		s.b[i] &^= x
	}
}

func (s *Bitmap[K]) Copy() Bitmap[K] {
	r := MakeBitmap[K](s.Len())
	r.Or(*s)
	return r
}

func (s *Bitmap[K]) Size() (r int) {
	if s == nil {
		return 0
	}

	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

func (s *Bitmap[K]) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s *Bitmap[K]) Range(f func(k K) bool) {
	if s == nil {
		return
	}

	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

// Slice returns set keys in ascending order.
func (s *Bitmap[K]) Slice() []K {
	r := make([]K, 0, s.Size())

	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

func (s *Bitmap[K]) First() K {
	for i, x := range s.b {
		if x == 0 {
			continue
		}

		return K(i*64 + bits.TrailingZeros64(x))
	}

	return -1
}

func (s *Bitmap[K]) Last() K {
	for i := len(s.b) - 1; i >= 0; i-- {
		if s.b[i] == 0 {
			continue
		}

		j := 64 - bits.LeadingZeros64(s.b[i]) - 1

		return K(i*64 + j)
	}

	return -1
}

func (s *Bitmap[K]) Len() int {
	return int(s.Last()) + 1
}

func (s Bitmap[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func (s *Bitmap[K]) ij(k K) (i int, j int) {
	p := int(k)

	return p / 64, p % 64
}

func (s *Bitmap[K]) grow(i int) {
	if s.b == nil {
		s.b = s.b0[:]
	}

	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}
