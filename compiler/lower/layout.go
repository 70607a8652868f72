package lower

import "github.com/slowlang/armjit/compiler/target"

type (
	// Layout describes tagged values and boxed floats for one word width.
	Layout struct {
		Word target.Word

		SmiShift     int // payload shift of a small integer
		SmiValueSize int // payload bits
		SmiMax       int64
		SmiMin       int64

		PointerSize      int
		HeapNumberSize   int
		HeapNumberOffset int // float payload offset from a tagged pointer
	}
)

const (
	SmiTag        = 0
	SmiTagSize    = 1
	SmiTagMask    = 1<<SmiTagSize - 1
	HeapObjectTag = 1
)

func LayoutFor(w target.Word) Layout {
	l := Layout{
		Word:        w,
		PointerSize: w.PointerSize(),
	}

	if w == target.Word64 {
		l.SmiShift = SmiTagSize + 31
		l.SmiValueSize = 32
	} else {
		l.SmiShift = SmiTagSize
		l.SmiValueSize = 31
	}

	l.SmiMax = 1<<(l.SmiValueSize-1) - 1
	l.SmiMin = -(1 << (l.SmiValueSize - 1))

	// map word, then the float
	l.HeapNumberSize = l.PointerSize + 8
	l.HeapNumberOffset = l.PointerSize - HeapObjectTag

	return l
}

func (l Layout) IsSmi(v int64) bool { return v >= l.SmiMin && v <= l.SmiMax }
