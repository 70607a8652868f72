package eval

import (
	"math"

	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/lower"
	"github.com/slowlang/armjit/compiler/target"
)

type (
	// Heap is a toy object heap: boxed floats and the canonical booleans.
	Heap struct {
		lower.Layout

		mem  map[uint64]uint64
		next uint64

		True, False uint64

		externals map[string]uint64

		Allocs int
	}
)

const heapBase = 0x1000

func NewHeap(l lower.Layout) *Heap {
	h := &Heap{
		Layout:    l,
		mem:       map[uint64]uint64{},
		next:      heapBase,
		externals: map[string]uint64{},
	}

	h.True = h.Allocate(l.PointerSize)
	h.False = h.Allocate(l.PointerSize)
	h.Allocs = 0

	return h
}

// Allocate returns a tagged pointer to size fresh bytes.
func (h *Heap) Allocate(size int) uint64 {
	p := h.next

	h.next += uint64(size+7) &^ 7
	h.Allocs++

	return h.word(p | lower.HeapObjectTag)
}

func (h *Heap) Load(rep graph.Rep, addr uint64) uint64 {
	v := h.mem[h.word(addr)]

	switch rep {
	case graph.RepBit, graph.RepWord8:
		return v & 0xff
	case graph.RepWord16:
		return v & 0xffff
	case graph.RepWord32:
		return v & 0xffffffff
	case graph.RepTagged:
		return h.word(v)
	}

	return v
}

func (h *Heap) Store(rep graph.Rep, addr, v uint64) {
	h.mem[h.word(addr)] = v
}

// Box allocates a heap number holding f.
func (h *Heap) Box(f float64) uint64 {
	p := h.Allocate(h.HeapNumberSize)

	h.Store(graph.RepFloat64, p+uint64(h.HeapNumberOffset), math.Float64bits(f))

	return p
}

func (h *Heap) IsSmi(v uint64) bool { return v&lower.SmiTagMask == lower.SmiTag }

// Tag encodes v as a small integer. It does not check the range.
func (h *Heap) Tag(v int64) uint64 {
	return h.word(uint64(v) << h.SmiShift)
}

func (h *Heap) Untag(v uint64) int64 {
	if h.Word == target.Word64 {
		return int64(v) >> h.SmiShift
	}

	return int64(int32(v)) >> h.SmiShift
}

// Number decodes a tagged number.
func (h *Heap) Number(v uint64) float64 {
	if h.IsSmi(v) {
		return float64(h.Untag(v))
	}

	return math.Float64frombits(h.Load(graph.RepFloat64, v+uint64(h.HeapNumberOffset)))
}

// Tagged encodes f the way a representation change to tagged does.
func (h *Heap) Tagged(f float64) uint64 {
	if i := int64(f); float64(i) == f && h.Layout.IsSmi(i) && !(f == 0 && math.Signbit(f)) {
		return h.Tag(i)
	}

	return h.Box(f)
}

func (h *Heap) External(name string) uint64 {
	a, ok := h.externals[name]
	if !ok {
		a = 0xe000 + uint64(len(h.externals))*16
		h.externals[name] = a
	}

	return a
}

func (h *Heap) word(v uint64) uint64 {
	if h.Word == target.Word64 {
		return v
	}

	return v & 0xffffffff
}
