package asm

import (
	"fmt"
	"math"

	"github.com/slowlang/armjit/compiler/set"
)

type (
	ConstKind int

	Constant struct {
		Kind  ConstKind
		Int   int64
		Float float64
		Name  string
	}

	Phi struct {
		Out int
		In  []int
	}

	Block struct {
		ID   int
		Phis []Phi
		Succ []int

		// Code[Start:End] belongs to the block.
		Start, End int
	}

	// Stream is the selected code of one graph.
	Stream struct {
		Code   []*Instr
		Blocks []Block

		// Immediates is indexed by Immediate operands.
		Immediates []Constant
		immIndex   map[Constant]int

		// Constants maps a vreg to the value it is materialized from.
		Constants map[int]Constant

		Doubles    set.Bitmap[int]
		References set.Bitmap[int]

		NextVreg int
	}
)

const (
	ConstInt32 ConstKind = iota
	ConstInt64
	ConstFloat64
	ConstHeap
	ConstExternal
)

func NewStream() *Stream {
	return &Stream{
		immIndex:  map[Constant]int{},
		Constants: map[int]Constant{},
	}
}

func Int32(v int32) Constant { return Constant{Kind: ConstInt32, Int: int64(v)} }

// NewVreg allocates a fresh virtual register.
func (s *Stream) NewVreg() int {
	v := s.NextVreg
	s.NextVreg++

	return v
}

// AddImmediate returns the index of c in the immediates table.
// Equal constants share an index.
func (s *Stream) AddImmediate(c Constant) int {
	if c.Kind == ConstFloat64 {
		c.Int = int64(math.Float64bits(c.Float))
	}

	if i, ok := s.immIndex[c]; ok {
		return i
	}

	i := len(s.Immediates)
	s.Immediates = append(s.Immediates, c)
	s.immIndex[c] = i

	return i
}

func (s *Stream) Emit(i *Instr) {
	s.Code = append(s.Code, i)
}

// Target returns instructions which are not architecture pseudo ops.
func (s *Stream) Target() []*Instr {
	r := make([]*Instr, 0, len(s.Code))

	for _, i := range s.Code {
		if i.Op.IsArch() {
			continue
		}

		r = append(r, i)
	}

	return r
}

// ToConstant resolves an immediate or constant operand.
func (s *Stream) ToConstant(o Operand) Constant {
	switch o.Kind {
	case Immediate:
		return s.Immediates[o.Index]
	case ConstantRef:
		c, ok := s.Constants[o.Index]
		if ok {
			return c
		}
	case Unallocated:
		c, ok := s.Constants[o.Index]
		if ok {
			return c
		}
	}

	panic(fmt.Sprintf("operand %v is not a constant", o))
}

func (s *Stream) ToInt32(o Operand) int32 {
	c := s.ToConstant(o)
	if c.Kind != ConstInt32 {
		panic(fmt.Sprintf("operand %v is not an int32: %v", o, c))
	}

	return int32(c.Int)
}

func (s *Stream) ToVreg(o Operand) int {
	if o.Kind != Unallocated && o.Kind != ConstantRef {
		panic(fmt.Sprintf("operand %v is not a register", o))
	}

	return o.Index
}

func (s *Stream) IsDouble(v int) bool    { return s.Doubles.IsSet(v) }
func (s *Stream) IsReference(v int) bool { return s.References.IsSet(v) }

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt32, ConstInt64:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat64:
		return fmt.Sprintf("%g", c.Float)
	case ConstHeap:
		return fmt.Sprintf("heap:%s", c.Name)
	case ConstExternal:
		return fmt.Sprintf("ext:%s", c.Name)
	}

	return fmt.Sprintf("const(%d)", int(c.Kind))
}
