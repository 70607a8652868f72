package lower

import (
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/target"
)

type (
	diamondNodes struct {
		branch  graph.ID
		ifTrue  graph.ID
		ifFalse graph.ID
		merge   graph.ID
	}
)

func diamond(g *graph.Graph, cond, control graph.ID) diamondNodes {
	br := g.NewNode(graph.Branch, cond, control)

	d := diamondNodes{
		branch:  br,
		ifTrue:  g.NewNode(graph.IfTrue, br),
		ifFalse: g.NewNode(graph.IfFalse, br),
	}

	d.merge = g.Merge(d.ifTrue, d.ifFalse)

	return d
}

// allocateHeapNumber boxes value. The allocation is fresh so the store
// needs no write barrier.
func (l *Lowering) allocateHeapNumber(value, effect, control graph.ID) Fragment {
	g := l.g

	fn := g.ExternalConstant(graph.AllocateHeapNumber)
	size := g.Int32Constant(int32(l.HeapNumberSize))

	obj := g.Call(fn, []graph.ID{size}, effect, control)

	store := g.Store(graph.RepFloat64, graph.NoWriteBarrier, obj, g.Int32Constant(int32(l.HeapNumberOffset)), value, obj, control)

	fin := g.NewNode(graph.Finish, obj, store)

	return Fragment{Value: fin, Effect: fin, Control: control}
}

func (l *Lowering) loadHeapNumberValue(obj, control graph.ID) graph.ID {
	g := l.g

	return g.Load(graph.RepFloat64, obj, g.Int32Constant(int32(l.HeapNumberOffset)), g.NewNode(graph.ControlEffect, control), -1)
}

// tagBit is non-zero for heap object pointers.
func (l *Lowering) tagBit(val graph.ID) graph.ID {
	g := l.g

	return g.NewNode(l.wordOp(graph.Word32And, graph.Word64And), val, g.Int32Constant(SmiTagMask))
}

func (l *Lowering) smiTag(val graph.ID, unsigned bool) graph.ID {
	g := l.g

	shift := g.Int32Constant(int32(l.SmiShift))

	if l.Word == target.Word32 {
		return g.NewNode(graph.Word32Shl, val, shift)
	}

	ext := graph.ChangeInt32ToInt64
	if unsigned {
		ext = graph.ChangeUint32ToUint64
	}

	return g.NewNode(graph.Word64Shl, g.NewNode(ext, val), shift)
}

// smiUntag returns the int32 payload of a small integer.
func (l *Lowering) smiUntag(val graph.ID) graph.ID {
	g := l.g

	shift := g.Int32Constant(int32(l.SmiShift))

	if l.Word == target.Word32 {
		return g.NewNode(graph.Word32Sar, val, shift)
	}

	return g.NewNode(graph.TruncateInt64ToInt32, g.NewNode(graph.Word64Sar, val, shift))
}

func (l *Lowering) wordOp(op32, op64 graph.Op) graph.Op {
	if l.Word == target.Word64 {
		return op64
	}

	return op32
}
