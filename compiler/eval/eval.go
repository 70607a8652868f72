package eval

import (
	"context"
	"math"
	"math/bits"

	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/lower"
	"github.com/slowlang/armjit/compiler/set"
	"github.com/slowlang/armjit/compiler/target"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	// Machine interprets a graph. Values are bit patterns:
	// 32-bit words are zero extended and floats are IEEE bits.
	Machine struct {
		g *graph.Graph

		Heap *Heap

		args []uint64

		vals     []uint64
		computed set.Bitmap[graph.ID]
		effects  set.Bitmap[graph.ID]
		reached  []int8 // 0 unknown, 1 yes, -1 no
	}
)

var ErrNoReturn = errors.New("no return reached")

func New(g *graph.Graph, w target.Word) (*Machine, error) {
	if !w.Valid() {
		return nil, errors.New("bad word width: %d", w)
	}

	return &Machine{
		g:    g,
		Heap: NewHeap(lower.LayoutFor(w)),
	}, nil
}

// Run evaluates the graph with args and returns the value of the reached Return.
func (m *Machine) Run(ctx context.Context, args ...uint64) (res uint64, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "eval: run", "args", args)
	defer tr.Finish("err", &err, "res", &res)

	defer graph.Recover(&err)

	g := m.g

	m.args = args
	m.vals = make([]uint64, g.Len())
	m.reached = make([]int8, g.Len())
	m.computed = set.MakeBitmap[graph.ID](g.Len())
	m.effects = set.MakeBitmap[graph.ID](g.Len())

	if g.End < 0 {
		return 0, errors.Wrap(ErrNoReturn, "no end")
	}

	for _, ret := range g.Node(g.End).ControlInputs() {
		if g.Op(ret) != graph.Return || !m.isReached(ret) {
			continue
		}

		m.effect(g.EffectIn(ret))
		res = m.value(g.ValueIn(ret, 0))

		tr.V("eval_return").Printw("returned", "node", ret, "res", res, "allocs", m.Heap.Allocs)

		return res, nil
	}

	return 0, ErrNoReturn
}

func (m *Machine) isReached(c graph.ID) bool {
	if r := m.reached[c]; r != 0 {
		return r > 0
	}

	g := m.g
	n := g.Node(c)

	var ok bool

	switch n.Op {
	case graph.Start:
		ok = true
	case graph.Merge:
		for _, in := range n.In {
			if m.isReached(in) {
				ok = true
				break
			}
		}
	case graph.IfTrue, graph.IfFalse:
		br := n.In[0]

		ok = m.isReached(g.ControlIn(br))
		if ok {
			cond := m.value(g.ValueIn(br, 0)) != 0
			ok = cond == (n.Op == graph.IfTrue)
		}
	default:
		ctl := g.ControlIn(c)
		if ctl < 0 {
			panic(graph.Malformed(c, n.Op, "not a control node"))
		}

		ok = m.isReached(ctl)
	}

	if ok {
		m.reached[c] = 1
	} else {
		m.reached[c] = -1
	}

	return ok
}

// takenInput returns the index of the reached merge input.
func (m *Machine) takenInput(merge graph.ID) int {
	n := m.g.Node(merge)

	for i, in := range n.In {
		if m.isReached(in) {
			return i
		}
	}

	panic(graph.Malformed(merge, n.Op, "merge is not reached"))
}

// effect runs an effect chain up to and including id once.
func (m *Machine) effect(id graph.ID) {
	if id < 0 || m.effects.TestAndSet(id) {
		return
	}

	g := m.g
	n := g.Node(id)

	switch n.Op {
	case graph.Start, graph.ValueEffect, graph.ControlEffect:
		return
	case graph.EffectPhi:
		m.effect(n.In[m.takenInput(g.ControlIn(id))])
		return
	}

	for _, e := range n.EffectInputs() {
		m.effect(e)
	}

	switch n.Op {
	case graph.Load, graph.Store, graph.Call:
		m.value(id)
	case graph.Finish:
	default:
		if n.Op.IsChange() {
			m.value(id)
		}
	}
}

func (m *Machine) value(id graph.ID) uint64 {
	if m.computed.IsSet(id) {
		return m.vals[id]
	}

	v := m.compute(id)

	m.vals[id] = v
	m.computed.Set(id)

	tlog.V("eval_node").Printw("value", "node", id, "op", m.g.Op(id), "val", v)

	return v
}

func (m *Machine) compute(id graph.ID) uint64 {
	g := m.g
	n := g.Node(id)
	h := m.Heap

	in := func(i int) uint64 { return m.value(n.In[i]) }
	i32 := func(i int) int32 { return int32(uint32(in(i))) }
	u32 := func(i int) uint32 { return uint32(in(i)) }
	f64 := func(i int) float64 { return math.Float64frombits(in(i)) }

	switch n.Op {
	case graph.Parameter:
		if int(n.Int) >= len(m.args) {
			panic(graph.Malformed(id, n.Op, "no argument %d", n.Int))
		}

		a := m.args[n.Int]

		switch n.Mach {
		case graph.MachInt32, graph.MachUint32, graph.MachBool:
			return uint64(uint32(a))
		case graph.MachTagged:
			return h.word(a)
		}

		return a
	case graph.Int32Constant:
		return w32(uint32(n.Int))
	case graph.Int64Constant:
		return uint64(n.Int)
	case graph.Float64Constant:
		return math.Float64bits(n.Float)
	case graph.HeapConstant:
		switch n.Name {
		case graph.TrueValue:
			return h.True
		case graph.FalseValue:
			return h.False
		}

		panic(graph.Malformed(id, n.Op, "unknown heap constant %q", n.Name))
	case graph.ExternalConstant:
		return h.External(n.Name)

	case graph.Phi:
		return in(m.takenInput(g.ControlIn(id)))
	case graph.Projection:
		return m.projection(id, n)
	case graph.Finish:
		m.effect(n.In[1])
		return in(0)

	case graph.Call:
		m.effect(g.EffectIn(id))

		if g.Node(n.In[0]).Name != graph.AllocateHeapNumber || n.NValue != 2 {
			panic(graph.Malformed(id, n.Op, "unsupported call"))
		}

		return h.Allocate(int(in(1)))
	case graph.Load:
		m.effect(g.EffectIn(id))

		v := h.Load(n.Rep, in(0)+in(1))

		if n.Mach == graph.MachInt32 {
			switch n.Rep {
			case graph.RepWord8:
				v = w32(uint32(int32(int8(v))))
			case graph.RepWord16:
				v = w32(uint32(int32(int16(v))))
			}
		}

		return v
	case graph.Store:
		m.effect(g.EffectIn(id))
		h.Store(n.Rep, in(0)+in(1), in(2))
		return 0

	case graph.Word32And:
		return w32(u32(0) & u32(1))
	case graph.Word32Or:
		return w32(u32(0) | u32(1))
	case graph.Word32Xor:
		return w32(u32(0) ^ u32(1))
	case graph.Word32Shl:
		return w32(u32(0) << (u32(1) & 31))
	case graph.Word32Shr:
		return w32(u32(0) >> (u32(1) & 31))
	case graph.Word32Sar:
		return w32(uint32(i32(0) >> (u32(1) & 31)))
	case graph.Word32Ror:
		return w32(bits.RotateLeft32(u32(0), -int(u32(1)&31)))
	case graph.Word32Equal:
		return b2u(u32(0) == u32(1))

	case graph.Word64And:
		return in(0) & in(1)
	case graph.Word64Or:
		return in(0) | in(1)
	case graph.Word64Xor:
		return in(0) ^ in(1)
	case graph.Word64Shl:
		return in(0) << (in(1) & 63)
	case graph.Word64Shr:
		return in(0) >> (in(1) & 63)
	case graph.Word64Sar:
		return uint64(int64(in(0)) >> (in(1) & 63))
	case graph.Word64Equal:
		return b2u(in(0) == in(1))

	case graph.Int32Add, graph.Int32AddWithOverflow:
		return w32(u32(0) + u32(1))
	case graph.Int32Sub, graph.Int32SubWithOverflow:
		return w32(u32(0) - u32(1))
	case graph.Int32Mul:
		return w32(u32(0) * u32(1))
	case graph.Int32Div:
		return w32(uint32(sdiv(i32(0), i32(1))))
	case graph.Int32UDiv:
		return w32(udiv(u32(0), u32(1)))
	case graph.Int32Mod:
		x, y := i32(0), i32(1)
		return w32(uint32(x - sdiv(x, y)*y))
	case graph.Int32UMod:
		x, y := u32(0), u32(1)
		return w32(x - udiv(x, y)*y)
	case graph.Int32LessThan:
		return b2u(i32(0) < i32(1))
	case graph.Int32LessThanOrEqual:
		return b2u(i32(0) <= i32(1))
	case graph.Uint32LessThan:
		return b2u(u32(0) < u32(1))
	case graph.Uint32LessThanOrEqual:
		return b2u(u32(0) <= u32(1))

	case graph.ChangeInt32ToFloat64:
		return math.Float64bits(float64(i32(0)))
	case graph.ChangeUint32ToFloat64:
		return math.Float64bits(float64(u32(0)))
	case graph.ChangeFloat64ToInt32:
		return w32(uint32(SaturateInt32(f64(0))))
	case graph.ChangeFloat64ToUint32:
		return w32(SaturateUint32(f64(0)))
	case graph.TruncateFloat64ToInt32:
		return w32(uint32(ToInt32(f64(0))))
	case graph.ChangeInt32ToInt64:
		return uint64(int64(i32(0)))
	case graph.ChangeUint32ToUint64:
		return uint64(u32(0))
	case graph.TruncateInt64ToInt32:
		return w32(uint32(in(0)))

	case graph.Float64Add:
		return math.Float64bits(f64(0) + f64(1))
	case graph.Float64Sub:
		return math.Float64bits(f64(0) - f64(1))
	case graph.Float64Mul:
		return math.Float64bits(f64(0) * f64(1))
	case graph.Float64Div:
		return math.Float64bits(f64(0) / f64(1))
	case graph.Float64Equal:
		return b2u(f64(0) == f64(1))
	case graph.Float64LessThan:
		return b2u(f64(0) < f64(1))
	case graph.Float64LessThanOrEqual:
		return b2u(f64(0) <= f64(1))
	}

	if n.Op.IsChange() {
		m.effect(g.EffectIn(id))

		return m.change(id, n)
	}

	panic(graph.Malformed(id, n.Op, "can't evaluate"))
}

func (m *Machine) projection(id graph.ID, n *graph.Node) uint64 {
	g := m.g

	x := n.In[0]
	xn := g.Node(x)

	if n.Int == 0 {
		return m.value(x)
	}

	a := int64(int32(uint32(m.value(xn.In[0]))))
	b := int64(int32(uint32(m.value(xn.In[1]))))

	var r int64

	switch xn.Op {
	case graph.Int32AddWithOverflow:
		r = a + b
	case graph.Int32SubWithOverflow:
		r = a - b
	default:
		panic(graph.Malformed(id, n.Op, "projection %d of %v", n.Int, xn.Op))
	}

	return b2u(r != int64(int32(r)))
}

// change evaluates a representation change before lowering.
func (m *Machine) change(id graph.ID, n *graph.Node) uint64 {
	h := m.Heap
	v := m.value(n.In[0])

	switch n.Op {
	case graph.ChangeBitToBool:
		if uint32(v) != 0 {
			return h.True
		}

		return h.False
	case graph.ChangeBoolToBit:
		return b2u(h.word(v) == h.True)
	case graph.ChangeInt32ToTagged:
		x := int64(int32(uint32(v)))
		if h.Layout.IsSmi(x) {
			return h.Tag(x)
		}

		return h.Box(float64(x))
	case graph.ChangeUint32ToTagged:
		x := int64(uint32(v))
		if x <= h.SmiMax {
			return h.Tag(x)
		}

		return h.Box(float64(x))
	case graph.ChangeFloat64ToTagged:
		return h.Box(math.Float64frombits(v))
	case graph.ChangeTaggedToInt32, graph.ChangeTaggedToUint32:
		if h.IsSmi(v) {
			return w32(uint32(h.Untag(v)))
		}

		return w32(uint32(ToInt32(h.Number(v))))
	case graph.ChangeTaggedToFloat64:
		return math.Float64bits(h.Number(v))
	}

	panic(graph.Malformed(id, n.Op, "can't evaluate"))
}

// ToInt32 converts f modulo 2^32. NaN and infinities become 0.
func ToInt32(f float64) int32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}

	f = math.Trunc(f)
	f = math.Mod(f, 1<<32)

	if f < 0 {
		f += 1 << 32
	}

	return int32(uint32(f))
}

// SaturateInt32 truncates f toward zero clamping to the int32 range.
func SaturateInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= math.MinInt32:
		return math.MinInt32
	case f >= math.MaxInt32:
		return math.MaxInt32
	}

	return int32(f)
}

func SaturateUint32(f float64) uint32 {
	switch {
	case math.IsNaN(f), f <= 0:
		return 0
	case f >= math.MaxUint32:
		return math.MaxUint32
	}

	return uint32(f)
}

// sdiv follows the hardware: x/0 is 0 and MinInt32/-1 is MinInt32.
func sdiv(x, y int32) int32 {
	switch {
	case y == 0:
		return 0
	case x == math.MinInt32 && y == -1:
		return x
	}

	return x / y
}

func udiv(x, y uint32) uint32 {
	if y == 0 {
		return 0
	}

	return x / y
}

func w32(v uint32) uint64 { return uint64(v) }

func b2u(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}
