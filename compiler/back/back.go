package back

import (
	"context"
	"slices"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/asm/arm"
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/sched"
	"github.com/slowlang/armjit/compiler/set"
	"github.com/slowlang/armjit/compiler/target"
)

type (
	// Selector covers a scheduled graph with ARM instructions.
	//
	// Blocks are visited last to first and nodes bottom up,
	// so a matcher sees the users of a node before the node itself
	// and may fold it into the user's instruction.
	Selector struct {
		g *graph.Graph
		s *sched.Schedule
		f target.Features

		st *asm.Stream

		vregs  []int
		consts map[asm.Constant]int
		params map[graph.ID]asm.Operand

		used    set.Bitmap[graph.ID]
		defined set.Bitmap[graph.ID]

		cur  *sched.Block
		node graph.ID

		code [][]*asm.Instr
		phis [][]asm.Phi
	}

	// linkage hands out argument locations in order:
	// r0-r3 and d0-d7 first, stack slots after.
	linkage struct {
		regs, doubles, slots int
	}
)

const (
	argRegs    = 4
	argDoubles = 8

	// write barrier stub registers
	wbObject = 4
	wbIndex  = 5
	wbValue  = 6
)

var ErrUnsupported = errors.New("unsupported operator")

// Select covers g scheduled by s and returns the instruction stream.
func Select(ctx context.Context, g *graph.Graph, s *sched.Schedule, f target.Features) (st *asm.Stream, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: select", "nodes", g.Len(), "blocks", len(s.Blocks), "features", f)
	defer tr.Finish("err", &err)

	sel := New(g, s, f)

	err = sel.Run(ctx)
	if err != nil {
		return nil, err
	}

	if tr.If("dump_code") {
		for _, b := range sel.st.Blocks {
			tr.Printw("block", "id", b.ID, "succ", b.Succ, "phis", len(b.Phis))

			for _, i := range sel.st.Code[b.Start:b.End] {
				tr.Printw("instr", "name", arm.Name(i.Op), "mode", arm.ModeName(i.Mode), "instr", i)
			}
		}
	}

	return sel.st, nil
}

func New(g *graph.Graph, s *sched.Schedule, f target.Features) *Selector {
	sel := &Selector{
		g:  g,
		s:  s,
		f:  f,
		st: asm.NewStream(),

		vregs:  make([]int, g.Len()),
		consts: map[asm.Constant]int{},
		params: map[graph.ID]asm.Operand{},

		used:    set.MakeBitmap[graph.ID](g.Len()),
		defined: set.MakeBitmap[graph.ID](g.Len()),
	}

	for i := range sel.vregs {
		sel.vregs[i] = -1
	}

	return sel
}

// Run fills the selector stream. It may be called once.
func (sel *Selector) Run(ctx context.Context) (err error) {
	defer recoverSelect(&err)

	tr := tlog.SpanFromContext(ctx)

	blocks := sel.s.Blocks

	sel.code = make([][]*asm.Instr, len(blocks))
	sel.phis = make([][]asm.Phi, len(blocks))

	sel.assignParameters()

	for i := len(blocks) - 1; i >= 0; i-- {
		sel.visitBlock(tr, blocks[i])
	}

	st := sel.st

	for _, b := range blocks {
		code := sel.code[b.ID]
		slices.Reverse(code)

		phis := sel.phis[b.ID]
		slices.Reverse(phis)

		blk := asm.Block{
			ID:    b.ID,
			Phis:  phis,
			Start: len(st.Code),
		}

		for _, i := range code {
			st.Emit(i)
		}

		blk.End = len(st.Code)

		for _, x := range b.Succ {
			blk.Succ = append(blk.Succ, x.ID)
		}

		st.Blocks = append(st.Blocks, blk)
	}

	return nil
}

func (sel *Selector) Stream() *asm.Stream { return sel.st }

func (sel *Selector) visitBlock(tr tlog.Span, b *sched.Block) {
	sel.cur = b

	// control goes first, it decides which compare it covers
	sel.node = b.Control
	start := len(sel.code[b.ID])
	sel.visitControl(b)
	slices.Reverse(sel.code[b.ID][start:])

	for i := len(b.Nodes) - 1; i >= 0; i-- {
		id := b.Nodes[i]

		if !sel.isUsed(id) || sel.defined.IsSet(id) {
			continue
		}

		sel.node = id
		start := len(sel.code[b.ID])

		sel.visitNode(id)

		code := sel.code[b.ID][start:]
		slices.Reverse(code)

		if tr.If("sel_node") {
			tr.Printw("node", "block", b.ID, "node", id, "op", sel.g.Op(id), "instrs", len(code))
		}
	}

	sel.cur = nil
}

func (sel *Selector) visitControl(b *sched.Block) {
	switch b.Kind {
	case sched.KindGoto:
		if len(b.Succ) != 1 {
			panic(graph.Malformed(b.Head, sel.g.Op(b.Head), "goto with %d successors", len(b.Succ)))
		}

		sel.emit(asm.ArchJmp, arm.ModeNone, nil, sel.label(b.Succ[0]))
	case sched.KindBranch:
		t, f := sel.branchTargets(b)

		sel.visitBranch(b.Control, t, f)
	case sched.KindReturn:
		sel.visitReturn(b.Control)
	default:
		panic(graph.Malformed(b.Head, sel.g.Op(b.Head), "block %d is not terminated", b.ID))
	}
}

// branchTargets finds the blocks reached through the IfTrue and IfFalse
// projections of the block's branch, directly or through a Merge.
func (sel *Selector) branchTargets(b *sched.Block) (t, f *sched.Block) {
	g := sel.g

	find := func(proj graph.ID) *sched.Block {
		for _, x := range b.Succ {
			if x.Head == proj {
				return x
			}

			if g.Op(x.Head) == graph.Merge && slices.Contains(g.Node(x.Head).In, proj) {
				return x
			}
		}

		return nil
	}

	for _, u := range g.Uses(b.Control) {
		switch g.Op(u.User) {
		case graph.IfTrue:
			t = find(u.User)
		case graph.IfFalse:
			f = find(u.User)
		}
	}

	if t == nil || f == nil {
		panic(graph.Malformed(b.Control, graph.Branch, "branch targets not found"))
	}

	return t, f
}

func (sel *Selector) visitNode(id graph.ID) {
	g := sel.g

	switch op := g.Op(id); op {
	case graph.Start, graph.End, graph.Dead, graph.Merge, graph.IfTrue, graph.IfFalse,
		graph.EffectPhi, graph.ValueEffect, graph.ControlEffect:
	case graph.Int32Constant, graph.Int64Constant, graph.Float64Constant, graph.HeapConstant, graph.ExternalConstant:
		// materialized by the register allocator
	case graph.Parameter:
		sel.visitParameter(id)
	case graph.Phi:
		sel.visitPhi(id)
	case graph.Projection:
		sel.visitProjection(id)
	case graph.Finish:
		sel.used.Set(g.ValueIn(id, 0))
	case graph.Call:
		sel.visitCall(id)
	case graph.Load:
		sel.visitLoad(id)
	case graph.Store:
		sel.visitStore(id)

	case graph.Word32And:
		sel.visitWord32And(id)
	case graph.Word32Or:
		sel.visitBinop(id, arm.Orr, arm.Orr, &flagsCont{})
	case graph.Word32Xor:
		sel.visitWord32Xor(id)
	case graph.Word32Shl, graph.Word32Sar, graph.Word32Ror:
		sel.visitShift(id, &flagsCont{})
	case graph.Word32Shr:
		sel.visitWord32Shr(id)
	case graph.Word32Equal:
		sel.visitWord32Equal(id)

	case graph.Int32Add:
		sel.visitInt32Add(id)
	case graph.Int32Sub:
		sel.visitInt32Sub(id)
	case graph.Int32AddWithOverflow, graph.Int32SubWithOverflow:
		sel.visitOverflow(id)
	case graph.Int32Mul:
		sel.visitInt32Mul(id)
	case graph.Int32Div:
		sel.visitDiv(id, arm.Sdiv, arm.VcvtF64S32, arm.VcvtS32F64)
	case graph.Int32UDiv:
		sel.visitDiv(id, arm.Udiv, arm.VcvtF64U32, arm.VcvtU32F64)
	case graph.Int32Mod:
		sel.visitMod(id, arm.Sdiv, arm.VcvtF64S32, arm.VcvtS32F64)
	case graph.Int32UMod:
		sel.visitMod(id, arm.Udiv, arm.VcvtF64U32, arm.VcvtU32F64)
	case graph.Int32LessThan:
		sel.visitWordCompare(id, arm.Cmp, setCont(asm.SignedLessThan, id), false)
	case graph.Int32LessThanOrEqual:
		sel.visitWordCompare(id, arm.Cmp, setCont(asm.SignedLessThanOrEqual, id), false)
	case graph.Uint32LessThan:
		sel.visitWordCompare(id, arm.Cmp, setCont(asm.UnsignedLessThan, id), false)
	case graph.Uint32LessThanOrEqual:
		sel.visitWordCompare(id, arm.Cmp, setCont(asm.UnsignedLessThanOrEqual, id), false)

	case graph.ChangeInt32ToFloat64:
		sel.visitUnop(id, arm.VcvtF64S32)
	case graph.ChangeUint32ToFloat64:
		sel.visitUnop(id, arm.VcvtF64U32)
	case graph.ChangeFloat64ToInt32:
		sel.visitUnop(id, arm.VcvtS32F64)
	case graph.ChangeFloat64ToUint32:
		sel.visitUnop(id, arm.VcvtU32F64)
	case graph.TruncateFloat64ToInt32:
		sel.visitUnop(id, asm.ArchTruncateDoubleToI)

	case graph.Float64Add:
		sel.visitFloat64Add(id)
	case graph.Float64Sub:
		sel.visitFloat64Sub(id)
	case graph.Float64Mul:
		sel.visitFloat64Binop(id, arm.VmulF64)
	case graph.Float64Div:
		sel.visitFloat64Binop(id, arm.VdivF64)
	case graph.Float64Equal:
		sel.visitFloat64Compare(id, setCont(asm.UnorderedEqual, id))
	case graph.Float64LessThan:
		sel.visitFloat64Compare(id, setCont(asm.UnorderedLessThan, id))
	case graph.Float64LessThanOrEqual:
		sel.visitFloat64Compare(id, setCont(asm.UnorderedLessThanOrEqual, id))

	default:
		// 64-bit words and not lowered representation changes
		panic(errors.Wrap(ErrUnsupported, "node %v: %v", id, op))
	}
}

func (sel *Selector) visitParameter(id graph.ID) {
	o, ok := sel.params[id]
	if !ok {
		panic(graph.Malformed(id, graph.Parameter, "no location"))
	}

	sel.defined.Set(id)
	sel.markRep(id, o.Index)

	sel.emit(asm.ArchNop, arm.ModeNone, []asm.Operand{o})
}

// assignParameters gives every parameter its incoming location.
func (sel *Selector) assignParameters() {
	g := sel.g

	var ps []graph.ID

	for id := range g.Nodes {
		if g.Nodes[id].Op == graph.Parameter {
			ps = append(ps, graph.ID(id))
		}
	}

	sort.SliceStable(ps, func(i, j int) bool {
		return g.Node(ps[i]).Int < g.Node(ps[j]).Int
	})

	var l linkage

	for _, id := range ps {
		p, reg := l.next(g.Node(id).Mach == graph.MachFloat64)

		sel.params[id] = asm.Fixed(sel.vreg(id), p, reg)
	}
}

func (sel *Selector) visitReturn(ret graph.ID) {
	v := sel.g.ValueIn(ret, 0)

	in := sel.useFixed(v, asm.PolicyFixedRegister, 0)
	if sel.repOf(v) == graph.RepFloat64 {
		in = sel.useFixed(v, asm.PolicyFixedDouble, 0)
	}

	sel.emit(asm.ArchRet, arm.ModeNone, nil, in)
}

func (sel *Selector) visitPhi(id graph.ID) {
	n := sel.g.Node(id)

	phi := asm.Phi{Out: sel.vreg(id)}

	for _, in := range n.ValueInputs() {
		sel.used.Set(in)
		phi.In = append(phi.In, sel.vreg(in))
	}

	sel.defined.Set(id)
	sel.markRep(id, phi.Out)

	sel.phis[sel.cur.ID] = append(sel.phis[sel.cur.ID], phi)
}

// visitProjection emits nothing. Projection 0 shares the vreg of
// the operation, projection 1 is defined by the operation's flags output.
func (sel *Selector) visitProjection(id graph.ID) {
	g := sel.g
	x := g.ValueIn(id, 0)

	switch g.Op(x) {
	case graph.Int32AddWithOverflow, graph.Int32SubWithOverflow:
	default:
		panic(graph.Malformed(id, graph.Projection, "projection of %v", g.Op(x)))
	}

	sel.used.Set(x)
}

func (sel *Selector) visitCall(id graph.ID) {
	g := sel.g
	n := g.Node(id)

	fn := n.In[0]

	switch g.Op(fn) {
	case graph.HeapConstant, graph.ExternalConstant:
	default:
		panic(errors.Wrap(ErrUnsupported, "node %v: indirect call through %v", id, g.Op(fn)))
	}

	sel.used.Set(fn)

	in := []asm.Operand{asm.ConstRef(sel.vreg(fn))}

	var l linkage

	for _, a := range n.ValueInputs()[1:] {
		p, reg := l.next(sel.repOf(a) == graph.RepFloat64)

		in = append(in, sel.useFixed(a, p, reg))
	}

	out := sel.defineFixed(id, asm.PolicyFixedRegister, 0)

	sel.emit(asm.ArchCall, arm.ModeNone, []asm.Operand{out}, in...)
}

func (l *linkage) next(double bool) (asm.Policy, int) {
	switch {
	case double && l.doubles < argDoubles:
		l.doubles++
		return asm.PolicyFixedDouble, l.doubles - 1
	case !double && l.regs < argRegs:
		l.regs++
		return asm.PolicyFixedRegister, l.regs - 1
	}

	l.slots++

	return asm.PolicyFixedSlot, l.slots - 1
}

func (sel *Selector) emit(op asm.Opcode, mode asm.AddrMode, out []asm.Operand, in ...asm.Operand) *asm.Instr {
	return sel.add(&asm.Instr{Op: op, Mode: mode, Out: out, In: in})
}

func (sel *Selector) add(i *asm.Instr) *asm.Instr {
	if err := arm.Check(i); err != nil {
		op := graph.OpInvalid
		if sel.node >= 0 {
			op = sel.g.Op(sel.node)
		}

		panic(graph.Malformed(sel.node, op, "%v", err))
	}

	sel.code[sel.cur.ID] = append(sel.code[sel.cur.ID], i)

	return i
}

func recoverSelect(errp *error) {
	p := recover()
	if p == nil {
		return
	}

	switch e := p.(type) {
	case *graph.MalformedError:
		*errp = e
		return
	case error:
		if errors.Is(e, ErrUnsupported) {
			*errp = e
			return
		}
	}

	panic(p)
}
