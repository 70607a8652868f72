package back

import (
	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/sched"
)

type (
	// flagsCont says what happens to the condition flags an instruction sets:
	// nothing, materialized into result, or a branch to t or f.
	flagsCont struct {
		mode asm.FlagsMode
		cond asm.Cond

		result graph.ID

		t, f *sched.Block
	}
)

func setCont(c asm.Cond, result graph.ID) *flagsCont {
	return &flagsCont{mode: asm.FlagsSet, cond: c, result: result}
}

func branchCont(c asm.Cond, t, f *sched.Block) *flagsCont {
	return &flagsCont{mode: asm.FlagsBranch, cond: c, t: t, f: f}
}

func (c *flagsCont) IsBranch() bool { return c.mode == asm.FlagsBranch }
func (c *flagsCont) IsSet() bool    { return c.mode == asm.FlagsSet }

func (c *flagsCont) Negate()  { c.cond = c.cond.Negate() }
func (c *flagsCont) Commute() { c.cond = c.cond.Commute() }

// Overwrite replaces the condition keeping a pending negation:
// a continuation testing for Equal to zero inverts the new condition.
func (c *flagsCont) Overwrite(cond asm.Cond) {
	negate := c.cond == asm.Equal

	c.cond = cond

	if negate {
		c.Negate()
	}
}

// emitFlags emits op finishing it with cont.
func (sel *Selector) emitFlags(op asm.Opcode, mode asm.AddrMode, cont *flagsCont, out, in []asm.Operand) {
	switch cont.mode {
	case asm.FlagsBranch:
		in = append(in, sel.label(cont.t), sel.label(cont.f))
	case asm.FlagsSet:
		out = append(out, sel.defineAsRegister(cont.result))
	}

	sel.add(&asm.Instr{
		Op:    op,
		Mode:  mode,
		Flags: cont.mode,
		Cond:  cont.cond,
		Out:   out,
		In:    in,
	})
}

func (sel *Selector) isUsed(id graph.ID) bool {
	return !sel.g.Op(id).IsPure() || sel.used.IsSet(id)
}

// canCover reports whether user is the only consumer of id
// and they are placed in the same block, so id may be folded into user.
func (sel *Selector) canCover(user, id graph.ID) bool {
	if sel.s.BlockOf(id) != sel.s.BlockOf(user) {
		return false
	}

	n := 0

	for _, u := range sel.g.Uses(id) {
		if sel.s.BlockOf(u.User) == nil {
			continue
		}

		n++
	}

	return n == 1
}

// vreg returns the virtual register holding id.
// Equal constants share one.
func (sel *Selector) vreg(id graph.ID) int {
	g := sel.g
	n := g.Node(id)

	switch n.Op {
	case graph.Finish:
		return sel.vreg(n.In[0])
	case graph.Projection:
		switch x := n.In[0]; g.Op(x) {
		case graph.Int32AddWithOverflow, graph.Int32SubWithOverflow:
			if n.Int == 0 {
				return sel.vreg(x)
			}
		}
	case graph.Int32Constant, graph.Int64Constant, graph.Float64Constant, graph.HeapConstant, graph.ExternalConstant:
		return sel.constant(id)
	}

	if sel.vregs[id] < 0 {
		sel.vregs[id] = sel.st.NewVreg()
	}

	return sel.vregs[id]
}

func (sel *Selector) constant(id graph.ID) int {
	n := sel.g.Node(id)

	var c asm.Constant

	switch n.Op {
	case graph.Int32Constant:
		c = asm.Int32(int32(n.Int))
	case graph.Int64Constant:
		c = asm.Constant{Kind: asm.ConstInt64, Int: n.Int}
	case graph.Float64Constant:
		c = asm.Constant{Kind: asm.ConstFloat64, Float: n.Float}
	case graph.HeapConstant:
		c = asm.Constant{Kind: asm.ConstHeap, Name: n.Name}
	case graph.ExternalConstant:
		c = asm.Constant{Kind: asm.ConstExternal, Name: n.Name}
	}

	if v, ok := sel.consts[c]; ok {
		return v
	}

	v := sel.st.NewVreg()

	sel.consts[c] = v
	sel.st.Constants[v] = c
	sel.markRep(id, v)

	return v
}

// repOf is the representation of the value id produces.
func (sel *Selector) repOf(id graph.ID) graph.Rep {
	n := sel.g.Node(id)

	switch n.Op {
	case graph.Float64Constant,
		graph.Float64Add, graph.Float64Sub, graph.Float64Mul, graph.Float64Div,
		graph.ChangeInt32ToFloat64, graph.ChangeUint32ToFloat64:
		return graph.RepFloat64
	case graph.Load, graph.Phi:
		return n.Rep
	case graph.Parameter:
		return n.Mach.Rep()
	case graph.HeapConstant, graph.Call:
		return graph.RepTagged
	case graph.Finish:
		return sel.repOf(n.In[0])
	case graph.Int64Constant:
		return graph.RepWord64
	}

	return graph.RepWord32
}

func (sel *Selector) markRep(id graph.ID, v int) {
	switch sel.repOf(id) {
	case graph.RepFloat64:
		sel.st.Doubles.Set(v)
	case graph.RepTagged:
		sel.st.References.Set(v)
	}
}

func (sel *Selector) useRegister(id graph.ID) asm.Operand {
	sel.used.Set(id)

	return asm.Vreg(sel.vreg(id), asm.PolicyRegister)
}

func (sel *Selector) useFixed(id graph.ID, p asm.Policy, reg int) asm.Operand {
	sel.used.Set(id)

	return asm.Fixed(sel.vreg(id), p, reg)
}

// useImmediate encodes the int32 constant id in the instruction.
// The constant node itself is not needed at runtime.
func (sel *Selector) useImmediate(id graph.ID) asm.Operand {
	m := sel.g.Int32(id)
	if !m.HasValue {
		panic(graph.Malformed(id, m.Op, "not an immediate"))
	}

	return sel.tempImmediate(m.Value)
}

func (sel *Selector) tempImmediate(v int32) asm.Operand {
	return asm.Imm(sel.st.AddImmediate(asm.Int32(v)))
}

func (sel *Selector) define(id graph.ID, p asm.Policy) asm.Operand {
	sel.defined.Set(id)

	v := sel.vreg(id)
	sel.markRep(id, v)

	return asm.Vreg(v, p)
}

func (sel *Selector) defineAsRegister(id graph.ID) asm.Operand {
	return sel.define(id, asm.PolicyRegister)
}

func (sel *Selector) defineSameAsFirst(id graph.ID) asm.Operand {
	return sel.define(id, asm.PolicySameAsFirst)
}

func (sel *Selector) defineFixed(id graph.ID, p asm.Policy, reg int) asm.Operand {
	o := sel.define(id, p)
	o.Reg = reg

	return o
}

func (sel *Selector) tempRegister() asm.Operand {
	return asm.Vreg(sel.st.NewVreg(), asm.PolicyRegister)
}

func (sel *Selector) tempFixed(reg int) asm.Operand {
	return asm.Fixed(sel.st.NewVreg(), asm.PolicyFixedRegister, reg)
}

func (sel *Selector) tempDouble() asm.Operand {
	v := sel.st.NewVreg()
	sel.st.Doubles.Set(v)

	return asm.Vreg(v, asm.PolicyRegister)
}

func (sel *Selector) label(b *sched.Block) asm.Operand {
	return asm.LabelRef(b.ID)
}
