package back

import (
	"math"
	"math/bits"

	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/asm/arm"
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/sched"
	"github.com/slowlang/armjit/compiler/target"
)

// tryShift matches id as a shifted register operand.
func (sel *Selector) tryShift(id graph.ID) (mode asm.AddrMode, value, amount asm.Operand, ok bool) {
	sh := shifts[sel.g.Op(id)]
	if sh.imm == arm.ModeNone {
		return arm.ModeNone, value, amount, false
	}

	m := sel.g.Binop(id)

	value = sel.useRegister(m.Left.ID)

	if m.Right.IsInRange(sh.lo, sh.hi) {
		return sh.imm, value, sel.useImmediate(m.Right.ID), true
	}

	return sh.reg, value, sel.useRegister(m.Right.ID), true
}

// tryOperand2 matches id as the flexible operand of op:
// an encodable immediate or a shifted register.
func (sel *Selector) tryOperand2(op asm.Opcode, id graph.ID) (asm.AddrMode, []asm.Operand, bool) {
	if m := sel.g.Int32(id); m.HasValue && arm.CanBeImmediate(op, m.Value) {
		return arm.Operand2_I, []asm.Operand{sel.useImmediate(id)}, true
	}

	if mode, v, s, ok := sel.tryShift(id); ok {
		return mode, []asm.Operand{v, s}, true
	}

	return arm.ModeNone, nil, false
}

// visitBinop selects op or its reverse form depending on which operand
// fits the flexible slot.
func (sel *Selector) visitBinop(id graph.ID, op, reverse asm.Opcode, cont *flagsCont) {
	m := sel.g.Binop(id)

	var mode asm.AddrMode
	var in []asm.Operand

	if m.Left.ID == m.Right.ID {
		// both halves must be the same register
		x := sel.useRegister(m.Left.ID)

		mode, in = arm.Operand2_R, []asm.Operand{x, x}
	} else if md, op2, ok := sel.tryOperand2(op, m.Right.ID); ok {
		mode, in = md, append([]asm.Operand{sel.useRegister(m.Left.ID)}, op2...)
	} else if md, op2, ok := sel.tryOperand2(reverse, m.Left.ID); ok {
		op, mode, in = reverse, md, append([]asm.Operand{sel.useRegister(m.Right.ID)}, op2...)
	} else {
		mode, in = arm.Operand2_R, []asm.Operand{sel.useRegister(m.Left.ID), sel.useRegister(m.Right.ID)}
	}

	sel.emitFlags(op, mode, cont, []asm.Operand{sel.defineAsRegister(id)}, in)
}

// visitWordCompare selects a flags only instruction. A non-commutative
// compare with its operands swapped commutes the condition.
func (sel *Selector) visitWordCompare(id graph.ID, op asm.Opcode, cont *flagsCont, commutative bool) {
	m := sel.g.Binop(id)

	var mode asm.AddrMode
	var in []asm.Operand

	if md, op2, ok := sel.tryOperand2(op, m.Right.ID); ok {
		mode, in = md, append([]asm.Operand{sel.useRegister(m.Left.ID)}, op2...)
	} else if md, op2, ok := sel.tryOperand2(op, m.Left.ID); ok {
		if !commutative {
			cont.Commute()
		}

		mode, in = md, append([]asm.Operand{sel.useRegister(m.Right.ID)}, op2...)
	} else {
		mode, in = arm.Operand2_R, []asm.Operand{sel.useRegister(m.Left.ID), sel.useRegister(m.Right.ID)}
	}

	sel.emitFlags(op, mode, cont, nil, in)
}

func (sel *Selector) visitWordTest(id graph.ID, cont *flagsCont) {
	x := sel.useRegister(id)

	sel.emitFlags(arm.Tst, arm.Operand2_R, cont, nil, []asm.Operand{x, x})
}

func (sel *Selector) visitShift(id graph.ID, cont *flagsCont) {
	mode, v, s, ok := sel.tryShift(id)
	if !ok {
		panic(graph.Malformed(id, sel.g.Op(id), "not a shift"))
	}

	sel.emitFlags(arm.Mov, mode, cont, []asm.Operand{sel.defineAsRegister(id)}, []asm.Operand{v, s})
}

// visitCompareZero sets flags from value compared to zero.
// Comparisons and arithmetic user alone consumes are fused into the flags setting form.
func (sel *Selector) visitCompareZero(user, value graph.ID, cont *flagsCont) {
	g := sel.g

	for sel.canCover(user, value) && g.Op(value) == graph.Word32Equal {
		m := g.Binop(value)
		if !m.Right.Is(0) {
			break
		}

		user, value = value, m.Left.ID
		cont.Negate()
	}

	if !sel.canCover(user, value) {
		sel.visitWordTest(value, cont)
		return
	}

	switch op := g.Op(value); op {
	case graph.Word32Equal:
		cont.Overwrite(asm.Equal)
		sel.visitWordCompare(value, arm.Cmp, cont, false)
	case graph.Int32LessThan:
		cont.Overwrite(asm.SignedLessThan)
		sel.visitWordCompare(value, arm.Cmp, cont, false)
	case graph.Int32LessThanOrEqual:
		cont.Overwrite(asm.SignedLessThanOrEqual)
		sel.visitWordCompare(value, arm.Cmp, cont, false)
	case graph.Uint32LessThan:
		cont.Overwrite(asm.UnsignedLessThan)
		sel.visitWordCompare(value, arm.Cmp, cont, false)
	case graph.Uint32LessThanOrEqual:
		cont.Overwrite(asm.UnsignedLessThanOrEqual)
		sel.visitWordCompare(value, arm.Cmp, cont, false)
	case graph.Float64Equal:
		cont.Overwrite(asm.UnorderedEqual)
		sel.visitFloat64Compare(value, cont)
	case graph.Float64LessThan:
		cont.Overwrite(asm.UnorderedLessThan)
		sel.visitFloat64Compare(value, cont)
	case graph.Float64LessThanOrEqual:
		cont.Overwrite(asm.UnorderedLessThanOrEqual)
		sel.visitFloat64Compare(value, cont)
	case graph.Projection:
		x, ok := sel.fusableOverflow(value, cont)
		if !ok {
			sel.visitWordTest(value, cont)
			return
		}

		o := odpis[g.Op(x)]

		cont.Overwrite(asm.Overflow)
		sel.visitBinop(x, o.op, o.reverse, cont)
	case graph.Int32Add, graph.Int32Sub, graph.Word32And, graph.Word32Xor:
		sel.visitWordCompare(value, dpis[op].test, cont, op.IsCommutative())
	case graph.Word32Or:
		sel.visitBinop(value, dpis[op].op, dpis[op].reverse, cont)
	case graph.Word32Shl, graph.Word32Shr, graph.Word32Sar, graph.Word32Ror:
		sel.visitShift(value, cont)
	default:
		sel.visitWordTest(value, cont)
	}
}

// fusableOverflow reports whether the overflow projection proj may be
// folded into a branch. The operation is then emitted by the branch,
// so it must live in the branch block and its value must not be used
// there before the branch.
func (sel *Selector) fusableOverflow(proj graph.ID, cont *flagsCont) (graph.ID, bool) {
	g := sel.g

	if !cont.IsBranch() || g.Node(proj).Int != 1 {
		return -1, false
	}

	x := g.ValueIn(proj, 0)

	if odpis[g.Op(x)].op == 0 || sel.defined.IsSet(x) || sel.s.BlockOf(x) != sel.cur {
		return -1, false
	}

	p0 := g.FindProjection(x, 0)
	if p0 < 0 {
		return x, true
	}

	for _, u := range g.Uses(p0) {
		if sel.s.BlockOf(u.User) == sel.cur {
			return -1, false
		}
	}

	return x, true
}

func (sel *Selector) visitBranch(br graph.ID, t, f *sched.Block) {
	cont := branchCont(asm.NotEqual, t, f)

	sel.visitCompareZero(br, sel.g.ValueIn(br, 0), cont)
}

func (sel *Selector) visitWord32Equal(id graph.ID) {
	cont := setCont(asm.Equal, id)

	m := sel.g.Binop(id)
	if m.Right.Is(0) {
		sel.visitCompareZero(id, m.Left.ID, cont)
		return
	}

	sel.visitWordCompare(id, arm.Cmp, cont, false)
}

func (sel *Selector) visitOverflow(id graph.ID) {
	o := odpis[sel.g.Op(id)]

	cont := &flagsCont{}

	if p := sel.g.FindProjection(id, 1); p >= 0 && sel.s.BlockOf(p) != nil {
		cont = setCont(asm.Overflow, p)
	}

	sel.visitBinop(id, o.op, o.reverse, cont)
}

func (sel *Selector) visitWord32And(id graph.ID) {
	g := sel.g
	m := g.Binop(id)

	if x, ok := g.IsWord32Not(m.Left.ID); ok && sel.canCover(id, m.Left.ID) {
		sel.emitBic(id, m.Right.ID, x)
		return
	}

	if x, ok := g.IsWord32Not(m.Right.ID); ok && sel.canCover(id, m.Right.ID) {
		sel.emitBic(id, m.Left.ID, x)
		return
	}

	if sel.f.Has(target.ARMv7) && m.Right.HasValue {
		v := uint32(m.Right.Value)

		if lsb, width, ok := graph.ContiguousMask(v); ok && lsb == 0 {
			if g.Op(m.Left.ID) == graph.Word32Shr {
				ml := g.Binop(m.Left.ID)

				if ml.Right.IsInRange(0, 31) {
					width = min(width, 32-int(ml.Right.Value))

					sel.emit(arm.Ubfx, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)},
						sel.useRegister(ml.Left.ID), sel.useImmediate(ml.Right.ID), sel.tempImmediate(int32(width)))
					return
				}
			}

			sel.emit(arm.Ubfx, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)},
				sel.useRegister(m.Left.ID), sel.tempImmediate(0), sel.tempImmediate(int32(width)))
			return
		}

		if lsb, width, ok := graph.ContiguousMask(^v); ok {
			sel.emit(arm.Bfc, arm.ModeNone, []asm.Operand{sel.defineSameAsFirst(id)},
				sel.useRegister(m.Left.ID), sel.tempImmediate(int32(lsb)), sel.tempImmediate(int32(width)))
			return
		}
	}

	sel.visitBinop(id, arm.And, arm.And, &flagsCont{})
}

// emitBic selects x & ^y.
func (sel *Selector) emitBic(id, x, y graph.ID) {
	out := []asm.Operand{sel.defineAsRegister(id)}

	if mode, v, s, ok := sel.tryShift(y); ok {
		sel.emit(arm.Bic, mode, out, sel.useRegister(x), v, s)
		return
	}

	sel.emit(arm.Bic, arm.Operand2_R, out, sel.useRegister(x), sel.useRegister(y))
}

func (sel *Selector) visitWord32Xor(id graph.ID) {
	m := sel.g.Binop(id)

	if !m.Right.Is(-1) {
		sel.visitBinop(id, arm.Eor, arm.Eor, &flagsCont{})
		return
	}

	out := []asm.Operand{sel.defineAsRegister(id)}

	if mode, v, s, ok := sel.tryShift(m.Left.ID); ok {
		sel.emit(arm.Mvn, mode, out, v, s)
		return
	}

	sel.emit(arm.Mvn, arm.Operand2_R, out, sel.useRegister(m.Left.ID))
}

func (sel *Selector) visitWord32Shr(id graph.ID) {
	g := sel.g
	m := g.Binop(id)

	if sel.f.Has(target.ARMv7) && g.Op(m.Left.ID) == graph.Word32And && m.Right.IsInRange(0, 31) {
		lsb := int(m.Right.Value)
		ml := g.Binop(m.Left.ID)

		if ml.Right.HasValue {
			v := uint32(ml.Right.Value) >> lsb << lsb

			if l, width, ok := graph.ContiguousMask(v); ok && l == lsb {
				sel.emit(arm.Ubfx, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)},
					sel.useRegister(ml.Left.ID), sel.useImmediate(m.Right.ID), sel.tempImmediate(int32(width)))
				return
			}
		}
	}

	sel.visitShift(id, &flagsCont{})
}

func (sel *Selector) visitInt32Add(id graph.ID) {
	g := sel.g
	m := g.Binop(id)

	for _, p := range [][2]graph.ID{{m.Left.ID, m.Right.ID}, {m.Right.ID, m.Left.ID}} {
		mul, addend := p[0], p[1]

		if g.Op(mul) != graph.Int32Mul || !sel.canCover(id, mul) {
			continue
		}

		mm := g.Binop(mul)

		sel.emit(arm.Mla, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)},
			sel.useRegister(mm.Left.ID), sel.useRegister(mm.Right.ID), sel.useRegister(addend))
		return
	}

	sel.visitBinop(id, arm.Add, arm.Add, &flagsCont{})
}

func (sel *Selector) visitInt32Sub(id graph.ID) {
	g := sel.g
	m := g.Binop(id)

	if sel.f.Has(target.MLS) && g.Op(m.Right.ID) == graph.Int32Mul && sel.canCover(id, m.Right.ID) {
		mm := g.Binop(m.Right.ID)

		sel.emit(arm.Mls, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)},
			sel.useRegister(mm.Left.ID), sel.useRegister(mm.Right.ID), sel.useRegister(m.Left.ID))
		return
	}

	sel.visitBinop(id, arm.Sub, arm.Rsb, &flagsCont{})
}

// visitInt32Mul turns multiplication by 2^k+1 and 2^k-1 into a shifted add or subtract.
func (sel *Selector) visitInt32Mul(id graph.ID) {
	m := sel.g.Binop(id)

	if v := m.Right.Value; m.Right.HasValue && v > 0 {
		x := m.Left.ID

		switch {
		case isPowerOf2(v - 1):
			sel.emit(arm.Add, arm.Operand2_R_LSL_I, []asm.Operand{sel.defineAsRegister(id)},
				sel.useRegister(x), sel.useRegister(x), sel.tempImmediate(int32(bits.TrailingZeros32(uint32(v-1)))))
			return
		case v < math.MaxInt32 && isPowerOf2(v+1):
			sel.emit(arm.Rsb, arm.Operand2_R_LSL_I, []asm.Operand{sel.defineAsRegister(id)},
				sel.useRegister(x), sel.useRegister(x), sel.tempImmediate(int32(bits.TrailingZeros32(uint32(v+1)))))
			return
		}
	}

	sel.emit(arm.Mul, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)},
		sel.useRegister(m.Left.ID), sel.useRegister(m.Right.ID))
}

// emitDiv divides with the hardware instruction if there is one
// and through double precision otherwise. Every int32 is exact as a double.
func (sel *Selector) emitDiv(div, toDouble, fromDouble asm.Opcode, out, l, r asm.Operand) {
	if sel.f.Has(target.SUDIV) {
		sel.emit(div, arm.ModeNone, []asm.Operand{out}, l, r)
		return
	}

	dl := sel.tempDouble()
	dr := sel.tempDouble()
	dq := sel.tempDouble()

	sel.emit(toDouble, arm.ModeNone, []asm.Operand{dl}, l)
	sel.emit(toDouble, arm.ModeNone, []asm.Operand{dr}, r)
	sel.emit(arm.VdivF64, arm.ModeNone, []asm.Operand{dq}, dl, dr)
	sel.emit(fromDouble, arm.ModeNone, []asm.Operand{out}, dq)
}

func (sel *Selector) visitDiv(id graph.ID, div, toDouble, fromDouble asm.Opcode) {
	m := sel.g.Binop(id)

	out := sel.defineAsRegister(id)

	sel.emitDiv(div, toDouble, fromDouble, out, sel.useRegister(m.Left.ID), sel.useRegister(m.Right.ID))
}

// visitMod computes l - (l / r) * r.
func (sel *Selector) visitMod(id graph.ID, div, toDouble, fromDouble asm.Opcode) {
	m := sel.g.Binop(id)

	out := sel.defineAsRegister(id)
	l := sel.useRegister(m.Left.ID)
	r := sel.useRegister(m.Right.ID)

	q := sel.tempRegister()

	sel.emitDiv(div, toDouble, fromDouble, q, l, r)

	if sel.f.Has(target.MLS) {
		sel.emit(arm.Mls, arm.ModeNone, []asm.Operand{out}, q, r, l)
		return
	}

	p := sel.tempRegister()

	sel.emit(arm.Mul, arm.ModeNone, []asm.Operand{p}, q, r)
	sel.emit(arm.Sub, arm.Operand2_R, []asm.Operand{out}, l, p)
}

func isPowerOf2(v int32) bool {
	return v > 0 && v&(v-1) == 0
}
