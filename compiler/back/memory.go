package back

import (
	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/asm/arm"
	"github.com/slowlang/armjit/compiler/graph"
)

func loadOpcode(n *graph.Node) (asm.Opcode, bool) {
	signed := n.Mach == graph.MachInt32

	switch n.Rep {
	case graph.RepFloat64:
		return arm.VldrF64, true
	case graph.RepBit, graph.RepWord8:
		if signed {
			return arm.Ldrsb, true
		}

		return arm.Ldrb, true
	case graph.RepWord16:
		if signed {
			return arm.Ldrsh, true
		}

		return arm.Ldrh, true
	case graph.RepWord32, graph.RepTagged:
		return arm.Ldr, true
	}

	return 0, false
}

func storeOpcode(rep graph.Rep) (asm.Opcode, bool) {
	switch rep {
	case graph.RepFloat64:
		return arm.VstrF64, true
	case graph.RepBit, graph.RepWord8:
		return arm.Strb, true
	case graph.RepWord16:
		return arm.Strh, true
	case graph.RepWord32, graph.RepTagged:
		return arm.Str, true
	}

	return 0, false
}

// address picks the offset mode. Either operand may be the immediate.
func (sel *Selector) address(op asm.Opcode, base, index graph.ID) (asm.AddrMode, []asm.Operand) {
	g := sel.g

	if m := g.Int32(index); m.HasValue && arm.CanBeImmediate(op, m.Value) {
		return arm.Offset_RI, []asm.Operand{sel.useRegister(base), sel.useImmediate(index)}
	}

	if m := g.Int32(base); m.HasValue && arm.CanBeImmediate(op, m.Value) {
		return arm.Offset_RI, []asm.Operand{sel.useRegister(index), sel.useImmediate(base)}
	}

	return arm.Offset_RR, []asm.Operand{sel.useRegister(base), sel.useRegister(index)}
}

func (sel *Selector) visitLoad(id graph.ID) {
	n := sel.g.Node(id)

	op, ok := loadOpcode(n)
	if !ok {
		panic(graph.Malformed(id, n.Op, "load of %v", n.Rep))
	}

	mode, in := sel.address(op, n.In[0], n.In[1])

	sel.emit(op, mode, []asm.Operand{sel.defineAsRegister(id)}, in...)
}

func (sel *Selector) visitStore(id graph.ID) {
	n := sel.g.Node(id)

	base, index, value := n.In[0], n.In[1], n.In[2]

	if n.Barrier == graph.FullWriteBarrier {
		if n.Rep != graph.RepTagged {
			panic(graph.Malformed(id, n.Op, "write barrier on %v store", n.Rep))
		}

		// the stub clobbers index and value registers
		sel.add(&asm.Instr{
			Op: arm.StoreWriteBarrier,
			In: []asm.Operand{
				sel.useFixed(base, asm.PolicyFixedRegister, wbObject),
				sel.useFixed(index, asm.PolicyFixedRegister, wbIndex),
				sel.useFixed(value, asm.PolicyFixedRegister, wbValue),
			},
			Temp: []asm.Operand{sel.tempFixed(wbIndex), sel.tempFixed(wbValue)},
		})

		return
	}

	op, ok := storeOpcode(n.Rep)
	if !ok {
		panic(graph.Malformed(id, n.Op, "store of %v", n.Rep))
	}

	mode, in := sel.address(op, base, index)

	sel.emit(op, mode, nil, append(in, sel.useRegister(value))...)
}

func (sel *Selector) visitUnop(id graph.ID, op asm.Opcode) {
	sel.emit(op, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)}, sel.useRegister(sel.g.ValueIn(id, 0)))
}

func (sel *Selector) visitFloat64Binop(id graph.ID, op asm.Opcode) {
	n := sel.g.Node(id)

	sel.emit(op, arm.ModeNone, []asm.Operand{sel.defineAsRegister(id)}, sel.useRegister(n.In[0]), sel.useRegister(n.In[1]))
}

// visitFloat64Add fuses a multiplication only the add consumes into vmla.
// The accumulator is overwritten by the result.
func (sel *Selector) visitFloat64Add(id graph.ID) {
	g := sel.g
	n := g.Node(id)

	for _, p := range [][2]graph.ID{{n.In[0], n.In[1]}, {n.In[1], n.In[0]}} {
		mul, acc := p[0], p[1]

		if g.Op(mul) != graph.Float64Mul || !sel.canCover(id, mul) {
			continue
		}

		mn := g.Node(mul)

		sel.emit(arm.VmlaF64, arm.ModeNone, []asm.Operand{sel.defineSameAsFirst(id)},
			sel.useRegister(acc), sel.useRegister(mn.In[0]), sel.useRegister(mn.In[1]))
		return
	}

	sel.visitFloat64Binop(id, arm.VaddF64)
}

func (sel *Selector) visitFloat64Sub(id graph.ID) {
	g := sel.g
	n := g.Node(id)

	if mul := n.In[1]; g.Op(mul) == graph.Float64Mul && sel.canCover(id, mul) {
		mn := g.Node(mul)

		sel.emit(arm.VmlsF64, arm.ModeNone, []asm.Operand{sel.defineSameAsFirst(id)},
			sel.useRegister(n.In[0]), sel.useRegister(mn.In[0]), sel.useRegister(mn.In[1]))
		return
	}

	sel.visitFloat64Binop(id, arm.VsubF64)
}

func (sel *Selector) visitFloat64Compare(id graph.ID, cont *flagsCont) {
	n := sel.g.Node(id)

	sel.emitFlags(arm.VcmpF64, arm.ModeNone, cont, nil, []asm.Operand{sel.useRegister(n.In[0]), sel.useRegister(n.In[1])})
}
