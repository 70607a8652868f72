package graph

// Constructors for the nodes passes create most often.
// They keep operator parameters and edge kinds in one place.

func (g *Graph) Int32Constant(v int32) ID {
	return g.add(Node{Op: Int32Constant, Int: int64(v)})
}

func (g *Graph) Int64Constant(v int64) ID {
	return g.add(Node{Op: Int64Constant, Int: v})
}

func (g *Graph) Float64Constant(v float64) ID {
	return g.add(Node{Op: Float64Constant, Float: v})
}

func (g *Graph) HeapConstant(name string) ID {
	return g.add(Node{Op: HeapConstant, Name: name})
}

func (g *Graph) ExternalConstant(name string) ID {
	return g.add(Node{Op: ExternalConstant, Name: name})
}

func (g *Graph) Parameter(index int, mt MachineType) ID {
	return g.add(Node{Op: Parameter, In: []ID{g.Start}, NControl: 1, Int: int64(index), Mach: mt})
}

func (g *Graph) Projection(index int, x ID) ID {
	return g.add(Node{Op: Projection, In: []ID{x}, NValue: 1, Int: int64(index)})
}

// Phi joins values at merge. The last argument is the merge node.
func (g *Graph) Phi(rep Rep, in ...ID) ID {
	if len(in) < 2 {
		panic(Malformed(-1, Phi, "no merge"))
	}

	return g.add(Node{Op: Phi, In: in, NValue: len(in) - 1, NControl: 1, Rep: rep})
}

// EffectPhi joins effects at merge. The last argument is the merge node.
func (g *Graph) EffectPhi(in ...ID) ID {
	if len(in) < 2 {
		panic(Malformed(-1, EffectPhi, "no merge"))
	}

	return g.add(Node{Op: EffectPhi, In: in, NEffect: len(in) - 1, NControl: 1})
}

func (g *Graph) Merge(in ...ID) ID {
	return g.add(Node{Op: Merge, In: in, NControl: len(in)})
}

func (g *Graph) Return(v, effect, control ID) ID {
	return g.NewNode(Return, v, effect, control)
}

// SetEnd replaces End with a node collecting rets.
func (g *Graph) SetEnd(rets ...ID) ID {
	g.End = g.add(Node{Op: End, In: rets, NControl: len(rets)})

	return g.End
}

// Call calls target with args. Effect and control follow the arguments.
func (g *Graph) Call(target ID, args []ID, effect, control ID) ID {
	in := make([]ID, 0, len(args)+3)
	in = append(in, target)
	in = append(in, args...)
	in = append(in, effect, control)

	return g.add(Node{Op: Call, In: in, NValue: 1 + len(args), NEffect: 1, NControl: 1})
}

// Load reads rep at base+index. Control is optional (-1).
func (g *Graph) Load(rep Rep, base, index, effect, control ID) ID {
	n := Node{Op: Load, In: []ID{base, index, effect}, NValue: 2, NEffect: 1, Rep: rep}

	if control >= 0 {
		n.In = append(n.In, control)
		n.NControl = 1
	}

	return g.add(n)
}

// Store writes value of rep to base+index. Control is optional (-1).
func (g *Graph) Store(rep Rep, wb WriteBarrier, base, index, value, effect, control ID) ID {
	n := Node{Op: Store, In: []ID{base, index, value, effect}, NValue: 3, NEffect: 1, Rep: rep, Barrier: wb}

	if control >= 0 {
		n.In = append(n.In, control)
		n.NControl = 1
	}

	return g.add(n)
}

// Change creates a representation change of x.
// Effect and control anchor it in the chain; pass -1 for a floating node.
func (g *Graph) Change(op Op, x, effect, control ID) ID {
	if !op.IsChange() {
		panic(Malformed(-1, op, "not a change operator"))
	}

	n := Node{Op: op, In: []ID{x}, NValue: 1}

	if effect >= 0 {
		n.In = append(n.In, effect)
		n.NEffect = 1
	}

	if control >= 0 {
		n.In = append(n.In, control)
		n.NControl = 1
	}

	return g.add(n)
}

func (g *Graph) Word32Not(x ID) ID {
	return g.NewNode(Word32Xor, x, g.Int32Constant(-1))
}
