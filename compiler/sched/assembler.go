package sched

import (
	"github.com/slowlang/armjit/compiler/graph"
)

type (
	// Assembler builds a graph and its schedule together.
	// Nodes are placed into the current block in the order they are created.
	Assembler struct {
		g *graph.Graph
		s *Schedule

		cur     *Block
		control graph.ID
		effect  graph.ID

		params []graph.ID
		rets   []graph.ID
	}

	// Label is a jump target. Bind it to start a block.
	Label struct {
		from  []edge
		block *Block
	}

	edge struct {
		block   *Block
		control graph.ID
		effect  graph.ID
	}
)

func NewAssembler(params ...graph.MachineType) *Assembler {
	g := graph.New()

	a := &Assembler{
		g:       g,
		s:       &Schedule{},
		control: g.Start,
		effect:  g.Start,
	}

	a.cur = a.s.newBlock(g.Start)
	a.s.place(a.cur, g.Start)

	for i, mt := range params {
		a.params = append(a.params, a.add(g.Parameter(i, mt)))
	}

	return a
}

func (a *Assembler) Graph() *graph.Graph { return a.g }

func (a *Assembler) Parameter(i int) graph.ID { return a.params[i] }

func (a *Assembler) add(id graph.ID) graph.ID {
	if a.cur == nil {
		panic(graph.Malformed(id, a.g.Op(id), "no current block"))
	}

	a.s.place(a.cur, id)
	a.cur.Nodes = append(a.cur.Nodes, id)

	return id
}

func (a *Assembler) Int32Constant(v int32) graph.ID { return a.add(a.g.Int32Constant(v)) }
func (a *Assembler) Int64Constant(v int64) graph.ID { return a.add(a.g.Int64Constant(v)) }

func (a *Assembler) Float64Constant(v float64) graph.ID {
	return a.add(a.g.Float64Constant(v))
}

func (a *Assembler) HeapConstant(name string) graph.ID { return a.add(a.g.HeapConstant(name)) }

func (a *Assembler) ExternalConstant(name string) graph.ID {
	return a.add(a.g.ExternalConstant(name))
}

// Binop adds a pure binary operator.
func (a *Assembler) Binop(op graph.Op, l, r graph.ID) graph.ID {
	return a.add(a.g.NewNode(op, l, r))
}

// Unop adds a pure unary operator.
func (a *Assembler) Unop(op graph.Op, x graph.ID) graph.ID {
	return a.add(a.g.NewNode(op, x))
}

func (a *Assembler) Word32And(l, r graph.ID) graph.ID   { return a.Binop(graph.Word32And, l, r) }
func (a *Assembler) Word32Or(l, r graph.ID) graph.ID    { return a.Binop(graph.Word32Or, l, r) }
func (a *Assembler) Word32Xor(l, r graph.ID) graph.ID   { return a.Binop(graph.Word32Xor, l, r) }
func (a *Assembler) Word32Shl(l, r graph.ID) graph.ID   { return a.Binop(graph.Word32Shl, l, r) }
func (a *Assembler) Word32Shr(l, r graph.ID) graph.ID   { return a.Binop(graph.Word32Shr, l, r) }
func (a *Assembler) Word32Sar(l, r graph.ID) graph.ID   { return a.Binop(graph.Word32Sar, l, r) }
func (a *Assembler) Word32Ror(l, r graph.ID) graph.ID   { return a.Binop(graph.Word32Ror, l, r) }
func (a *Assembler) Word32Equal(l, r graph.ID) graph.ID { return a.Binop(graph.Word32Equal, l, r) }

func (a *Assembler) Word32Not(x graph.ID) graph.ID {
	return a.Word32Xor(x, a.Int32Constant(-1))
}

func (a *Assembler) Int32Add(l, r graph.ID) graph.ID  { return a.Binop(graph.Int32Add, l, r) }
func (a *Assembler) Int32Sub(l, r graph.ID) graph.ID  { return a.Binop(graph.Int32Sub, l, r) }
func (a *Assembler) Int32Mul(l, r graph.ID) graph.ID  { return a.Binop(graph.Int32Mul, l, r) }
func (a *Assembler) Int32Div(l, r graph.ID) graph.ID  { return a.Binop(graph.Int32Div, l, r) }
func (a *Assembler) Int32UDiv(l, r graph.ID) graph.ID { return a.Binop(graph.Int32UDiv, l, r) }
func (a *Assembler) Int32Mod(l, r graph.ID) graph.ID  { return a.Binop(graph.Int32Mod, l, r) }
func (a *Assembler) Int32UMod(l, r graph.ID) graph.ID { return a.Binop(graph.Int32UMod, l, r) }

func (a *Assembler) Int32AddWithOverflow(l, r graph.ID) graph.ID {
	return a.Binop(graph.Int32AddWithOverflow, l, r)
}

func (a *Assembler) Int32SubWithOverflow(l, r graph.ID) graph.ID {
	return a.Binop(graph.Int32SubWithOverflow, l, r)
}

func (a *Assembler) Int32LessThan(l, r graph.ID) graph.ID {
	return a.Binop(graph.Int32LessThan, l, r)
}

func (a *Assembler) Int32LessThanOrEqual(l, r graph.ID) graph.ID {
	return a.Binop(graph.Int32LessThanOrEqual, l, r)
}

func (a *Assembler) Uint32LessThan(l, r graph.ID) graph.ID {
	return a.Binop(graph.Uint32LessThan, l, r)
}

func (a *Assembler) Uint32LessThanOrEqual(l, r graph.ID) graph.ID {
	return a.Binop(graph.Uint32LessThanOrEqual, l, r)
}

func (a *Assembler) Float64Add(l, r graph.ID) graph.ID { return a.Binop(graph.Float64Add, l, r) }
func (a *Assembler) Float64Sub(l, r graph.ID) graph.ID { return a.Binop(graph.Float64Sub, l, r) }
func (a *Assembler) Float64Mul(l, r graph.ID) graph.ID { return a.Binop(graph.Float64Mul, l, r) }
func (a *Assembler) Float64Div(l, r graph.ID) graph.ID { return a.Binop(graph.Float64Div, l, r) }

func (a *Assembler) Float64Equal(l, r graph.ID) graph.ID {
	return a.Binop(graph.Float64Equal, l, r)
}

func (a *Assembler) Float64LessThan(l, r graph.ID) graph.ID {
	return a.Binop(graph.Float64LessThan, l, r)
}

func (a *Assembler) Float64LessThanOrEqual(l, r graph.ID) graph.ID {
	return a.Binop(graph.Float64LessThanOrEqual, l, r)
}

func (a *Assembler) ChangeInt32ToFloat64(x graph.ID) graph.ID {
	return a.Unop(graph.ChangeInt32ToFloat64, x)
}

func (a *Assembler) ChangeUint32ToFloat64(x graph.ID) graph.ID {
	return a.Unop(graph.ChangeUint32ToFloat64, x)
}

func (a *Assembler) ChangeFloat64ToInt32(x graph.ID) graph.ID {
	return a.Unop(graph.ChangeFloat64ToInt32, x)
}

func (a *Assembler) ChangeFloat64ToUint32(x graph.ID) graph.ID {
	return a.Unop(graph.ChangeFloat64ToUint32, x)
}

func (a *Assembler) TruncateFloat64ToInt32(x graph.ID) graph.ID {
	return a.Unop(graph.TruncateFloat64ToInt32, x)
}

func (a *Assembler) Projection(i int, x graph.ID) graph.ID {
	return a.add(a.g.Projection(i, x))
}

// Change adds a representation change anchored at the current effect and control.
func (a *Assembler) Change(op graph.Op, x graph.ID) graph.ID {
	id := a.add(a.g.Change(op, x, a.effect, a.control))
	a.effect = id

	return id
}

func (a *Assembler) Load(rep graph.Rep, base, index graph.ID) graph.ID {
	id := a.add(a.g.Load(rep, base, index, a.effect, a.control))
	a.effect = id

	return id
}

func (a *Assembler) Store(rep graph.Rep, wb graph.WriteBarrier, base, index, value graph.ID) graph.ID {
	id := a.add(a.g.Store(rep, wb, base, index, value, a.effect, a.control))
	a.effect = id

	return id
}

func (a *Assembler) Call(target graph.ID, args ...graph.ID) graph.ID {
	id := a.add(a.g.Call(target, args, a.effect, a.control))
	a.effect = id

	return id
}

func (a *Assembler) Branch(cond graph.ID, t, f *Label) {
	g := a.g

	br := g.NewNode(graph.Branch, cond, a.control)
	a.s.place(a.cur, br)

	a.cur.Kind = KindBranch
	a.cur.Control = br

	t.from = append(t.from, edge{block: a.cur, control: g.NewNode(graph.IfTrue, br), effect: a.effect})
	f.from = append(f.from, edge{block: a.cur, control: g.NewNode(graph.IfFalse, br), effect: a.effect})

	a.cur = nil
}

func (a *Assembler) Goto(l *Label) {
	a.cur.Kind = KindGoto

	l.from = append(l.from, edge{block: a.cur, control: a.control, effect: a.effect})

	a.cur = nil
}

// Bind starts a new block at l. A label reached from a single branch
// starts with the branch projection, others with a Merge.
func (a *Assembler) Bind(l *Label) {
	g := a.g

	if l.block != nil || len(l.from) == 0 {
		panic(graph.Malformed(-1, graph.Merge, "bad label: bound %v, jumps %d", l.block != nil, len(l.from)))
	}

	var head graph.ID

	if op := g.Op(l.from[0].control); len(l.from) == 1 && (op == graph.IfTrue || op == graph.IfFalse) {
		head = l.from[0].control
	} else {
		ctls := make([]graph.ID, len(l.from))

		for i, e := range l.from {
			ctls[i] = e.control
		}

		head = g.Merge(ctls...)
	}

	b := a.s.newBlock(head)
	a.s.place(b, head)

	for _, e := range l.from {
		link(e.block, b)
	}

	l.block = b

	a.cur = b
	a.control = head
	a.effect = l.from[0].effect

	for _, e := range l.from[1:] {
		if e.effect == a.effect {
			continue
		}

		effs := make([]graph.ID, 0, len(l.from)+1)

		for _, e := range l.from {
			effs = append(effs, e.effect)
		}

		a.effect = a.add(g.EffectPhi(append(effs, head)...))

		break
	}
}

// Phi joins vals at the current block which must start with a Merge.
func (a *Assembler) Phi(rep graph.Rep, vals ...graph.ID) graph.ID {
	g := a.g

	head := a.cur.Head
	if g.Op(head) != graph.Merge || len(g.Node(head).In) != len(vals) {
		panic(graph.Malformed(head, g.Op(head), "phi of %d values", len(vals)))
	}

	return a.add(g.Phi(rep, append(vals, head)...))
}

func (a *Assembler) Return(v graph.ID) {
	ret := a.g.Return(v, a.effect, a.control)
	a.s.place(a.cur, ret)

	a.cur.Kind = KindReturn
	a.cur.Control = ret

	a.rets = append(a.rets, ret)

	a.cur = nil
}

// Finish closes the graph and returns it with its schedule.
func (a *Assembler) Finish() (*graph.Graph, *Schedule) {
	if a.cur != nil {
		panic(graph.Malformed(a.cur.Head, a.g.Op(a.cur.Head), "block is not terminated"))
	}

	a.g.SetEnd(a.rets...)
	a.s.order()

	return a.g, a.s
}
