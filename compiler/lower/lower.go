package lower

import (
	"context"

	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/target"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	// Lowering expands representation changes into machine level subgraphs.
	Lowering struct {
		g *graph.Graph

		Layout
	}

	// Fragment is a lowered subgraph: its value and the effect
	// and control it leaves for the nodes that followed the replaced one.
	Fragment struct {
		Value   graph.ID
		Effect  graph.ID
		Control graph.ID
	}

	Reduction struct {
		Fragment

		Changed bool
	}

	entry struct {
		val     graph.ID
		effect  graph.ID
		control graph.ID

		anchored bool
	}
)

func New(g *graph.Graph, w target.Word) (*Lowering, error) {
	if !w.Valid() {
		return nil, errors.New("bad word width: %d", w)
	}

	return &Lowering{
		g:      g,
		Layout: LayoutFor(w),
	}, nil
}

// Run lowers every representation change in g and rewires their uses.
// Nodes added by the lowering are not revisited.
func Run(ctx context.Context, g *graph.Graph, w target.Word) (changed int, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "lower: run", "word", w, "nodes", g.Len())
	defer tr.Finish("err", &err, "changed", &changed)

	err = g.Verify()
	if err != nil {
		return 0, errors.Wrap(err, "verify")
	}

	l, err := New(g, w)
	if err != nil {
		return 0, err
	}

	n := g.Len()

	for id := graph.ID(0); int(id) < n; id++ {
		op := g.Op(id)

		r, err := l.Reduce(id)
		if err != nil {
			return changed, errors.Wrap(err, "node %v", id)
		}

		if !r.Changed {
			continue
		}

		tr.V("lower_node").Printw("lowered", "node", id, "op", op, "value", r.Value, "effect", r.Effect, "control", r.Control)

		g.ReplaceUses(id, r.Value, r.Effect, r.Control)
		g.Kill(id)

		changed++
	}

	if tr.If("dump_lowered") {
		for id, n := range g.Nodes {
			tr.Printw("node", "id", id, "node", n)
		}
	}

	return changed, nil
}

// Branches reports whether lowering id puts a diamond into the graph.
func (l *Lowering) Branches(id graph.ID) bool {
	g := l.g

	switch g.Op(id) {
	case graph.ChangeBitToBool, graph.ChangeUint32ToTagged,
		graph.ChangeTaggedToFloat64, graph.ChangeTaggedToInt32, graph.ChangeTaggedToUint32:
		return true
	case graph.ChangeInt32ToTagged:
		n := g.Node(id)
		if n.NValue == 0 {
			return false
		}

		m := g.Int32(n.In[0])

		return l.Word == target.Word32 && !(m.HasValue && l.IsSmi(int64(m.Value)))
	}

	return false
}

// CheckAnchored rejects change nodes that lower to a diamond without
// a control input. Their branches would not be on the control chain,
// so they could not be scheduled.
func CheckAnchored(g *graph.Graph, w target.Word) (err error) {
	l, err := New(g, w)
	if err != nil {
		return err
	}

	for id := range g.Nodes {
		id := graph.ID(id)

		if !l.Branches(id) || g.ControlIn(id) >= 0 {
			continue
		}

		return graph.Malformed(id, g.Op(id), "branching change needs effect and control inputs")
	}

	return nil
}

// Reduce lowers one node. Operators other than representation changes
// are left untouched and reported as unchanged.
func (l *Lowering) Reduce(id graph.ID) (r Reduction, err error) {
	defer graph.Recover(&err)

	var f Fragment

	switch l.g.Op(id) {
	case graph.ChangeBitToBool:
		f = l.changeBitToBool(l.entry(id))
	case graph.ChangeBoolToBit:
		f = l.changeBoolToBit(l.entry(id))
	case graph.ChangeFloat64ToTagged:
		f = l.changeFloat64ToTagged(l.entry(id))
	case graph.ChangeInt32ToTagged:
		f = l.changeInt32ToTagged(l.entry(id))
	case graph.ChangeUint32ToTagged:
		f = l.changeUint32ToTagged(l.entry(id))
	case graph.ChangeTaggedToFloat64:
		f = l.changeTaggedToFloat64(l.entry(id))
	case graph.ChangeTaggedToInt32, graph.ChangeTaggedToUint32:
		f = l.changeTaggedToInt32(l.entry(id))
	default:
		return Reduction{}, nil
	}

	return Reduction{Fragment: f, Changed: true}, nil
}

func (l *Lowering) entry(id graph.ID) entry {
	g := l.g
	n := g.Node(id)

	if n.NValue != 1 || n.NEffect > 1 || n.NControl > 1 {
		panic(graph.Malformed(id, n.Op, "inputs %d/%d/%d", n.NValue, n.NEffect, n.NControl))
	}

	e := entry{
		val:     n.In[0],
		effect:  g.EffectIn(id),
		control: g.ControlIn(id),
	}

	if (e.effect < 0) != (e.control < 0) {
		panic(graph.Malformed(id, n.Op, "effect and control must be anchored together"))
	}

	e.anchored = e.control >= 0

	if e.control < 0 {
		e.control = g.Start
	}

	return e
}

// allocEffect is the effect an allocation on a path starting at e depends on.
func (l *Lowering) allocEffect(e entry) graph.ID {
	if e.effect >= 0 {
		return e.effect
	}

	return l.g.NewNode(graph.ValueEffect, e.val)
}

// exit joins path effects at merge if anything on the paths had an effect.
func (l *Lowering) exit(e entry, merge graph.ID, effects ...graph.ID) graph.ID {
	if !e.anchored {
		return -1
	}

	same := true

	for _, x := range effects {
		same = same && x == e.effect
	}

	if same {
		return e.effect
	}

	return l.g.EffectPhi(append(effects, merge)...)
}

func (l *Lowering) changeBitToBool(e entry) Fragment {
	g := l.g

	d := diamond(g, e.val, e.control)

	phi := g.Phi(graph.RepTagged, g.HeapConstant(graph.TrueValue), g.HeapConstant(graph.FalseValue), d.merge)

	return Fragment{Value: phi, Effect: e.effect, Control: d.merge}
}

func (l *Lowering) changeBoolToBit(e entry) Fragment {
	g := l.g

	eq := g.NewNode(l.wordOp(graph.Word32Equal, graph.Word64Equal), e.val, g.HeapConstant(graph.TrueValue))

	return Fragment{Value: eq, Effect: e.effect, Control: l.passControl(e)}
}

func (l *Lowering) changeFloat64ToTagged(e entry) Fragment {
	box := l.allocateHeapNumber(e.val, l.allocEffect(e), e.control)

	f := Fragment{Value: box.Value, Control: l.passControl(e)}

	if e.anchored {
		f.Effect = box.Effect
	} else {
		f.Effect = e.effect
	}

	return f
}

func (l *Lowering) changeInt32ToTagged(e entry) Fragment {
	g := l.g

	m := g.Int32(e.val)

	if l.Word == target.Word64 || m.HasValue && l.IsSmi(int64(m.Value)) {
		return Fragment{Value: l.smiTag(e.val, false), Effect: e.effect, Control: l.passControl(e)}
	}

	add := g.NewNode(graph.Int32AddWithOverflow, e.val, e.val)
	ovf := g.Projection(1, add)

	d := diamond(g, ovf, e.control)

	box := l.allocateHeapNumber(g.NewNode(graph.ChangeInt32ToFloat64, e.val), l.allocEffect(e), d.ifTrue)
	smi := g.Projection(0, add)

	phi := g.Phi(graph.RepTagged, box.Value, smi, d.merge)

	return Fragment{Value: phi, Effect: l.exit(e, d.merge, box.Effect, e.effect), Control: d.merge}
}

func (l *Lowering) changeUint32ToTagged(e entry) Fragment {
	g := l.g

	cmp := g.NewNode(graph.Uint32LessThanOrEqual, e.val, g.Int32Constant(int32(l.SmiMax)))

	d := diamond(g, cmp, e.control)

	smi := l.smiTag(e.val, true)
	box := l.allocateHeapNumber(g.NewNode(graph.ChangeUint32ToFloat64, e.val), l.allocEffect(e), d.ifFalse)

	phi := g.Phi(graph.RepTagged, smi, box.Value, d.merge)

	return Fragment{Value: phi, Effect: l.exit(e, d.merge, e.effect, box.Effect), Control: d.merge}
}

func (l *Lowering) changeTaggedToFloat64(e entry) Fragment {
	g := l.g

	d := diamond(g, l.tagBit(e.val), e.control)

	load := l.loadHeapNumberValue(e.val, d.ifTrue)
	number := g.NewNode(graph.ChangeInt32ToFloat64, l.smiUntag(e.val))

	phi := g.Phi(graph.RepFloat64, load, number, d.merge)

	return Fragment{Value: phi, Effect: e.effect, Control: d.merge}
}

// changeTaggedToInt32 serves uint32 as well: truncation keeps the low
// 32 bits, which are the same for both interpretations.
func (l *Lowering) changeTaggedToInt32(e entry) Fragment {
	g := l.g

	d := diamond(g, l.tagBit(e.val), e.control)

	number := g.NewNode(graph.TruncateFloat64ToInt32, l.loadHeapNumberValue(e.val, d.ifTrue))
	smi := l.smiUntag(e.val)

	phi := g.Phi(graph.RepWord32, number, smi, d.merge)

	return Fragment{Value: phi, Effect: e.effect, Control: d.merge}
}

func (l *Lowering) passControl(e entry) graph.ID {
	if !e.anchored {
		return -1
	}

	return e.control
}
