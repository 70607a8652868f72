package graph

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog/tlwire"
)

type (
	ID int32

	EdgeKind uint8

	// Rep is a machine representation of a loaded or stored value.
	Rep uint8

	// MachineType is the type of a parameter or a returned value.
	MachineType uint8

	WriteBarrier uint8

	Node struct {
		Op Op
		In []ID

		NValue, NEffect, NControl int

		Int   int64   // constants, projection and parameter index
		Float float64 // Float64Constant
		Name  string  // HeapConstant, ExternalConstant

		Rep     Rep         // Load, Store, Phi
		Mach    MachineType // Parameter, Load signedness
		Barrier WriteBarrier
	}

	Graph struct {
		Nodes []Node

		Start ID
		End   ID

		uses [][]Use
	}

	Use struct {
		User  ID
		Index int
	}

	MalformedError struct {
		Node   ID
		Op     Op
		Reason string
		PC     loc.PC
	}
)

const (
	EdgeValue EdgeKind = iota
	EdgeEffect
	EdgeControl
)

const (
	RepNone Rep = iota
	RepBit
	RepWord8
	RepWord16
	RepWord32
	RepWord64
	RepFloat64
	RepTagged
)

const (
	MachNone MachineType = iota
	MachInt32
	MachUint32
	MachInt64
	MachFloat64
	MachTagged
	MachBool
)

const (
	NoWriteBarrier WriteBarrier = iota
	FullWriteBarrier
)

// Well-known names of heap and external constants.
const (
	TrueValue          = "true_value"
	FalseValue         = "false_value"
	AllocateHeapNumber = "allocate_heap_number"
)

var ErrMalformed = errors.New("malformed graph")

var (
	repNames  = []string{"none", "bit", "word8", "word16", "word32", "word64", "float64", "tagged"}
	machNames = []string{"none", "int32", "uint32", "int64", "float64", "tagged", "bool"}
)

func New() *Graph {
	g := &Graph{}

	g.Start = g.add(Node{Op: Start})
	g.End = -1

	return g
}

// NewNode adds a node with fixed arity operator op.
func (g *Graph) NewNode(op Op, in ...ID) ID {
	v, e, c := op.Arity()
	if v < 0 || e < 0 || c < 0 || v+e+c != len(in) {
		panic(Malformed(-1, op, "bad input count %d", len(in)))
	}

	return g.add(Node{Op: op, In: in, NValue: v, NEffect: e, NControl: c})
}

// Add adds a fully described node.
func (g *Graph) Add(n Node) ID {
	if len(n.In) != n.NValue+n.NEffect+n.NControl {
		panic(Malformed(-1, n.Op, "edge counts %d+%d+%d do not sum to %d", n.NValue, n.NEffect, n.NControl, len(n.In)))
	}

	return g.add(n)
}

func (g *Graph) add(n Node) ID {
	id := ID(len(g.Nodes))
	g.Nodes = append(g.Nodes, n)
	g.uses = nil

	return id
}

func (g *Graph) Node(id ID) *Node { return &g.Nodes[id] }
func (g *Graph) Op(id ID) Op      { return g.Nodes[id].Op }
func (g *Graph) Len() int         { return len(g.Nodes) }

func (g *Graph) ValueIn(id ID, i int) ID {
	n := &g.Nodes[id]
	if i >= n.NValue {
		panic(Malformed(id, n.Op, "no value input %d", i))
	}

	return n.In[i]
}

// EffectIn returns the first effect input or -1.
func (g *Graph) EffectIn(id ID) ID {
	n := &g.Nodes[id]
	if n.NEffect == 0 {
		return -1
	}

	return n.In[n.NValue]
}

// ControlIn returns the first control input or -1.
func (g *Graph) ControlIn(id ID) ID {
	n := &g.Nodes[id]
	if n.NControl == 0 {
		return -1
	}

	return n.In[n.NValue+n.NEffect]
}

func (n *Node) ValueInputs() []ID   { return n.In[:n.NValue] }
func (n *Node) EffectInputs() []ID  { return n.In[n.NValue : n.NValue+n.NEffect] }
func (n *Node) ControlInputs() []ID { return n.In[n.NValue+n.NEffect:] }

func (n *Node) EdgeKind(i int) EdgeKind {
	switch {
	case i < n.NValue:
		return EdgeValue
	case i < n.NValue+n.NEffect:
		return EdgeEffect
	default:
		return EdgeControl
	}
}

// Uses returns the users of id. The lists are rebuilt after any mutation.
func (g *Graph) Uses(id ID) []Use {
	if g.uses == nil {
		g.uses = make([][]Use, len(g.Nodes))

		for u := range g.Nodes {
			for i, in := range g.Nodes[u].In {
				g.uses[in] = append(g.uses[in], Use{User: ID(u), Index: i})
			}
		}
	}

	return g.uses[id]
}

// Kill disconnects id from its inputs. The node stays in the arena as Dead.
func (g *Graph) Kill(id ID) {
	g.Nodes[id] = Node{Op: Dead}
	g.uses = nil
}

// ValueUses counts value edges pointing to id.
func (g *Graph) ValueUses(id ID) (n int) {
	for _, u := range g.Uses(id) {
		if g.Nodes[u.User].EdgeKind(u.Index) == EdgeValue {
			n++
		}
	}

	return n
}

// ReplaceUses redirects every use of old by edge kind.
// A negative replacement leaves edges of that kind untouched.
func (g *Graph) ReplaceUses(old, value, effect, control ID) {
	for _, u := range g.Uses(old) {
		n := &g.Nodes[u.User]

		var to ID

		switch n.EdgeKind(u.Index) {
		case EdgeValue:
			to = value
		case EdgeEffect:
			to = effect
		case EdgeControl:
			to = control
		}

		if to >= 0 {
			n.In[u.Index] = to
		}
	}

	g.uses = nil
}

// FindProjection returns the projection of id with the given index or -1.
func (g *Graph) FindProjection(id ID, index int) ID {
	for _, u := range g.Uses(id) {
		n := &g.Nodes[u.User]

		if n.Op == Projection && n.Int == int64(index) {
			return u.User
		}
	}

	return -1
}

// Verify checks node input counts against the operator table.
func (g *Graph) Verify() error {
	for id := range g.Nodes {
		n := &g.Nodes[id]

		if n.Op == OpInvalid || n.Op >= NumOps {
			return errors.Wrap(ErrMalformed, "node %d: unknown operator %d", id, n.Op)
		}

		v, e, c := n.Op.Arity()

		if v >= 0 && v != n.NValue || e >= 0 && e != n.NEffect || c >= 0 && c != n.NControl {
			return errors.Wrap(ErrMalformed, "node %d: %v: inputs %d/%d/%d", id, n.Op, n.NValue, n.NEffect, n.NControl)
		}

		if n.Op.IsChange() && (n.NEffect > 1 || n.NControl > 1) {
			return errors.Wrap(ErrMalformed, "node %d: %v: too many anchors", id, n.Op)
		}

		for _, in := range n.In {
			if in < 0 || int(in) >= len(g.Nodes) {
				return errors.Wrap(ErrMalformed, "node %d: %v: input %d out of range", id, n.Op, in)
			}
		}
	}

	return nil
}

// Malformed creates a contract violation report.
// Passes panic with it and turn it into an error at their boundary.
func Malformed(id ID, op Op, f string, args ...any) *MalformedError {
	return &MalformedError{
		Node:   id,
		Op:     op,
		Reason: fmt.Sprintf(f, args...),
		PC:     loc.Caller(1),
	}
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("node %d: %v: %s", e.Node, e.Op, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// Recover turns a MalformedError panic into *errp.
// Use it as a deferred call at pass boundaries.
func Recover(errp *error) {
	p := recover()
	if p == nil {
		return
	}

	if e, ok := p.(*MalformedError); ok {
		*errp = e
		return
	}

	panic(p)
}

func (r Rep) String() string {
	if int(r) < len(repNames) {
		return repNames[r]
	}

	return fmt.Sprintf("Rep(%d)", r)
}

func RepByName(s string) (Rep, bool) {
	for i, n := range repNames {
		if n == s {
			return Rep(i), true
		}
	}

	return RepNone, false
}

func (m MachineType) String() string {
	if int(m) < len(machNames) {
		return machNames[m]
	}

	return fmt.Sprintf("Mach(%d)", m)
}

func MachineTypeByName(s string) (MachineType, bool) {
	for i, n := range machNames {
		if n == s {
			return MachineType(i), true
		}
	}

	return MachNone, false
}

// Rep returns the representation values of type m are kept in.
func (m MachineType) Rep() Rep {
	switch m {
	case MachInt32, MachUint32:
		return RepWord32
	case MachInt64:
		return RepWord64
	case MachFloat64:
		return RepFloat64
	case MachTagged:
		return RepTagged
	case MachBool:
		return RepBit
	}

	return RepNone
}

func (id ID) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if id < 0 {
		return e.AppendNil(b)
	}

	return e.AppendInt(b, int(id))
}

func (n Node) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, -1)

	b = e.AppendKey(b, "op")
	b = e.AppendString(b, n.Op.String())

	b = e.AppendKey(b, "in")
	b = e.AppendArray(b, len(n.In))

	for _, in := range n.In {
		b = e.AppendInt(b, int(in))
	}

	switch n.Op {
	case Float64Constant:
		b = e.AppendKeyValue(b, "val", n.Float)
	case HeapConstant, ExternalConstant:
		b = e.AppendKey(b, "val")
		b = e.AppendString(b, n.Name)
	case Int32Constant, Int64Constant, Projection, Parameter:
		b = e.AppendKeyInt64(b, "val", n.Int)
	case Load, Store, Phi:
		b = e.AppendKey(b, "rep")
		b = e.AppendString(b, n.Rep.String())
	}

	b = e.AppendBreak(b)

	return b
}
