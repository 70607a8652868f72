package graph

import "math/bits"

type (
	// Int32Matcher inspects a node that may be a 32-bit integer constant.
	Int32Matcher struct {
		ID ID
		Op Op

		HasValue bool
		Value    int32
	}

	// BinopMatcher splits a binary node into its operands.
	// For commutative operators a constant operand is moved to the right.
	BinopMatcher struct {
		Node  ID
		Left  Int32Matcher
		Right Int32Matcher
	}
)

func (g *Graph) Int32(id ID) Int32Matcher {
	n := &g.Nodes[id]

	m := Int32Matcher{ID: id, Op: n.Op}

	if n.Op == Int32Constant {
		m.HasValue = true
		m.Value = int32(n.Int)
	}

	return m
}

func (g *Graph) Binop(id ID) BinopMatcher {
	n := &g.Nodes[id]
	if n.NValue < 2 {
		panic(Malformed(id, n.Op, "not a binary operator"))
	}

	m := BinopMatcher{
		Node:  id,
		Left:  g.Int32(n.In[0]),
		Right: g.Int32(n.In[1]),
	}

	if n.Op.IsCommutative() && m.Left.HasValue && !m.Right.HasValue {
		m.Left, m.Right = m.Right, m.Left
	}

	return m
}

func (m Int32Matcher) Is(v int32) bool { return m.HasValue && m.Value == v }

func (m Int32Matcher) IsInRange(lo, hi int32) bool {
	return m.HasValue && m.Value >= lo && m.Value <= hi
}

func (m Int32Matcher) IsPowerOf2() bool {
	return m.HasValue && m.Value > 0 && m.Value&(m.Value-1) == 0
}

func (m BinopMatcher) IsFoldable() bool { return m.Left.HasValue && m.Right.HasValue }

// IsWord32Not reports whether id is Word32Xor(x, -1) and returns x.
func (g *Graph) IsWord32Not(id ID) (x ID, ok bool) {
	if g.Op(id) != Word32Xor {
		return -1, false
	}

	m := g.Binop(id)
	if !m.Right.Is(-1) {
		return -1, false
	}

	return m.Left.ID, true
}

// ContiguousMask reports whether v is a single run of ones
// and returns its lowest bit and width.
func ContiguousMask(v uint32) (lsb, width int, ok bool) {
	if v == 0 {
		return 0, 0, false
	}

	lsb = bits.TrailingZeros32(v)
	width = bits.OnesCount32(v)

	return lsb, width, bits.LeadingZeros32(v)+width+lsb == 32
}
