package sched

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/armjit/compiler/graph"
)

type (
	BlockKind uint8

	// Block is a basic block: a head control node, the nodes placed in it
	// in execution order and the control node ending it.
	Block struct {
		ID   int
		Kind BlockKind

		Head    graph.ID // Start, IfTrue, IfFalse or Merge
		Nodes   []graph.ID
		Control graph.ID // Branch or Return, -1 for Goto

		Succ []*Block
		Pred []*Block

		Dom   *Block
		Depth int
	}

	// Schedule is a list of blocks in reverse post order.
	Schedule struct {
		Blocks []*Block

		blockOf []*Block
	}
)

const (
	KindNone BlockKind = iota
	KindGoto
	KindBranch
	KindReturn
)

var ErrFloatingControl = errors.New("floating control")

var kindNames = []string{"none", "goto", "branch", "return"}

func (k BlockKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("BlockKind(%d)", k)
}

// BlockOf returns the block id is placed in or nil.
func (s *Schedule) BlockOf(id graph.ID) *Block {
	if id < 0 || int(id) >= len(s.blockOf) {
		return nil
	}

	return s.blockOf[id]
}

func (s *Schedule) place(b *Block, id graph.ID) {
	for int(id) >= len(s.blockOf) {
		s.blockOf = append(s.blockOf, nil)
	}

	s.blockOf[id] = b
}

func (s *Schedule) newBlock(head graph.ID) *Block {
	b := &Block{
		ID:      len(s.Blocks),
		Head:    head,
		Control: -1,
	}

	s.Blocks = append(s.Blocks, b)

	return b
}

func link(from, to *Block) {
	from.Succ = append(from.Succ, to)
	to.Pred = append(to.Pred, from)
}

// order sorts blocks in reverse post order from the first block,
// renumbers them and computes dominators.
// It reports whether every block was reached.
func (s *Schedule) order() bool {
	if len(s.Blocks) == 0 {
		return true
	}

	seen := make([]bool, len(s.Blocks))
	post := make([]*Block, 0, len(s.Blocks))

	var dfs func(b *Block)
	dfs = func(b *Block) {
		seen[b.ID] = true

		for i := len(b.Succ) - 1; i >= 0; i-- {
			if x := b.Succ[i]; !seen[x.ID] {
				dfs(x)
			}
		}

		post = append(post, b)
	}

	dfs(s.Blocks[0])

	all := len(post) == len(s.Blocks)

	s.Blocks = s.Blocks[:0]

	for i := len(post) - 1; i >= 0; i-- {
		b := post[i]
		b.ID = len(s.Blocks)
		s.Blocks = append(s.Blocks, b)
	}

	s.dominators()

	return all
}

// dominators computes immediate dominators over blocks in reverse post order.
func (s *Schedule) dominators() {
	entry := s.Blocks[0]

	for _, b := range s.Blocks {
		b.Dom = nil
	}

	entry.Dom = entry

	intersect := func(a, b *Block) *Block {
		for a != b {
			for a.ID > b.ID {
				a = a.Dom
			}

			for b.ID > a.ID {
				b = b.Dom
			}
		}

		return a
	}

	for changed := true; changed; {
		changed = false

		for _, b := range s.Blocks[1:] {
			var d *Block

			for _, p := range b.Pred {
				if p.Dom == nil {
					continue
				}

				if d == nil {
					d = p
				} else {
					d = intersect(p, d)
				}
			}

			if d != b.Dom {
				b.Dom = d
				changed = true
			}
		}
	}

	entry.Dom = nil

	for _, b := range s.Blocks {
		if b.Dom != nil {
			b.Depth = b.Dom.Depth + 1
		}
	}
}

// Dominates reports whether a dominates b.
func (a *Block) Dominates(b *Block) bool {
	for ; b != nil; b = b.Dom {
		if a == b {
			return true
		}
	}

	return false
}

func (b *Block) TlogAppend(buf []byte) []byte {
	var e tlwire.Encoder

	buf = e.AppendMap(buf, -1)

	buf = e.AppendKeyInt(buf, "id", b.ID)

	buf = e.AppendKey(buf, "kind")
	buf = e.AppendString(buf, b.Kind.String())

	buf = e.AppendKeyInt(buf, "head", int(b.Head))
	buf = e.AppendKeyInt(buf, "nodes", len(b.Nodes))

	buf = e.AppendKey(buf, "succ")
	buf = e.AppendArray(buf, len(b.Succ))

	for _, x := range b.Succ {
		buf = e.AppendInt(buf, x.ID)
	}

	buf = e.AppendBreak(buf)

	return buf
}
