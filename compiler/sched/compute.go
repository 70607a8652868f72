package sched

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/set"
)

type (
	scheduler struct {
		g *graph.Graph
		s *Schedule

		live  set.Bitmap[graph.ID]
		heads map[graph.ID]*Block
	}

	readyQueue struct {
		heap.Heap[graph.ID]
	}
)

// Compute builds blocks from the control chain of g and places every
// node reachable from End into a block.
func Compute(ctx context.Context, g *graph.Graph) (s *Schedule, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "sched: compute", "nodes", g.Len())
	defer tr.Finish("err", &err)

	defer graph.Recover(&err)

	if g.End < 0 {
		return nil, errors.Wrap(graph.ErrMalformed, "no end node")
	}

	c := &scheduler{
		g:     g,
		s:     &Schedule{},
		heads: map[graph.ID]*Block{},
	}

	c.markLive()

	err = c.buildBlocks()
	if err != nil {
		return nil, err
	}

	err = c.placeNodes()
	if err != nil {
		return nil, err
	}

	for _, b := range c.s.Blocks {
		c.orderBlock(b)

		tr.V("sched_block").Printw("block", "block", b, "dom", domID(b), "nodes", b.Nodes, "control", b.Control)
	}

	return c.s, nil
}

func (c *scheduler) markLive() {
	g := c.g

	c.live = set.MakeBitmap[graph.ID](g.Len())

	var q []graph.ID

	q = append(q, g.End)
	c.live.Set(g.End)

	for len(q) != 0 {
		id := q[len(q)-1]
		q = q[:len(q)-1]

		for _, in := range g.Node(id).In {
			if !c.live.TestAndSet(in) {
				q = append(q, in)
			}
		}
	}
}

func isHead(op graph.Op) bool {
	return op == graph.Start || op == graph.IfTrue || op == graph.IfFalse || op == graph.Merge
}

// headOf follows control inputs from c to the node starting its block.
func (c *scheduler) headOf(id graph.ID) graph.ID {
	g := c.g

	for x := id; ; {
		if x < 0 {
			panic(graph.Malformed(id, g.Op(id), "no control input"))
		}

		if isHead(g.Op(x)) {
			return x
		}

		x = g.ControlIn(x)
	}
}

func (c *scheduler) blockOfControl(id graph.ID) *Block {
	return c.heads[c.headOf(id)]
}

func (c *scheduler) buildBlocks() error {
	g := c.g
	s := c.s

	c.heads[g.Start] = s.newBlock(g.Start)

	for id := range g.Nodes {
		id := graph.ID(id)

		if !c.live.IsSet(id) || id == g.Start || !isHead(g.Op(id)) {
			continue
		}

		c.heads[id] = s.newBlock(id)
	}

	end := func(b *Block, kind BlockKind, ctl graph.ID) error {
		if b.Kind != KindNone {
			return errors.Wrap(ErrFloatingControl, "block of %v ends twice: %v and %v", b.Head, b.Control, ctl)
		}

		b.Kind = kind
		b.Control = ctl

		return nil
	}

	for id := range g.Nodes {
		id := graph.ID(id)
		n := g.Node(id)

		if !c.live.IsSet(id) {
			continue
		}

		var err error

		switch n.Op {
		case graph.Branch:
			b := c.blockOfControl(g.ControlIn(id))
			err = end(b, KindBranch, id)
		case graph.Return:
			b := c.blockOfControl(g.ControlIn(id))
			err = end(b, KindReturn, id)
		case graph.Merge:
			for _, in := range n.In {
				b := c.blockOfControl(in)

				err = end(b, KindGoto, -1)
				if err != nil {
					break
				}

				link(b, c.heads[id])
			}
		}

		if err != nil {
			return errors.Wrap(err, "node %v", id)
		}
	}

	for _, b := range s.Blocks {
		switch b.Kind {
		case KindNone:
			return errors.Wrap(ErrFloatingControl, "block of %v has no end", b.Head)
		case KindBranch:
			t, f := c.projections(b.Control)
			if t < 0 || f < 0 {
				return errors.Wrap(ErrFloatingControl, "branch %v: missing projection", b.Control)
			}

			link(b, c.heads[t])
			link(b, c.heads[f])
		}
	}

	if !s.order() {
		return errors.Wrap(ErrFloatingControl, "blocks not reachable from start")
	}

	return nil
}

func (c *scheduler) projections(br graph.ID) (t, f graph.ID) {
	t, f = -1, -1

	for _, u := range c.g.Uses(br) {
		if !c.live.IsSet(u.User) {
			continue
		}

		switch c.g.Op(u.User) {
		case graph.IfTrue:
			t = u.User
		case graph.IfFalse:
			f = u.User
		}
	}

	return t, f
}

func (c *scheduler) placeNodes() (err error) {
	g := c.g
	s := c.s

	for id, b := range c.heads {
		s.place(b, id)
	}

	for _, b := range s.Blocks {
		if b.Control >= 0 {
			s.place(b, b.Control)
		}
	}

	var place func(id graph.ID) *Block
	place = func(id graph.ID) *Block {
		if b := s.BlockOf(id); b != nil {
			return b
		}

		n := g.Node(id)

		var b *Block

		switch {
		case n.NControl != 0:
			b = c.blockOfControl(g.ControlIn(id))
		default:
			b = s.Blocks[0]

			for _, in := range n.In {
				x := place(in)

				if x.Depth > b.Depth {
					b = x
				}
			}
		}

		s.place(b, id)
		b.Nodes = append(b.Nodes, id)

		return b
	}

	for id := range g.Nodes {
		id := graph.ID(id)

		if !c.live.IsSet(id) || id == g.End {
			continue
		}

		op := g.Op(id)
		if isHead(op) || op == graph.Branch || op == graph.Return {
			continue
		}

		place(id)
	}

	for _, b := range s.Blocks {
		for _, id := range b.Nodes {
			n := g.Node(id)

			for _, in := range n.In {
				x := s.BlockOf(in)
				if x != nil && !x.Dominates(b) && n.Op != graph.Phi && n.Op != graph.EffectPhi {
					return errors.Wrap(ErrFloatingControl, "node %v: input %v is not dominated", id, in)
				}
			}
		}
	}

	return nil
}

// orderBlock sorts block nodes. Phis go first, lower ids go earlier
// among nodes ready at the same time.
func (c *scheduler) orderBlock(b *Block) {
	g := c.g
	s := c.s

	wait := map[graph.ID]int{}
	users := map[graph.ID][]graph.ID{}

	q := readyQueue{Heap: heap.Heap[graph.ID]{Less: idLess}}

	nodes := make([]graph.ID, 0, len(b.Nodes))

	for _, id := range b.Nodes {
		op := g.Op(id)

		if op == graph.Phi || op == graph.EffectPhi {
			nodes = append(nodes, id)
			continue
		}

		for _, in := range g.Node(id).In {
			switch op := g.Op(in); {
			case s.BlockOf(in) != b, isHead(op), op == graph.Phi, op == graph.EffectPhi:
				continue
			}

			wait[id]++
			users[in] = append(users[in], id)
		}

		if wait[id] == 0 {
			q.Push(id)
		}
	}

	for q.Len() != 0 {
		id := q.Pop()
		nodes = append(nodes, id)

		for _, u := range users[id] {
			wait[u]--

			if wait[u] == 0 {
				q.Push(u)
			}
		}
	}

	if len(nodes) != len(b.Nodes) {
		panic(graph.Malformed(b.Head, g.Op(b.Head), "cycle in block %v", b.ID))
	}

	b.Nodes = nodes
}

func idLess(d []graph.ID, i, j int) bool {
	return d[i] < d[j]
}

func (q *readyQueue) Push(id graph.ID) {
	tlog.V("sched_ready").Printw("node ready", "node", id, "from", loc.Caller(1))

	q.Heap.Push(id)
}

func domID(b *Block) int {
	if b.Dom == nil {
		return -1
	}

	return b.Dom.ID
}
