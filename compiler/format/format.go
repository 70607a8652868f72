package format

import (
	"context"
	"fmt"

	"tlog.app/go/errors"

	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/asm/arm"
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/sched"
)

type (
	// Scheduled is a graph with its schedule.
	Scheduled struct {
		Graph    *graph.Graph
		Schedule *sched.Schedule
	}
)

// Format appends the text form of x to b.
// x is *graph.Graph, Scheduled or *asm.Stream.
func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return format(ctx, b, x, 0)
}

func format(ctx context.Context, b []byte, x any, d int) ([]byte, error) {
	switch x := x.(type) {
	case *graph.Graph:
		return formatGraph(ctx, b, x, d)
	case Scheduled:
		return formatSchedule(ctx, b, x.Graph, x.Schedule, d)
	case *asm.Stream:
		return formatStream(ctx, b, x, d)
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatGraph(ctx context.Context, b []byte, g *graph.Graph, d int) (_ []byte, err error) {
	for id := range g.Nodes {
		if g.Nodes[id].Op == graph.Dead {
			continue
		}

		b = app(b, d, "")
		b = formatNode(b, g, graph.ID(id))
		b = append(b, '\n')
	}

	return b, nil
}

func formatSchedule(ctx context.Context, b []byte, g *graph.Graph, s *sched.Schedule, d int) (_ []byte, err error) {
	for i, blk := range s.Blocks {
		if i != 0 {
			b = append(b, '\n')
		}

		b = app(b, d, "B%d: %v", blk.ID, blk.Kind)

		if blk.Dom != nil {
			b = app(b, 0, " dom B%d", blk.Dom.ID)
		}

		b = appendBlocks(b, " pred", blk.Pred)
		b = appendBlocks(b, " succ", blk.Succ)
		b = append(b, '\n')

		b = app(b, d+1, "")
		b = formatNode(b, g, blk.Head)
		b = append(b, '\n')

		for _, id := range blk.Nodes {
			if id == blk.Head {
				continue
			}

			b = app(b, d+1, "")
			b = formatNode(b, g, id)
			b = append(b, '\n')
		}

		if blk.Control >= 0 {
			b = app(b, d+1, "")
			b = formatNode(b, g, blk.Control)
			b = append(b, '\n')
		}
	}

	return b, nil
}

func formatStream(ctx context.Context, b []byte, st *asm.Stream, d int) (_ []byte, err error) {
	for i, blk := range st.Blocks {
		if i != 0 {
			b = append(b, '\n')
		}

		b = app(b, d, "B%d:", blk.ID)

		if len(blk.Succ) != 0 {
			b = append(b, " ->"...)

			for _, s := range blk.Succ {
				b = app(b, 0, " B%d", s)
			}
		}

		b = append(b, '\n')

		for _, phi := range blk.Phis {
			b = app(b, d+1, "phi v%d =", phi.Out)

			for _, v := range phi.In {
				b = app(b, 0, " v%d", v)
			}

			b = append(b, '\n')
		}

		if blk.Start > blk.End || blk.End > len(st.Code) {
			return nil, errors.New("block B%d: bad code range %d:%d", blk.ID, blk.Start, blk.End)
		}

		for _, in := range st.Code[blk.Start:blk.End] {
			b = app(b, d+1, "")
			b = Instr(b, st, in)
			b = append(b, '\n')
		}
	}

	if len(st.Constants) != 0 {
		b = append(b, '\n')

		for v := 0; v < st.NextVreg; v++ {
			c, ok := st.Constants[v]
			if !ok {
				continue
			}

			b = app(b, d, "const v%d = %v\n", v, c)
		}
	}

	return b, nil
}

// Instr appends one instruction: name and mode, flags, outputs and inputs.
func Instr(b []byte, st *asm.Stream, i *asm.Instr) []byte {
	b = append(b, arm.Name(i.Op)...)

	if m := arm.ModeName(i.Mode); m != "" {
		b = append(b, '.')
		b = append(b, m...)
	}

	if i.Flags != asm.FlagsNone {
		b = app(b, 0, " [%v %v]", i.Flags, i.Cond)
	}

	b = append(b, ' ')

	for j, o := range i.Out {
		if j != 0 {
			b = append(b, ", "...)
		}

		b = operand(b, st, o)
	}

	if len(i.Out) != 0 {
		b = append(b, " = "...)
	}

	for j, o := range i.In {
		if j != 0 {
			b = append(b, ", "...)
		}

		b = operand(b, st, o)
	}

	if len(i.Temp) != 0 {
		b = append(b, " temp"...)

		for _, o := range i.Temp {
			b = append(b, ' ')
			b = operand(b, st, o)
		}
	}

	return b
}

func operand(b []byte, st *asm.Stream, o asm.Operand) []byte {
	switch o.Kind {
	case asm.Immediate:
		if o.Index < len(st.Immediates) {
			return app(b, 0, "#%v", st.Immediates[o.Index])
		}
	case asm.ConstantRef:
		if c, ok := st.Constants[o.Index]; ok {
			return app(b, 0, "=%v", c)
		}
	}

	return append(b, o.String()...)
}

func formatNode(b []byte, g *graph.Graph, id graph.ID) []byte {
	n := g.Node(id)

	b = app(b, 0, "%4d %-22v", id, n.Op)

	b = appendIDs(b, n.ValueInputs())
	b = append(b, " |"...)
	b = appendIDs(b, n.EffectInputs())
	b = append(b, " |"...)
	b = appendIDs(b, n.ControlInputs())

	switch n.Op {
	case graph.Int32Constant, graph.Int64Constant, graph.Projection:
		b = app(b, 0, "  %d", n.Int)
	case graph.Float64Constant:
		b = app(b, 0, "  %g", n.Float)
	case graph.HeapConstant, graph.ExternalConstant:
		b = app(b, 0, "  %q", n.Name)
	case graph.Parameter:
		b = app(b, 0, "  %d %v", n.Int, n.Mach)
	case graph.Phi:
		b = app(b, 0, "  %v", n.Rep)
	case graph.Load:
		b = app(b, 0, "  %v", n.Rep)

		if n.Mach != graph.MachNone {
			b = app(b, 0, " %v", n.Mach)
		}
	case graph.Store:
		b = app(b, 0, "  %v", n.Rep)

		if n.Barrier == graph.FullWriteBarrier {
			b = append(b, " barrier"...)
		}
	}

	return b
}

func appendIDs(b []byte, ids []graph.ID) []byte {
	for _, id := range ids {
		b = app(b, 0, " %d", id)
	}

	return b
}

func appendBlocks(b []byte, pref string, bs []*sched.Block) []byte {
	if len(bs) == 0 {
		return b
	}

	b = append(b, pref...)

	for _, x := range bs {
		b = app(b, 0, " B%d", x.ID)
	}

	return b
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = fmt.Appendf(b, f, args...)
	return b
}
