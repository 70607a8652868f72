package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/armjit/compiler/asm"
	"github.com/slowlang/armjit/compiler/back"
	"github.com/slowlang/armjit/compiler/gfile"
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/lower"
	"github.com/slowlang/armjit/compiler/sched"
	"github.com/slowlang/armjit/compiler/target"
)

// CompileFile compiles the graph file name for the target it declares.
func CompileFile(ctx context.Context, name string) (*asm.Stream, error) {
	p, err := gfile.ReadFile(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "read graph")
	}

	return Compile(ctx, p.Config, p.Graph)
}

// Compile lowers g in place, schedules it and selects instructions.
func Compile(ctx context.Context, cfg target.Config, g *graph.Graph) (st *asm.Stream, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: compile", "word", cfg.Word, "features", cfg.Features, "nodes", g.Len())
	defer tr.Finish("err", &err)

	s, err := Schedule(ctx, cfg, g)
	if err != nil {
		return nil, err
	}

	st, err = back.Select(ctx, g, s, cfg.Features)
	if err != nil {
		return nil, errors.Wrap(err, "select")
	}

	tr.Printw("compiled", "instrs", len(st.Code), "blocks", len(st.Blocks), "vregs", st.NextVreg)

	return st, nil
}

// Schedule lowers g in place and schedules the result.
func Schedule(ctx context.Context, cfg target.Config, g *graph.Graph) (*sched.Schedule, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}

	err = lower.CheckAnchored(g, cfg.Word)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	_, err = lower.Run(ctx, g, cfg.Word)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	s, err := sched.Compute(ctx, g)
	if err != nil {
		return nil, errors.Wrap(err, "schedule")
	}

	return s, nil
}
