package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/armjit/compiler"
	"github.com/slowlang/armjit/compiler/back"
	"github.com/slowlang/armjit/compiler/eval"
	"github.com/slowlang/armjit/compiler/format"
	"github.com/slowlang/armjit/compiler/gfile"
	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/target"
)

func main() {
	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "lower representation changes and print the scheduled graph",
		Action:      lowerAct,
		Args:        cli.Args{},
	}

	selectCmd := &cli.Command{
		Name:        "select",
		Description: "select ARM instructions for graph files",
		Action:      selectAct,
		Args:        cli.Args{},
	}

	evalCmd := &cli.Command{
		Name:        "eval",
		Description: "lower a graph file and evaluate it: eval <file> [args...]",
		Action:      evalAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("type", "int32", "result machine type"),
		},
	}

	featuresCmd := &cli.Command{
		Name:        "features",
		Description: "print host features with overrides applied",
		Action:      featuresAct,
	}

	app := &cli.Command{
		Name:        "armjit",
		Description: "armjit lowers sea-of-nodes graphs and selects ARM instructions",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("config,c", "", "target config file (toml)"),
			cli.NewFlag("word", 0, "word width override: 32 or 64"),
			cli.NewFlag("features", "", "feature set override: sudiv,mls,armv7 or host"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			lowerCmd,
			selectCmd,
			evalCmd,
			featuresCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func lowerAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		p, err := readProgram(ctx, c, a)
		if err != nil {
			return err
		}

		s, err := compiler.Schedule(ctx, p.Config, p.Graph)
		if err != nil {
			return errors.Wrap(err, "lower %v", a)
		}

		b, err := format.Format(ctx, nil, format.Scheduled{Graph: p.Graph, Schedule: s})
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		fmt.Printf("%s", b)
	}

	return nil
}

func selectAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		p, err := readProgram(ctx, c, a)
		if err != nil {
			return err
		}

		st, err := compiler.Compile(ctx, p.Config, p.Graph)
		if errors.Is(err, back.ErrUnsupported) {
			return errors.Wrap(err, "%v: not supported on %v", a, p.Config.Features)
		}
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		b, err := format.Format(ctx, nil, st)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		fmt.Printf("%s", b)
	}

	return nil
}

func evalAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) == 0 {
		return errors.New("graph file expected")
	}

	mt, ok := graph.MachineTypeByName(c.String("type"))
	if !ok {
		return errors.New("unknown result type: %v", c.String("type"))
	}

	p, err := readProgram(ctx, c, c.Args[0])
	if err != nil {
		return err
	}

	args, err := p.Args(c.Args[1:])
	if err != nil {
		return errors.Wrap(err, "args")
	}

	_, err = compiler.Schedule(ctx, p.Config, p.Graph)
	if err != nil {
		return errors.Wrap(err, "lower")
	}

	m, err := eval.New(p.Graph, p.Config.Word)
	if err != nil {
		return errors.Wrap(err, "eval")
	}

	res, err := m.Run(ctx, args...)
	if err != nil {
		return errors.Wrap(err, "run")
	}

	if mt == graph.MachTagged {
		fmt.Printf("%v (smi %v)\n", m.Heap.Number(res), m.Heap.IsSmi(res))
		return nil
	}

	fmt.Printf("%s\n", gfile.FormatValue(mt, res))

	return nil
}

func featuresAct(c *cli.Command) (err error) {
	cfg, err := config(c, target.Host())
	if err != nil {
		return err
	}

	fmt.Printf("word %d\nfeatures %v\n", cfg.Word, cfg.Features)

	return nil
}

func readProgram(ctx context.Context, c *cli.Command, name string) (*gfile.Program, error) {
	p, err := gfile.ReadFile(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "read %v", name)
	}

	p.Config, err = config(c, p.Config)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// config applies command line overrides on top of base.
func config(c *cli.Command, base target.Config) (cfg target.Config, err error) {
	cfg = base

	if name := c.String("config"); name != "" {
		cfg, err = target.LoadConfig(name)
		if err != nil {
			return cfg, errors.Wrap(err, "load config")
		}
	}

	if w := c.Int("word"); w != 0 {
		cfg.Word = target.Word(w)
	}

	switch fs := c.String("features"); fs {
	case "":
	case "host":
		cfg.Features = target.Host().Features
	default:
		cfg.Features, err = target.ParseFeatures(fs)
		if err != nil {
			return cfg, errors.Wrap(err, "features")
		}
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}
