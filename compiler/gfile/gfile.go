// Package gfile reads graphs written as TOML documents.
//
//	word = 32
//	features = "sudiv,mls"
//	params = ["int32", "int32"]
//
//	[[node]]
//	name = "sum"
//	op = "Int32Add"
//	value = ["p0", "p1"]
//
//	[[node]]
//	name = "ret"
//	op = "Return"
//	value = ["sum"]
//	effect = ["start"]
//	control = ["start"]
//
// Names start and p0..pN are predefined. Nodes may refer to nodes defined later.
// End collects every Return.
package gfile

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/armjit/compiler/graph"
	"github.com/slowlang/armjit/compiler/target"
)

type (
	File struct {
		Word     target.Word     `toml:"word"`
		Features target.Features `toml:"features"`
		Params   []string        `toml:"params"`

		Nodes []Node `toml:"node"`
	}

	Node struct {
		Name string `toml:"name"`
		Op   string `toml:"op"`

		Value   []string `toml:"value"`
		Effect  []string `toml:"effect"`
		Control []string `toml:"control"`

		Int     int64   `toml:"int"`
		Float   float64 `toml:"float"`
		Index   int     `toml:"index"`
		Rep     string  `toml:"rep"`
		Type    string  `toml:"type"`
		Ref     string  `toml:"ref"`
		Barrier string  `toml:"barrier"`
	}

	// Program is a parsed graph file.
	Program struct {
		Config target.Config
		Graph  *graph.Graph

		// Params are parameter node ids in order.
		Params []graph.ID

		// Names maps node names to ids.
		Names map[string]graph.ID
	}
)

// ReadFile parses the graph file name.
func ReadFile(ctx context.Context, name string) (*Program, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(data), "name", name)

	p, err := Parse(ctx, data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return p, nil
}

// Parse decodes a graph file and builds its graph.
func Parse(ctx context.Context, data []byte) (p *Program, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "gfile: parse", "size", len(data))
	defer tr.Finish("err", &err)

	var f File

	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()

	err = d.Decode(&f)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	p, err = f.Build()
	if err != nil {
		return nil, err
	}

	if tr.If("dump_gfile") {
		for id, n := range p.Graph.Nodes {
			tr.Printw("node", "id", id, "node", n)
		}
	}

	return p, nil
}

// Build makes the graph f describes.
func (f *File) Build() (p *Program, err error) {
	defer graph.Recover(&err)

	p = &Program{
		Config: target.Default(),
		Graph:  graph.New(),
		Names:  map[string]graph.ID{},
	}

	if f.Word != 0 {
		p.Config.Word = f.Word
	}

	p.Config.Features = f.Features

	err = p.Config.Validate()
	if err != nil {
		return nil, err
	}

	g := p.Graph

	p.Names["start"] = g.Start

	for i, t := range f.Params {
		mt, ok := graph.MachineTypeByName(t)
		if !ok {
			return nil, errors.New("param %d: unknown machine type %q", i, t)
		}

		id := g.Parameter(i, mt)

		p.Params = append(p.Params, id)
		p.Names[fmt.Sprintf("p%d", i)] = id
	}

	// nodes are appended in order, so ids are known up front
	base := graph.ID(g.Len())

	for i, n := range f.Nodes {
		if n.Name == "" {
			continue
		}

		if _, ok := p.Names[n.Name]; ok {
			return nil, errors.New("node %d: duplicate name %q", i, n.Name)
		}

		p.Names[n.Name] = base + graph.ID(i)
	}

	var rets []graph.ID

	for i, n := range f.Nodes {
		gn, err := p.node(&n)
		if err != nil {
			return nil, errors.Wrap(err, "node %d (%v)", i, n.Name)
		}

		id := g.Add(gn)

		if gn.Op == graph.Return {
			rets = append(rets, id)
		}
	}

	if len(rets) == 0 {
		return nil, errors.New("no return")
	}

	g.SetEnd(rets...)

	err = g.Verify()
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Program) node(n *Node) (gn graph.Node, err error) {
	op, ok := graph.OpByName(n.Op)
	if !ok {
		return gn, errors.New("unknown operator %q", n.Op)
	}

	gn.Op = op

	for _, names := range [][]string{n.Value, n.Effect, n.Control} {
		for _, name := range names {
			id, ok := p.Names[name]
			if !ok {
				return gn, errors.New("undefined input %q", name)
			}

			gn.In = append(gn.In, id)
		}
	}

	gn.NValue, gn.NEffect, gn.NControl = len(n.Value), len(n.Effect), len(n.Control)

	switch op {
	case graph.Int32Constant:
		if n.Int != int64(int32(n.Int)) && n.Int != int64(uint32(n.Int)) {
			return gn, errors.New("int32 constant out of range: %d", n.Int)
		}

		gn.Int = int64(int32(n.Int))
	case graph.Int64Constant:
		gn.Int = n.Int
	case graph.Float64Constant:
		gn.Float = n.Float
	case graph.HeapConstant, graph.ExternalConstant:
		if n.Ref == "" {
			return gn, errors.New("ref expected")
		}

		gn.Name = n.Ref
	case graph.Projection, graph.Parameter:
		gn.Int = int64(n.Index)
	}

	if n.Rep != "" {
		gn.Rep, ok = graph.RepByName(n.Rep)
		if !ok {
			return gn, errors.New("unknown rep %q", n.Rep)
		}
	}

	if n.Type != "" {
		gn.Mach, ok = graph.MachineTypeByName(n.Type)
		if !ok {
			return gn, errors.New("unknown machine type %q", n.Type)
		}
	}

	switch n.Barrier {
	case "", "none":
	case "full":
		gn.Barrier = graph.FullWriteBarrier
	default:
		return gn, errors.New("unknown write barrier %q", n.Barrier)
	}

	switch op {
	case graph.Load, graph.Store, graph.Phi:
		if gn.Rep == graph.RepNone {
			return gn, errors.New("%v needs rep", op)
		}
	}

	return gn, nil
}

// Args converts command line arguments to the bit patterns
// the parameters of p take.
func (p *Program) Args(args []string) ([]uint64, error) {
	if len(args) != len(p.Params) {
		return nil, errors.New("want %d arguments, got %d", len(p.Params), len(args))
	}

	r := make([]uint64, len(args))

	for i, a := range args {
		mt := p.Graph.Node(p.Params[i]).Mach

		v, err := ParseValue(mt, a)
		if err != nil {
			return nil, errors.Wrap(err, "arg %d", i)
		}

		r[i] = v
	}

	return r, nil
}
