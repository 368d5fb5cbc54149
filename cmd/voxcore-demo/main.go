// Command voxcore-demo wires a reducer, registry, store and engine
// together end to end against a small hard-coded program, the way
// cmd/demo/main.go wires a stub planner through an in-memory engine.
// Run it to see the full reduce -> dispatch -> print pipeline fire
// without writing a parser frontend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/voxlogica-project/voxlogica-core/config"
	"github.com/voxlogica-project/voxlogica-core/engine"
	"github.com/voxlogica-project/voxlogica-core/reduce"
	"github.com/voxlogica-project/voxlogica-core/reduce/ast"
	"github.com/voxlogica-project/voxlogica-core/registry"
	"github.com/voxlogica-project/voxlogica-core/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "voxcore-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("VOXCORE_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 1) Registry: the default namespace with two numeric primitives,
	// the same shape as the arithmetic scenario in the reference test
	// suite.
	reg := registry.NewManager()
	reg.Register(registry.NewNamespace(registry.DefaultNamespace).
		Register("add", arithmeticKernel(func(a, b float64) float64 { return a + b })).
		Register("double", unaryKernel(func(a float64) float64 { return a * 2 })))

	// 2) Program: `print "shifted" (let side = double(21) in for x in
	// [1, 2, 3] do add(x, side))`. Exercises constant interning, a
	// primitive call, a let binding, and a for-comprehension closure in
	// one plan.
	program := &ast.Program{Statements: []ast.Statement{
		&ast.Goal{
			Kind:  ast.GoalPrint,
			Label: "shifted",
			Value: &ast.Let{
				Name:  "side",
				Value: &ast.Application{Func: "double", Args: []ast.Expr{&ast.Literal{Value: 21.0}}},
				Body: &ast.ForComprehension{
					Var: "x",
					Seq: &ast.Literal{Value: []any{1.0, 2.0, 3.0}},
					Body: &ast.Application{
						Func: "add",
						Args: []ast.Expr{&ast.Identifier{Name: "x"}, &ast.Identifier{Name: "side"}},
					},
				},
			},
		},
	}}

	reduceOpts := []reduce.Option{}
	if cfg.RecursionLimit > 0 {
		reduceOpts = append(reduceOpts, reduce.WithRecursionLimit(cfg.RecursionLimit))
	}
	wp, err := reduce.Reduce(program, reduceOpts...)
	if err != nil {
		return fmt.Errorf("reduce: %w", err)
	}

	// 3) Store: one CodecRegistry instance shared between the store and
	// the engine, since engine.New registers its own ephemeral closure
	// codec into it. Passing two separate registries here would silently
	// desynchronize them.
	codecs := store.NewCodecRegistry()

	backend, closeBackend, err := config.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	if closeBackend != nil {
		defer func() { _ = closeBackend(ctx) }()
	}

	storeOpts := []store.Option{store.WithCodecRegistry(codecs)}
	if backend != nil {
		storeOpts = append(storeOpts, store.WithBackend(backend))
	}
	st := store.New(storeOpts...)

	// 4) Engine.
	engineOpts := []engine.Option{engine.WithStdout(os.Stdout)}
	if cfg.Workers > 0 {
		engineOpts = append(engineOpts, engine.WithWorkers(cfg.Workers))
	}
	eng := engine.New(reg, st, codecs, engineOpts...)

	summary, err := eng.Run(ctx, wp)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Fprintf(os.Stderr, "voxcore-demo: %d succeeded, %d failed\n", summary.Succeeded, summary.Failed)
	if summary.Failed > 0 {
		for _, e := range summary.Errors {
			fmt.Fprintf(os.Stderr, "  node %s: %v\n", e.Node, e.Err)
		}
		return fmt.Errorf("%d node(s) failed", summary.Failed)
	}
	return nil
}

func arithmeticKernel(fn func(a, b float64) float64) registry.Kernel {
	n := 2
	return registry.Kernel{
		ArityHint: &n,
		ArgNames:  []string{"0", "1"},
		Call: func(_ context.Context, args map[string]registry.Value) (registry.Value, error) {
			return fn(args["0"].(float64), args["1"].(float64)), nil
		},
	}
}

func unaryKernel(fn func(a float64) float64) registry.Kernel {
	n := 1
	return registry.Kernel{
		ArityHint: &n,
		ArgNames:  []string{"0"},
		Call: func(_ context.Context, args map[string]registry.Value) (registry.Value, error) {
			return fn(args["0"].(float64)), nil
		},
	}
}
