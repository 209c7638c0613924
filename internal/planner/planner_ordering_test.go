package planner

import (
	"context"
	"testing"

	executor "github.com/hanpama/stepgraph/internal/executor"
)

func TestOrdering_FieldOutput_Order_Result(t *testing.T) {
	sdl := `type Query { a: String  b: String @async  c: String }`
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockValueResolver("A"),
		"Query.b": NewMockValueResolver("B"),
		"Query.c": NewMockValueResolver("C"),
	})

	gotRes, gotCalls := run(t, sdl, rt, "{ a b c }", nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"a": "A", "b": "B", "c": "C"}}, gotRes)
	diffCalls(t, []Call{
		{Kind: CallKindSync, ObjectType: "Query", Field: "a", Args: noArgs()},
		{Kind: CallKindAsync, ObjectType: "Query", Field: "b", Args: noArgs(), BatchID: 1},
		{Kind: CallKindSync, ObjectType: "Query", Field: "c", Args: noArgs()},
	}, gotCalls)
}

func TestOrdering_FragmentMerge_DuplicateFields_Result(t *testing.T) {
	sdl := `
type Query { obj: Obj }
type Obj { a: Sub }
type Sub { x: String y: String }
`
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.obj": NewMockValueResolver(map[string]any{}),
		"Obj.a":     NewMockValueResolver(map[string]any{}),
		"Sub.x":     NewMockValueResolver("X"),
		"Sub.y":     NewMockValueResolver("Y"),
	})

	gotRes, gotCalls := run(t, sdl, rt, "{ obj { a { x } a { y } } }", nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"obj": map[string]any{"a": map[string]any{"x": "X", "y": "Y"}}}}, gotRes)
	// the merged field resolves once
	diffCalls(t, []Call{
		{Kind: CallKindSync, ObjectType: "Query", Field: "obj", Args: noArgs()},
		{Kind: CallKindSync, ObjectType: "Obj", Field: "a", Source: map[string]any{}, Args: noArgs()},
		{Kind: CallKindSync, ObjectType: "Sub", Field: "x", Source: map[string]any{}, Args: noArgs()},
		{Kind: CallKindSync, ObjectType: "Sub", Field: "y", Source: map[string]any{}, Args: noArgs()},
	}, gotCalls)
}

func TestOrdering_AliasesResolveSeparately(t *testing.T) {
	sdl := `type Query { echo(v: Int): Int }`
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.echo": func(_ context.Context, _ any, args map[string]any) (any, error) { return args["v"], nil },
	})

	gotRes, gotCalls := run(t, sdl, rt, "{ one: echo(v: 1) two: echo(v: 2) }", nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"one": 1, "two": 2}}, gotRes)
	if len(gotCalls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(gotCalls))
	}
}
