package planner

import (
	"context"
	"testing"

	eventbus "github.com/hanpama/stepgraph/internal/eventbus"
	events "github.com/hanpama/stepgraph/internal/events"
	executor "github.com/hanpama/stepgraph/internal/executor"
	"github.com/stretchr/testify/require"
)

func TestContext_OperationSelection_Result(t *testing.T) {
	sdl := `type Query { a: String  b: String }`
	cases := []struct {
		name, query, operation string
		want                   *executor.ExecutionResult
	}{
		{"Inline operation", "{ a }", "", &executor.ExecutionResult{Data: map[string]any{"a": "A"}}},
		{"Single named operation without name", "query Foo { a }", "", &executor.ExecutionResult{Data: map[string]any{"a": "A"}}},
		{"Named operation provided", "query Foo { a } query Bar { b }", "Bar", &executor.ExecutionResult{Data: map[string]any{"b": "B"}}},
		{"Error no operation provided", "fragment F on Query { a }", "", &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: "operation not found"}}}},
		{"Error no name with multiple operations", "query Foo { a } query Bar { b }", "", &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: "operation not found"}}}},
		{"Error unknown operation name", "query Foo { a } query Bar { b }", "Baz", &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: "operation not found"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := NewMockRuntime(map[string]MockResolver{
				"Query.a": NewMockValueResolver("A"),
				"Query.b": NewMockValueResolver("B"),
			})
			exec := NewExecutor(rt, mustSchema(t, sdl))
			gotRes := exec.ExecuteRequest(context.Background(), mustParseQuery(t, tc.query), tc.operation, nil, nil)
			diffResult(t, tc.want, gotRes)
		})
	}
}

func TestContext_VariableCoercion_Result(t *testing.T) {
	sdl := `
type Query { echo(v: Int): Int  pick(color: Color = GREEN): Color  find(f: Filter): String }
enum Color { RED GREEN }
input Filter { name: String!  limit: Int = 3 }
`
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.echo": func(_ context.Context, _ any, args map[string]any) (any, error) { return args["v"], nil },
		"Query.pick": func(_ context.Context, _ any, args map[string]any) (any, error) { return args["color"], nil },
		"Query.find": func(_ context.Context, _ any, args map[string]any) (any, error) {
			f := args["f"].(map[string]any)
			return f["name"].(string) + ":" + string(rune('0'+f["limit"].(int))), nil
		},
	})
	cases := []struct {
		name  string
		query string
		vars  map[string]any
		want  *executor.ExecutionResult
	}{
		{
			name:  "Provided variable",
			query: "query($v: Int!){ echo(v:$v) }",
			vars:  map[string]any{"v": 3},
			want:  &executor.ExecutionResult{Data: map[string]any{"echo": 3}},
		},
		{
			name:  "JSON number variable",
			query: "query($v: Int!){ echo(v:$v) }",
			vars:  map[string]any{"v": float64(4)},
			want:  &executor.ExecutionResult{Data: map[string]any{"echo": 4}},
		},
		{
			name:  "Use default",
			query: "query($v: Int = 5){ echo(v:$v) }",
			want:  &executor.ExecutionResult{Data: map[string]any{"echo": 5}},
		},
		{
			name:  "Omitted variable falls back to argument default",
			query: "query($c: Color){ pick(color: $c) }",
			want:  &executor.ExecutionResult{Data: map[string]any{"pick": "GREEN"}},
		},
		{
			name:  "Enum literal",
			query: "{ pick(color: RED) }",
			want:  &executor.ExecutionResult{Data: map[string]any{"pick": "RED"}},
		},
		{
			name:  "Input object with nested variable and default field",
			query: `query($n: String!){ find(f: {name: $n}) }`,
			vars:  map[string]any{"n": "x"},
			want:  &executor.ExecutionResult{Data: map[string]any{"find": "x:3"}},
		},
		{
			name:  "Missing required variable",
			query: "query($v: Int!){ echo(v:$v) }",
			want:  &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: "variable $v of required type Int! was not provided"}}},
		},
		{
			name:  "Null for NonNull variable",
			query: "query($v: Int!){ echo(v:$v) }",
			vars:  map[string]any{"v": nil},
			want:  &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: "variable $v of type Int! cannot be null"}}},
		},
		{
			name:  "Variable of the wrong type",
			query: "query($v: Int!){ echo(v:$v) }",
			vars:  map[string]any{"v": "42"},
			want:  &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: "variable $v of type Int! cannot be coerced: cannot coerce 42 (string) to int"}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := NewExecutor(rt, mustSchema(t, sdl))
			gotRes := exec.ExecuteRequest(context.Background(), mustParseQuery(t, tc.query), "", tc.vars, nil)
			diffResult(t, tc.want, gotRes)
		})
	}
}

func TestExecutor_PublishesPlanBuilt(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var got []events.PlanBuilt
	eventbus.Subscribe(func(_ context.Context, e events.PlanBuilt) { got = append(got, e) })

	rt := NewMockRuntime(map[string]MockResolver{"Query.a": NewMockValueResolver("A")})
	exec := NewExecutor(rt, mustSchema(t, `type Query { a: String  obj: Obj } type Obj { b: String }`))
	exec.ExecuteRequest(context.Background(), mustParseQuery(t, "query Q { a obj { b } }"), "Q", nil, nil)
	exec.ExecuteRequest(context.Background(), mustParseQuery(t, "query Q { a }"), "Other", nil, nil)

	require.Len(t, got, 2)
	require.Equal(t, "Q", got[0].OperationName)
	require.NoError(t, got[0].Err)
	require.Equal(t, 2, got[0].LayerPlans)
	require.Equal(t, 4, got[0].Steps)
	require.EqualError(t, got[1].Err, "operation not found")
	require.Zero(t, got[1].LayerPlans)
}

func TestExecutor_InitialValueIsRootSource(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.who": func(_ context.Context, src any, _ map[string]any) (any, error) { return src.(map[string]any)["user"], nil },
	})
	exec := NewExecutor(rt, mustSchema(t, `type Query { who: String }`))
	gotRes := exec.ExecuteRequest(context.Background(), mustParseQuery(t, "{ who }"), "", nil, map[string]any{"user": "ann"})
	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"who": "ann"}}, gotRes)
}
