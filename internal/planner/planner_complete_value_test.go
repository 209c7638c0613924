package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	executor "github.com/hanpama/stepgraph/internal/executor"
)

func TestCompleteValue_NonNull_Propagation_Result(t *testing.T) {
	sdl := `
type Query { obj: Obj! }
type Obj { a: String!  b: String! @async }
`
	t.Run("Resolver error", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.obj": NewMockValueResolver(map[string]any{}),
			"Obj.a":     NewMockErrorResolver(fmt.Errorf("boom")),
			"Obj.b":     NewMockValueResolver("B"),
		})
		gotRes, gotCalls := run(t, sdl, rt, "{ obj { a b } }", nil)

		diffResult(t, &executor.ExecutionResult{
			Data:   map[string]any{"obj": nil},
			Errors: []executor.GraphQLError{{Message: "boom", Path: executor.Path{"obj", "a"}}},
		}, gotRes)
		// siblings in the same bucket still run
		diffCalls(t, []Call{
			{Kind: CallKindSync, ObjectType: "Query", Field: "obj", Args: noArgs()},
			{Kind: CallKindSync, ObjectType: "Obj", Field: "a", Source: map[string]any{}, Args: noArgs()},
			{Kind: CallKindAsync, ObjectType: "Obj", Field: "b", Source: map[string]any{}, Args: noArgs(), BatchID: 1},
		}, gotCalls)
	})

	t.Run("Resolver returns null", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.obj": NewMockValueResolver(map[string]any{}),
			"Obj.a":     NewMockValueResolver(nil),
			"Obj.b":     NewMockValueResolver("B"),
		})
		gotRes, _ := run(t, sdl, rt, "{ obj { a b } }", nil)

		diffResult(t, &executor.ExecutionResult{
			Data:   map[string]any{"obj": nil},
			Errors: []executor.GraphQLError{{Message: "Cannot return null for non-nullable field obj.a", Path: executor.Path{"obj", "a"}}},
		}, gotRes)
	})

	t.Run("Null bubbles to the nearest nullable parent", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.wrap":  NewMockValueResolver(map[string]any{}),
			"Wrap.inner":  NewMockValueResolver(map[string]any{}),
			"Inner.value": NewMockValueResolver(nil),
		})
		gotRes, _ := run(t, `
type Query { wrap: Wrap }
type Wrap { inner: Inner! }
type Inner { value: Int! }
`, rt, "{ wrap { inner { value } } }", nil)

		diffResult(t, &executor.ExecutionResult{
			Data:   map[string]any{"wrap": nil},
			Errors: []executor.GraphQLError{{Message: "Cannot return null for non-nullable field wrap.inner.value", Path: executor.Path{"wrap", "inner", "value"}}},
		}, gotRes)
	})
}

func TestCompleteValue_List_Nullability_Result(t *testing.T) {
	cases := []struct {
		name  string
		sdl   string
		value any
		want  *executor.ExecutionResult
	}{
		{
			name:  "List contains values",
			sdl:   `type Query { list: [String] }`,
			value: []any{"A", "B"},
			want:  &executor.ExecutionResult{Data: map[string]any{"list": []any{"A", "B"}}},
		},
		{
			name:  "List contains null",
			sdl:   `type Query { list: [String] }`,
			value: []any{"A", nil, "B"},
			want:  &executor.ExecutionResult{Data: map[string]any{"list": []any{"A", nil, "B"}}},
		},
		{
			name:  "List is null",
			sdl:   `type Query { list: [String] }`,
			value: nil,
			want:  &executor.ExecutionResult{Data: map[string]any{"list": nil}},
		},
		{
			name:  "List is empty",
			sdl:   `type Query { list: [String!]! }`,
			value: []any{},
			want:  &executor.ExecutionResult{Data: map[string]any{"list": []any{}}},
		},
		{
			name:  "Typed slice",
			sdl:   `type Query { list: [Int] }`,
			value: []int{1, 2},
			want:  &executor.ExecutionResult{Data: map[string]any{"list": []any{1, 2}}},
		},
		{
			name:  "Item non-null violation",
			sdl:   `type Query { list: [String!] }`,
			value: []any{"A", nil},
			want: &executor.ExecutionResult{
				Data:   map[string]any{"list": nil},
				Errors: []executor.GraphQLError{{Message: "Cannot return null for non-nullable field list[1]", Path: executor.Path{"list", 1}}},
			},
		},
		{
			name:  "Not a list",
			sdl:   `type Query { list: [String] }`,
			value: "oops",
			want: &executor.ExecutionResult{
				Data:   map[string]any{"list": nil},
				Errors: []executor.GraphQLError{{Message: "Expected list value, got string", Path: executor.Path{"list"}}},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := NewMockRuntime(map[string]MockResolver{"Query.list": NewMockValueResolver(tc.value)})
			gotRes, _ := run(t, tc.sdl, rt, "{ list }", nil)
			diffResult(t, tc.want, gotRes)
		})
	}
}

func TestCompleteValue_NestedLists_Result(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.grid": NewMockValueResolver([]any{
			[]any{map[string]any{"n": 1}, map[string]any{"n": 2}},
			[]any{},
			[]any{map[string]any{"n": 3}},
		}),
		"Cell.n": func(_ context.Context, src any, _ map[string]any) (any, error) { return src.(map[string]any)["n"], nil },
	})
	gotRes, gotCalls := run(t, `type Query { grid: [[Cell]] } type Cell { n: Int }`, rt, "{ grid { n } }", nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"grid": []any{
		[]any{map[string]any{"n": 1}, map[string]any{"n": 2}},
		[]any{},
		[]any{map[string]any{"n": 3}},
	}}}, gotRes)
	if len(gotCalls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(gotCalls))
	}
}

func TestCompleteValue_SerializeLeafValue_Result(t *testing.T) {
	t.Run("SerializeLeafValue success", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{"Query.a": NewMockValueResolver("ok")})
		rt.SetSerializer(func(typeName string, val any) (any, error) { return val.(string) + "!", nil })
		gotRes, _ := run(t, `type Query { a: String }`, rt, "{ a }", nil)

		diffResult(t, &executor.ExecutionResult{Data: map[string]any{"a": "ok!"}}, gotRes)
	})

	t.Run("SerializeLeafValue error", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{"Query.a": NewMockValueResolver("ok")})
		rt.SetSerializer(func(string, any) (any, error) { return nil, fmt.Errorf("serialize error") })
		gotRes, _ := run(t, `type Query { a: String }`, rt, "{ a }", nil)

		diffResult(t, &executor.ExecutionResult{
			Data:   map[string]any{"a": nil},
			Errors: []executor.GraphQLError{{Message: "serialize error", Path: executor.Path{"a"}}},
		}, gotRes)
	})

	t.Run("Enum and custom scalar receive their type name", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.color": NewMockValueResolver("red"),
			"Query.at":    NewMockValueResolver("noon"),
		})
		rt.SetSerializer(func(typeName string, val any) (any, error) {
			return typeName + ":" + strings.ToUpper(val.(string)), nil
		})
		gotRes, _ := run(t, `
type Query { color: Color  at: Time }
enum Color { RED GREEN }
scalar Time
`, rt, "{ color at }", nil)

		diffResult(t, &executor.ExecutionResult{Data: map[string]any{"color": "Color:RED", "at": "Time:NOON"}}, gotRes)
	})
}

func TestCompleteValue_Abstract_Result(t *testing.T) {
	sdl := `
type Query { iface: Node  search: [Result] }
interface Node { id: ID }
type Obj implements Node { id: ID  a: String }
type Other implements Node { id: ID  b: String }
union Result = Obj | Other
`
	t.Run("ResolveType returns concrete subtype", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.iface": NewMockValueResolver(map[string]any{"__typename": "Obj", "val": "A"}),
			"Obj.a":       func(_ context.Context, src any, _ map[string]any) (any, error) { return src.(map[string]any)["val"], nil },
		})
		gotRes, gotCalls := run(t, sdl, rt, "{ iface { __typename ... on Obj { a } ... on Other { b } } }", nil)

		diffResult(t, &executor.ExecutionResult{Data: map[string]any{"iface": map[string]any{"__typename": "Obj", "a": "A"}}}, gotRes)
		diffCalls(t, []Call{
			{Kind: CallKindSync, ObjectType: "Query", Field: "iface", Args: noArgs()},
			{Kind: CallKindSync, ObjectType: "Obj", Field: "a", Source: map[string]any{"__typename": "Obj", "val": "A"}, Args: noArgs()},
		}, gotCalls)
	})

	t.Run("Union list routes each item to its branch", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.search": NewMockValueResolver([]any{
				map[string]any{"__typename": "Other", "id": "2"},
				map[string]any{"__typename": "Obj", "id": "1"},
				nil,
			}),
			"Obj.id":   func(_ context.Context, src any, _ map[string]any) (any, error) { return src.(map[string]any)["id"], nil },
			"Other.id": func(_ context.Context, src any, _ map[string]any) (any, error) { return src.(map[string]any)["id"], nil },
			"Other.b":  NewMockValueResolver("B"),
		})
		gotRes, _ := run(t, sdl, rt, "{ search { ... on Node { id } ... on Other { b } } }", nil)

		diffResult(t, &executor.ExecutionResult{Data: map[string]any{"search": []any{
			map[string]any{"id": "2", "b": "B"},
			map[string]any{"id": "1"},
			nil,
		}}}, gotRes)
	})

	t.Run("ResolveType error", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{"Query.iface": NewMockValueResolver(map[string]any{})})
		rt.SetTypeResolver(func(any) (string, error) { return "", fmt.Errorf("boom") })
		gotRes, gotCalls := run(t, sdl, rt, "{ iface { ... on Obj { a } } }", nil)

		diffResult(t, &executor.ExecutionResult{
			Data:   map[string]any{"iface": nil},
			Errors: []executor.GraphQLError{{Message: "boom", Path: executor.Path{"iface"}}},
		}, gotRes)
		diffCalls(t, []Call{{Kind: CallKindSync, ObjectType: "Query", Field: "iface", Args: noArgs()}}, gotCalls)
	})

	t.Run("ResolveType invalid type name", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{"Query.iface": NewMockValueResolver(map[string]any{})})
		rt.SetTypeResolver(func(any) (string, error) { return "Unknown", nil })
		gotRes, _ := run(t, sdl, rt, "{ iface { ... on Obj { a } } }", nil)

		diffResult(t, &executor.ExecutionResult{
			Data:   map[string]any{"iface": nil},
			Errors: []executor.GraphQLError{{Message: "Abstract type Node must resolve to an Object type at runtime. Got: Unknown", Path: executor.Path{"iface"}}},
		}, gotRes)
	})
}
