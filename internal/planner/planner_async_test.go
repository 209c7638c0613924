package planner

import (
	"context"
	"testing"

	executor "github.com/hanpama/stepgraph/internal/executor"
	"github.com/stretchr/testify/require"
)

func TestRouting_IsAsync_SyncVsAsync_Calls(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockValueResolver("A"),
		"Query.b": NewMockValueResolver("B"),
	})
	gotRes, gotCalls := run(t, `type Query { a: String  b: String @async }`, rt, "{ a b }", nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"a": "A", "b": "B"}}, gotRes)
	diffCalls(t, []Call{
		{Kind: CallKindSync, ObjectType: "Query", Field: "a", Args: noArgs()},
		{Kind: CallKindAsync, ObjectType: "Query", Field: "b", Args: noArgs(), BatchID: 1},
	}, gotCalls)
}

func TestRouting_AsyncFieldBatchesAcrossListItems_Calls(t *testing.T) {
	sdl := `
type Query { books: [Book!]! }
type Book { title: String  author: Author @async }
type Author { name: String }
`
	books := []any{
		map[string]any{"title": "A", "author": "ann"},
		map[string]any{"title": "B", "author": "bob"},
		map[string]any{"title": "C", "author": "ann"},
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.books": NewMockValueResolver(books),
		"Book.title":  func(_ context.Context, src any, _ map[string]any) (any, error) { return src.(map[string]any)["title"], nil },
		"Book.author": func(_ context.Context, src any, _ map[string]any) (any, error) {
			return map[string]any{"name": src.(map[string]any)["author"]}, nil
		},
		"Author.name": func(_ context.Context, src any, _ map[string]any) (any, error) { return src.(map[string]any)["name"], nil },
	})
	gotRes, gotCalls := run(t, sdl, rt, "{ books { title author { name } } }", nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"books": []any{
		map[string]any{"title": "A", "author": map[string]any{"name": "ann"}},
		map[string]any{"title": "B", "author": map[string]any{"name": "bob"}},
		map[string]any{"title": "C", "author": map[string]any{"name": "ann"}},
	}}}, gotRes)

	var batches []int
	for _, c := range gotCalls {
		if c.Kind == CallKindAsync {
			batches = append(batches, c.BatchID)
		}
	}
	require.Equal(t, []int{1, 1, 1}, batches, "every list item joins one batch")
}

func TestRouting_DepthWiseBatch_Calls(t *testing.T) {
	t.Run("Sibling async fields batch separately", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.a": NewMockValueResolver("A"),
			"Query.b": NewMockValueResolver("B"),
		})
		gotRes, gotCalls := run(t, `type Query { a: String @async  b: String @async }`, rt, "{ a b }", nil)

		diffResult(t, &executor.ExecutionResult{Data: map[string]any{"a": "A", "b": "B"}}, gotRes)
		diffCalls(t, []Call{
			{Kind: CallKindAsync, ObjectType: "Query", Field: "a", Args: noArgs()},
			{Kind: CallKindAsync, ObjectType: "Query", Field: "b", Args: noArgs()},
		}, gotCalls, ignoreBatchID)
		require.ElementsMatch(t, []int{1, 2}, []int{gotCalls[0].BatchID, gotCalls[1].BatchID})
	})

	t.Run("Nested async layers", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.root": NewMockValueResolver(map[string]any{"id": "r"}),
			"Node.child": NewMockValueResolver(map[string]any{"id": "c"}),
			"Node.x":     NewMockValueResolver("X"),
		})
		gotRes, gotCalls := run(t, `
type Query { root: Node @async }
type Node { child: Node @async  x: String @async }
`, rt, "{ root { child { x } } }", nil)

		diffResult(t, &executor.ExecutionResult{Data: map[string]any{"root": map[string]any{"child": map[string]any{"x": "X"}}}}, gotRes)
		diffCalls(t, []Call{
			{Kind: CallKindAsync, ObjectType: "Query", Field: "root", Args: noArgs(), BatchID: 1},
			{Kind: CallKindAsync, ObjectType: "Node", Field: "child", Source: map[string]any{"id": "r"}, Args: noArgs(), BatchID: 2},
			{Kind: CallKindAsync, ObjectType: "Node", Field: "x", Source: map[string]any{"id": "c"}, Args: noArgs(), BatchID: 3},
		}, gotCalls)
	})
}

func TestRouting_PayloadTransparency_Calls(t *testing.T) {
	type payload struct{ ID int }
	src := &payload{ID: 7}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.thing": NewMockValueResolver(src),
		"Thing.id":    func(_ context.Context, s any, _ map[string]any) (any, error) { return s.(*payload).ID, nil },
	})
	gotRes, gotCalls := run(t, `type Query { thing: Thing } type Thing { id: Int @async }`, rt, "{ thing { id } }", nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{"thing": map[string]any{"id": 7}}}, gotRes)
	require.Len(t, gotCalls, 2)
	require.Same(t, src, gotCalls[1].Source, "sources reach the runtime untouched")
}
