package planner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/stepgraph/internal/executor"
)

type authorRef string

// refRuntime resolves authorRef values through LoadReferences and records
// every batch of keys it was asked for.
type refRuntime struct {
	*MockRuntime
	authors map[string]any

	mu      sync.Mutex
	batches [][]string
}

func (r *refRuntime) ReferenceKey(value any) (string, bool) {
	ref, ok := value.(authorRef)
	return string(ref), ok
}

func (r *refRuntime) LoadReferences(ctx context.Context, keys []string) ([]any, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), keys...))
	r.mu.Unlock()
	out := make([]any, len(keys))
	for i, k := range keys {
		if a, ok := r.authors[k]; ok {
			out[i] = a
		} else {
			out[i] = errors.New("no author " + k)
		}
	}
	return out, nil
}

func TestReferences_LoadedOncePerKey(t *testing.T) {
	rt := &refRuntime{
		MockRuntime: NewMockRuntime(map[string]MockResolver{
			"Query.books": NewMockValueResolver([]any{
				map[string]any{"author": authorRef("a1")},
				map[string]any{"author": authorRef("a1")},
				map[string]any{"author": authorRef("a2")},
				map[string]any{"author": nil},
			}),
			"Book.author": func(ctx context.Context, src any, args map[string]any) (any, error) {
				return src.(map[string]any)["author"], nil
			},
			"Author.name": func(ctx context.Context, src any, args map[string]any) (any, error) {
				return src.(map[string]any)["name"], nil
			},
		}),
		authors: map[string]any{"a1": map[string]any{"name": "Ada"}},
	}
	sdl := `type Query { books: [Book] } type Book { author: Author } type Author { name: String }`
	exec := NewExecutor(rt, mustSchema(t, sdl))
	res := exec.ExecuteRequest(context.Background(), mustParseQuery(t, "{ books { author { name } } }"), "", nil, nil)

	diffResult(t, &executor.ExecutionResult{
		Data: map[string]any{"books": []any{
			map[string]any{"author": map[string]any{"name": "Ada"}},
			map[string]any{"author": map[string]any{"name": "Ada"}},
			map[string]any{"author": nil},
			map[string]any{"author": nil},
		}},
		Errors: []executor.GraphQLError{{Message: "no author a2", Path: executor.Path{"books", 2, "author"}}},
	}, res)
	require.Equal(t, [][]string{{"a1", "a2"}}, rt.batches)
}

func TestReferences_PlainValuesPassThrough(t *testing.T) {
	rt := &refRuntime{MockRuntime: NewMockRuntime(map[string]MockResolver{
		"Query.author": NewMockValueResolver(map[string]any{"name": "Grace"}),
		"Author.name": func(ctx context.Context, src any, args map[string]any) (any, error) {
			return src.(map[string]any)["name"], nil
		},
	})}
	sdl := `type Query { author: Author } type Author { name: String }`
	exec := NewExecutor(rt, mustSchema(t, sdl))
	res := exec.ExecuteRequest(context.Background(), mustParseQuery(t, "{ author { name } }"), "", nil, nil)

	diffResult(t, &executor.ExecutionResult{
		Data: map[string]any{"author": map[string]any{"name": "Grace"}},
	}, res)
	require.Empty(t, rt.batches)
}
