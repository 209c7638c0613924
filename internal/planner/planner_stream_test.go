package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/stepgraph/internal/executor"
)

const streamSDL = `type Query { tags: [String] names: [String] }`

func listItemCounts(p *executor.OperationPlan) []*int {
	var out []*int
	for _, lp := range p.LayerPlans() {
		if r, ok := lp.Reason.(executor.ListItemReason); ok {
			out = append(out, r.InitialCount)
		}
	}
	return out
}

func TestStream_RecordsInitialCount(t *testing.T) {
	p := planQuery(t, streamSDL, `{ tags @stream(initialCount: 2) }`, nil)
	counts := listItemCounts(p)
	require.Len(t, counts, 1)
	require.NotNil(t, counts[0])
	require.Equal(t, 2, *counts[0])
	require.Contains(t, p.String(), "initialCount=2")

	p = planQuery(t, streamSDL, `query($n: Int) { tags @stream(initialCount: $n) }`, map[string]any{"n": float64(3)})
	require.Equal(t, 3, *listItemCounts(p)[0])

	p = planQuery(t, streamSDL, `{ tags @stream }`, nil)
	require.Equal(t, 0, *listItemCounts(p)[0])
}

func TestStream_InactiveLeavesCountUnset(t *testing.T) {
	p := planQuery(t, streamSDL, `{ tags names @stream(if: false, initialCount: 1) }`, nil)
	require.Equal(t, []*int{nil, nil}, listItemCounts(p))
	require.NotContains(t, p.String(), "initialCount")
}

func TestStream_DeliversEveryItem(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.tags": NewMockValueResolver([]any{"a", "b", "c"}),
	})
	res, _ := run(t, streamSDL, rt, `{ tags @stream(initialCount: 1) }`, nil)
	diffResult(t, &executor.ExecutionResult{
		Data: map[string]any{"tags": []any{"a", "b", "c"}},
	}, res)
}
