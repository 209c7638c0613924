package planner

import (
	"context"
	"sync"
	"testing"

	executor "github.com/hanpama/stepgraph/internal/executor"
	"github.com/stretchr/testify/require"
)

const deferSDL = `
type Query { fast: String  slow: String  obj: Obj }
type Obj { x: String  y: String }
`

func deferReasons(p *executor.OperationPlan) []executor.DeferReason {
	var out []executor.DeferReason
	for _, lp := range p.LayerPlans() {
		if r, ok := lp.Reason.(executor.DeferReason); ok {
			out = append(out, r)
		}
	}
	return out
}

func planQuery(t *testing.T, sdl, query string, vars map[string]any) *executor.OperationPlan {
	t.Helper()
	p, err := Plan(mustSchema(t, sdl), NewMockRuntime(nil), mustParseQuery(t, query), "", vars)
	require.NoError(t, err)
	return p
}

func TestDefer_PlansOneLayerPerLabel(t *testing.T) {
	p := planQuery(t, deferSDL, `{
		fast
		... @defer(label: "later") { slow }
		obj { x ... @defer(label: "later") { y } }
	}`, nil)

	reasons := deferReasons(p)
	require.Len(t, reasons, 2, "one deferred scope per object")
	for _, r := range reasons {
		require.Equal(t, "later", r.Label)
	}
}

func TestDefer_DisabledOrShadowedIsEager(t *testing.T) {
	p := planQuery(t, deferSDL, `query($d: Boolean!) {
		... @defer(if: $d) { slow }
		fast
		... @defer { fast }
	}`, map[string]any{"d": false})
	require.Empty(t, deferReasons(p))
}

func TestDefer_RunsAfterEagerFields_Result(t *testing.T) {
	var mu sync.Mutex
	var order []string
	note := func(v string) MockResolver {
		return func(context.Context, any, map[string]any) (any, error) {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
			return v, nil
		}
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.fast": note("fast"),
		"Query.slow": note("slow"),
		"Query.obj":  NewMockValueResolver(map[string]any{}),
		"Obj.x":      note("x"),
	})
	gotRes, _ := run(t, deferSDL, rt, `{ ... @defer { slow } fast obj { x } }`, nil)

	diffResult(t, &executor.ExecutionResult{Data: map[string]any{
		"fast": "fast",
		"slow": "slow",
		"obj":  map[string]any{"x": "x"},
	}}, gotRes)
	require.Equal(t, "slow", order[len(order)-1])
}
