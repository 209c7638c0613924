package planner

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	executor "github.com/hanpama/stepgraph/internal/executor"
	language "github.com/hanpama/stepgraph/internal/language"
	schema "github.com/hanpama/stepgraph/internal/schema"
)

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

func mustSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL(sdl)
	if err != nil {
		t.Fatalf("schema error: %v", err)
	}
	return s
}

// run executes query against sdl and returns the result with the calls the
// runtime saw.
func run(t *testing.T, sdl string, rt *MockRuntime, query string, vars map[string]any) (*executor.ExecutionResult, []Call) {
	t.Helper()
	exec := NewExecutor(rt, mustSchema(t, sdl))
	res := exec.ExecuteRequest(context.Background(), mustParseQuery(t, query), "", vars, nil)
	return res, rt.GetCalls()
}

func diffResult(t *testing.T, want, got *executor.ExecutionResult) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

// diffCalls compares calls ignoring the order concurrent steps made them in.
func diffCalls(t *testing.T, want, got []Call, opts ...cmp.Option) {
	t.Helper()
	opts = append(opts, cmpopts.EquateEmpty())
	if diff := cmp.Diff(sortCalls(want), sortCalls(got), opts...); diff != "" {
		t.Fatalf("Runtime calls mismatch (-want +got):\n%s", diff)
	}
}

func sortCalls(calls []Call) []Call {
	out := append([]Call(nil), calls...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ObjectType != b.ObjectType {
			return a.ObjectType < b.ObjectType
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return fmt.Sprint(a.Source) < fmt.Sprint(b.Source)
	})
	return out
}

var ignoreBatchID = cmpopts.IgnoreFields(Call{}, "BatchID")

func noArgs() map[string]any { return map[string]any{} }
