package executor

import (
	"context"
	"sync"
	"sync/atomic"
)

// testStep is a configurable step used across the package tests.
type testStep struct {
	deps  []StepID
	safe  bool
	fn    func(ctx context.Context, d ExecutionDetails) ([]any, error)
	calls atomic.Int32

	mu   sync.Mutex
	seen [][][]any
}

func (s *testStep) Dependencies() []StepID { return s.deps }
func (s *testStep) IsSyncAndSafe() bool    { return s.safe }

func (s *testStep) Execute(ctx context.Context, d ExecutionDetails) ([]any, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, d.Values)
	s.mu.Unlock()
	return s.fn(ctx, d)
}

// column returns the same fixed column whatever the bucket.
func column(values ...any) *testStep {
	return &testStep{safe: true, fn: func(context.Context, ExecutionDetails) ([]any, error) {
		out := make([]any, len(values))
		copy(out, values)
		return out, nil
	}}
}

// perRow maps every row through f. Unsafe steps run on their own goroutine.
func perRow(safe bool, f func(args ...any) any, deps ...StepID) *testStep {
	return &testStep{deps: deps, safe: safe, fn: func(_ context.Context, d ExecutionDetails) ([]any, error) {
		out := make([]any, d.Count)
		args := make([]any, len(d.Values))
		for i := 0; i < d.Count; i++ {
			for j, col := range d.Values {
				args[j] = col[i]
			}
			out[i] = f(args...)
		}
		return out, nil
	}}
}

func failing(err error, deps ...StepID) *testStep {
	return &testStep{deps: deps, fn: func(context.Context, ExecutionDetails) ([]any, error) {
		return nil, err
	}}
}

func times(n int) func(args ...any) any {
	return func(args ...any) any { return args[0].(int) * n }
}

// dedupStep collapses with peers of the same key.
type dedupStep struct {
	*testStep
	key string
}

func (s *dedupStep) PeerKey() string               { return s.key }
func (s *dedupStep) Deduplicate(peers []Step) Step { return s }

func rows(n int) []any { return make([]any, n) }

func unwrapPoly(args ...any) any { return PolymorphicValue(args[0]) }
