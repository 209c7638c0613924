package executor

import (
	"context"
	"log/slog"

	ctxlog "github.com/hanpama/stepgraph/internal/ctxlog"
	reqid "github.com/hanpama/stepgraph/internal/reqid"
)

// Option configures Execute.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	stopwatch   func(StepID)
	concurrency int
}

// WithLogger overrides the logger taken from the context.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStopwatch installs a hook invoked after every step settles. It may be
// called from several goroutines at once.
func WithStopwatch(fn func(StepID)) Option {
	return func(o *options) { o.stopwatch = fn }
}

// WithConcurrency caps how many sibling child buckets run at once. Zero means
// no limit.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// Execute runs plan for a single request and assembles its response.
func Execute(ctx context.Context, plan *OperationPlan, rootValue any, opts ...Option) *ExecutionResult {
	return ExecuteBatch(ctx, plan, []any{rootValue}, opts...)[0]
}

// ExecuteBatch runs plan once for all requests in rootValues, sharing every
// bucket between them, and returns one response per request.
func ExecuteBatch(ctx context.Context, plan *OperationPlan, rootValues []any, opts ...Option) []*ExecutionResult {
	results := make([]*ExecutionResult, len(rootValues))
	fatal := func(err error) []*ExecutionResult {
		for i := range results {
			results[i] = &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
		}
		return results
	}
	if err := plan.Finalize(); err != nil {
		return fatal(err)
	}
	if plan.output == nil {
		return fatal(structuralf("operation plan has no output plan"))
	}

	o := options{logger: ctxlog.FromContext(ctx)}
	for _, opt := range opts {
		opt(&o)
	}
	rid, ok := reqid.FromContext(ctx)
	if !ok {
		ctx, rid = reqid.NewContext(ctx)
	}
	root := NewRootBucket(plan, rootValues)
	root.execution = &requestState{
		requestID:   rid,
		logger:      o.logger.With("requestId", rid),
		stopwatch:   o.stopwatch,
		concurrency: o.concurrency,
	}
	if err := executeBucket(ctx, root); err != nil {
		root.execution.logger.Error("execution aborted", "error", err)
		return fatal(err)
	}
	for i := range rootValues {
		data, errs, err := produceOutput(ctx, plan.output, root, i)
		if err != nil {
			root.execution.logger.Error("output assembly aborted", "error", err)
			results[i] = &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
			continue
		}
		results[i] = &ExecutionResult{Data: data, Errors: errs}
	}
	return results
}
