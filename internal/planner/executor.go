package planner

import (
	"context"
	"time"

	eventbus "github.com/hanpama/stepgraph/internal/eventbus"
	events "github.com/hanpama/stepgraph/internal/events"
	executor "github.com/hanpama/stepgraph/internal/executor"
	language "github.com/hanpama/stepgraph/internal/language"
	schema "github.com/hanpama/stepgraph/internal/schema"
)

// Executor plans and runs GraphQL requests against one schema and runtime.
type Executor struct {
	runtime Runtime
	schema  *schema.Schema
	opts    []executor.Option
}

func NewExecutor(runtime Runtime, schema *schema.Schema, opts ...executor.Option) *Executor {
	return &Executor{runtime: runtime, schema: schema, opts: opts}
}

// Schema returns the schema requests are planned against.
func (e *Executor) Schema() *schema.Schema { return e.schema }

// Plan compiles one request and publishes events.PlanBuilt.
func (e *Executor) Plan(ctx context.Context, document *language.QueryDocument, operationName string, variableValues map[string]any) (*executor.OperationPlan, error) {
	start := time.Now()
	plan, err := Plan(e.schema, e.runtime, document, operationName, variableValues)
	ev := events.PlanBuilt{OperationName: operationName, Duration: time.Since(start), Err: err}
	if plan != nil {
		ev.LayerPlans = len(plan.LayerPlans())
		for _, lp := range plan.LayerPlans() {
			ev.Steps += len(lp.Steps())
		}
	}
	eventbus.Publish(ctx, ev)
	return plan, err
}

func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *executor.ExecutionResult {
	plan, err := e.Plan(ctx, document, operationName, variableValues)
	if err != nil {
		return &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: err.Error()}}}
	}
	return executor.Execute(ctx, plan, initialValue, e.opts...)
}
