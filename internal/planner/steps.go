package planner

import (
	"context"
	"fmt"

	executor "github.com/hanpama/stepgraph/internal/executor"
	schema "github.com/hanpama/stepgraph/internal/schema"
)

// resolveStep resolves a sync field row by row through Runtime.ResolveSync.
type resolveStep struct {
	runtime    Runtime
	source     executor.StepID
	objectType string
	field      string
	args       map[string]any
}

func (s *resolveStep) Dependencies() []executor.StepID { return []executor.StepID{s.source} }
func (s *resolveStep) IsSyncAndSafe() bool             { return false }

func (s *resolveStep) Execute(ctx context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i, src := range d.Values[0] {
		v, err := s.runtime.ResolveSync(ctx, s.objectType, s.field, src, s.args)
		if err != nil {
			out[i] = err
			continue
		}
		out[i] = v
	}
	return out, nil
}

func (s *resolveStep) String() string { return "Resolve(" + s.objectType + "." + s.field + ")" }

// batchResolveStep resolves an async field for the whole bucket with a
// single Runtime.BatchResolveAsync call.
type batchResolveStep struct {
	runtime    Runtime
	source     executor.StepID
	objectType string
	field      string
	args       map[string]any
}

func (s *batchResolveStep) Dependencies() []executor.StepID { return []executor.StepID{s.source} }
func (s *batchResolveStep) IsSyncAndSafe() bool             { return false }

func (s *batchResolveStep) Execute(ctx context.Context, d executor.ExecutionDetails) ([]any, error) {
	tasks := make([]AsyncResolveTask, d.Count)
	for i, src := range d.Values[0] {
		tasks[i] = AsyncResolveTask{ObjectType: s.objectType, Field: s.field, Source: src, Args: s.args}
	}
	results := s.runtime.BatchResolveAsync(ctx, tasks)
	if len(results) != len(tasks) {
		return nil, fmt.Errorf("runtime returned %d results for %d %s.%s tasks", len(results), len(tasks), s.objectType, s.field)
	}
	out := make([]any, d.Count)
	for i, r := range results {
		if r.Error != nil {
			out[i] = r.Error
			continue
		}
		out[i] = r.Value
	}
	return out, nil
}

func (s *batchResolveStep) String() string {
	return "BatchResolve(" + s.objectType + "." + s.field + ")"
}

// resolveTypeStep is the discriminator of an abstract position: it yields
// the concrete type and value of every non-null row.
type resolveTypeStep struct {
	runtime  Runtime
	from     executor.StepID
	abstract *schema.Type
}

func (s *resolveTypeStep) Dependencies() []executor.StepID { return []executor.StepID{s.from} }
func (s *resolveTypeStep) IsSyncAndSafe() bool             { return false }

func (s *resolveTypeStep) Execute(ctx context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i, v := range d.Values[0] {
		if v == nil {
			continue
		}
		typeName, err := s.runtime.ResolveType(ctx, s.abstract.Name, v)
		if err != nil {
			out[i] = err
			continue
		}
		var concrete any
		if s.abstract.Kind == schema.TypeKindUnion {
			concrete, err = s.runtime.ResolveUnionConcreteValue(ctx, s.abstract.Name, v)
		} else {
			concrete, err = s.runtime.ResolveInterfaceConcreteValue(ctx, s.abstract.Name, v)
		}
		if err != nil {
			out[i] = err
			continue
		}
		out[i] = executor.PolymorphicData{TypeName: typeName, Data: concrete}
	}
	return out, nil
}

func (s *resolveTypeStep) String() string { return "ResolveType(" + s.abstract.Name + ")" }

// failStep fails every row with err. Planning problems local to one field
// become failStep columns so the rest of the operation still runs.
type failStep struct {
	err error
}

func (s *failStep) Dependencies() []executor.StepID { return nil }
func (s *failStep) IsSyncAndSafe() bool             { return false }

func (s *failStep) Execute(_ context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i := range out {
		out[i] = s.err
	}
	return out, nil
}

func (s *failStep) String() string { return "Fail(" + s.err.Error() + ")" }
