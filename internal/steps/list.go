package steps

import (
	"reflect"

	executor "github.com/hanpama/stepgraph/internal/executor"
)

// NewSubroutine adds a subroutine LayerPlan under lp for a transform of list
// and returns it with its item step.
func NewSubroutine(p *executor.OperationPlan, lp executor.LayerPlanID, list executor.StepID) (*executor.LayerPlan, executor.StepID) {
	sub := p.NewLayerPlan(lp, executor.SubroutineReason{ParentStep: list})
	item := p.AddStep(sub.ID, executor.ItemStep{})
	return sub, item
}

// Each collects the callback result of every element.
func Each(list executor.StepID, sub executor.LayerPlanID, item executor.StepID) *executor.ListTransformStep {
	return &executor.ListTransformStep{
		List:         list,
		Subroutine:   sub,
		ItemStep:     item,
		InitialState: func() any { return []any{} },
		Reduce: func(acc, _, result any) (any, error) {
			return append(acc.([]any), result), nil
		},
	}
}

// Filter keeps the elements whose callback result is truthy.
func Filter(list executor.StepID, sub executor.LayerPlanID, item executor.StepID) *executor.ListTransformStep {
	return &executor.ListTransformStep{
		List:         list,
		Subroutine:   sub,
		ItemStep:     item,
		InitialState: func() any { return []any{} },
		Reduce: func(acc, element, result any) (any, error) {
			if truthy(result) {
				return append(acc.([]any), element), nil
			}
			return acc, nil
		},
	}
}

// Reduce folds the callback results with fn starting from initial().
func Reduce(list executor.StepID, sub executor.LayerPlanID, item executor.StepID, initial func() any, fn func(acc, element, result any) (any, error)) *executor.ListTransformStep {
	return &executor.ListTransformStep{
		List:         list,
		Subroutine:   sub,
		ItemStep:     item,
		InitialState: initial,
		Reduce:       fn,
	}
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
