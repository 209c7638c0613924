package executor

import (
	"context"
	"fmt"
)

// ListTransformStep folds every element of a list through a subroutine
// LayerPlan. For each row the subroutine runs once per element (as one
// synthetic bucket covering all rows); Reduce then combines the element, its
// callback result and the accumulator.
//
// Each, filter, map and reduce style transforms are all expressed with it.
type ListTransformStep struct {
	List       StepID
	Subroutine LayerPlanID
	// ItemStep is the populated step of the subroutine holding the element.
	ItemStep StepID

	InitialState func() any
	Reduce       func(acc, item, result any) (any, error)
	// Finalize is optional.
	Finalize func(acc any) (any, error)
}

func (s *ListTransformStep) Dependencies() []StepID { return []StepID{s.List} }

func (s *ListTransformStep) Execute(context.Context, ExecutionDetails) ([]any, error) {
	return nil, structuralf("list transforms are executed by the bucket scheduler")
}

func (s *ListTransformStep) IsSyncAndSafe() bool { return false }

// listTransformRun holds a synthetic subroutine bucket built from a snapshot
// of the parent store, so it can execute off the drain goroutine.
type listTransformRun struct {
	step   *ListTransformStep
	lists  []any
	counts []int
	sub    *Bucket
}

func prepareListTransform(b *Bucket, lt *ListTransformStep, run *stepRun) (*listTransformRun, error) {
	plan := b.plan
	lp := plan.layerPlans[lt.Subroutine]
	lists := run.details.Values[0]
	r := &listTransformRun{step: lt, lists: lists, counts: make([]int, len(lists))}

	c, err := newRowCopier(lp, b)
	if err != nil {
		return nil, err
	}
	var items []any
	for k, v := range lists {
		row := k
		if run.rows != nil {
			row = run.rows[k]
		}
		if isNullish(v) {
			continue
		}
		list, ok := asList(v)
		if !ok {
			continue
		}
		path := b.PolymorphicPath(row)
		for _, item := range list {
			c.add(row, path)
			items = append(items, item)
		}
		r.counts[k] = len(list)
	}
	sub := c.bucket()
	sub.setColumn(lt.ItemStep, items)
	sub.hasErrors = b.hasErrors
	sub.execution = b.execution
	r.sub = sub
	return r, nil
}

func (r *listTransformRun) execute(ctx context.Context) ([]any, error) {
	lp := r.sub.plan.layerPlans[r.sub.layerPlan]
	var results []any
	if r.sub.size > 0 {
		if err := executeBucket(ctx, r.sub); err != nil {
			return nil, err
		}
		col, err := r.sub.column(lp.RootStep)
		if err != nil {
			return nil, err
		}
		results = col
	}
	items, _ := r.sub.Column(r.step.ItemStep)

	out := make([]any, len(r.lists))
	offset := 0
	for k, v := range r.lists {
		if isNullish(v) {
			out[k] = nil
			continue
		}
		if _, ok := asList(v); !ok {
			out[k] = fmt.Errorf("list transform expected a list, got %T", v)
			continue
		}
		n := r.counts[k]
		out[k] = r.fold(items[offset:offset+n], results[offset:offset+n])
		offset += n
	}
	return out, nil
}

// fold returns the folded value of one row, or the error that failed it.
func (r *listTransformRun) fold(items, results []any) any {
	var acc any
	if r.step.InitialState != nil {
		acc = r.step.InitialState()
	}
	for i, item := range items {
		res := results[i]
		if IsErrorValue(res) {
			return ErrorOf(res)
		}
		next, err := r.step.Reduce(acc, item, res)
		if err != nil {
			return err
		}
		acc = next
	}
	if r.step.Finalize != nil {
		v, err := r.step.Finalize(acc)
		if err != nil {
			return err
		}
		acc = v
	}
	return acc
}
