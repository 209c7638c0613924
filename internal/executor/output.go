package executor

import (
	"context"
	"fmt"
	"reflect"
)

type Path []PathElement

type PathElement any

// outputState accumulates located errors while one response is assembled.
type outputState struct {
	ctx    context.Context
	errors []GraphQLError
}

// produceOutput assembles the response of one root bucket row.
func produceOutput(ctx context.Context, out *OutputPlan, root *Bucket, row int) (any, []GraphQLError, error) {
	s := &outputState{ctx: ctx}
	data, err := s.complete(out, root, row, Path{})
	if err != nil {
		return nil, nil, err
	}
	return data, s.errors, nil
}

// complete returns the value of plan at row of b. The returned error is
// structural; data failures are recorded in s.errors.
func (s *outputState) complete(plan *OutputPlan, b *Bucket, row int, path Path) (any, error) {
	before := len(s.errors)
	v, err := s.completeValue(plan, b, row, path)
	if err != nil {
		return nil, err
	}
	if plan.NonNull && isNullish(v) {
		if len(s.errors) == before && !s.hasErrorAtPath(path) {
			s.addError(fmt.Sprintf("Cannot return null for non-nullable field %s", pathToString(path)), path)
		}
		return nil, nil
	}
	if isNullish(v) {
		return nil, nil
	}
	return v, nil
}

func (s *outputState) completeValue(plan *OutputPlan, b *Bucket, row int, path Path) (any, error) {
	b, row, ok, err := locate(b, row, plan.LayerPlan)
	if err != nil || !ok {
		return nil, err
	}
	if plan.Mode == OutputTypename {
		return plan.TypeName, nil
	}

	var value any
	if plan.RootStep != NoStep {
		col, err := b.column(plan.RootStep)
		if err != nil {
			return nil, err
		}
		value = col[row]
		if IsErrorValue(value) {
			s.addError(ErrorOf(value).Error(), path)
			return nil, nil
		}
		if isNullish(value) {
			return nil, nil
		}
	}

	switch plan.Mode {
	case OutputLeaf:
		if plan.Serialize == nil {
			return value, nil
		}
		serialized, err := plan.Serialize(s.ctx, value)
		if err != nil {
			s.addError(err.Error(), path)
			return nil, nil
		}
		return serialized, nil
	case OutputObject:
		return s.completeObject(plan, b, row, path)
	case OutputList:
		return s.completeList(plan, b, row, value, path)
	case OutputPolymorphic:
		typeName, ok := ResolveTypeName(value)
		if !ok {
			s.addError(fmt.Sprintf("Abstract type %s could not resolve a concrete type", plan.AbstractType), path)
			return nil, nil
		}
		branch := plan.Branches[typeName]
		if branch == nil {
			s.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", plan.AbstractType, typeName), path)
			return nil, nil
		}
		return s.completeValue(branch, b, row, path)
	}
	return nil, structuralf("unknown output mode %d", plan.Mode)
}

func (s *outputState) completeObject(plan *OutputPlan, b *Bucket, row int, path Path) (any, error) {
	result := make(map[string]any, len(plan.Fields))
	for _, f := range plan.Fields {
		fieldPath := appendPath(path, f.Key)
		v, err := s.complete(f.Plan, b, row, fieldPath)
		if err != nil {
			return nil, err
		}
		if f.Plan.NonNull && v == nil {
			if len(path) > 0 {
				return nil, nil
			}
			// Root level: keep going but write nil
		}
		result[f.Key] = v
	}
	return result, nil
}

func (s *outputState) completeList(plan *OutputPlan, b *Bucket, row int, value any, path Path) (any, error) {
	items, ok := asList(value)
	if !ok {
		s.addError(fmt.Sprintf("Expected list value, got %T", value), path)
		return nil, nil
	}
	if len(items) == 0 {
		return []any{}, nil
	}
	child, ok := b.children[plan.ItemLayerPlan]
	if !ok {
		return nil, structuralf("list at %s has %d items but no bucket for %s", pathToString(path), len(items), b.plan.layerPlans[plan.ItemLayerPlan])
	}
	rows := child.IndexMap.Rows(row)
	if len(rows) != len(items) {
		return nil, structuralf("list at %s has %d items but %d item rows", pathToString(path), len(items), len(rows))
	}
	completed := make([]any, len(rows))
	for i, r := range rows {
		v, err := s.complete(plan.Item, child.Bucket, r, appendPath(path, i))
		if err != nil {
			return nil, err
		}
		if plan.Item.NonNull && v == nil {
			// Propagate null to the list field; error already recorded by inner completion
			return nil, nil
		}
		completed[i] = v
	}
	return completed, nil
}

// locate follows 1:1 child links from row of b down to a bucket of target.
// It reports false when a scope on the way holds no row for it.
func locate(b *Bucket, row int, target LayerPlanID) (*Bucket, int, bool, error) {
	if b.layerPlan == target {
		return b, row, true, nil
	}
	plan := b.plan
	var chain []LayerPlanID
	for cur := target; cur != b.layerPlan; cur = plan.layerPlans[cur].Parent {
		if cur < 0 {
			return nil, 0, false, structuralf("%s is not below %s", plan.LayerPlan(target), plan.layerPlans[b.layerPlan])
		}
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if _, ok := plan.layerPlans[chain[i]].Reason.(ListItemReason); ok {
			return nil, 0, false, structuralf("output descends into %s without a list plan", plan.layerPlans[chain[i]])
		}
		child, ok := b.children[chain[i]]
		if !ok {
			return nil, 0, false, nil
		}
		r, ok := child.IndexMap.Row(row)
		if !ok {
			return nil, 0, false, nil
		}
		b, row = child.Bucket, r
	}
	return b, row, true, nil
}

func (s *outputState) addError(message string, path Path) {
	s.errors = append(s.errors, GraphQLError{Message: message, Path: path})
}

// hasErrorAtPath reports whether an error with the given path already exists.
func (s *outputState) hasErrorAtPath(path Path) bool {
	for _, err := range s.errors {
		if reflect.DeepEqual(err.Path, path) {
			return true
		}
	}
	return false
}

func pathToString(path Path) string {
	result := ""
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				result += "."
			}
			result += v
		case int:
			result += fmt.Sprintf("[%d]", v)
		}
	}
	return result
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}
