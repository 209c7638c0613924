package planner

import (
	"context"
	"fmt"
	"sort"

	executor "github.com/hanpama/stepgraph/internal/executor"
	language "github.com/hanpama/stepgraph/internal/language"
	schema "github.com/hanpama/stepgraph/internal/schema"
	steps "github.com/hanpama/stepgraph/internal/steps"
)

// builder holds the state of one Plan call.
type builder struct {
	schema    *schema.Schema
	runtime   Runtime
	document  *language.QueryDocument
	variables map[string]any
	plan      *executor.OperationPlan
}

// Plan compiles the selected operation of document into a finalized
// OperationPlan whose LayerPlan tree mirrors the shape of the response.
//
// Variables are coerced and @skip/@include evaluated while planning, so a
// plan is valid for the given variables only. Errors confined to a single
// field (unknown fields, bad arguments) do not fail planning; the field's
// column carries the error instead.
func Plan(sch *schema.Schema, runtime Runtime, document *language.QueryDocument, operationName string, variableValues map[string]any) (*executor.OperationPlan, error) {
	operation := getOperation(document, operationName)
	if operation == nil {
		return nil, fmt.Errorf("operation not found")
	}
	coerced, err := coerceVariableValues(sch, operation, variableValues)
	if err != nil {
		return nil, err
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query:
		rootType = sch.GetQueryType()
	case language.Mutation:
		rootType = sch.GetMutationType()
	case language.Subscription:
		rootType = sch.GetSubscriptionType()
	default:
		return nil, fmt.Errorf("unsupported operation type: %s", operation.Operation)
	}
	if rootType == nil {
		return nil, fmt.Errorf("root type not found for %s operation", operation.Operation)
	}

	b := &builder{
		schema:    sch,
		runtime:   runtime,
		document:  document,
		variables: coerced,
		plan:      executor.NewOperationPlan(),
	}
	root := b.plan.RootLayerPlan().ID
	rootValue := b.plan.AddStep(root, executor.ItemStep{})
	b.plan.SetRootStep(root, rootValue)

	var fields []executor.OutputField
	switch operation.Operation {
	case language.Mutation:
		fields = b.planMutationFields(root, rootType, rootValue, operation.SelectionSet)
	case language.Subscription:
		lp := b.plan.NewLayerPlan(root, executor.SubscriptionReason{ParentStep: rootValue})
		fields = b.planFields(lp.ID, rootType, rootValue, operation.SelectionSet)
	default:
		fields = b.planFields(root, rootType, rootValue, operation.SelectionSet)
	}
	b.plan.SetOutput(&executor.OutputPlan{
		Mode:      executor.OutputObject,
		LayerPlan: root,
		RootStep:  executor.NoStep,
		TypeName:  rootType.Name,
		Fields:    fields,
	})
	if err := b.plan.Finalize(); err != nil {
		return nil, err
	}
	return b.plan, nil
}

// planFields plans the selection of objectType read from source in lp. Each
// @defer label gets one deferred LayerPlan below lp.
func (b *builder) planFields(lp executor.LayerPlanID, objectType *schema.Type, source executor.StepID, selectionSet language.SelectionSet) []executor.OutputField {
	grouped := b.collectFields(objectType, selectionSet)
	deferred := make(map[string]executor.LayerPlanID)
	out := make([]executor.OutputField, 0, len(grouped.orderedFields()))
	for _, cf := range grouped.orderedFields() {
		scope := lp
		if cf.Deferred {
			id, ok := deferred[cf.DeferLabel]
			if !ok {
				id = b.plan.NewLayerPlan(lp, executor.DeferReason{ParentStep: source, Label: cf.DeferLabel}).ID
				deferred[cf.DeferLabel] = id
			}
			scope = id
		}
		out = append(out, executor.OutputField{Key: cf.ResponseName, Plan: b.planField(scope, objectType, source, cf.Fields)})
	}
	return out
}

// planMutationFields gives every root mutation field its own LayerPlan so
// the fields run one after another in document order.
func (b *builder) planMutationFields(root executor.LayerPlanID, rootType *schema.Type, source executor.StepID, selectionSet language.SelectionSet) []executor.OutputField {
	grouped := b.collectFields(rootType, selectionSet)
	out := make([]executor.OutputField, 0, len(grouped.orderedFields()))
	for i, cf := range grouped.orderedFields() {
		lp := b.plan.NewLayerPlan(root, executor.MutationFieldReason{MutationIndex: i})
		out = append(out, executor.OutputField{Key: cf.ResponseName, Plan: b.planField(lp.ID, rootType, source, cf.Fields)})
	}
	return out
}

func (b *builder) planField(lp executor.LayerPlanID, objectType *schema.Type, source executor.StepID, fields []*language.Field) *executor.OutputPlan {
	field := fields[0]
	if field.Name == "__typename" {
		return &executor.OutputPlan{
			Mode:      executor.OutputTypename,
			LayerPlan: lp,
			RootStep:  executor.NoStep,
			TypeName:  objectType.Name,
		}
	}

	fieldDef := getFieldDefinition(objectType, field.Name)
	if fieldDef == nil {
		return b.failure(lp, false, fmt.Errorf("Cannot query field '%s' on type '%s'", field.Name, objectType.Name))
	}
	args, err := coerceArgumentValues(b.schema, fieldDef, field.Arguments, b.variables)
	if err != nil {
		return b.failure(lp, schema.IsNonNull(fieldDef.Type), err)
	}

	var step executor.StepID
	if fieldDef.Async {
		step = b.plan.AddStep(lp, &batchResolveStep{runtime: b.runtime, source: source, objectType: objectType.Name, field: field.Name, args: args})
	} else {
		step = b.plan.AddStep(lp, &resolveStep{runtime: b.runtime, source: source, objectType: objectType.Name, field: field.Name, args: args})
	}
	out := b.planValue(lp, fieldDef.Type, step, fields)
	if out.Mode == executor.OutputList {
		b.recordStream(out.ItemLayerPlan, field.Directives)
	}
	return out
}

// recordStream copies the initialCount of an active @stream onto the list's
// item LayerPlan. Items are still delivered in the initial payload.
func (b *builder) recordStream(itemLP executor.LayerPlanID, directives language.DirectiveList) {
	dir := directives.ForName("stream")
	if dir == nil {
		return
	}
	if on, ok := b.directiveArgument(dir, "if").(bool); ok && !on {
		return
	}
	n := 0
	switch v := b.directiveArgument(dir, "initialCount").(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	}
	layer := b.plan.LayerPlan(itemLP)
	if r, ok := layer.Reason.(executor.ListItemReason); ok {
		r.InitialCount = &n
		layer.Reason = r
	}
}

// planValue plans the completion of the values of step, typed typ, in lp.
func (b *builder) planValue(lp executor.LayerPlanID, typ *schema.TypeRef, step executor.StepID, fields []*language.Field) *executor.OutputPlan {
	nonNull := schema.IsNonNull(typ)
	inner := typ
	if nonNull {
		inner = schema.Unwrap(typ)
	}

	if inner.Kind == schema.TypeRefKindList {
		itemLP := b.plan.NewLayerPlan(lp, executor.ListItemReason{ParentStep: step})
		item := b.plan.AddStep(itemLP.ID, executor.ItemStep{})
		b.plan.SetRootStep(itemLP.ID, item)
		return &executor.OutputPlan{
			Mode:          executor.OutputList,
			LayerPlan:     lp,
			RootStep:      step,
			NonNull:       nonNull,
			ItemLayerPlan: itemLP.ID,
			Item:          b.planValue(itemLP.ID, schema.Unwrap(inner), item, fields),
		}
	}

	namedType := schema.GetNamedType(inner)
	typeObj := b.schema.Types[namedType]
	if typeObj == nil {
		return b.failure(lp, nonNull, fmt.Errorf("Unknown type: %s", namedType))
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		rt := b.runtime
		return &executor.OutputPlan{
			Mode:      executor.OutputLeaf,
			LayerPlan: lp,
			RootStep:  step,
			NonNull:   nonNull,
			Serialize: func(ctx context.Context, v any) (any, error) {
				return rt.SerializeLeafValue(ctx, namedType, v)
			},
		}
	case schema.TypeKindObject:
		step = b.dereference(lp, step)
		boundary := b.plan.NewLayerPlan(lp, executor.NullableBoundaryReason{ParentStep: step})
		return &executor.OutputPlan{
			Mode:      executor.OutputObject,
			LayerPlan: lp,
			RootStep:  step,
			NonNull:   nonNull,
			TypeName:  typeObj.Name,
			Fields:    b.planFields(boundary.ID, typeObj, step, mergeSelectionSets(fields)),
		}
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return b.planAbstract(lp, typeObj, b.dereference(lp, step), fields, nonNull)
	}
	return b.failure(lp, nonNull, fmt.Errorf("Cannot complete value of unexpected type: %s", typeObj.Kind))
}

// dereference returns a step holding the values of step with the runtime's
// references loaded, or step itself when the runtime has no ReferenceLoader.
func (b *builder) dereference(lp executor.LayerPlanID, step executor.StepID) executor.StepID {
	rl, ok := b.runtime.(ReferenceLoader)
	if !ok {
		return step
	}
	key := b.plan.AddStep(lp, steps.NewLambda("referenceKey", func(args ...any) any {
		if k, ok := rl.ReferenceKey(args[0]); ok {
			return k
		}
		return nil
	}, step))
	loaded := b.plan.AddStep(lp, &steps.Load{
		Key:   key,
		Cache: "references",
		Loader: func(ctx context.Context, keys []any) ([]any, error) {
			ks := make([]string, len(keys))
			for i, k := range keys {
				ks[i] = k.(string)
			}
			return rl.LoadReferences(ctx, ks)
		},
	})
	return b.plan.AddStep(lp, steps.NewLambda("dereference", func(args ...any) any {
		if args[1] != nil {
			return args[1]
		}
		return args[0]
	}, step, loaded))
}

// planAbstract adds the discriminator of an abstract position and one
// polymorphic LayerPlan per possible object type.
func (b *builder) planAbstract(lp executor.LayerPlanID, abstract *schema.Type, step executor.StepID, fields []*language.Field, nonNull bool) *executor.OutputPlan {
	disc := b.plan.AddStep(lp, &resolveTypeStep{runtime: b.runtime, from: step, abstract: abstract})
	selection := mergeSelectionSets(fields)
	branches := make(map[string]*executor.OutputPlan)
	for _, name := range b.possibleTypes(abstract) {
		objectType := b.schema.Types[name]
		if objectType == nil || objectType.Kind != schema.TypeKindObject {
			continue
		}
		branch := b.plan.NewLayerPlan(lp, executor.PolymorphicReason{ParentStep: disc, TypeNames: []string{name}})
		value := b.plan.AddStep(branch.ID, &steps.PolymorphicUnwrap{From: disc})
		branches[name] = &executor.OutputPlan{
			Mode:      executor.OutputObject,
			LayerPlan: branch.ID,
			RootStep:  executor.NoStep,
			TypeName:  name,
			Fields:    b.planFields(branch.ID, objectType, value, selection),
		}
	}
	return &executor.OutputPlan{
		Mode:         executor.OutputPolymorphic,
		LayerPlan:    lp,
		RootStep:     disc,
		NonNull:      nonNull,
		AbstractType: abstract.Name,
		Branches:     branches,
	}
}

// possibleTypes lists the object types an abstract type can resolve to.
func (b *builder) possibleTypes(abstract *schema.Type) []string {
	if len(abstract.PossibleTypes) > 0 || abstract.Kind == schema.TypeKindUnion {
		return abstract.PossibleTypes
	}
	var names []string
	for name, t := range b.schema.Types {
		if t.Kind == schema.TypeKindObject && contains(t.Interfaces, abstract.Name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (b *builder) failure(lp executor.LayerPlanID, nonNull bool, err error) *executor.OutputPlan {
	return &executor.OutputPlan{
		Mode:      executor.OutputLeaf,
		LayerPlan: lp,
		RootStep:  b.plan.AddStep(lp, &failStep{err: err}),
		NonNull:   nonNull,
	}
}

// getOperation retrieves the operation from the document
func getOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" && len(document.Operations) == 1 {
		return document.Operations[0]
	}
	for _, op := range document.Operations {
		if op.Name == operationName {
			return op
		}
	}
	return nil
}
