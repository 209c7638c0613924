package planner

import (
	language "github.com/hanpama/stepgraph/internal/language"
	schema "github.com/hanpama/stepgraph/internal/schema"
)

// collectedFieldMap preserves field order from the original query
type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

type collectedField struct {
	ResponseName string
	Fields       []*language.Field
	// Deferred is set when every occurrence sits inside an active @defer
	// fragment; DeferLabel is the label of the first one.
	Deferred   bool
	DeferLabel string
}

// deferScope is the innermost active @defer around a selection.
type deferScope struct {
	active bool
	label  string
}

func newCollectedFieldMap() *collectedFieldMap {
	return &collectedFieldMap{
		fields: make([]collectedField, 0),
		index:  make(map[string]int),
	}
}

func (cfm *collectedFieldMap) add(responseName string, field *language.Field, d deferScope) {
	if idx, exists := cfm.index[responseName]; exists {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
		if !d.active {
			cfm.fields[idx].Deferred = false
		}
		return
	}
	cfm.index[responseName] = len(cfm.fields)
	cfm.fields = append(cfm.fields, collectedField{
		ResponseName: responseName,
		Fields:       []*language.Field{field},
		Deferred:     d.active,
		DeferLabel:   d.label,
	})
}

func (cfm *collectedFieldMap) orderedFields() []collectedField {
	return cfm.fields
}

// collectFields collects the fields of selectionSet that apply to objectType.
func (b *builder) collectFields(objectType *schema.Type, selectionSet language.SelectionSet) *collectedFieldMap {
	groupedFields := newCollectedFieldMap()
	visitedFragments := make(map[string]bool)
	b.collectFieldsImpl(objectType, selectionSet, groupedFields, visitedFragments, deferScope{})
	return groupedFields
}

func (b *builder) collectFieldsImpl(objectType *schema.Type, selectionSet language.SelectionSet, groupedFields *collectedFieldMap, visitedFragments map[string]bool, d deferScope) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !b.shouldIncludeNode(sel.Directives) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			groupedFields.add(responseName, sel, d)

		case *language.InlineFragment:
			if !b.shouldIncludeNode(sel.Directives) {
				continue
			}
			if !b.doesFragmentTypeApply(objectType, sel.TypeCondition) {
				continue
			}
			b.collectFieldsImpl(objectType, sel.SelectionSet, groupedFields, visitedFragments, b.deferOf(sel.Directives, d))

		case *language.FragmentSpread:
			if !b.shouldIncludeNode(sel.Directives) {
				continue
			}
			if visitedFragments[sel.Name] {
				continue
			}
			visitedFragments[sel.Name] = true

			fragmentDef := getFragmentDefinition(b.document, sel.Name)
			if fragmentDef == nil {
				continue
			}
			if !b.doesFragmentTypeApply(objectType, fragmentDef.TypeCondition) {
				continue
			}
			if !b.shouldIncludeNode(fragmentDef.Directives) {
				continue
			}
			b.collectFieldsImpl(objectType, fragmentDef.SelectionSet, groupedFields, visitedFragments, b.deferOf(sel.Directives, d))
		}
	}
}

// doesFragmentTypeApply reports whether a fragment with condition applies to
// objects of objectType: the same type, an interface it implements or a union
// it belongs to.
func (b *builder) doesFragmentTypeApply(objectType *schema.Type, condition string) bool {
	if condition == "" || condition == objectType.Name {
		return true
	}
	cond := b.schema.Types[condition]
	if cond == nil {
		return false
	}
	switch cond.Kind {
	case schema.TypeKindInterface:
		for _, name := range objectType.Interfaces {
			if name == condition {
				return true
			}
		}
		return contains(cond.PossibleTypes, objectType.Name)
	case schema.TypeKindUnion:
		return contains(cond.PossibleTypes, objectType.Name)
	}
	return false
}

// shouldIncludeNode checks if a node should be included based on directives
func (b *builder) shouldIncludeNode(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if skipBool, ok := b.directiveArgument(skip, "if").(bool); ok && skipBool {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if includeBool, ok := b.directiveArgument(include, "if").(bool); ok && !includeBool {
			return false
		}
	}
	return true
}

// deferOf returns the defer scope for a fragment carrying directives.
// @defer(if: false) leaves the enclosing scope unchanged.
func (b *builder) deferOf(directives language.DirectiveList, outer deferScope) deferScope {
	dir := directives.ForName("defer")
	if dir == nil {
		return outer
	}
	if on, ok := b.directiveArgument(dir, "if").(bool); ok && !on {
		return outer
	}
	label, _ := b.directiveArgument(dir, "label").(string)
	return deferScope{active: true, label: label}
}

func (b *builder) directiveArgument(directive *language.Directive, argName string) any {
	for _, arg := range directive.Arguments {
		if arg.Name == argName {
			return valueFromASTWithVars(arg.Value, b.variables)
		}
	}
	return nil
}

// getFragmentDefinition finds a fragment definition by name in the document
func getFragmentDefinition(document *language.QueryDocument, name string) *language.FragmentDefinition {
	return document.Fragments.ForName(name)
}

func getFieldDefinition(objectType *schema.Type, fieldName string) *schema.Field {
	for _, field := range objectType.Fields {
		if field.Name == fieldName {
			return field
		}
	}
	return nil
}

// mergeSelectionSets merges selection sets from multiple fields
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
