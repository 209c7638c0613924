package planner

import (
	"context"
)

// Runtime defines the host integration surface for field resolution, batching,
// abstract type resolution, and leaf-value serialization used by the planner's
// steps.
//
// General contract
//   - Every field of an operation becomes a step of the plan. A step runs once
//     per bucket, i.e. once for all the rows that reach the same position of
//     the response at the same time.
//   - Sync fields call ResolveSync once per live row. Async fields call
//     BatchResolveAsync exactly once per bucket with one task per live row.
//   - Rows whose parent failed or resolved to null never reach the Runtime.
//   - Errors returned from any method are converted into located GraphQL errors.
//     If the field's return type is Non-Null, the null propagates up to the
//     nearest nullable ancestor per GraphQL spec.
//   - Implementations must be concurrency-safe: independent steps of one
//     operation run concurrently.
//   - Implementations must not mutate source or args values.
//
// Object/field identifiers
// - objectType is the GraphQL type name (e.g. "User").
// - field is the GraphQL field name on that type (e.g. "posts").
// - For root fields, objectType is the root type name (e.g. "Query").
// - source is the parent object value (the root value for root fields).
// - args is the map of argument names to already-coerced Go values.
//
// Abstract types and leaf values
//   - ResolveType must return the concrete type name for interface/union values.
//   - SerializeLeafValue must coerce/serialize scalars and enums into JSON-safe
//     Go values (string, float64, int32/int64, bool, []byte as base64 string, etc.).
//     For enums, return the enum name as string.
//
// Partial success and determinism
//   - BatchResolveAsync must return one AsyncResolveResult per task. Each result
//     is independent; failures in one do not affect others.
//   - Results MUST be returned in the same order as the input tasks.
type Runtime interface {
	// ResolveSync resolves a synchronous field value for one source.
	// Return (nil, nil) to produce a GraphQL null for nullable fields.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one bucket of async field tasks. All tasks
	// of one call share ObjectType and Field.
	//
	// Requirements:
	// - Return len(results) == len(tasks).
	// - Results MUST maintain the same order as tasks (results[i] corresponds to tasks[i]).
	// - Return independent errors per element without failing the whole batch.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType determines the concrete runtime type name for a value of an
	// abstract GraphQL type (interface or union).
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// ResolveUnionConcreteValue converts a union envelope value into its concrete
	// representation prior to completion.
	ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error)

	// ResolveInterfaceConcreteValue converts an interface envelope value into its
	// concrete representation prior to completion.
	ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error)

	// SerializeLeafValue serializes a scalar or enum value to a JSON-safe Go
	// value according to the GraphQL schema and custom scalar mappings.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type AsyncResolveTask struct {
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value.
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error contains a failure specific to this element; other elements in the
	// same batch are unaffected.
	Error error
}

// ReferenceLoader is an optional extension of Runtime for runtimes that hand
// out references instead of objects. Every value completed as an object,
// interface or union is offered to ReferenceKey first; values with a key are
// replaced by what LoadReferences returns for it. All keys of one bucket are
// loaded in one call, and loaded values are cached for the rest of the
// request.
type ReferenceLoader interface {
	ReferenceKey(value any) (key string, ok bool)

	// LoadReferences returns one value per key, in order. An error element
	// fails that key only.
	LoadReferences(ctx context.Context, keys []string) ([]any, error)
}
