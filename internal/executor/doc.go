// Package executor runs operation plans: a tree of LayerPlans, each owning a
// set of batched steps, evaluated over row-columnar buckets.
//
// # Plans
//
// An OperationPlan is an arena of LayerPlans and steps addressed by integer
// ids. Every LayerPlan has a Reason describing how rows of its parent bucket
// become rows of its own buckets:
//
//   - root: the single top scope, one row per request.
//   - nullableBoundary: parent rows whose value is null (or failed) are dropped.
//   - listItem: each parent row expands to one row per list element.
//   - polymorphic: parent rows are kept only if their discriminator resolves to
//     one of the LayerPlan's type names; siblings split the rows between them.
//   - mutationField: rows pass 1:1; sibling mutation scopes run one at a time
//     in declaration order.
//   - defer: rows pass 1:1; the scope runs after its other siblings and its
//     output is merged into the same response.
//   - subroutine: the per-element body of a ListTransformStep.
//   - subscription: reserved; reaching one is a structural error.
//
// Finalize deduplicates equivalent steps, checks that every dependency lives in
// the consumer's LayerPlan or an ancestor and records which parent columns
// each LayerPlan must copy.
//
// # Buckets and scheduling
//
// A Bucket holds one column per step for every row of one LayerPlan
// instantiation. ExecuteBucket drains the LayerPlan's steps in dependency
// order: steps reporting IsSyncAndSafe run inline, others on their own
// goroutine, and all results are written back by the single drain loop. Rows
// whose inputs failed upstream are masked out before a step runs and their
// error re-inserted afterwards, so a step never sees a failed value.
//
// Once the drain finishes child buckets are derived from the completed store
// and executed: ordinary children concurrently, then mutation fields in order,
// then deferred scopes.
//
// # Errors
//
// A row-level failure (an error element in a step's result) or a step-level
// failure (a returned error or panic) is stored as an error sentinel in the
// column and surfaces as a located GraphQLError. Plan bugs such as a missing
// column or a result of the wrong length wrap ErrStructural and abort the
// request.
//
// # Output
//
// An OutputPlan tree mirrors the response shape. Assembly reads each
// position's root step in the bucket of its LayerPlan, descends into child
// buckets through their index maps and applies GraphQL non-null propagation.
package executor
