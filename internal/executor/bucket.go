package executor

import "fmt"

// IndexMap maps parent bucket rows to child bucket rows. Filtering and 1:1
// reasons map a row to at most one child row; list expansion maps a row to
// the ordered child rows of its elements.
type IndexMap struct {
	single map[int]int
	multi  map[int][]int
}

// Row returns the child row of a parent row for 1:1 and filtering reasons.
func (m IndexMap) Row(parent int) (int, bool) {
	r, ok := m.single[parent]
	return r, ok
}

// Rows returns the child rows of a parent row for expansion reasons.
func (m IndexMap) Rows(parent int) []int { return m.multi[parent] }

// Len returns the number of parent rows with child rows.
func (m IndexMap) Len() int { return len(m.single) + len(m.multi) }

// BucketChild links a child bucket to its parent.
type BucketChild struct {
	Bucket   *Bucket
	IndexMap IndexMap
}

// Bucket is the row-columnar store for one instantiation of a LayerPlan.
//
// Columns are written only by the scheduler during the bucket's execution
// pass; afterwards the bucket is read-only.
type Bucket struct {
	plan      *OperationPlan
	layerPlan LayerPlanID
	size      int
	store     map[StepID][]any
	polyPaths []string
	hasErrors bool
	children  map[LayerPlanID]*BucketChild
	complete  bool
	// execution is shared by every bucket derived from the same request.
	execution *requestState
}

// NewRootBucket creates the root bucket of plan with one row per request
// value in rootValues. The root step column, if any, holds those values.
func NewRootBucket(plan *OperationPlan, rootValues []any) *Bucket {
	root := plan.RootLayerPlan()
	b := newBucketFor(plan, root.ID, len(rootValues))
	b.polyPaths = make([]string, len(rootValues))
	if root.hasRootStep {
		col := make([]any, len(rootValues))
		copy(col, rootValues)
		b.store[plan.Canonical(root.RootStep)] = col
	}
	return b
}

func newBucketFor(plan *OperationPlan, lp LayerPlanID, size int) *Bucket {
	return &Bucket{
		plan:      plan,
		layerPlan: lp,
		size:      size,
		store:     make(map[StepID][]any),
		children:  make(map[LayerPlanID]*BucketChild),
	}
}

// LayerPlan returns the id of the LayerPlan this bucket instantiates.
func (b *Bucket) LayerPlan() LayerPlanID { return b.layerPlan }

// Size returns the number of rows.
func (b *Bucket) Size() int { return b.size }

// HasErrors reports whether any row of any column failed, here or in an
// ancestor bucket.
func (b *Bucket) HasErrors() bool { return b.hasErrors }

// Complete reports whether the bucket's execution pass has finished.
func (b *Bucket) Complete() bool { return b.complete }

// Column returns the per-row values of step, or false if the step never
// produced a column in this bucket.
func (b *Bucket) Column(step StepID) ([]any, bool) {
	col, ok := b.store[b.plan.Canonical(step)]
	return col, ok
}

// PolymorphicPath returns the chain of concrete types resolved for row.
func (b *Bucket) PolymorphicPath(row int) string {
	if row < 0 || row >= len(b.polyPaths) {
		return ""
	}
	return b.polyPaths[row]
}

// Children returns the child buckets keyed by LayerPlan id. LayerPlans that
// produced no rows are absent.
func (b *Bucket) Children() map[LayerPlanID]*BucketChild { return b.children }

// Child returns the child bucket for a LayerPlan.
func (b *Bucket) Child(lp LayerPlanID) (*BucketChild, bool) {
	c, ok := b.children[lp]
	return c, ok
}

func (b *Bucket) column(step StepID) ([]any, error) {
	col, ok := b.Column(step)
	if !ok {
		return nil, fmt.Errorf("%w: step %d in bucket of %s", ErrMissingColumn, b.plan.Canonical(step), b.plan.layerPlans[b.layerPlan])
	}
	return col, nil
}

func (b *Bucket) setColumn(step StepID, col []any) {
	b.store[b.plan.Canonical(step)] = col
}

func (b *Bucket) has(step StepID) bool {
	_, ok := b.store[b.plan.Canonical(step)]
	return ok
}
