package executor

import "fmt"

// newChildBucket derives the bucket of lp from a completed parent bucket and
// links it under parent. It returns nil when the LayerPlan yields no rows.
func newChildBucket(lp *LayerPlan, parent *Bucket) (*Bucket, error) {
	if lp.Parent != parent.layerPlan {
		return nil, structuralf("%s is not a child of %s", lp, parent.plan.layerPlans[parent.layerPlan])
	}
	child, indexMap, err := lp.Reason.newBucket(lp, parent)
	if err != nil {
		return nil, err
	}
	if child == nil || child.size == 0 {
		return nil, nil
	}
	child.hasErrors = parent.hasErrors
	child.execution = parent.execution
	parent.children[lp.ID] = &BucketChild{Bucket: child, IndexMap: indexMap}
	return child, nil
}

// rowCopier accumulates child rows while copying the LayerPlan's copy
// columns and polymorphic paths from the parent.
type rowCopier struct {
	lp      *LayerPlan
	parent  *Bucket
	src     [][]any
	dst     [][]any
	paths   []string
	sources []int
}

func newRowCopier(lp *LayerPlan, parent *Bucket) (*rowCopier, error) {
	c := &rowCopier{lp: lp, parent: parent}
	c.src = make([][]any, len(lp.CopyStepIDs))
	c.dst = make([][]any, len(lp.CopyStepIDs))
	for i, id := range lp.CopyStepIDs {
		col, err := parent.column(id)
		if err != nil {
			return nil, err
		}
		c.src[i] = col
	}
	return c, nil
}

// add appends one child row sourced from parent row p and returns its index.
func (c *rowCopier) add(p int, path string) int {
	idx := len(c.sources)
	c.sources = append(c.sources, p)
	c.paths = append(c.paths, path)
	for i, col := range c.src {
		c.dst[i] = append(c.dst[i], col[p])
	}
	return idx
}

func (c *rowCopier) bucket() *Bucket {
	b := newBucketFor(c.parent.plan, c.lp.ID, len(c.sources))
	b.polyPaths = c.paths
	for i, id := range c.lp.CopyStepIDs {
		b.setColumn(id, c.dst[i])
	}
	return b
}

// identityBucket builds a 1:1 child that references the parent's columns.
// The parent is complete and never mutated again, so sharing is safe.
func identityBucket(lp *LayerPlan, parent *Bucket) (*Bucket, IndexMap, error) {
	b := newBucketFor(parent.plan, lp.ID, parent.size)
	b.polyPaths = parent.polyPaths
	for _, id := range lp.CopyStepIDs {
		col, err := parent.column(id)
		if err != nil {
			return nil, IndexMap{}, err
		}
		b.setColumn(id, col)
	}
	single := make(map[int]int, parent.size)
	for i := 0; i < parent.size; i++ {
		single[i] = i
	}
	return b, IndexMap{single: single}, nil
}

func (RootReason) newBucket(lp *LayerPlan, _ *Bucket) (*Bucket, IndexMap, error) {
	return nil, IndexMap{}, structuralf("%s cannot be derived from a parent bucket", lp)
}

func (r NullableBoundaryReason) newBucket(lp *LayerPlan, parent *Bucket) (*Bucket, IndexMap, error) {
	root := lp.RootStep
	if !lp.hasRootStep {
		root = r.ParentStep
	}
	values, err := parent.column(root)
	if err != nil {
		return nil, IndexMap{}, err
	}
	c, err := newRowCopier(lp, parent)
	if err != nil {
		return nil, IndexMap{}, err
	}
	single := make(map[int]int)
	for i, v := range values {
		if isNullish(v) || IsErrorValue(v) {
			continue
		}
		single[i] = c.add(i, parent.PolymorphicPath(i))
	}
	b := c.bucket()
	if !b.has(root) {
		col := make([]any, len(c.sources))
		for i, p := range c.sources {
			col[i] = values[p]
		}
		b.setColumn(root, col)
	}
	return b, IndexMap{single: single}, nil
}

func (r ListItemReason) newBucket(lp *LayerPlan, parent *Bucket) (*Bucket, IndexMap, error) {
	if !lp.hasRootStep {
		return nil, IndexMap{}, structuralf("%s has no item step", lp)
	}
	lists, err := parent.column(r.ParentStep)
	if err != nil {
		return nil, IndexMap{}, err
	}
	c, err := newRowCopier(lp, parent)
	if err != nil {
		return nil, IndexMap{}, err
	}
	multi := make(map[int][]int)
	var items []any
	for i, v := range lists {
		if isNullish(v) || IsErrorValue(v) {
			continue
		}
		list, ok := asList(v)
		if !ok || len(list) == 0 {
			continue
		}
		rows := make([]int, len(list))
		path := parent.PolymorphicPath(i)
		for j, item := range list {
			rows[j] = c.add(i, path)
			items = append(items, item)
		}
		multi[i] = rows
	}
	b := c.bucket()
	b.setColumn(lp.RootStep, items)
	return b, IndexMap{multi: multi}, nil
}

func (r PolymorphicReason) newBucket(lp *LayerPlan, parent *Bucket) (*Bucket, IndexMap, error) {
	values, err := parent.column(r.ParentStep)
	if err != nil {
		return nil, IndexMap{}, err
	}
	c, err := newRowCopier(lp, parent)
	if err != nil {
		return nil, IndexMap{}, err
	}
	single := make(map[int]int)
	for i, v := range values {
		if isNullish(v) || IsErrorValue(v) {
			continue
		}
		typeName, ok := ResolveTypeName(v)
		if !ok || !r.matches(typeName) {
			continue
		}
		single[i] = c.add(i, appendPolymorphicPath(parent.PolymorphicPath(i), typeName))
	}
	return c.bucket(), IndexMap{single: single}, nil
}

func (MutationFieldReason) newBucket(lp *LayerPlan, parent *Bucket) (*Bucket, IndexMap, error) {
	return identityBucket(lp, parent)
}

func (DeferReason) newBucket(lp *LayerPlan, parent *Bucket) (*Bucket, IndexMap, error) {
	return identityBucket(lp, parent)
}

func (SubscriptionReason) newBucket(lp *LayerPlan, _ *Bucket) (*Bucket, IndexMap, error) {
	return nil, IndexMap{}, fmt.Errorf("%w: %s", ErrUnsupportedReason, lp)
}

func (SubroutineReason) newBucket(lp *LayerPlan, _ *Bucket) (*Bucket, IndexMap, error) {
	return nil, IndexMap{}, structuralf("%s buckets are built by their list transform step", lp)
}
