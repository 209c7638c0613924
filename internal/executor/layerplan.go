package executor

import "fmt"

// ReasonKind names why a LayerPlan exists.
type ReasonKind string

const (
	ReasonRoot             ReasonKind = "root"
	ReasonNullableBoundary ReasonKind = "nullableBoundary"
	ReasonListItem         ReasonKind = "listItem"
	ReasonPolymorphic      ReasonKind = "polymorphic"
	ReasonMutationField    ReasonKind = "mutationField"
	ReasonDefer            ReasonKind = "defer"
	ReasonSubscription     ReasonKind = "subscription"
	ReasonSubroutine       ReasonKind = "subroutine"
)

// Reason describes how rows move from a parent bucket into a child bucket.
//
// The set of reasons is closed: every variant must build its own buckets, so
// a new variant without a bucket builder does not compile.
type Reason interface {
	Kind() ReasonKind
	// IsBranching reports whether sibling LayerPlans of this reason split the
	// parent's rows between them.
	IsBranching() bool
	// IsDeferred reports whether the scope runs at a distinct point in time
	// rather than alongside its siblings.
	IsDeferred() bool

	newBucket(lp *LayerPlan, parent *Bucket) (*Bucket, IndexMap, error)
	parentStep() (StepID, bool)
}

// RootReason is the reason of the single root LayerPlan.
type RootReason struct{}

func (RootReason) Kind() ReasonKind           { return ReasonRoot }
func (RootReason) IsBranching() bool          { return false }
func (RootReason) IsDeferred() bool           { return false }
func (RootReason) parentStep() (StepID, bool) { return 0, false }

// NullableBoundaryReason drops parent rows whose root step value is null.
type NullableBoundaryReason struct {
	ParentStep StepID
}

func (NullableBoundaryReason) Kind() ReasonKind             { return ReasonNullableBoundary }
func (NullableBoundaryReason) IsBranching() bool            { return false }
func (NullableBoundaryReason) IsDeferred() bool             { return false }
func (r NullableBoundaryReason) parentStep() (StepID, bool) { return r.ParentStep, true }

// ListItemReason expands each parent row into one row per list element.
type ListItemReason struct {
	ParentStep StepID
	// InitialCount is the @stream cutoff; it is recorded but every item is
	// delivered in the initial payload.
	InitialCount *int
}

func (ListItemReason) Kind() ReasonKind             { return ReasonListItem }
func (ListItemReason) IsBranching() bool            { return false }
func (ListItemReason) IsDeferred() bool             { return false }
func (r ListItemReason) parentStep() (StepID, bool) { return r.ParentStep, true }

// PolymorphicReason keeps parent rows whose discriminator resolves to one of
// TypeNames.
type PolymorphicReason struct {
	ParentStep StepID
	TypeNames  []string
}

func (PolymorphicReason) Kind() ReasonKind             { return ReasonPolymorphic }
func (PolymorphicReason) IsBranching() bool            { return true }
func (PolymorphicReason) IsDeferred() bool             { return false }
func (r PolymorphicReason) parentStep() (StepID, bool) { return r.ParentStep, true }

func (r PolymorphicReason) matches(typeName string) bool {
	for _, n := range r.TypeNames {
		if n == typeName {
			return true
		}
	}
	return false
}

// MutationFieldReason scopes one root mutation field. Mutation scopes run one
// at a time in MutationIndex order.
type MutationFieldReason struct {
	MutationIndex int
}

func (MutationFieldReason) Kind() ReasonKind           { return ReasonMutationField }
func (MutationFieldReason) IsBranching() bool          { return false }
func (MutationFieldReason) IsDeferred() bool           { return true }
func (MutationFieldReason) parentStep() (StepID, bool) { return 0, false }

// DeferReason scopes a deferred fragment. Rows pass through 1:1 and the scope
// runs after its non-deferred siblings; results are merged into the single
// response.
type DeferReason struct {
	ParentStep StepID
	Label      string
}

func (DeferReason) Kind() ReasonKind             { return ReasonDefer }
func (DeferReason) IsBranching() bool            { return false }
func (DeferReason) IsDeferred() bool             { return true }
func (r DeferReason) parentStep() (StepID, bool) { return r.ParentStep, true }

// SubscriptionReason scopes one subscription event. Not supported.
type SubscriptionReason struct {
	ParentStep StepID
}

func (SubscriptionReason) Kind() ReasonKind             { return ReasonSubscription }
func (SubscriptionReason) IsBranching() bool            { return false }
func (SubscriptionReason) IsDeferred() bool             { return true }
func (r SubscriptionReason) parentStep() (StepID, bool) { return r.ParentStep, true }

// SubroutineReason scopes the per-item body of a list transform. Its buckets
// are built by the owning ListTransformStep, never by the generic algorithm.
type SubroutineReason struct {
	ParentStep StepID
}

func (SubroutineReason) Kind() ReasonKind           { return ReasonSubroutine }
func (SubroutineReason) IsBranching() bool          { return false }
func (SubroutineReason) IsDeferred() bool           { return false }
func (SubroutineReason) parentStep() (StepID, bool) { return 0, false }

// LayerPlan is one node of the scope tree.
type LayerPlan struct {
	ID       LayerPlanID
	Parent   LayerPlanID // -1 for the root
	Reason   Reason
	RootStep StepID
	// CopyStepIDs lists parent columns carried into this LayerPlan's buckets.
	CopyStepIDs []StepID
	Children    []LayerPlanID

	hasRootStep bool
	// steps lists the canonical steps owned by this LayerPlan in id order.
	steps []StepID
}

// HasRootStep reports whether a root step has been assigned.
func (lp *LayerPlan) HasRootStep() bool { return lp.hasRootStep }

// Steps returns the steps executed in buckets of this LayerPlan.
func (lp *LayerPlan) Steps() []StepID { return lp.steps }

func (lp *LayerPlan) String() string {
	switch r := lp.Reason.(type) {
	case PolymorphicReason:
		return fmt.Sprintf("LayerPlan#%d(%s%v)", lp.ID, r.Kind(), r.TypeNames)
	case DeferReason:
		if r.Label != "" {
			return fmt.Sprintf("LayerPlan#%d(%s %q)", lp.ID, r.Kind(), r.Label)
		}
	case MutationFieldReason:
		return fmt.Sprintf("LayerPlan#%d(%s %d)", lp.ID, r.Kind(), r.MutationIndex)
	}
	return fmt.Sprintf("LayerPlan#%d(%s)", lp.ID, lp.Reason.Kind())
}

func (lp *LayerPlan) addCopy(id StepID) {
	for _, existing := range lp.CopyStepIDs {
		if existing == id {
			return
		}
	}
	lp.CopyStepIDs = append(lp.CopyStepIDs, id)
}
