package executor

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type stepEntry struct {
	step      Step
	layerPlan LayerPlanID
	deps      []StepID
	// schedDeps are the dependencies the scheduler waits for: deps plus the
	// columns a list transform's subroutine copies from this LayerPlan.
	schedDeps  []StepID
	dependents []StepID
	metaKey    string
}

// OperationPlan is the arena holding every LayerPlan and step of one
// operation. LayerPlans and steps refer to each other by id only.
//
// Construction errors are collected and reported by Finalize, so callers can
// build the whole tree before checking.
type OperationPlan struct {
	layerPlans []*LayerPlan
	entries    []*stepEntry
	alias      []StepID
	output     *OutputPlan
	buildErrs  []error
	finalized  bool
}

// NewOperationPlan returns a plan holding only the root LayerPlan.
func NewOperationPlan() *OperationPlan {
	p := &OperationPlan{}
	p.layerPlans = append(p.layerPlans, &LayerPlan{ID: 0, Parent: -1, Reason: RootReason{}})
	return p
}

// RootLayerPlan returns the single root LayerPlan.
func (p *OperationPlan) RootLayerPlan() *LayerPlan { return p.layerPlans[0] }

// LayerPlan returns the LayerPlan with the given id, or nil.
func (p *OperationPlan) LayerPlan(id LayerPlanID) *LayerPlan {
	if id < 0 || int(id) >= len(p.layerPlans) {
		return nil
	}
	return p.layerPlans[id]
}

// LayerPlans returns every LayerPlan in id order.
func (p *OperationPlan) LayerPlans() []*LayerPlan { return p.layerPlans }

// NewLayerPlan adds a child scope under parent.
func (p *OperationPlan) NewLayerPlan(parent LayerPlanID, reason Reason) *LayerPlan {
	lp := &LayerPlan{ID: LayerPlanID(len(p.layerPlans)), Parent: parent, Reason: reason}
	p.layerPlans = append(p.layerPlans, lp)
	switch {
	case p.finalized:
		p.fail(structuralf("%s added after finalize", lp))
	case reason == nil:
		p.fail(structuralf("%s has no reason", lp))
	case reason.Kind() == ReasonRoot:
		p.fail(structuralf("%s: only one root layer plan may exist", lp))
	case p.LayerPlan(parent) == nil || parent >= lp.ID:
		p.fail(structuralf("%s: unknown parent layer plan %d", lp, parent))
	default:
		p.layerPlans[parent].Children = append(p.layerPlans[parent].Children, lp.ID)
	}
	return lp
}

// AddStep registers s as owned by the LayerPlan lp and returns its id.
func (p *OperationPlan) AddStep(lp LayerPlanID, s Step) StepID {
	id := StepID(len(p.entries))
	e := &stepEntry{step: s, layerPlan: lp, metaKey: strconv.Itoa(int(id))}
	if mk, ok := s.(MetaKeyer); ok && mk.MetaKey() != "" {
		e.metaKey = mk.MetaKey()
	}
	p.entries = append(p.entries, e)
	p.alias = append(p.alias, id)
	if p.finalized {
		p.fail(structuralf("step %d added after finalize", id))
	}
	if p.LayerPlan(lp) == nil {
		p.fail(structuralf("step %d: unknown layer plan %d", id, lp))
	}
	return id
}

// SetRootStep assigns the step shaping lp's output.
func (p *OperationPlan) SetRootStep(lp LayerPlanID, step StepID) {
	l := p.LayerPlan(lp)
	if l == nil {
		p.fail(structuralf("root step %d: unknown layer plan %d", step, lp))
		return
	}
	l.RootStep = step
	l.hasRootStep = true
}

// SetOutput attaches the root output plan.
func (p *OperationPlan) SetOutput(out *OutputPlan) { p.output = out }

// Output returns the root output plan.
func (p *OperationPlan) Output() *OutputPlan { return p.output }

// Step returns the canonical step behind id.
func (p *OperationPlan) Step(id StepID) Step {
	if e := p.entry(id); e != nil {
		return e.step
	}
	return nil
}

// Canonical resolves id through deduplication aliases.
func (p *OperationPlan) Canonical(id StepID) StepID {
	if id < 0 || int(id) >= len(p.alias) {
		return id
	}
	for p.alias[id] != id {
		id = p.alias[id]
	}
	return id
}

// StepLayerPlan returns the LayerPlan owning the step.
func (p *OperationPlan) StepLayerPlan(id StepID) (LayerPlanID, bool) {
	e := p.entry(id)
	if e == nil {
		return 0, false
	}
	return e.layerPlan, true
}

func (p *OperationPlan) entry(id StepID) *stepEntry {
	id = p.Canonical(id)
	if id < 0 || int(id) >= len(p.entries) {
		return nil
	}
	return p.entries[id]
}

func (p *OperationPlan) fail(err error) { p.buildErrs = append(p.buildErrs, err) }

// isAncestor reports whether anc is lp or one of its ancestors.
func (p *OperationPlan) isAncestor(anc, lp LayerPlanID) bool {
	for cur := lp; cur >= 0; cur = p.layerPlans[cur].Parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// require makes the column of step available in buckets of lp by adding it
// to the copy list of every LayerPlan between the step's owner and lp.
func (p *OperationPlan) require(lp LayerPlanID, step StepID, who string) {
	e := p.entry(step)
	if e == nil {
		p.fail(structuralf("%s depends on unknown step %d", who, step))
		return
	}
	owner := e.layerPlan
	if !p.isAncestor(owner, lp) {
		p.fail(structuralf("%s in %s depends on step %d of %s which is not an ancestor",
			who, p.layerPlans[lp], p.Canonical(step), p.layerPlans[owner]))
		return
	}
	for cur := lp; cur != owner; cur = p.layerPlans[cur].Parent {
		p.layerPlans[cur].addCopy(p.Canonical(step))
	}
}

// Finalize deduplicates steps, validates the graph and computes copy lists
// and scheduling metadata. It is idempotent.
func (p *OperationPlan) Finalize() error {
	if p.finalized {
		return errors.Join(p.buildErrs...)
	}
	if len(p.buildErrs) > 0 {
		return errors.Join(p.buildErrs...)
	}
	p.deduplicate()

	for i, e := range p.entries {
		id := StepID(i)
		if p.Canonical(id) != id {
			continue
		}
		e.deps = p.canonicalDeps(e.step.Dependencies())
		who := fmt.Sprintf("step %d", id)
		for _, dep := range e.deps {
			p.require(e.layerPlan, dep, who)
		}
		p.layerPlans[e.layerPlan].steps = append(p.layerPlans[e.layerPlan].steps, id)
	}

	for _, lp := range p.layerPlans {
		switch r := lp.Reason.(type) {
		case NullableBoundaryReason:
			if !lp.hasRootStep {
				lp.RootStep, lp.hasRootStep = r.ParentStep, true
			}
			p.require(lp.ID, lp.RootStep, lp.String())
		case ListItemReason:
			if !lp.hasRootStep {
				p.fail(structuralf("%s has no item step", lp))
			}
			p.requireParent(lp, r.ParentStep)
		case PolymorphicReason:
			p.requireParent(lp, r.ParentStep)
		case DeferReason:
			p.requireParent(lp, r.ParentStep)
		}
	}

	for i, e := range p.entries {
		id := StepID(i)
		if p.Canonical(id) != id {
			continue
		}
		if lt, ok := e.step.(*ListTransformStep); ok {
			p.finalizeListTransform(id, e, lt)
		}
	}

	if p.output != nil {
		p.output.finalize(p)
	}

	for i, e := range p.entries {
		id := StepID(i)
		if p.Canonical(id) != id {
			continue
		}
		for _, dep := range e.deps {
			e.schedDeps = appendUnique(e.schedDeps, dep)
		}
		for _, dep := range e.schedDeps {
			d := p.entry(dep)
			if d != nil && d.layerPlan == e.layerPlan {
				d.dependents = appendUnique(d.dependents, id)
			}
		}
	}
	for _, lp := range p.layerPlans {
		if err := p.checkAcyclic(lp); err != nil {
			p.fail(err)
		}
	}
	p.finalized = true
	return errors.Join(p.buildErrs...)
}

// requireParent checks that a reason's parent step lives in the parent
// LayerPlan or above, so the parent bucket holds its column.
func (p *OperationPlan) requireParent(lp *LayerPlan, step StepID) {
	p.require(lp.Parent, step, lp.String())
}

func (p *OperationPlan) finalizeListTransform(id StepID, e *stepEntry, lt *ListTransformStep) {
	sub := p.LayerPlan(lt.Subroutine)
	if sub == nil {
		p.fail(structuralf("list transform %d: unknown subroutine layer plan %d", id, lt.Subroutine))
		return
	}
	if _, ok := sub.Reason.(SubroutineReason); !ok || sub.Parent != e.layerPlan {
		p.fail(structuralf("list transform %d: %s must be a subroutine child of %s", id, sub, p.layerPlans[e.layerPlan]))
		return
	}
	if !sub.hasRootStep {
		p.fail(structuralf("list transform %d: %s has no callback step", id, sub))
		return
	}
	if ie := p.entry(lt.ItemStep); ie == nil || ie.layerPlan != sub.ID {
		p.fail(structuralf("list transform %d: item step %d must belong to %s", id, lt.ItemStep, sub))
		return
	}
	p.require(sub.ID, sub.RootStep, sub.String())
	for _, c := range sub.CopyStepIDs {
		if ce := p.entry(c); ce != nil && ce.layerPlan == e.layerPlan {
			e.schedDeps = appendUnique(e.schedDeps, c)
		}
	}
}

func (p *OperationPlan) canonicalDeps(deps []StepID) []StepID {
	out := make([]StepID, len(deps))
	for i, d := range deps {
		out[i] = p.Canonical(d)
	}
	return out
}

// deduplicate collapses Deduplicator peers in id order. Peers share the
// LayerPlan, the PeerKey and the canonical dependency list.
func (p *OperationPlan) deduplicate() {
	winners := make(map[string]StepID)
	peers := make(map[StepID][]Step)
	var order []StepID
	for i, e := range p.entries {
		d, ok := e.step.(Deduplicator)
		if !ok {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d|%s|", e.layerPlan, d.PeerKey())
		for _, dep := range p.canonicalDeps(e.step.Dependencies()) {
			fmt.Fprintf(&b, "%d,", dep)
		}
		key := b.String()
		id := StepID(i)
		winner, seen := winners[key]
		if !seen {
			winners[key] = id
			order = append(order, id)
			peers[id] = []Step{e.step}
			continue
		}
		p.alias[id] = winner
		peers[winner] = append(peers[winner], e.step)
	}
	for _, winner := range order {
		if len(peers[winner]) < 2 {
			continue
		}
		if kept := p.entries[winner].step.(Deduplicator).Deduplicate(peers[winner]); kept != nil {
			p.entries[winner].step = kept
		}
	}
	for _, lp := range p.layerPlans {
		if lp.hasRootStep {
			lp.RootStep = p.Canonical(lp.RootStep)
		}
	}
}

func (p *OperationPlan) checkAcyclic(lp *LayerPlan) error {
	indeg := make(map[StepID]int, len(lp.steps))
	for _, id := range lp.steps {
		indeg[id] = 0
	}
	for _, id := range lp.steps {
		for _, dep := range p.entries[id].schedDeps {
			if _, local := indeg[dep]; local {
				indeg[id]++
			}
		}
	}
	var queue []StepID
	for _, id := range lp.steps {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, dep := range p.entries[id].dependents {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if seen != len(lp.steps) {
		var stuck []int
		for id, n := range indeg {
			if n > 0 {
				stuck = append(stuck, int(id))
			}
		}
		sort.Ints(stuck)
		return structuralf("%s has a dependency cycle among steps %v", lp, stuck)
	}
	return nil
}

func appendUnique(ids []StepID, id StepID) []StepID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
