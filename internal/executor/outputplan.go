package executor

import (
	"context"
	"sort"
)

// NoStep marks an OutputPlan without a root step.
const NoStep StepID = -1

// OutputMode selects how an OutputPlan shapes its value.
type OutputMode int

const (
	OutputLeaf OutputMode = iota
	OutputObject
	OutputList
	OutputPolymorphic
	OutputTypename
)

func (m OutputMode) String() string {
	switch m {
	case OutputLeaf:
		return "leaf"
	case OutputObject:
		return "object"
	case OutputList:
		return "list"
	case OutputPolymorphic:
		return "polymorphic"
	case OutputTypename:
		return "typename"
	}
	return "unknown"
}

// OutputPlan describes how one response position is assembled from buckets.
type OutputPlan struct {
	Mode OutputMode
	// LayerPlan is the scope whose buckets hold RootStep. It is the scope
	// of the enclosing plan or one of its 1:1 descendants.
	LayerPlan LayerPlanID
	RootStep  StepID
	NonNull   bool

	// TypeName is the concrete type of an object, or the constant emitted
	// by a typename plan.
	TypeName string
	// Serialize converts a leaf value to its JSON-safe form.
	Serialize func(ctx context.Context, v any) (any, error)

	Fields []OutputField

	// ItemLayerPlan is the listItem child of LayerPlan holding the elements.
	ItemLayerPlan LayerPlanID
	Item          *OutputPlan

	// AbstractType names the interface or union of a polymorphic position.
	AbstractType string
	Branches     map[string]*OutputPlan
}

// OutputField is one response key of an object.
type OutputField struct {
	Key  string
	Plan *OutputPlan
}

// finalize checks the tree against the plan and adds the copies its reads need.
func (o *OutputPlan) finalize(p *OperationPlan) {
	root := p.RootLayerPlan().ID
	if o.LayerPlan != root {
		p.fail(structuralf("root output plan must read from %s", p.RootLayerPlan()))
		return
	}
	o.check(p, root, "output")
}

func (o *OutputPlan) check(p *OperationPlan, scope LayerPlanID, where string) {
	lp := p.LayerPlan(o.LayerPlan)
	if lp == nil {
		p.fail(structuralf("%s: unknown layer plan %d", where, o.LayerPlan))
		return
	}
	if !p.isAncestor(scope, o.LayerPlan) {
		p.fail(structuralf("%s: %s is not below %s", where, lp, p.layerPlans[scope]))
		return
	}
	for cur := o.LayerPlan; cur != scope; cur = p.layerPlans[cur].Parent {
		if _, ok := p.layerPlans[cur].Reason.(ListItemReason); ok {
			p.fail(structuralf("%s: %s crosses a list boundary", where, lp))
			return
		}
	}
	if o.RootStep != NoStep {
		p.require(o.LayerPlan, o.RootStep, where)
		o.RootStep = p.Canonical(o.RootStep)
	}

	switch o.Mode {
	case OutputLeaf, OutputTypename:
	case OutputObject:
		for _, f := range o.Fields {
			if f.Plan == nil {
				p.fail(structuralf("%s.%s: missing output plan", where, f.Key))
				continue
			}
			f.Plan.check(p, o.LayerPlan, where+"."+f.Key)
		}
	case OutputList:
		item := p.LayerPlan(o.ItemLayerPlan)
		if o.RootStep == NoStep || item == nil || item.Parent != o.LayerPlan {
			p.fail(structuralf("%s: list needs a root step and a listItem child of %s", where, lp))
			return
		}
		if _, ok := item.Reason.(ListItemReason); !ok {
			p.fail(structuralf("%s: %s is not a listItem layer plan", where, item))
			return
		}
		if o.Item == nil {
			p.fail(structuralf("%s: list without item plan", where))
			return
		}
		o.Item.check(p, o.ItemLayerPlan, where+"[]")
	case OutputPolymorphic:
		if o.RootStep == NoStep {
			p.fail(structuralf("%s: polymorphic output needs a discriminator step", where))
			return
		}
		names := make([]string, 0, len(o.Branches))
		for name := range o.Branches {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			o.Branches[name].check(p, o.LayerPlan, where+"<"+name+">")
		}
	default:
		p.fail(structuralf("%s: unknown output mode %d", where, o.Mode))
	}
}
