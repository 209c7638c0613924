package executor

import (
	"fmt"
	"strings"
)

// PlanLine is one row of a rendered plan tree.
type PlanLine struct {
	Depth int
	// Label is the LayerPlan or step heading.
	Label string
	// Detail holds dependencies, copies and root step annotations.
	Detail string
}

// Describe renders the LayerPlan tree with the steps each scope owns. Call it
// after Finalize so deduplicated steps and copy lists are reflected.
func (p *OperationPlan) Describe() []PlanLine {
	var lines []PlanLine
	var walk func(id LayerPlanID, depth int)
	walk = func(id LayerPlanID, depth int) {
		lp := p.layerPlans[id]
		var detail []string
		if lp.hasRootStep {
			detail = append(detail, fmt.Sprintf("root=%d", lp.RootStep))
		}
		if s, ok := lp.Reason.parentStep(); ok {
			detail = append(detail, fmt.Sprintf("parent=%d", s))
		}
		if r, ok := lp.Reason.(ListItemReason); ok && r.InitialCount != nil {
			detail = append(detail, fmt.Sprintf("initialCount=%d", *r.InitialCount))
		}
		if len(lp.CopyStepIDs) > 0 {
			detail = append(detail, fmt.Sprintf("copy=%v", lp.CopyStepIDs))
		}
		lines = append(lines, PlanLine{Depth: depth, Label: lp.String(), Detail: strings.Join(detail, " ")})
		for _, sid := range lp.steps {
			e := p.entries[sid]
			var sd []string
			if len(e.deps) > 0 {
				sd = append(sd, fmt.Sprintf("deps=%v", e.deps))
			}
			var waits []StepID
			for _, d := range e.schedDeps {
				if !containsStep(e.deps, d) {
					waits = append(waits, d)
				}
			}
			if len(waits) > 0 {
				sd = append(sd, fmt.Sprintf("waits=%v", waits))
			}
			lines = append(lines, PlanLine{Depth: depth + 1, Label: fmt.Sprintf("%d %s", sid, stepName(e.step)), Detail: strings.Join(sd, " ")})
		}
		for _, child := range lp.Children {
			walk(child, depth+1)
		}
	}
	walk(0, 0)
	return lines
}

// String renders Describe as indented text.
func (p *OperationPlan) String() string {
	var b strings.Builder
	for _, l := range p.Describe() {
		b.WriteString(strings.Repeat("  ", l.Depth))
		b.WriteString(l.Label)
		if l.Detail != "" {
			b.WriteString(" ")
			b.WriteString(l.Detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func stepName(s Step) string {
	if st, ok := s.(fmt.Stringer); ok {
		return st.String()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", s), "*")
}

func containsStep(ids []StepID, id StepID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
