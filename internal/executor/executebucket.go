package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	eventbus "github.com/hanpama/stepgraph/internal/eventbus"
	events "github.com/hanpama/stepgraph/internal/events"
)

// requestState is shared by every bucket of one request.
type requestState struct {
	requestID   int64
	logger      *slog.Logger
	meta        metaStore
	stopwatch   func(StepID)
	concurrency int
}

func (r *requestState) extra(e *stepEntry) *ExecutionExtra {
	return &ExecutionExtra{
		RequestID: r.requestID,
		Logger:    r.logger,
		Meta:      r.meta.get(e.metaKey),
		Stopwatch: r.stopwatch,
	}
}

// ExecuteBucket runs every step of the bucket's LayerPlan, then derives each
// child bucket from the completed store and executes it. Calling it again on
// a completed bucket does nothing.
func ExecuteBucket(ctx context.Context, b *Bucket) error {
	if !b.plan.finalized {
		return structuralf("operation plan is not finalized")
	}
	if b.execution == nil {
		b.execution = &requestState{logger: slog.Default()}
	}
	return executeBucket(ctx, b)
}

func executeBucket(ctx context.Context, b *Bucket) error {
	if b.complete {
		return nil
	}
	start := time.Now()
	lp := b.plan.layerPlans[b.layerPlan]
	err := runSteps(ctx, b)
	eventbus.Publish(ctx, events.BucketExecuted{
		LayerPlan: int(lp.ID),
		Reason:    string(lp.Reason.Kind()),
		Size:      b.size,
		Start:     start,
		Duration:  time.Since(start),
		Err:       err,
	})
	if err != nil {
		return err
	}
	// an empty bucket has no columns to derive children from
	if b.size == 0 {
		b.complete = true
		return nil
	}
	if err := executeChildren(ctx, b); err != nil {
		return err
	}
	b.complete = true
	return nil
}

// executeChildren derives and runs child buckets: ordinary children
// concurrently, then mutation fields one at a time in declaration order,
// then deferred scopes.
func executeChildren(ctx context.Context, b *Bucket) error {
	lp := b.plan.layerPlans[b.layerPlan]
	var ordinary, mutations, deferred []*LayerPlan
	for _, id := range lp.Children {
		child := b.plan.layerPlans[id]
		switch child.Reason.(type) {
		case SubroutineReason:
			continue
		case MutationFieldReason:
			mutations = append(mutations, child)
		default:
			if child.Reason.IsDeferred() {
				deferred = append(deferred, child)
			} else {
				ordinary = append(ordinary, child)
			}
		}
	}
	sort.SliceStable(mutations, func(i, j int) bool {
		return mutations[i].Reason.(MutationFieldReason).MutationIndex < mutations[j].Reason.(MutationFieldReason).MutationIndex
	})

	var buckets []*Bucket
	for _, child := range ordinary {
		cb, err := childBucket(b, child)
		if err != nil {
			return err
		}
		if cb != nil {
			buckets = append(buckets, cb)
		}
	}
	if len(buckets) == 1 {
		if err := executeBucket(ctx, buckets[0]); err != nil {
			return err
		}
	} else if len(buckets) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		if n := b.execution.concurrency; n > 0 {
			g.SetLimit(n)
		}
		for _, cb := range buckets {
			cb := cb
			g.Go(func() error { return executeBucket(gctx, cb) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for _, group := range [][]*LayerPlan{mutations, deferred} {
		for _, child := range group {
			cb, err := childBucket(b, child)
			if err != nil {
				return err
			}
			if cb == nil {
				continue
			}
			if err := executeBucket(ctx, cb); err != nil {
				return err
			}
		}
	}
	return nil
}

// childBucket returns the already linked child bucket or derives it.
func childBucket(b *Bucket, lp *LayerPlan) (*Bucket, error) {
	if c, ok := b.children[lp.ID]; ok {
		return c.Bucket, nil
	}
	return newChildBucket(lp, b)
}

// stepRun is one step invocation prepared by the drain loop.
type stepRun struct {
	id       StepID
	entry    *stepEntry
	details  ExecutionDetails
	rows     []int // bucket rows passed to the step; nil means all rows
	masked   []any // error sentinels for rows excluded from rows
	listExec *listTransformRun
}

type stepOutcome struct {
	run   *stepRun
	col   []any
	err   error
	start time.Time
	dur   time.Duration
}

// drain is the per-bucket scheduler state. Only the goroutine running
// runSteps touches it or the bucket store.
type drain struct {
	ctx        context.Context
	b          *Bucket
	pending    map[StepID]struct{}
	inProgress map[StepID]struct{}
	waiting    map[StepID]int
	ready      []StepID
	outcomes   chan stepOutcome
	running    int
}

func runSteps(ctx context.Context, b *Bucket) error {
	plan := b.plan
	lp := plan.layerPlans[b.layerPlan]
	for _, id := range lp.CopyStepIDs {
		if !b.has(id) {
			return fmt.Errorf("%w: copied step %d in bucket of %s", ErrMissingColumn, id, lp)
		}
	}
	if b.size == 0 {
		return nil
	}
	d := &drain{
		ctx:        ctx,
		b:          b,
		pending:    make(map[StepID]struct{}),
		inProgress: make(map[StepID]struct{}),
		waiting:    make(map[StepID]int),
	}
	for _, id := range lp.steps {
		if b.has(id) {
			continue
		}
		if _, ok := plan.entries[id].step.(Populated); ok {
			return fmt.Errorf("%w: populated step %d in bucket of %s", ErrMissingColumn, id, lp)
		}
		d.pending[id] = struct{}{}
	}
	if len(d.pending) == 0 {
		return nil
	}
	d.outcomes = make(chan stepOutcome, len(d.pending))
	for _, id := range lp.steps {
		if _, ok := d.pending[id]; !ok {
			continue
		}
		n := 0
		for _, dep := range plan.entries[id].schedDeps {
			if b.has(dep) {
				continue
			}
			if de := plan.entry(dep); de == nil || de.layerPlan != lp.ID {
				return fmt.Errorf("%w: dependency %d of step %d in bucket of %s", ErrMissingColumn, dep, id, lp)
			}
			n++
		}
		d.waiting[id] = n
		if n == 0 {
			d.ready = append(d.ready, id)
		}
	}
	b.execution.logger.Debug("executing bucket", "layerPlan", lp.String(), "size", b.size, "steps", len(d.pending))

	for {
		for len(d.ready) > 0 {
			id := d.ready[0]
			d.ready = d.ready[1:]
			if err := d.start(id); err != nil {
				return err
			}
		}
		if d.running == 0 {
			break
		}
		o := <-d.outcomes
		d.running--
		if err := d.complete(o); err != nil {
			return err
		}
	}
	if len(d.pending) > 0 {
		stuck := make([]int, 0, len(d.pending))
		for id := range d.pending {
			stuck = append(stuck, int(id))
		}
		sort.Ints(stuck)
		return structuralf("steps %v in bucket of %s never became ready", stuck, lp)
	}
	return nil
}

// start prepares and launches one ready step. Sync-and-safe steps run inline;
// everything else runs on its own goroutine and reports through outcomes.
func (d *drain) start(id StepID) error {
	if _, busy := d.inProgress[id]; busy {
		return nil
	}
	d.inProgress[id] = struct{}{}
	run, err := d.prepare(id)
	if err != nil {
		return err
	}
	if run.details.Count == 0 {
		// every row failed upstream
		return d.complete(stepOutcome{run: run, col: []any{}})
	}
	if run.listExec == nil && run.entry.step.IsSyncAndSafe() {
		return d.complete(invoke(d.ctx, run))
	}
	d.running++
	go func() { d.outcomes <- invoke(d.ctx, run) }()
	return nil
}

// prepare gathers dependency columns and masks rows that failed upstream.
func (d *drain) prepare(id StepID) (*stepRun, error) {
	b := d.b
	e := b.plan.entries[id]
	cols := make([][]any, len(e.deps))
	for i, dep := range e.deps {
		col, err := b.column(dep)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	run := &stepRun{id: id, entry: e}
	run.details = ExecutionDetails{Count: b.size, Values: cols, Extra: b.execution.extra(e)}
	if b.hasErrors {
		maskErrors(run, b.size)
	}
	if lt, ok := e.step.(*ListTransformStep); ok {
		lr, err := prepareListTransform(b, lt, run)
		if err != nil {
			return nil, err
		}
		run.listExec = lr
	}
	return run, nil
}

func invoke(ctx context.Context, run *stepRun) (o stepOutcome) {
	o.run = run
	o.start = time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.col, o.err = nil, &StepPanicError{Step: run.id, Value: r}
		}
		o.dur = time.Since(o.start)
	}()
	if err := ctx.Err(); err != nil {
		o.err = err
		return o
	}
	if run.listExec != nil {
		o.col, o.err = run.listExec.execute(ctx)
		return o
	}
	o.col, o.err = run.entry.step.Execute(ctx, run.details)
	return o
}

// complete stores a step's column and releases its dependents.
func (d *drain) complete(o stepOutcome) error {
	b := d.b
	run := o.run
	delete(d.pending, run.id)
	delete(d.inProgress, run.id)

	eventbus.Publish(d.ctx, events.StepExecuted{
		Step:      int(run.id),
		LayerPlan: int(b.layerPlan),
		Count:     run.details.Count,
		Start:     o.start,
		Duration:  o.dur,
		Err:       o.err,
	})
	if sw := b.execution.stopwatch; sw != nil {
		sw(run.id)
	}

	switch {
	case o.err != nil:
		b.execution.logger.Debug("step failed", "step", int(run.id), "error", o.err)
		b.setColumn(run.id, failColumn(b.size, o.err, run))
		b.hasErrors = true
	case len(o.col) != run.details.Count:
		return fmt.Errorf("%w: step %d returned %d results for %d rows", ErrSizeMismatch, run.id, len(o.col), run.details.Count)
	case run.rows == nil && run.entry.step.IsSyncAndSafe() && !b.hasErrors:
		b.setColumn(run.id, o.col)
	default:
		col, failed := settle(b.size, o.col, run)
		b.setColumn(run.id, col)
		if failed {
			b.hasErrors = true
		}
	}

	for _, dep := range run.entry.dependents {
		if _, ok := d.pending[dep]; !ok {
			continue
		}
		d.waiting[dep]--
		if d.waiting[dep] == 0 {
			d.ready = append(d.ready, dep)
		}
	}
	return nil
}

// failColumn marks every row of a step failed. Rows masked before execution
// keep their upstream error.
func failColumn(size int, err error, run *stepRun) []any {
	ev := newErrorValue(err)
	col := make([]any, size)
	for i := range col {
		if run.masked != nil && run.masked[i] != nil {
			col[i] = run.masked[i]
			continue
		}
		col[i] = ev
	}
	return col
}

// settle converts per-row errors into sentinels and re-inserts masked rows.
func settle(size int, results []any, run *stepRun) ([]any, bool) {
	failed := false
	col := make([]any, size)
	if run.masked != nil {
		copy(col, run.masked)
		failed = true
	}
	for i, v := range results {
		row := i
		if run.rows != nil {
			row = run.rows[i]
		}
		if err, ok := v.(error); ok && err != nil {
			col[row] = newErrorValue(err)
			failed = true
			continue
		}
		col[row] = v
	}
	return col, failed
}
