package executor

import (
	"context"
	"log/slog"
	"sync"
)

// StepID identifies a step inside one OperationPlan. Ids are dense and
// assigned once by OperationPlan.AddStep.
type StepID int

// LayerPlanID identifies a LayerPlan inside one OperationPlan.
type LayerPlanID int

// Step is a unit of batched computation.
//
// Execute receives one column per dependency (in Dependencies order), each of
// length details.Count, and must return a column of exactly details.Count
// entries. An entry that is a Go error is a failure of that row only; a
// non-nil returned error fails every row of the step.
//
// The executor never shows a step a failed upstream row: such rows are
// masked out before Execute is called and re-inserted afterwards.
type Step interface {
	Dependencies() []StepID
	Execute(ctx context.Context, details ExecutionDetails) ([]any, error)
	// IsSyncAndSafe reports that Execute does not block and never yields
	// per-row errors. Such steps run inline and their results are stored
	// without inspection while the bucket has no errors.
	IsSyncAndSafe() bool
}

// Deduplicator is implemented by steps that may be collapsed with equivalent
// peers when the plan is finalized. Peers share the LayerPlan, the PeerKey and
// the dependency list.
type Deduplicator interface {
	PeerKey() string
	Deduplicate(peers []Step) Step
}

// Populated marks steps whose column is written by bucket construction
// (list items, subroutine items). They are never executed.
type Populated interface {
	populated()
}

// MetaKeyer lets a step share its Meta side-table with other steps.
// Steps without it get a table of their own.
type MetaKeyer interface {
	MetaKey() string
}

// ExecutionDetails is the input handed to Step.Execute.
type ExecutionDetails struct {
	// Count is the number of rows being executed; it can be smaller than
	// the bucket size when failed rows are masked.
	Count int
	// Values holds one column per dependency.
	Values [][]any
	// Extra is threaded through unchanged for the whole request.
	Extra *ExecutionExtra
}

// ExecutionExtra carries request-scoped collaborators to steps.
type ExecutionExtra struct {
	RequestID int64
	Logger    *slog.Logger
	// Meta is the side-table of the executing step, shared by every bucket
	// of the request.
	Meta *Meta
	// Stopwatch is invoked with each step's id after it settles; telemetry
	// hooks live here.
	Stopwatch func(step StepID)
}

// Meta is a request-scoped key/value side-table owned by one meta key.
// Buckets may execute concurrently, so access is synchronized.
type Meta struct {
	mu     sync.Mutex
	values map[string]any
}

// Load returns the value stored under key.
func (m *Meta) Load(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Store sets the value under key.
func (m *Meta) Store(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = value
}

// LoadOrStore returns the existing value for key, or stores and returns the
// value produced by fn.
func (m *Meta) LoadOrStore(key string, fn func() any) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	if m.values == nil {
		m.values = make(map[string]any)
	}
	v := fn()
	m.values[key] = v
	return v
}

// metaStore hands out one Meta per key for a request.
type metaStore struct {
	mu    sync.Mutex
	byKey map[string]*Meta
}

func (s *metaStore) get(key string) *Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = make(map[string]*Meta)
	}
	m, ok := s.byKey[key]
	if !ok {
		m = &Meta{}
		s.byKey[key] = m
	}
	return m
}

// ItemStep is the populated step at the root of listItem and subroutine
// LayerPlans. Its column holds one list element per row.
type ItemStep struct{}

func (ItemStep) Dependencies() []StepID { return nil }

func (ItemStep) Execute(context.Context, ExecutionDetails) ([]any, error) {
	return nil, structuralf("item steps are populated by bucket construction and cannot execute")
}

func (ItemStep) IsSyncAndSafe() bool { return true }

func (ItemStep) populated() {}
