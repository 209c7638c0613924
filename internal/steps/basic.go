package steps

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	executor "github.com/hanpama/stepgraph/internal/executor"
)

// Constant yields the same value for every row.
type Constant struct {
	Value any
}

func (s *Constant) Dependencies() []executor.StepID { return nil }
func (s *Constant) IsSyncAndSafe() bool             { return true }

func (s *Constant) Execute(_ context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i := range out {
		out[i] = s.Value
	}
	return out, nil
}

func (s *Constant) PeerKey() string { return fmt.Sprintf("constant:%T:%#v", s.Value, s.Value) }

func (s *Constant) Deduplicate([]executor.Step) executor.Step { return s }

func (s *Constant) String() string { return fmt.Sprintf("Constant(%v)", s.Value) }

// Access reads a path of keys out of maps and structs. Missing keys and
// nil parents yield nil.
type Access struct {
	From executor.StepID
	Path []string
}

func (s *Access) Dependencies() []executor.StepID { return []executor.StepID{s.From} }
func (s *Access) IsSyncAndSafe() bool             { return true }

func (s *Access) Execute(_ context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i, v := range d.Values[0] {
		out[i] = access(v, s.Path)
	}
	return out, nil
}

func (s *Access) PeerKey() string { return "access:" + strings.Join(s.Path, ".") }

func (s *Access) Deduplicate([]executor.Step) executor.Step { return s }

func (s *Access) String() string { return "Access(" + strings.Join(s.Path, ".") + ")" }

func access(v any, path []string) any {
	for _, key := range path {
		if v == nil {
			return nil
		}
		switch m := v.(type) {
		case map[string]any:
			v = m[key]
			continue
		}
		rv := reflect.ValueOf(v)
		for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
			if rv.IsNil() {
				return nil
			}
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Map:
			if rv.Type().Key().Kind() != reflect.String {
				return nil
			}
			mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
			if !mv.IsValid() {
				return nil
			}
			v = mv.Interface()
		case reflect.Struct:
			f := rv.FieldByName(key)
			if !f.IsValid() || !f.CanInterface() {
				return nil
			}
			v = f.Interface()
		default:
			return nil
		}
	}
	return v
}

// Lambda applies Fn row by row. It never fails, so it runs on the fast path.
type Lambda struct {
	Deps  []executor.StepID
	Fn    func(args ...any) any
	Label string
}

// NewLambda returns a Lambda over deps.
func NewLambda(label string, fn func(args ...any) any, deps ...executor.StepID) *Lambda {
	return &Lambda{Deps: deps, Fn: fn, Label: label}
}

func (s *Lambda) Dependencies() []executor.StepID { return s.Deps }
func (s *Lambda) IsSyncAndSafe() bool             { return true }

func (s *Lambda) Execute(_ context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i := 0; i < d.Count; i++ {
		out[i] = s.Fn(row(d.Values, i)...)
	}
	return out, nil
}

func (s *Lambda) String() string { return "Lambda(" + s.Label + ")" }

// Fallible applies Fn row by row; a returned error fails that row only.
type Fallible struct {
	Deps  []executor.StepID
	Fn    func(ctx context.Context, args ...any) (any, error)
	Label string
}

func (s *Fallible) Dependencies() []executor.StepID { return s.Deps }
func (s *Fallible) IsSyncAndSafe() bool             { return false }

func (s *Fallible) Execute(ctx context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i := 0; i < d.Count; i++ {
		v, err := s.Fn(ctx, row(d.Values, i)...)
		if err != nil {
			out[i] = err
			continue
		}
		out[i] = v
	}
	return out, nil
}

func (s *Fallible) String() string { return "Fallible(" + s.Label + ")" }

// Batch hands whole dependency columns to Fn at once.
type Batch struct {
	Deps  []executor.StepID
	Fn    func(ctx context.Context, count int, cols [][]any) ([]any, error)
	Label string
}

func (s *Batch) Dependencies() []executor.StepID { return s.Deps }
func (s *Batch) IsSyncAndSafe() bool             { return false }

func (s *Batch) Execute(ctx context.Context, d executor.ExecutionDetails) ([]any, error) {
	return s.Fn(ctx, d.Count, d.Values)
}

func (s *Batch) String() string { return "Batch(" + s.Label + ")" }

// Sideeffect runs Fn once per row for its effect. It is never deduplicated
// and must not be pruned even when nothing reads its result.
type Sideeffect struct {
	Deps  []executor.StepID
	Fn    func(ctx context.Context, args ...any) (any, error)
	Label string
}

func (s *Sideeffect) Dependencies() []executor.StepID { return s.Deps }
func (s *Sideeffect) IsSyncAndSafe() bool             { return false }

func (s *Sideeffect) Execute(ctx context.Context, d executor.ExecutionDetails) ([]any, error) {
	f := Fallible{Deps: s.Deps, Fn: s.Fn}
	return f.Execute(ctx, d)
}

func (s *Sideeffect) String() string { return "Sideeffect(" + s.Label + ")" }

// Object assembles a map from one dependency per key.
type Object struct {
	Keys []string
	Deps []executor.StepID
}

func (s *Object) Dependencies() []executor.StepID { return s.Deps }
func (s *Object) IsSyncAndSafe() bool             { return true }

func (s *Object) Execute(_ context.Context, d executor.ExecutionDetails) ([]any, error) {
	if len(s.Keys) != len(d.Values) {
		return nil, fmt.Errorf("object step has %d keys for %d dependencies", len(s.Keys), len(d.Values))
	}
	out := make([]any, d.Count)
	for i := 0; i < d.Count; i++ {
		m := make(map[string]any, len(s.Keys))
		for j, key := range s.Keys {
			m[key] = d.Values[j][i]
		}
		out[i] = m
	}
	return out, nil
}

func (s *Object) PeerKey() string { return "object:" + strings.Join(s.Keys, ",") }

func (s *Object) Deduplicate([]executor.Step) executor.Step { return s }

// First yields the first element of a list, or nil.
type First struct {
	From executor.StepID
}

func (s *First) Dependencies() []executor.StepID { return []executor.StepID{s.From} }
func (s *First) IsSyncAndSafe() bool             { return true }

func (s *First) Execute(_ context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i, v := range d.Values[0] {
		rv := reflect.ValueOf(v)
		if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Len() == 0 {
			continue
		}
		out[i] = rv.Index(0).Interface()
	}
	return out, nil
}

func (s *First) PeerKey() string { return "first" }

func (s *First) Deduplicate([]executor.Step) executor.Step { return s }

// PolymorphicUnwrap yields the payload of a discriminator value.
type PolymorphicUnwrap struct {
	From executor.StepID
}

func (s *PolymorphicUnwrap) Dependencies() []executor.StepID { return []executor.StepID{s.From} }
func (s *PolymorphicUnwrap) IsSyncAndSafe() bool             { return true }

func (s *PolymorphicUnwrap) Execute(_ context.Context, d executor.ExecutionDetails) ([]any, error) {
	out := make([]any, d.Count)
	for i, v := range d.Values[0] {
		out[i] = executor.PolymorphicValue(v)
	}
	return out, nil
}

func (s *PolymorphicUnwrap) PeerKey() string { return "unwrap" }

func (s *PolymorphicUnwrap) Deduplicate([]executor.Step) executor.Step { return s }

func row(cols [][]any, i int) []any {
	args := make([]any, len(cols))
	for j, col := range cols {
		args[j] = col[i]
	}
	return args
}
