// Package memrt implements planner.Runtime over an in-memory dataset loaded
// from YAML.
//
// A dataset names one record per root type and a list of records per object
// type:
//
//	roots:
//	  Query:
//	    books: {$all: Book}
//	    book: {$lookup: Book}
//	  Mutation:
//	    addBook: {$insert: Book}
//	objects:
//	  Book:
//	    - id: "1"
//	      title: Dune
//	      author: {$ref: "Author:1"}
//
// Field values are returned as written, except for directive maps:
//
//	{$ref: "Type:id"}   the record of Type with that id, as a Reference
//	{$all: Type}        every record of Type
//	{$lookup: Type}     the first record of Type whose fields equal the arguments
//	{$insert: Type}     appends the arguments (or their single "input") as a record
//	{$meta: key}        the first value of a forwarded request metadata key
//
// Every record carries __typename, which ResolveType reads. References are
// not resolved by ResolveSync; the planner loads them through
// LoadReferences, once per key per request.
package memrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/grpc/metadata"
	"gopkg.in/yaml.v3"

	ctxlog "github.com/hanpama/stepgraph/internal/ctxlog"
	planner "github.com/hanpama/stepgraph/internal/planner"
)

const typenameKey = "__typename"

// ErrNotFound is returned when a $ref points to a missing record.
var ErrNotFound = errors.New("memrt: record not found")

type dataset struct {
	Roots   map[string]map[string]any   `yaml:"roots"`
	Objects map[string][]map[string]any `yaml:"objects"`
}

// Runtime serves one dataset. It is safe for concurrent use.
type Runtime struct {
	mu      sync.RWMutex
	roots   map[string]map[string]any
	objects map[string][]map[string]any
	byID    map[string]map[string]map[string]any
}

var (
	_ planner.Runtime         = (*Runtime)(nil)
	_ planner.ReferenceLoader = (*Runtime)(nil)
)

// Reference is the unresolved value of a {$ref: "Type:id"} field.
type Reference string

// Load decodes a YAML dataset. Unknown top-level keys are rejected.
func Load(r io.Reader) (*Runtime, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var ds dataset
	if err := dec.Decode(&ds); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("memrt: decode dataset: %w", err)
	}
	rt := &Runtime{
		roots:   ds.Roots,
		objects: make(map[string][]map[string]any, len(ds.Objects)),
		byID:    make(map[string]map[string]map[string]any, len(ds.Objects)),
	}
	if rt.roots == nil {
		rt.roots = map[string]map[string]any{}
	}
	for typ, records := range ds.Objects {
		for i, rec := range records {
			if rec == nil {
				return nil, fmt.Errorf("memrt: %s[%d] is empty", typ, i)
			}
			if err := rt.add(typ, rec); err != nil {
				return nil, err
			}
		}
	}
	return rt, nil
}

// LoadFile reads a YAML dataset from path.
func LoadFile(path string) (*Runtime, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rt, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rt, nil
}

// add registers rec under typ, or leaves rt untouched on error. Callers hold
// mu for writing or own rt.
func (rt *Runtime) add(typ string, rec map[string]any) error {
	if tn, ok := rec[typenameKey]; ok && tn != typ {
		return fmt.Errorf("memrt: record of %s has __typename %v", typ, tn)
	}
	id, hasID := rec["id"]
	key := fmt.Sprint(id)
	if hasID {
		if _, dup := rt.byID[typ][key]; dup {
			return fmt.Errorf("memrt: duplicate %s id %s", typ, key)
		}
	}
	rec[typenameKey] = typ
	rt.objects[typ] = append(rt.objects[typ], rec)
	if hasID {
		ids := rt.byID[typ]
		if ids == nil {
			ids = make(map[string]map[string]any)
			rt.byID[typ] = ids
		}
		ids[key] = rec
	}
	return nil
}

// nextID returns the first free numeric id of typ counting up from the
// number of records plus one.
func (rt *Runtime) nextID(typ string) string {
	for n := len(rt.objects[typ]) + 1; ; n++ {
		id := strconv.Itoa(n)
		if _, taken := rt.byID[typ][id]; !taken {
			return id
		}
	}
}

// Records returns the records of typ in insertion order.
func (rt *Runtime) Records(typ string) []map[string]any {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return append([]map[string]any(nil), rt.objects[typ]...)
}

func (rt *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	var rec map[string]any
	switch s := source.(type) {
	case nil:
		rt.mu.RLock()
		rec = rt.roots[objectType]
		rt.mu.RUnlock()
		if rec == nil {
			return nil, fmt.Errorf("memrt: no root record for %s", objectType)
		}
	case map[string]any:
		rec = s
	default:
		return nil, fmt.Errorf("memrt: cannot resolve %s.%s on %T", objectType, field, source)
	}
	return rt.resolve(ctx, rec[field], args)
}

func (rt *Runtime) BatchResolveAsync(ctx context.Context, tasks []planner.AsyncResolveTask) []planner.AsyncResolveResult {
	results := make([]planner.AsyncResolveResult, len(tasks))
	for i, t := range tasks {
		v, err := rt.ResolveSync(ctx, t.ObjectType, t.Field, t.Source, t.Args)
		results[i] = planner.AsyncResolveResult{Value: v, Error: err}
	}
	return results
}

func (rt *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if m, ok := value.(map[string]any); ok {
		if tn, ok := m[typenameKey].(string); ok {
			return tn, nil
		}
	}
	return "", fmt.Errorf("memrt: value of %s has no __typename", abstractType)
}

func (rt *Runtime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return value, nil
}

func (rt *Runtime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return value, nil
}

// SerializeLeafValue checks built-in scalars and passes custom scalars and
// enums through.
func (rt *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	switch scalarOrEnumTypeName {
	case "Int":
		switch v := value.(type) {
		case int, int32, int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		}
		return nil, fmt.Errorf("Int cannot represent %v", value)
	case "Float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
		return nil, fmt.Errorf("Float cannot represent %v", value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent %v", value)
	case "String", "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case int:
			return strconv.Itoa(v), nil
		case bool, float64:
			if scalarOrEnumTypeName == "String" {
				return fmt.Sprint(v), nil
			}
		}
		return nil, fmt.Errorf("%s cannot represent %v", scalarOrEnumTypeName, value)
	}
	return value, nil
}

func (rt *Runtime) resolve(ctx context.Context, v any, args map[string]any) (any, error) {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := rt.resolve(ctx, item, nil)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		if len(v) != 1 {
			return v, nil
		}
		if ref, ok := v["$ref"].(string); ok {
			if !strings.Contains(ref, ":") {
				return nil, fmt.Errorf("memrt: malformed reference %q", ref)
			}
			return Reference(ref), nil
		}
		if typ, ok := v["$all"].(string); ok {
			return rt.all(typ), nil
		}
		if typ, ok := v["$lookup"].(string); ok {
			return rt.lookup(typ, args), nil
		}
		if typ, ok := v["$insert"].(string); ok {
			return rt.insert(ctx, typ, args)
		}
		if key, ok := v["$meta"].(string); ok {
			md, _ := metadata.FromOutgoingContext(ctx)
			if vals := md.Get(key); len(vals) > 0 {
				return vals[0], nil
			}
			return nil, nil
		}
	}
	return v, nil
}

func (rt *Runtime) ReferenceKey(value any) (string, bool) {
	r, ok := value.(Reference)
	return string(r), ok
}

// LoadReferences resolves "Type:id" keys. A missing record fails its key
// with ErrNotFound.
func (rt *Runtime) LoadReferences(ctx context.Context, keys []string) ([]any, error) {
	out := make([]any, len(keys))
	for i, k := range keys {
		v, err := rt.ref(k)
		if err != nil {
			out[i] = err
			continue
		}
		out[i] = v
	}
	ctxlog.FromContext(ctx).Debug("memrt: loaded references", "keys", len(keys))
	return out, nil
}

func (rt *Runtime) ref(ref string) (any, error) {
	typ, id, ok := strings.Cut(ref, ":")
	if !ok {
		return nil, fmt.Errorf("memrt: malformed reference %q", ref)
	}
	rt.mu.RLock()
	rec := rt.byID[typ][id]
	rt.mu.RUnlock()
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return rec, nil
}

func (rt *Runtime) all(typ string) []any {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]any, len(rt.objects[typ]))
	for i, rec := range rt.objects[typ] {
		out[i] = rec
	}
	return out
}

func (rt *Runtime) lookup(typ string, args map[string]any) any {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, rec := range rt.objects[typ] {
		if matches(rec, args) {
			return rec
		}
	}
	return nil
}

func (rt *Runtime) insert(ctx context.Context, typ string, args map[string]any) (any, error) {
	fields := args
	if in, ok := args["input"].(map[string]any); ok && len(args) == 1 {
		fields = in
	}
	rec := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rec["id"]; !ok {
		rec["id"] = rt.nextID(typ)
	}
	if err := rt.add(typ, rec); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("memrt: inserted record", "type", typ, "id", rec["id"])
	return rec, nil
}

// matches reports whether rec holds every argument. Ids compare as strings.
func matches(rec map[string]any, args map[string]any) bool {
	for k, want := range args {
		got := rec[k]
		if k == "id" {
			if fmt.Sprint(want) != fmt.Sprint(got) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(want, got) {
			return false
		}
	}
	return true
}
