package steps

import (
	"context"
	"fmt"

	executor "github.com/hanpama/stepgraph/internal/executor"
)

// Loader fetches the values of keys in one call. The result must align with
// keys; an error element fails that key only.
type Loader func(ctx context.Context, keys []any) ([]any, error)

// Load batches the keys of every row into one Loader call per bucket. Values
// are cached for the rest of the request in the step's Meta table, which Load
// steps naming the same Cache share.
type Load struct {
	Key    executor.StepID
	Loader Loader
	Cache  string
}

func (s *Load) Dependencies() []executor.StepID { return []executor.StepID{s.Key} }
func (s *Load) IsSyncAndSafe() bool             { return false }

func (s *Load) MetaKey() string {
	if s.Cache == "" {
		return ""
	}
	return "load:" + s.Cache
}

func (s *Load) Execute(ctx context.Context, d executor.ExecutionDetails) ([]any, error) {
	var meta *executor.Meta
	if d.Extra != nil {
		meta = d.Extra.Meta
	}
	out := make([]any, d.Count)
	var missing []any
	rowsByKey := make(map[string][]int)
	for i, k := range d.Values[0] {
		if k == nil {
			continue
		}
		ck := cacheKey(k)
		if meta != nil {
			if v, ok := meta.Load(ck); ok {
				out[i] = v
				continue
			}
		}
		if _, seen := rowsByKey[ck]; !seen {
			missing = append(missing, k)
		}
		rowsByKey[ck] = append(rowsByKey[ck], i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	values, err := s.Loader(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(values) != len(missing) {
		return nil, fmt.Errorf("loader returned %d values for %d keys", len(values), len(missing))
	}
	for j, k := range missing {
		ck := cacheKey(k)
		v := values[j]
		if _, failed := v.(error); !failed && meta != nil {
			meta.Store(ck, v)
		}
		for _, row := range rowsByKey[ck] {
			out[row] = v
		}
	}
	return out, nil
}

func (s *Load) String() string {
	if s.Cache != "" {
		return "Load(" + s.Cache + ")"
	}
	return "Load"
}

func cacheKey(k any) string { return fmt.Sprintf("%T:%v", k, k) }
