package dataframe

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/series"
)

// GroupBy represents rows of a DataFrame partitioned by key columns
type GroupBy struct {
	df     *DataFrame
	keys   []string
	groups [][]int
}

// GroupBy partitions df by equal values of keys. Groups keep the order in
// which their key first appears and null keys form their own group. With no
// keys every row belongs to a single group.
func (df *DataFrame) GroupBy(keys ...string) (*GroupBy, error) {
	cols := make([]arrow.Array, len(keys))
	for i, name := range keys {
		s, ok := df.columns[name]
		if !ok {
			return nil, dferrors.NewColumnNotFoundError("GroupBy", name)
		}
		arr := s.Array()
		arr.Release()
		cols[i] = arr
	}

	var groups [][]int
	if len(keys) == 0 {
		all := make([]int, df.Len())
		for i := range all {
			all[i] = i
		}
		groups = [][]int{all}
	} else {
		groups = series.GroupRows(cols, df.Len())
	}
	return &GroupBy{df: df, keys: keys, groups: groups}, nil
}

// Groups returns the row indices of each group
func (gb *GroupBy) Groups() [][]int {
	return gb.groups
}

// Keys returns the key column names
func (gb *GroupBy) Keys() []string {
	return gb.keys
}

// firstRows returns the first row index of every group
func (gb *GroupBy) firstRows() []int {
	first := make([]int, len(gb.groups))
	for i, rows := range gb.groups {
		if len(rows) == 0 {
			first[i] = -1
			continue
		}
		first[i] = rows[0]
	}
	return first
}

// Agg reduces every group with aggs. The result holds the key columns
// followed by one column per aggregation, named by its output name. Above
// the evaluator's parallel threshold the aggregations run concurrently.
func (gb *GroupBy) Agg(eval *expr.Evaluator, aggs ...*expr.AggregationExpr) (*DataFrame, error) {
	names := make(map[string]bool, len(gb.keys)+len(aggs))
	for _, k := range gb.keys {
		names[k] = true
	}
	for _, agg := range aggs {
		if names[agg.OutputName()] {
			return nil, fmt.Errorf("aggregation output %q: %w", agg.OutputName(), dferrors.ErrDuplicateColumn)
		}
		names[agg.OutputName()] = true
	}

	keyFrame, err := gb.df.Select(gb.keys...)
	if err != nil {
		return nil, err
	}
	defer keyFrame.Release()
	out, err := keyFrame.Take(gb.firstRows())
	if err != nil {
		return nil, err
	}

	columns := gb.df.arrays()
	reduce := func(_ int, agg *expr.AggregationExpr) (arrow.Array, error) {
		return eval.Aggregate(agg, columns, gb.groups)
	}

	var results []arrow.Array
	if pool := eval.Pool(); pool.ShouldParallelize(gb.df.Len(), eval.ParallelThreshold()) && len(aggs) > 1 {
		results, err = parallel.TryProcessIndexed(pool, aggs, reduce)
	} else {
		results = make([]arrow.Array, len(aggs))
		for i, agg := range aggs {
			if results[i], err = reduce(i, agg); err != nil {
				break
			}
		}
	}
	if err != nil {
		for _, arr := range results {
			if arr != nil {
				arr.Release()
			}
		}
		out.Release()
		return nil, err
	}

	cols := make([]ISeries, 0, out.Width()+len(aggs))
	for _, name := range out.order {
		cols = append(cols, out.share(name))
	}
	out.Release()
	for i, agg := range aggs {
		cols = append(cols, series.FromArray(agg.OutputName(), results[i]))
	}
	return gb.df.derive(cols), nil
}
