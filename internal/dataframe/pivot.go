package dataframe

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/series"
)

// PivotOptions describes a pivot: rows grouped by Index, one output column
// per distinct value of Columns for each aggregation in Values.
type PivotOptions struct {
	Index   []string
	Columns string // empty means a plain group and aggregate
	Values  []*expr.AggregationExpr
	// Prefix names spread columns "<output name>_<value>" instead of "<value>"
	Prefix bool
}

// Pivot groups df by the index columns and spreads the distinct values of
// the pivot column, in order of first appearance, into columns holding the
// aggregated values. Index groups without rows for a value hold null.
func (df *DataFrame) Pivot(opts PivotOptions, eval *expr.Evaluator) (*DataFrame, error) {
	if len(opts.Values) == 0 {
		return nil, dferrors.NewInvalidInputError("Pivot", "at least one value aggregation is required")
	}
	gb, err := df.GroupBy(opts.Index...)
	if err != nil {
		return nil, err
	}
	if opts.Columns == "" {
		return gb.Agg(eval, opts.Values...)
	}

	pivotSeries, ok := df.columns[opts.Columns]
	if !ok {
		return nil, dferrors.NewColumnNotFoundError("Pivot", opts.Columns)
	}
	pivotArr := pivotSeries.Array()
	defer pivotArr.Release()

	valueGroups := series.GroupRows([]arrow.Array{pivotArr}, df.Len())
	valueOf := make([]int, df.Len())
	names := make([]string, len(valueGroups))
	for v, rows := range valueGroups {
		for _, row := range rows {
			valueOf[row] = v
		}
		if pivotArr.IsNull(rows[0]) {
			names[v] = "null"
		} else {
			names[v] = series.FormatAt(pivotArr, rows[0])
		}
	}

	// cells[g][v] indexes into cellRows, -1 for an empty cell
	var cellRows [][]int
	cells := make([][]int, len(gb.groups))
	for g, rows := range gb.groups {
		cells[g] = make([]int, len(valueGroups))
		for v := range cells[g] {
			cells[g][v] = -1
		}
		for _, row := range rows {
			v := valueOf[row]
			if cells[g][v] < 0 {
				cells[g][v] = len(cellRows)
				cellRows = append(cellRows, nil)
			}
			cellRows[cells[g][v]] = append(cellRows[cells[g][v]], row)
		}
	}

	keyFrame, err := df.Select(opts.Index...)
	if err != nil {
		return nil, err
	}
	defer keyFrame.Release()
	keys, err := keyFrame.Take(gb.firstRows())
	if err != nil {
		return nil, err
	}
	defer keys.Release()

	cols := make([]ISeries, 0, keys.Width()+len(opts.Values)*len(valueGroups))
	used := make(map[string]bool)
	for _, name := range keys.order {
		cols = append(cols, keys.share(name))
		used[name] = true
	}

	columns := df.arrays()
	for _, agg := range opts.Values {
		reduced, err := eval.Aggregate(agg, columns, cellRows)
		if err != nil {
			releaseAll(cols)
			return nil, err
		}
		for v, value := range names {
			name := value
			if opts.Prefix {
				name = agg.OutputName() + "_" + value
			}
			if used[name] {
				reduced.Release()
				releaseAll(cols)
				return nil, fmt.Errorf("pivot column %q: %w", name, dferrors.ErrDuplicateColumn)
			}
			used[name] = true

			indices := make([]int, len(gb.groups))
			for g := range gb.groups {
				indices[g] = cells[g][v]
			}
			spread, err := series.Take(reduced, indices, df.mem)
			if err != nil {
				reduced.Release()
				releaseAll(cols)
				return nil, dferrors.NewUnsupportedTypeError("Pivot", name, reduced.DataType().String())
			}
			cols = append(cols, series.FromArray(name, spread))
		}
		reduced.Release()
	}
	return df.derive(cols), nil
}
