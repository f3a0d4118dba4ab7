package expr

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/series"
)

// WindowFunc is a function evaluated over the ordered rows of a partition
type WindowFunc int

const (
	WinSum WindowFunc = iota
	WinMin
	WinMax
	WinMean
	WinCount
	WinFirst
	WinLast
	WinCumSum
	WinRank
	WinDenseRank
	WinRowNumber
	WinLag
	WinLead
	WinRollingMean
)

var windowFuncNames = []string{
	"sum", "min", "max", "mean", "count", "first", "last", "cumsum",
	"rank", "denserank", "rownumber", "lag", "lead", "rollingmean",
}

func (f WindowFunc) String() string {
	if int(f) < len(windowFuncNames) {
		return windowFuncNames[f]
	}
	return fmt.Sprintf("WindowFunc(%d)", int(f))
}

// LookupWindowFunc resolves a window function name case-insensitively.
func LookupWindowFunc(name string) (WindowFunc, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for i, n := range windowFuncNames {
		if n == lower {
			return WindowFunc(i), true
		}
	}
	return 0, false
}

var frameAggs = map[WindowFunc]AggType{
	WinSum:         AggSum,
	WinMin:         AggMin,
	WinMax:         AggMax,
	WinMean:        AggMean,
	WinCount:       AggCount,
	WinFirst:       AggFirst,
	WinLast:        AggLast,
	WinRollingMean: AggMean,
}

// IsFrame reports whether f reduces over a frame of rows around each row.
func (f WindowFunc) IsFrame() bool {
	_, ok := frameAggs[f]
	return ok
}

// OrderKey is one sort key of a window
type OrderKey struct {
	column     string
	descending bool
}

// Frame bounds a frame function to the rows around the current one
type Frame struct {
	Preceding int
	Following int
}

// WindowSpec defines the partitioning and ordering of a window
type WindowSpec struct {
	partitionBy []string
	orderBy     []OrderKey
	frame       *Frame
}

// NewWindowSpec creates an empty window specification
func NewWindowSpec() *WindowSpec {
	return &WindowSpec{}
}

// PartitionBy sets the partition columns
func (ws *WindowSpec) PartitionBy(columns ...string) *WindowSpec {
	ws.partitionBy = columns
	return ws
}

// OrderBy appends an ordering key
func (ws *WindowSpec) OrderBy(column string, descending bool) *WindowSpec {
	ws.orderBy = append(ws.orderBy, OrderKey{column: column, descending: descending})
	return ws
}

// Rows bounds frame functions to preceding rows before and following rows
// after the current one.
func (ws *WindowSpec) Rows(preceding, following int) *WindowSpec {
	ws.frame = &Frame{Preceding: preceding, Following: following}
	return ws
}

// Frame returns the frame bounds, nil for the whole partition.
func (ws *WindowSpec) Frame() *Frame {
	return ws.frame
}

func (ws *WindowSpec) String() string {
	var parts []string
	if len(ws.partitionBy) > 0 {
		parts = append(parts, "PARTITION BY "+strings.Join(ws.partitionBy, ", "))
	}
	if len(ws.orderBy) > 0 {
		keys := make([]string, len(ws.orderBy))
		for i, o := range ws.orderBy {
			keys[i] = o.column
			if o.descending {
				keys[i] += " DESC"
			}
		}
		parts = append(parts, "ORDER BY "+strings.Join(keys, ", "))
	}
	if ws.frame != nil {
		parts = append(parts, fmt.Sprintf("ROWS BETWEEN %d PRECEDING AND %d FOLLOWING", ws.frame.Preceding, ws.frame.Following))
	}
	return strings.Join(parts, " ")
}

// WindowExpr evaluates a window function of column over spec
type WindowExpr struct {
	function     WindowFunc
	column       Expr
	spec         *WindowSpec
	offset       int
	defaultValue any
}

// Window creates a window expression
func Window(function WindowFunc, column Expr, spec *WindowSpec) *WindowExpr {
	if spec == nil {
		spec = NewWindowSpec()
	}
	return &WindowExpr{function: function, column: column, spec: spec, offset: 1}
}

// Shift sets the lag/lead offset and the value used where no neighbour exists.
func (w *WindowExpr) Shift(offset int, defaultValue any) *WindowExpr {
	w.offset = offset
	w.defaultValue = defaultValue
	return w
}

func (w *WindowExpr) Type() ExprType {
	return ExprWindow
}

func (w *WindowExpr) String() string {
	return fmt.Sprintf("%s(%s) OVER (%s)", w.function, w.column, w.spec)
}

func (w *WindowExpr) Function() WindowFunc {
	return w.function
}

func (w *WindowExpr) Spec() *WindowSpec {
	return w.spec
}

// WindowResultType returns the type fn produces over a column of input.
func WindowResultType(fn WindowFunc, input arrow.DataType) (arrow.DataType, error) {
	switch fn {
	case WinRank, WinDenseRank, WinRowNumber:
		return arrow.PrimitiveTypes.Int64, nil
	case WinLag, WinLead:
		if input == nil {
			return arrow.Null, nil
		}
		return input, nil
	case WinCumSum:
		return AggResultType(AggSum, input)
	}
	return AggResultType(frameAggs[fn], input)
}

type partitionResult struct {
	rows   []int
	values []any
}

func (e *Evaluator) evaluateWindow(w *WindowExpr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	input, err := e.evaluate(w.column, columns, n)
	if err != nil {
		return nil, err
	}
	defer input.Release()

	outType, err := WindowResultType(w.function, input.DataType())
	if err != nil {
		return nil, err
	}

	partCols := make([]arrow.Array, len(w.spec.partitionBy))
	for i, name := range w.spec.partitionBy {
		arr, ok := columns[name]
		if !ok {
			return nil, dferrors.NewColumnNotFoundError("Window", name)
		}
		partCols[i] = arr
	}
	comparators := make([]series.RowComparator, len(w.spec.orderBy))
	for i, key := range w.spec.orderBy {
		arr, ok := columns[key.column]
		if !ok {
			return nil, dferrors.NewColumnNotFoundError("Window", key.column)
		}
		if comparators[i], err = series.Comparator(arr, key.descending); err != nil {
			return nil, dferrors.NewUnsupportedTypeError("Window", key.column, arr.DataType().String())
		}
	}
	order := series.MultiComparator(comparators...)

	var r *reducer
	if agg, ok := frameAggs[w.function]; ok {
		r, err = newReducer(NewAggregation(w.column, agg, 0), input)
	} else if w.function == WinCumSum {
		r, err = newReducer(NewAggregation(w.column, AggSum, 0), input)
	}
	if err != nil {
		return nil, err
	}

	groups := series.GroupRows(partCols, n)
	evaluate := func(_ int, rows []int) (partitionResult, error) {
		sorted := slices.Clone(rows)
		slices.SortStableFunc(sorted, func(a, b int) int { return order(a, b) })
		return partitionResult{rows: sorted, values: w.evaluatePartition(input, sorted, order, r)}, nil
	}

	var results []partitionResult
	if e.pool.ShouldParallelize(n, e.parallelThreshold) && len(groups) > 1 {
		if results, err = parallel.TryProcessIndexed(e.pool, groups, evaluate); err != nil {
			return nil, err
		}
	} else {
		results = make([]partitionResult, len(groups))
		for i, rows := range groups {
			results[i], _ = evaluate(i, rows)
		}
	}

	out := make([]any, n)
	for _, res := range results {
		for i, row := range res.rows {
			out[row] = res.values[i]
		}
	}

	b := array.NewBuilder(e.mem, outType)
	defer b.Release()
	b.Reserve(n)
	for _, v := range out {
		if err := series.AppendValue(b, v); err != nil {
			return nil, dferrors.NewInvalidInputError("Window", fmt.Sprintf("%s: %v", w.function, err))
		}
	}
	return b.NewArray(), nil
}

// evaluatePartition computes one value per row of sorted, a partition in
// window order.
func (w *WindowExpr) evaluatePartition(input arrow.Array, sorted []int, order series.RowComparator, r *reducer) []any {
	m := len(sorted)
	values := make([]any, m)

	switch w.function {
	case WinRowNumber:
		for i := range sorted {
			values[i] = int64(i + 1)
		}
	case WinRank, WinDenseRank:
		var rank, dense int64
		for i := range sorted {
			if i == 0 || order(sorted[i-1], sorted[i]) != 0 {
				rank = int64(i + 1)
				dense++
			}
			if w.function == WinRank {
				values[i] = rank
			} else {
				values[i] = dense
			}
		}
	case WinLag, WinLead:
		shift := w.offset
		if w.function == WinLead {
			shift = -shift
		}
		for i := range sorted {
			if w.offset >= m {
				values[i] = w.defaultValue
				continue
			}
			src := i - shift
			if src < 0 || src >= m {
				values[i] = w.defaultValue
				continue
			}
			values[i] = series.ValueAt(input, sorted[src])
		}
	case WinCumSum:
		var ints int64
		var floats float64
		for i, row := range sorted {
			if r.valid[row] {
				switch r.kind {
				case kindFloat:
					floats += r.floats[row]
				case kindInt, kindBool:
					ints += r.ints[row]
				}
			}
			if r.kind == kindFloat {
				values[i] = floats
			} else {
				values[i] = ints
			}
		}
	default:
		frame := w.spec.frame
		if frame == nil {
			whole := r.reduce(sorted)
			for i := range values {
				values[i] = whole
			}
			break
		}
		// Bounds saturate at the partition edges without overflowing.
		for i := range sorted {
			lo, hi := 0, m-1
			if frame.Preceding < i {
				lo = i - frame.Preceding
			}
			if frame.Following < m-1-i {
				hi = i + frame.Following
			}
			values[i] = r.reduce(sorted[lo : hi+1])
		}
	}
	return values
}
