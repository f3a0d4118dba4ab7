package expr

import (
	"fmt"
	"math"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/series"
	"golang.org/x/exp/constraints"
)

// AggType represents aggregation types
type AggType int

const (
	AggMin AggType = iota
	AggMax
	AggSum
	AggMean
	AggMedian
	AggStd
	AggVar
	AggCount
	AggFirst
	AggLast
	AggNUnique
)

var aggNames = []string{"MIN", "MAX", "SUM", "MEAN", "MEDIAN", "STD", "VAR", "COUNT", "FIRST", "LAST", "NUNIQUE"}

func (a AggType) String() string {
	if int(a) < len(aggNames) {
		return aggNames[a]
	}
	return fmt.Sprintf("AggType(%d)", int(a))
}

// LookupAgg resolves an aggregation name. Names are upper case.
func LookupAgg(name string) (AggType, bool) {
	for i, n := range aggNames {
		if n == name {
			return AggType(i), true
		}
	}
	return 0, false
}

// AggregationExpr reduces the rows of a group to a single value
type AggregationExpr struct {
	column  Expr
	aggType AggType
	ddof    int
	alias   string
}

// NewAggregation creates a reduction of column. ddof is only read by STD
// and VAR.
func NewAggregation(column Expr, aggType AggType, ddof int) *AggregationExpr {
	return &AggregationExpr{column: column, aggType: aggType, ddof: ddof}
}

func (a *AggregationExpr) Type() ExprType {
	return ExprAggregation
}

func (a *AggregationExpr) String() string {
	if a.aggType == AggStd || a.aggType == AggVar {
		return fmt.Sprintf("%s(%s, ddof=%d)", a.aggType, a.column, a.ddof)
	}
	return fmt.Sprintf("%s(%s)", a.aggType, a.column)
}

func (a *AggregationExpr) Column() Expr {
	return a.column
}

func (a *AggregationExpr) AggType() AggType {
	return a.aggType
}

func (a *AggregationExpr) Ddof() int {
	return a.ddof
}

// As sets the output column name
func (a *AggregationExpr) As(alias string) *AggregationExpr {
	a.alias = alias
	return a
}

// OutputName returns the alias, defaulting to "<column>_<FUNCTION>".
func (a *AggregationExpr) OutputName() string {
	if a.alias != "" {
		return a.alias
	}
	return OutputName(a.column) + "_" + a.aggType.String()
}

// Sum creates a sum aggregation
func Sum(column Expr) *AggregationExpr { return NewAggregation(column, AggSum, 0) }

// Count creates a count aggregation
func Count(column Expr) *AggregationExpr { return NewAggregation(column, AggCount, 0) }

// Mean creates a mean aggregation
func Mean(column Expr) *AggregationExpr { return NewAggregation(column, AggMean, 0) }

// Min creates a min aggregation
func Min(column Expr) *AggregationExpr { return NewAggregation(column, AggMin, 0) }

// Max creates a max aggregation
func Max(column Expr) *AggregationExpr { return NewAggregation(column, AggMax, 0) }

// AggResultType returns the type a reduction produces over input.
func AggResultType(aggType AggType, input arrow.DataType) (arrow.DataType, error) {
	if input == nil || series.IsNullType(input) {
		switch aggType {
		case AggSum, AggCount, AggNUnique:
			return arrow.PrimitiveTypes.Int64, nil
		case AggMean, AggMedian, AggStd, AggVar:
			return arrow.PrimitiveTypes.Float64, nil
		}
		return arrow.Null, nil
	}

	numericOrBool := series.IsNumeric(input) || input.ID() == arrow.BOOL
	switch aggType {
	case AggCount, AggNUnique:
		return arrow.PrimitiveTypes.Int64, nil
	case AggFirst, AggLast:
		return input, nil
	case AggSum:
		switch {
		case series.IsFloat(input):
			return arrow.PrimitiveTypes.Float64, nil
		case numericOrBool:
			return arrow.PrimitiveTypes.Int64, nil
		}
	case AggMean, AggMedian, AggStd, AggVar:
		if numericOrBool {
			return arrow.PrimitiveTypes.Float64, nil
		}
	case AggMin, AggMax:
		if numericOrBool || series.IsTemporal(input) || input.ID() == arrow.STRING {
			return input, nil
		}
	}
	return nil, dferrors.NewUnsupportedTypeError(aggType.String(), "", input.String())
}

type valueKind int

const (
	kindNull valueKind = iota
	kindInt
	kindFloat
	kindString
	kindTime
	kindBool
)

// reducer evaluates one aggregation over arbitrary row subsets of a column
type reducer struct {
	agg    *AggregationExpr
	arr    arrow.Array
	kind   valueKind
	ints   []int64
	floats []float64
	strs   []string
	valid  []bool
}

func newReducer(agg *AggregationExpr, arr arrow.Array) (*reducer, error) {
	r := &reducer{agg: agg, arr: arr}
	dt := arr.DataType()
	var err error
	switch {
	case series.IsNullType(dt):
		r.kind = kindNull
		r.valid = make([]bool, arr.Len())
	case series.IsInteger(dt) || dt.ID() == arrow.BOOL:
		r.kind = kindInt
		if dt.ID() == arrow.BOOL {
			r.kind = kindBool
		}
		r.ints, r.valid, err = series.Int64Values(arr)
		if err == nil {
			r.floats, _, err = series.Float64Values(arr)
		}
	case series.IsFloat(dt):
		r.kind = kindFloat
		r.floats, r.valid, err = series.Float64Values(arr)
	case series.IsTemporal(dt):
		r.kind = kindTime
		r.ints, r.valid, err = series.EpochMillis(arr)
	case dt.ID() == arrow.STRING:
		r.kind = kindString
		r.strs, r.valid = series.StringValues(arr)
	default:
		return nil, dferrors.NewUnsupportedTypeError(agg.aggType.String(), "", dt.String())
	}
	return r, err
}

func (r *reducer) reduce(rows []int) any {
	switch r.agg.aggType {
	case AggCount:
		var n int64
		for _, row := range rows {
			if r.valid[row] {
				n++
			}
		}
		return n
	case AggNUnique:
		seen := make(map[any]struct{})
		for _, row := range rows {
			seen[memberKey(series.ValueAt(r.arr, row))] = struct{}{}
		}
		return int64(len(seen))
	case AggFirst:
		if len(rows) == 0 {
			return nil
		}
		return series.ValueAt(r.arr, rows[0])
	case AggLast:
		if len(rows) == 0 {
			return nil
		}
		return series.ValueAt(r.arr, rows[len(rows)-1])
	case AggSum:
		switch r.kind {
		case kindFloat:
			var sum float64
			for _, row := range rows {
				if r.valid[row] {
					sum += r.floats[row]
				}
			}
			return sum
		case kindInt, kindBool:
			var sum int64
			for _, row := range rows {
				if r.valid[row] {
					sum += r.ints[row]
				}
			}
			return sum
		}
		return int64(0)
	case AggMean, AggMedian, AggStd, AggVar:
		return r.moment(rows)
	case AggMin, AggMax:
		return r.extreme(rows, r.agg.aggType == AggMax)
	}
	return nil
}

func (r *reducer) present(rows []int) []float64 {
	values := make([]float64, 0, len(rows))
	if r.floats == nil {
		return values
	}
	for _, row := range rows {
		if r.valid[row] {
			values = append(values, r.floats[row])
		}
	}
	return values
}

func (r *reducer) moment(rows []int) any {
	values := r.present(rows)
	if len(values) == 0 {
		return nil
	}
	switch r.agg.aggType {
	case AggMean:
		return mean(values)
	case AggMedian:
		sort.Float64s(values)
		mid := len(values) / 2
		if len(values)%2 == 1 {
			return values[mid]
		}
		return (values[mid-1] + values[mid]) / 2
	}

	if len(values)-r.agg.ddof <= 0 {
		return nil
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	variance := ss / float64(len(values)-r.agg.ddof)
	if r.agg.aggType == AggStd {
		return math.Sqrt(variance)
	}
	return variance
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func (r *reducer) extreme(rows []int, max bool) any {
	switch r.kind {
	case kindInt:
		if v, ok := extremeOf(r.ints, r.valid, rows, max); ok {
			return v
		}
	case kindBool:
		if v, ok := extremeOf(r.ints, r.valid, rows, max); ok {
			return v == 1
		}
	case kindFloat:
		if v, ok := extremeOf(r.floats, r.valid, rows, max); ok {
			return v
		}
	case kindString:
		if v, ok := extremeOf(r.strs, r.valid, rows, max); ok {
			return v
		}
	case kindTime:
		if v, ok := extremeOf(r.ints, r.valid, rows, max); ok {
			return series.ValueAt(r.arr, r.rowOf(rows, v))
		}
	}
	return nil
}

// rowOf returns the first row of rows whose millisecond value is ms.
func (r *reducer) rowOf(rows []int, ms int64) int {
	for _, row := range rows {
		if r.valid[row] && r.ints[row] == ms {
			return row
		}
	}
	return rows[0]
}

func extremeOf[T constraints.Ordered](values []T, valid []bool, rows []int, max bool) (T, bool) {
	var best T
	found := false
	for _, row := range rows {
		if !valid[row] {
			continue
		}
		v := values[row]
		if !found || (max && v > best) || (!max && v < best) {
			best = v
			found = true
		}
	}
	return best, found
}

// Aggregate evaluates agg once per group of row indices into columns and
// returns one value per group.
func (e *Evaluator) Aggregate(agg *AggregationExpr, columns map[string]arrow.Array, groups [][]int) (arrow.Array, error) {
	input, err := e.evaluate(agg.column, columns, batchLength(columns))
	if err != nil {
		return nil, err
	}
	defer input.Release()

	outType, err := AggResultType(agg.aggType, input.DataType())
	if err != nil {
		return nil, err
	}
	r, err := newReducer(agg, input)
	if err != nil {
		return nil, err
	}

	b := array.NewBuilder(e.mem, outType)
	defer b.Release()
	b.Reserve(len(groups))
	for _, rows := range groups {
		if err := series.AppendValue(b, r.reduce(rows)); err != nil {
			return nil, dferrors.NewInternalError(agg.aggType.String(), err)
		}
	}
	return b.NewArray(), nil
}
