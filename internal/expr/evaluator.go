package expr

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/series"
)

// Evaluator evaluates expressions against Arrow arrays
type Evaluator struct {
	mem               memory.Allocator
	pool              *parallel.WorkerPool
	parallelThreshold int
}

// NewEvaluator creates a new expression evaluator
func NewEvaluator(mem memory.Allocator) *Evaluator {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &Evaluator{mem: mem}
}

// WithPool returns an evaluator that fans window partitions out to pool
// once the input has at least threshold rows.
func (e *Evaluator) WithPool(pool *parallel.WorkerPool, threshold int) *Evaluator {
	clone := *e
	clone.pool = pool
	clone.parallelThreshold = threshold
	return &clone
}

// Allocator returns the allocator results are built with.
func (e *Evaluator) Allocator() memory.Allocator {
	return e.mem
}

// Pool returns the worker pool, nil when evaluation is sequential.
func (e *Evaluator) Pool() *parallel.WorkerPool {
	return e.pool
}

// ParallelThreshold returns the row count from which work is fanned out.
func (e *Evaluator) ParallelThreshold() int {
	return e.parallelThreshold
}

func batchLength(columns map[string]arrow.Array) int {
	for _, arr := range columns {
		return arr.Len()
	}
	return 0
}

// Evaluate evaluates expr against columns and returns a new array holding
// one value per row. The caller owns the result.
func (e *Evaluator) Evaluate(expr Expr, columns map[string]arrow.Array) (arrow.Array, error) {
	return e.evaluate(expr, columns, batchLength(columns))
}

// EvaluateN is Evaluate for a batch whose row count cannot be derived from
// columns, such as a frame without columns.
func (e *Evaluator) EvaluateN(expr Expr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	return e.evaluate(expr, columns, n)
}

// EvaluateBoolean evaluates a predicate and checks that it produced booleans
func (e *Evaluator) EvaluateBoolean(expr Expr, columns map[string]arrow.Array) (*array.Boolean, error) {
	result, err := e.Evaluate(expr, columns)
	if err != nil {
		return nil, err
	}
	if result.DataType().ID() == arrow.NULL {
		n := result.Len()
		result.Release()
		b := array.NewBooleanBuilder(e.mem)
		defer b.Release()
		b.AppendNulls(n)
		return b.NewBooleanArray(), nil
	}
	mask, ok := result.(*array.Boolean)
	if !ok {
		result.Release()
		return nil, dferrors.NewInvalidInputError("Filter",
			fmt.Sprintf("predicate %s must be boolean, got %s", expr, result.DataType()))
	}
	return mask, nil
}

func (e *Evaluator) evaluate(expr Expr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	switch ex := expr.(type) {
	case *ColumnExpr:
		arr, ok := columns[ex.name]
		if !ok {
			return nil, dferrors.NewColumnNotFoundError("Evaluate", ex.name)
		}
		arr.Retain()
		return arr, nil
	case *LiteralExpr:
		return e.evaluateLiteral(ex, n)
	case *BinaryExpr:
		return e.evaluateBinary(ex, columns, n)
	case *FunctionExpr:
		return e.evaluateFunction(ex, columns, n)
	case *CaseExpr:
		return e.evaluateCase(ex, columns, n)
	case *CastExpr:
		inner, err := e.evaluate(ex.expr, columns, n)
		if err != nil {
			return nil, err
		}
		defer inner.Release()
		out, err := series.Cast(inner, ex.dataType, ex.strict, e.mem)
		if err != nil {
			return nil, dferrors.NewInvalidInputError("Cast", err.Error())
		}
		return out, nil
	case *IsInExpr:
		return e.evaluateIsIn(ex, columns, n)
	case *AliasExpr:
		return e.evaluate(ex.expr, columns, n)
	case *WindowExpr:
		return e.evaluateWindow(ex, columns, n)
	case *ParseTimeExpr:
		return e.evaluateParseTime(ex, columns, n)
	case *TimeBucketExpr:
		return e.evaluateTimeBucket(ex, columns, n)
	case *AggregationExpr:
		return nil, dferrors.NewInvalidInputError("Evaluate",
			fmt.Sprintf("aggregation %s is only valid inside a grouping", ex))
	default:
		return nil, dferrors.NewUnsupportedTypeError("Evaluate", "", fmt.Sprintf("%T", expr))
	}
}

func (e *Evaluator) evaluateLiteral(lit *LiteralExpr, n int) (arrow.Array, error) {
	if lit.dataType == nil {
		return array.NewNull(n), nil
	}
	b := array.NewBuilder(e.mem, lit.dataType)
	defer b.Release()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		if err := series.AppendValue(b, lit.value); err != nil {
			return nil, dferrors.NewInvalidInputError("Literal", err.Error())
		}
	}
	return b.NewArray(), nil
}

func (e *Evaluator) evaluateBinary(b *BinaryExpr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	left, err := e.evaluate(b.left, columns, n)
	if err != nil {
		return nil, err
	}
	defer left.Release()

	right, err := e.evaluate(b.right, columns, n)
	if err != nil {
		return nil, err
	}
	defer right.Release()

	left, right, release, err := e.unifyNulls(b.op, left, right)
	if err != nil {
		return nil, err
	}
	defer release()

	switch {
	case b.op.IsArithmetic():
		return e.arithmetic(b.op, left, right)
	case b.op.IsComparison():
		return e.compare(b.op, left, right)
	case b.op.IsLogical():
		return e.logical(b.op, left, right)
	case b.op == OpConcat:
		return e.concat(left, right)
	default:
		return nil, dferrors.NewInvalidInputError("Binary", fmt.Sprintf("unsupported operator %s", b.op))
	}
}

// unifyNulls gives a typeless null operand the type of the other side.
func (e *Evaluator) unifyNulls(op BinaryOp, left, right arrow.Array) (arrow.Array, arrow.Array, func(), error) {
	leftNull, rightNull := series.IsNullType(left.DataType()), series.IsNullType(right.DataType())
	if !leftNull && !rightNull {
		return left, right, func() {}, nil
	}

	var target arrow.DataType
	switch {
	case !leftNull:
		target = left.DataType()
	case !rightNull:
		target = right.DataType()
	case op.IsArithmetic():
		target = arrow.PrimitiveTypes.Int64
	case op == OpConcat:
		target = arrow.BinaryTypes.String
	default:
		target = arrow.FixedWidthTypes.Boolean
	}

	var created []arrow.Array
	recast := func(arr arrow.Array) (arrow.Array, error) {
		if !series.IsNullType(arr.DataType()) {
			return arr, nil
		}
		out, err := series.Cast(arr, target, false, e.mem)
		if err != nil {
			return nil, err
		}
		created = append(created, out)
		return out, nil
	}
	release := func() {
		for _, a := range created {
			a.Release()
		}
	}

	l, err := recast(left)
	if err != nil {
		return nil, nil, release, err
	}
	r, err := recast(right)
	if err != nil {
		return nil, nil, release, err
	}
	return l, r, release, nil
}

func (e *Evaluator) arithmetic(op BinaryOp, left, right arrow.Array) (arrow.Array, error) {
	lt, rt := left.DataType(), right.DataType()
	if !series.IsNumeric(lt) || !series.IsNumeric(rt) {
		return nil, dferrors.NewTypeMismatchError(op.String(), lt.String(), rt.String())
	}

	if series.IsInteger(lt) && series.IsInteger(rt) && op != OpDiv {
		lv, lvalid, err := series.Int64Values(left)
		if err != nil {
			return nil, err
		}
		rv, rvalid, err := series.Int64Values(right)
		if err != nil {
			return nil, err
		}
		b := array.NewInt64Builder(e.mem)
		defer b.Release()
		b.Reserve(len(lv))
		for i := range lv {
			if !lvalid[i] || !rvalid[i] {
				b.AppendNull()
				continue
			}
			v, ok := intArithmetic(op, lv[i], rv[i])
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(v)
		}
		return b.NewArray(), nil
	}

	lv, lvalid, err := series.Float64Values(left)
	if err != nil {
		return nil, err
	}
	rv, rvalid, err := series.Float64Values(right)
	if err != nil {
		return nil, err
	}
	b := array.NewFloat64Builder(e.mem)
	defer b.Release()
	b.Reserve(len(lv))
	for i := range lv {
		if !lvalid[i] || !rvalid[i] {
			b.AppendNull()
			continue
		}
		b.Append(floatArithmetic(op, lv[i], rv[i]))
	}
	return b.NewArray(), nil
}

func intArithmetic(op BinaryOp, l, r int64) (int64, bool) {
	switch op {
	case OpAdd:
		return l + r, true
	case OpSub:
		return l - r, true
	case OpMul:
		return l * r, true
	case OpMod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	}
	return 0, false
}

func floatArithmetic(op BinaryOp, l, r float64) float64 {
	switch op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		return l / r
	default:
		return math.Mod(l, r)
	}
}

// comparator returns a three-way comparison of left[i] and right[i].
func comparator(op string, left, right arrow.Array) (func(i int) int, []bool, []bool, error) {
	lt, rt := left.DataType(), right.DataType()
	switch {
	case series.IsInteger(lt) && series.IsInteger(rt):
		lv, lvalid, _ := series.Int64Values(left)
		rv, rvalid, _ := series.Int64Values(right)
		return func(i int) int { return compareOrdered(lv[i], rv[i]) }, lvalid, rvalid, nil
	case series.IsNumeric(lt) && series.IsNumeric(rt):
		lv, lvalid, _ := series.Float64Values(left)
		rv, rvalid, _ := series.Float64Values(right)
		return func(i int) int { return compareOrdered(lv[i], rv[i]) }, lvalid, rvalid, nil
	case lt.ID() == arrow.STRING && rt.ID() == arrow.STRING:
		lv, lvalid := series.StringValues(left)
		rv, rvalid := series.StringValues(right)
		return func(i int) int { return strings.Compare(lv[i], rv[i]) }, lvalid, rvalid, nil
	case lt.ID() == arrow.BOOL && rt.ID() == arrow.BOOL:
		lv, lvalid, _ := series.BoolValues(left)
		rv, rvalid, _ := series.BoolValues(right)
		return func(i int) int { return compareBool(lv[i], rv[i]) }, lvalid, rvalid, nil
	case series.IsTemporal(lt) && series.IsTemporal(rt):
		lv, lvalid, _ := series.EpochMillis(left)
		rv, rvalid, _ := series.EpochMillis(right)
		return func(i int) int { return compareOrdered(lv[i], rv[i]) }, lvalid, rvalid, nil
	}
	return nil, nil, nil, dferrors.NewTypeMismatchError(op, lt.String(), rt.String())
}

type ordered interface {
	~int64 | ~float64 | ~string
}

func compareOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func (e *Evaluator) compare(op BinaryOp, left, right arrow.Array) (arrow.Array, error) {
	cmp, lvalid, rvalid, err := comparator(op.String(), left, right)
	if err != nil {
		return nil, err
	}

	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	b.Reserve(left.Len())
	for i := 0; i < left.Len(); i++ {
		if !lvalid[i] || !rvalid[i] {
			if op == OpEqMissing {
				b.Append(lvalid[i] == rvalid[i])
			} else {
				b.AppendNull()
			}
			continue
		}
		c := cmp(i)
		var v bool
		switch op {
		case OpEq, OpEqMissing:
			v = c == 0
		case OpNe:
			v = c != 0
		case OpLt:
			v = c < 0
		case OpLe:
			v = c <= 0
		case OpGt:
			v = c > 0
		case OpGe:
			v = c >= 0
		}
		b.Append(v)
	}
	return b.NewArray(), nil
}

func (e *Evaluator) logical(op BinaryOp, left, right arrow.Array) (arrow.Array, error) {
	lv, lvalid, lerr := series.BoolValues(left)
	rv, rvalid, rerr := series.BoolValues(right)
	if lerr != nil || rerr != nil {
		return nil, dferrors.NewTypeMismatchError(op.String(), left.DataType().String(), right.DataType().String())
	}

	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	b.Reserve(len(lv))
	for i := range lv {
		lKnown, rKnown := lvalid[i], rvalid[i]
		if op == OpAnd {
			switch {
			case (lKnown && !lv[i]) || (rKnown && !rv[i]):
				b.Append(false)
			case lKnown && rKnown:
				b.Append(true)
			default:
				b.AppendNull()
			}
			continue
		}
		switch {
		case (lKnown && lv[i]) || (rKnown && rv[i]):
			b.Append(true)
		case lKnown && rKnown:
			b.Append(false)
		default:
			b.AppendNull()
		}
	}
	return b.NewArray(), nil
}

func (e *Evaluator) concat(left, right arrow.Array) (arrow.Array, error) {
	lv, lvalid := series.StringValues(left)
	rv, rvalid := series.StringValues(right)

	b := array.NewStringBuilder(e.mem)
	defer b.Release()
	b.Reserve(len(lv))
	for i := range lv {
		if !lvalid[i] || !rvalid[i] {
			b.AppendNull()
			continue
		}
		b.Append(lv[i] + rv[i])
	}
	return b.NewArray(), nil
}

func (e *Evaluator) evaluateCase(c *CaseExpr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	var owned []arrow.Array
	defer func() {
		for _, a := range owned {
			a.Release()
		}
	}()

	conditions := make([]*array.Boolean, len(c.whens))
	values := make([]arrow.Array, 0, len(c.whens)+1)
	for i, w := range c.whens {
		cond, err := e.evaluate(w.condition, columns, n)
		if err != nil {
			return nil, err
		}
		owned = append(owned, cond)
		switch typed := cond.(type) {
		case *array.Boolean:
			conditions[i] = typed
		case *array.Null:
			conditions[i] = nil
		default:
			return nil, dferrors.NewInvalidInputError("Case",
				fmt.Sprintf("condition %s must be boolean, got %s", w.condition, cond.DataType()))
		}

		val, err := e.evaluate(w.value, columns, n)
		if err != nil {
			return nil, err
		}
		owned = append(owned, val)
		values = append(values, val)
	}

	var fallback arrow.Array
	if c.elseValue != nil {
		val, err := e.evaluate(c.elseValue, columns, n)
		if err != nil {
			return nil, err
		}
		owned = append(owned, val)
		fallback = val
		values = append(values, val)
	}

	types := make([]arrow.DataType, len(values))
	for i, v := range values {
		types[i] = v.DataType()
	}
	target, err := CommonType(types...)
	if err != nil {
		return nil, dferrors.NewInvalidInputError("Case", err.Error())
	}
	if target == nil {
		return array.NewNull(n), nil
	}

	b := array.NewBuilder(e.mem, target)
	defer b.Release()
	b.Reserve(n)
	for row := 0; row < n; row++ {
		var picked arrow.Array = fallback
		for i, cond := range conditions {
			if cond != nil && cond.IsValid(row) && cond.Value(row) {
				picked = values[i]
				break
			}
		}
		var v any
		if picked != nil {
			v = series.ValueAt(picked, row)
		}
		if err := series.AppendValue(b, v); err != nil {
			return nil, dferrors.NewInvalidInputError("Case", err.Error())
		}
	}
	return b.NewArray(), nil
}

type timeKey int64

func memberKey(v any) any {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case time.Time:
		return timeKey(val.UnixMilli())
	}
	return v
}

func (e *Evaluator) evaluateIsIn(in *IsInExpr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	arr, err := e.evaluate(in.expr, columns, n)
	if err != nil {
		return nil, err
	}
	defer arr.Release()

	set := make(map[any]struct{}, len(in.values))
	for _, v := range in.values {
		set[memberKey(v)] = struct{}{}
	}

	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	b.Reserve(arr.Len())
	for i := 0; i < arr.Len(); i++ {
		v := series.ValueAt(arr, i)
		if v == nil {
			b.AppendNull()
			continue
		}
		_, found := set[memberKey(v)]
		b.Append(found != in.negate)
	}
	return b.NewArray(), nil
}
