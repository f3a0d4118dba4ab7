package compile

import (
	"github.com/apache/arrow-go/v18/arrow"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/pipeline"
	"github.com/paveg/pipeframe/internal/series"
)

// DefaultDdof is the STD and VAR delta degrees of freedom when a
// declaration omits it.
const DefaultDdof = 1

// Aggregate compiles a reduction aliased to its output name.
func (c *Compiler) Aggregate(a pipeline.Aggregate) (*expr.AggregationExpr, error) {
	agg, ok := expr.LookupAgg(a.Function.Name)
	if !ok {
		return nil, dferrors.NewExpressionError(a.Function.Name, "unknown aggregate function")
	}
	if a.Column == "" {
		return nil, dferrors.NewExpressionError(a.Function.Name, "empty column name")
	}
	ddof := DefaultDdof
	if a.Function.Ddof != nil {
		ddof = *a.Function.Ddof
	}
	out := expr.NewAggregation(expr.Col(a.Column), agg, ddof).As(a.OutputName())
	if err := c.check(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregates compiles each aggregate in order.
func (c *Compiler) Aggregates(aggs []pipeline.Aggregate) ([]*expr.AggregationExpr, error) {
	out := make([]*expr.AggregationExpr, len(aggs))
	for i, a := range aggs {
		compiled, err := c.Aggregate(a)
		if err != nil {
			return nil, err
		}
		out[i] = compiled
	}
	return out, nil
}

// BoundsIgnored reports whether w declares bounds its function does not use.
func BoundsIgnored(w pipeline.WindowSpec) bool {
	fn, ok := expr.LookupWindowFunc(w.Function.Type)
	return ok && w.Bounds != nil && !fn.IsFrame()
}

// Window compiles a window column aliased to w.Name.
func (c *Compiler) Window(w pipeline.WindowSpec) (expr.Expr, error) {
	fn, ok := expr.LookupWindowFunc(w.Function.Type)
	if !ok {
		return nil, dferrors.NewExpressionError(w.Function.Type, "unknown window function")
	}
	spec := expr.NewWindowSpec().PartitionBy(w.PartitionBy...)
	for i, col := range w.OrderBy {
		spec.OrderBy(col, w.IsDescending(i))
	}
	if w.Bounds != nil && fn.IsFrame() {
		spec.Rows(w.Bounds.Preceding, w.Bounds.Following)
	}

	win := expr.Window(fn, expr.Col(w.Column), spec)
	if w.Function.IsShift() {
		offset := w.Function.Offset
		if offset <= 0 {
			return nil, dferrors.NewExpressionError(fn.String(), "offset must be positive, got %d", offset)
		}
		var def any
		if w.Function.DefaultValue != nil {
			if w.Function.DefaultValue.Kind.IsList() {
				return nil, dferrors.NewExpressionError(fn.String(), "default_value must be a scalar")
			}
			def = w.Function.DefaultValue.Scalar()
		}
		win.Shift(offset, def)
	}

	out := expr.Alias(win, w.Name)
	if err := c.check(out); err != nil {
		return nil, err
	}
	return out, nil
}

// TimeBucket compiles the bucket column of t and returns its name.
func (c *Compiler) TimeBucket(t pipeline.TimeBucketSpec) (string, expr.Expr, error) {
	if t.Every <= 0 {
		return "", nil, dferrors.NewOperationError(pipeline.TypeGroupByTime, "every must be positive, got %d", t.Every)
	}
	unit, err := expr.ParseTimeUnit(t.Unit)
	if err != nil {
		return "", nil, dferrors.NewOperationError(pipeline.TypeGroupByTime, "%v", err)
	}
	if limit := unit.MaxEvery(); int64(t.Every) > limit {
		return "", nil, dferrors.NewOperationError(pipeline.TypeGroupByTime, "every %d %s exceeds the supported range of %d", t.Every, unit, limit)
	}
	parser, err := expr.NewTimeParser(t.TimestampFormat, t.TimestampTimezone, t.Strict)
	if err != nil {
		return "", nil, dferrors.NewOperationError(pipeline.TypeGroupByTime, "%v", err)
	}

	name := t.BucketColumn()
	out := expr.Alias(expr.TimeBucket(expr.Col(t.TimeColumn), int64(t.Every), unit, parser), name)
	if err := c.check(out); err != nil {
		return "", nil, err
	}
	return name, out, nil
}

// Filter compiles the row predicate of f. A list value turns EQ into a
// membership test and NEQ into non-membership.
func (c *Compiler) Filter(f *pipeline.Filter) (expr.Expr, error) {
	column := expr.Col(f.Column)
	if !f.Condition.NeedsValue() {
		fn := expr.FuncIsNull
		if f.Condition == pipeline.CondIsNotNull {
			fn = expr.FuncIsNotNull
		}
		return expr.Function(fn, []expr.Expr{column}, expr.FuncOptions{}), nil
	}
	if f.Value == nil {
		return nil, dferrors.NewOperationError(pipeline.TypeFilter, "condition %s needs a filter value", f.Condition)
	}

	var out expr.Expr
	if f.Value.Kind.IsList() {
		switch f.Condition {
		case pipeline.CondEq:
			out = expr.IsIn(column, f.Value.Items())
		case pipeline.CondNeq:
			out = expr.NotIn(column, f.Value.Items())
		default:
			return nil, dferrors.NewExpressionError(string(f.Condition), "a list value is only allowed with EQ or NEQ")
		}
		if err := c.checkMembers(f); err != nil {
			return nil, err
		}
		return out, nil
	}

	op, ok := map[pipeline.FilterCondition]expr.BinaryOp{
		pipeline.CondEq:        expr.OpEq,
		pipeline.CondEqMissing: expr.OpEqMissing,
		pipeline.CondNeq:       expr.OpNe,
		pipeline.CondLt:        expr.OpLt,
		pipeline.CondLte:       expr.OpLe,
		pipeline.CondGt:        expr.OpGt,
		pipeline.CondGte:       expr.OpGe,
	}[f.Condition]
	if !ok {
		return nil, dferrors.NewOperationError(pipeline.TypeFilter, "unsupported condition %q", f.Condition)
	}
	value, err := Literal(*f.Value)
	if err != nil {
		return nil, err
	}
	out = expr.Binary(column, op, value)
	if err := c.check(out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkMembers rejects list literals whose element kind cannot match the
// filtered column.
func (c *Compiler) checkMembers(f *pipeline.Filter) error {
	if c.schema == nil {
		return nil
	}
	fields, ok := c.schema.FieldsByName(f.Column)
	if !ok || len(fields) == 0 {
		return nil
	}
	dt := fields[0].Type
	isString := f.Value.Kind == pipeline.LitStringList
	if isString && dt.ID() != arrow.STRING {
		return dferrors.NewExpressionError(string(f.Condition), "cannot test %s column %q against %s", dt, f.Column, f.Value.Kind)
	}
	if !isString && !series.IsNumeric(dt) {
		return dferrors.NewExpressionError(string(f.Condition), "cannot test %s column %q against %s", dt, f.Column, f.Value.Kind)
	}
	return nil
}
