package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/pipeframe/internal/series"
)

// TypeError reports an expression whose operand types cannot be combined
type TypeError struct {
	Expr    string
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Expr, e.Message)
}

func typeErrorf(e Expr, format string, args ...any) error {
	return &TypeError{Expr: e.String(), Message: fmt.Sprintf(format, args...)}
}

// CommonType returns the type values of types coerce to. Integers and
// floats widen to float64; null adopts the other types. The result is nil
// when every input is null.
func CommonType(types ...arrow.DataType) (arrow.DataType, error) {
	var result arrow.DataType
	for _, dt := range types {
		if dt == nil || series.IsNullType(dt) {
			continue
		}
		switch {
		case result == nil:
			result = dt
		case arrow.TypeEqual(result, dt):
		case series.IsInteger(result) && series.IsInteger(dt):
			result = arrow.PrimitiveTypes.Int64
		case series.IsNumeric(result) && series.IsNumeric(dt):
			result = arrow.PrimitiveTypes.Float64
		case series.IsTemporal(result) && series.IsTemporal(dt):
			result = series.TimestampType
		default:
			return nil, fmt.Errorf("incompatible types %s and %s", result, dt)
		}
	}
	return result, nil
}

// TypeOf infers the type e produces over schema without evaluating it. A
// nil type means unknown: a column missing from schema, or a nil schema.
// Checks that involve an unknown type are left to evaluation.
func TypeOf(e Expr, schema *arrow.Schema) (arrow.DataType, error) {
	switch ex := e.(type) {
	case *ColumnExpr:
		if schema == nil {
			return nil, nil
		}
		fields, ok := schema.FieldsByName(ex.name)
		if !ok || len(fields) == 0 {
			return nil, nil
		}
		return fields[0].Type, nil
	case *LiteralExpr:
		if ex.dataType == nil {
			return arrow.Null, nil
		}
		return ex.dataType, nil
	case *AliasExpr:
		return TypeOf(ex.expr, schema)
	case *BinaryExpr:
		return typeOfBinary(ex, schema)
	case *FunctionExpr:
		return typeOfFunction(ex, schema)
	case *CaseExpr:
		return typeOfCase(ex, schema)
	case *CastExpr:
		if _, err := TypeOf(ex.expr, schema); err != nil {
			return nil, err
		}
		return ex.dataType, nil
	case *IsInExpr:
		if _, err := TypeOf(ex.expr, schema); err != nil {
			return nil, err
		}
		return arrow.FixedWidthTypes.Boolean, nil
	case *AggregationExpr:
		input, err := TypeOf(ex.column, schema)
		if err != nil || input == nil {
			return nil, err
		}
		out, err := AggResultType(ex.aggType, input)
		if err != nil {
			return nil, typeErrorf(ex, "cannot aggregate %s", input)
		}
		return out, nil
	case *WindowExpr:
		input, err := TypeOf(ex.column, schema)
		if err != nil || input == nil {
			return nil, err
		}
		out, err := WindowResultType(ex.function, input)
		if err != nil {
			return nil, typeErrorf(ex, "cannot apply %s to %s", ex.function, input)
		}
		return out, nil
	case *ParseTimeExpr:
		if err := checkTemporalInput(ex, ex.expr, schema); err != nil {
			return nil, err
		}
		return series.TimestampType, nil
	case *TimeBucketExpr:
		if err := checkTemporalInput(ex, ex.expr, schema); err != nil {
			return nil, err
		}
		return series.TimestampType, nil
	}
	return nil, nil
}

func checkTemporalInput(parent, input Expr, schema *arrow.Schema) error {
	dt, err := TypeOf(input, schema)
	if err != nil || dt == nil {
		return err
	}
	if series.IsTemporal(dt) || series.IsNullType(dt) || dt.ID() == arrow.STRING {
		return nil
	}
	return typeErrorf(parent, "expected a timestamp, date or string, got %s", dt)
}

func typeOfBinary(b *BinaryExpr, schema *arrow.Schema) (arrow.DataType, error) {
	lt, err := TypeOf(b.left, schema)
	if err != nil {
		return nil, err
	}
	rt, err := TypeOf(b.right, schema)
	if err != nil {
		return nil, err
	}
	known := lt != nil && rt != nil && !series.IsNullType(lt) && !series.IsNullType(rt)

	switch {
	case b.op.IsArithmetic():
		for _, dt := range []arrow.DataType{lt, rt} {
			if dt != nil && !series.IsNullType(dt) && !series.IsNumeric(dt) {
				return nil, typeErrorf(b, "arithmetic %s requires numeric operands, got %s", b.op, dt)
			}
		}
		switch {
		case b.op == OpDiv:
			return arrow.PrimitiveTypes.Float64, nil
		case lt == nil || rt == nil:
			return nil, nil
		case (series.IsInteger(lt) || series.IsNullType(lt)) && (series.IsInteger(rt) || series.IsNullType(rt)):
			return arrow.PrimitiveTypes.Int64, nil
		}
		return arrow.PrimitiveTypes.Float64, nil
	case b.op.IsComparison():
		if known && !comparableTypes(lt, rt) {
			return nil, typeErrorf(b, "cannot compare %s with %s", lt, rt)
		}
		return arrow.FixedWidthTypes.Boolean, nil
	case b.op.IsLogical():
		for _, dt := range []arrow.DataType{lt, rt} {
			if dt != nil && !series.IsNullType(dt) && dt.ID() != arrow.BOOL {
				return nil, typeErrorf(b, "%s requires boolean operands, got %s", b.op, dt)
			}
		}
		return arrow.FixedWidthTypes.Boolean, nil
	case b.op == OpConcat:
		return arrow.BinaryTypes.String, nil
	}
	return nil, typeErrorf(b, "unsupported operator %s", b.op)
}

func comparableTypes(lt, rt arrow.DataType) bool {
	switch {
	case series.IsNumeric(lt) && series.IsNumeric(rt):
		return true
	case series.IsTemporal(lt) && series.IsTemporal(rt):
		return true
	}
	return lt.ID() == rt.ID() && (lt.ID() == arrow.STRING || lt.ID() == arrow.BOOL)
}

func typeOfCase(c *CaseExpr, schema *arrow.Schema) (arrow.DataType, error) {
	var values []arrow.DataType
	unknown := false
	for _, w := range c.whens {
		ct, err := TypeOf(w.condition, schema)
		if err != nil {
			return nil, err
		}
		if ct != nil && !series.IsNullType(ct) && ct.ID() != arrow.BOOL {
			return nil, typeErrorf(c, "condition %s must be boolean, got %s", w.condition, ct)
		}
		vt, err := TypeOf(w.value, schema)
		if err != nil {
			return nil, err
		}
		unknown = unknown || vt == nil
		values = append(values, vt)
	}
	if c.elseValue != nil {
		vt, err := TypeOf(c.elseValue, schema)
		if err != nil {
			return nil, err
		}
		unknown = unknown || vt == nil
		values = append(values, vt)
	}

	common, err := CommonType(values...)
	if err != nil {
		return nil, typeErrorf(c, "branches have %v", err)
	}
	if unknown {
		return nil, nil
	}
	if common == nil {
		return arrow.Null, nil
	}
	return common, nil
}

func typeOfFunction(f *FunctionExpr, schema *arrow.Schema) (arrow.DataType, error) {
	args := make([]arrow.DataType, len(f.args))
	for i, a := range f.args {
		dt, err := TypeOf(a, schema)
		if err != nil {
			return nil, err
		}
		args[i] = dt
	}
	var input arrow.DataType
	if len(args) > 0 {
		input = args[0]
	}
	known := input != nil && !series.IsNullType(input)

	switch f.fn {
	case FuncConcat:
		return arrow.BinaryTypes.String, nil
	case FuncLower, FuncUpper, FuncTrim, FuncReplace, FuncSubstring, FuncContains, FuncRegexMatch:
		if known && input.ID() != arrow.STRING {
			return nil, typeErrorf(f, "expected a string argument, got %s", input)
		}
		if f.fn == FuncContains || f.fn == FuncRegexMatch {
			return arrow.FixedWidthTypes.Boolean, nil
		}
		return arrow.BinaryTypes.String, nil
	case FuncAbs, FuncRound, FuncFloor, FuncCeil, FuncSqrt:
		if known && !series.IsNumeric(input) {
			return nil, typeErrorf(f, "expected a numeric argument, got %s", input)
		}
		if f.fn == FuncAbs {
			if !known {
				return nil, nil
			}
			if series.IsInteger(input) {
				return arrow.PrimitiveTypes.Int64, nil
			}
		}
		return arrow.PrimitiveTypes.Float64, nil
	case FuncToInt:
		if known && !series.IsNumeric(input) && input.ID() != arrow.STRING && input.ID() != arrow.BOOL {
			return nil, typeErrorf(f, "cannot convert %s to an integer", input)
		}
		dt, err := intType(f.opts.IntSize)
		if err != nil {
			return nil, typeErrorf(f, "unsupported integer size %d", f.opts.IntSize)
		}
		return dt, nil
	case FuncIsNull, FuncIsNotNull:
		return arrow.FixedWidthTypes.Boolean, nil
	}
	if f.fn.IsTemporal() {
		if known && !series.IsTemporal(input) && input.ID() != arrow.STRING {
			return nil, typeErrorf(f, "expected a timestamp, date or string argument, got %s", input)
		}
		return arrow.PrimitiveTypes.Int64, nil
	}
	return nil, typeErrorf(f, "unknown function")
}
