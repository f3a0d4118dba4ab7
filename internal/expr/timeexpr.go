package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paveg/pipeframe/internal/series"
)

// ParseTimeExpr converts its operand to a millisecond UTC timestamp,
// parsing strings with a TimeParser.
type ParseTimeExpr struct {
	expr   Expr
	parser *TimeParser
}

// ParseTime creates a timestamp conversion. A nil parser reads RFC 3339.
func ParseTime(expr Expr, parser *TimeParser) *ParseTimeExpr {
	return &ParseTimeExpr{expr: expr, parser: parser}
}

func (p *ParseTimeExpr) Type() ExprType {
	return ExprParseTime
}

func (p *ParseTimeExpr) String() string {
	format := defaultTimestampFormat
	if p.parser != nil {
		format = p.parser.format
	}
	return fmt.Sprintf("to_datetime(%s, %q)", p.expr, format)
}

// TimeBucketExpr truncates instants to the start of their bucket
type TimeBucketExpr struct {
	expr   Expr
	every  int64
	unit   TimeUnit
	parser *TimeParser
}

// TimeBucket creates a truncation to multiples of every units. Calendar
// units align in the parser's zone.
func TimeBucket(expr Expr, every int64, unit TimeUnit, parser *TimeParser) *TimeBucketExpr {
	return &TimeBucketExpr{expr: expr, every: every, unit: unit, parser: parser}
}

func (t *TimeBucketExpr) Type() ExprType {
	return ExprTimeBucket
}

func (t *TimeBucketExpr) String() string {
	return fmt.Sprintf("truncate(%s, %d %s)", t.expr, t.every, t.unit)
}

func (t *TimeBucketExpr) Every() int64 {
	return t.every
}

func (t *TimeBucketExpr) Unit() TimeUnit {
	return t.unit
}

func (e *Evaluator) buildTimestamps(ms []int64, valid []bool, transform func(int64) int64) arrow.Array {
	b := array.NewTimestampBuilder(e.mem, series.TimestampType)
	defer b.Release()
	b.Reserve(len(ms))
	for i, v := range ms {
		if !valid[i] {
			b.AppendNull()
			continue
		}
		if transform != nil {
			v = transform(v)
		}
		b.Append(arrow.Timestamp(v))
	}
	return b.NewArray()
}

func (e *Evaluator) evaluateParseTime(p *ParseTimeExpr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	input, err := e.evaluate(p.expr, columns, n)
	if err != nil {
		return nil, err
	}
	defer input.Release()

	if series.IsNullType(input.DataType()) {
		return series.Cast(input, series.TimestampType, false, e.mem)
	}
	ms, valid, err := instants(input, p.parser)
	if err != nil {
		return nil, err
	}
	return e.buildTimestamps(ms, valid, nil), nil
}

func (e *Evaluator) evaluateTimeBucket(t *TimeBucketExpr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	input, err := e.evaluate(t.expr, columns, n)
	if err != nil {
		return nil, err
	}
	defer input.Release()

	if series.IsNullType(input.DataType()) {
		return series.Cast(input, series.TimestampType, false, e.mem)
	}
	ms, valid, err := instants(input, t.parser)
	if err != nil {
		return nil, err
	}
	loc := t.parser.location()
	return e.buildTimestamps(ms, valid, func(v int64) int64 {
		return Truncate(v, t.every, t.unit, loc)
	}), nil
}
