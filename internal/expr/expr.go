// Package expr provides column expressions and their vectorised evaluation
// over Arrow arrays.
package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/pipeframe/internal/series"
)

// ExprType represents the type of expression
type ExprType int

const (
	ExprColumn ExprType = iota
	ExprLiteral
	ExprBinary
	ExprFunction
	ExprAggregation
	ExprCase
	ExprCast
	ExprIsIn
	ExprAlias
	ExprWindow
	ExprParseTime
	ExprTimeBucket
)

// Expr represents an expression that can be evaluated lazily
type Expr interface {
	Type() ExprType
	String() string
}

// ColumnExpr represents a column reference
type ColumnExpr struct {
	name string
}

func (c *ColumnExpr) Type() ExprType {
	return ExprColumn
}

func (c *ColumnExpr) String() string {
	return fmt.Sprintf("col(%s)", c.name)
}

func (c *ColumnExpr) Name() string {
	return c.name
}

// LiteralExpr represents a constant broadcast to the row count.
// A nil value with a nil data type is a typeless null.
type LiteralExpr struct {
	value    any
	dataType arrow.DataType
}

func (l *LiteralExpr) Type() ExprType {
	return ExprLiteral
}

func (l *LiteralExpr) String() string {
	switch v := l.value.(type) {
	case nil:
		return "lit(null)"
	case string:
		return fmt.Sprintf("lit(%q)", v)
	case time.Time:
		return "lit(" + series.FormatValue(v) + ")"
	default:
		return fmt.Sprintf("lit(%v)", v)
	}
}

func (l *LiteralExpr) Value() any {
	return l.value
}

// DataType returns the literal's type, nil for a typeless null.
func (l *LiteralExpr) DataType() arrow.DataType {
	return l.dataType
}

// BinaryOp represents binary operations
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpConcat
	OpEqMissing
)

var binaryOpSymbols = map[BinaryOp]string{
	OpAdd:       "+",
	OpSub:       "-",
	OpMul:       "*",
	OpDiv:       "/",
	OpMod:       "%",
	OpEq:        "==",
	OpNe:        "!=",
	OpLt:        "<",
	OpLe:        "<=",
	OpGt:        ">",
	OpGe:        ">=",
	OpAnd:       "&&",
	OpOr:        "||",
	OpConcat:    "++",
	OpEqMissing: "<=>",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpSymbols[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// IsArithmetic reports whether op combines numbers into a number.
func (op BinaryOp) IsArithmetic() bool {
	return op >= OpAdd && op <= OpMod
}

// IsComparison reports whether op compares two values into a boolean.
func (op BinaryOp) IsComparison() bool {
	return (op >= OpEq && op <= OpGe) || op == OpEqMissing
}

// IsLogical reports whether op combines booleans.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// BinaryExpr represents a binary operation
type BinaryExpr struct {
	left  Expr
	op    BinaryOp
	right Expr
}

func (b *BinaryExpr) Type() ExprType {
	return ExprBinary
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.left.String(), b.op, b.right.String())
}

func (b *BinaryExpr) Left() Expr {
	return b.left
}

func (b *BinaryExpr) Op() BinaryOp {
	return b.op
}

func (b *BinaryExpr) Right() Expr {
	return b.right
}

// CaseWhen is one branch of a CaseExpr
type CaseWhen struct {
	condition Expr
	value     Expr
}

// CaseExpr picks the value of the first true branch, else the fallback.
type CaseExpr struct {
	whens     []CaseWhen
	elseValue Expr
}

func (c *CaseExpr) Type() ExprType {
	return ExprCase
}

func (c *CaseExpr) String() string {
	parts := []string{"CASE"}
	for _, w := range c.whens {
		parts = append(parts, fmt.Sprintf("WHEN %s THEN %s", w.condition, w.value))
	}
	if c.elseValue != nil {
		parts = append(parts, fmt.Sprintf("ELSE %s", c.elseValue))
	}
	parts = append(parts, "END")
	return strings.Join(parts, " ")
}

func (c *CaseExpr) Whens() []CaseWhen {
	return c.whens
}

func (c *CaseExpr) ElseValue() Expr {
	return c.elseValue
}

// When adds a branch
func (c *CaseExpr) When(condition, value Expr) *CaseExpr {
	c.whens = append(c.whens, CaseWhen{condition: condition, value: value})
	return c
}

// Else sets the fallback value. Without one, unmatched rows are null.
func (c *CaseExpr) Else(value Expr) *CaseExpr {
	c.elseValue = value
	return c
}

// CastExpr converts its operand to a target type
type CastExpr struct {
	expr     Expr
	dataType arrow.DataType
	strict   bool
}

func (c *CastExpr) Type() ExprType {
	return ExprCast
}

func (c *CastExpr) String() string {
	return fmt.Sprintf("cast(%s as %s)", c.expr, c.dataType)
}

// IsInExpr tests membership of each row in a constant list
type IsInExpr struct {
	expr   Expr
	values []any
	negate bool
}

func (i *IsInExpr) Type() ExprType {
	return ExprIsIn
}

func (i *IsInExpr) String() string {
	items := make([]string, len(i.values))
	for idx, v := range i.values {
		items[idx] = series.FormatValue(v)
	}
	op := "in"
	if i.negate {
		op = "not in"
	}
	return fmt.Sprintf("(%s %s [%s])", i.expr, op, strings.Join(items, ", "))
}

// AliasExpr names the column an expression produces
type AliasExpr struct {
	expr Expr
	name string
}

func (a *AliasExpr) Type() ExprType {
	return ExprAlias
}

func (a *AliasExpr) String() string {
	return fmt.Sprintf("%s AS %s", a.expr, a.name)
}

func (a *AliasExpr) Expr() Expr {
	return a.expr
}

func (a *AliasExpr) Name() string {
	return a.name
}

// Col creates a column reference
func Col(name string) *ColumnExpr {
	return &ColumnExpr{name: name}
}

// Lit creates a literal. Go integers become int64, floats float64 and
// time.Time a millisecond timestamp.
func Lit(value any) *LiteralExpr {
	switch v := value.(type) {
	case nil:
		return &LiteralExpr{}
	case string:
		return &LiteralExpr{value: v, dataType: arrow.BinaryTypes.String}
	case int:
		return &LiteralExpr{value: int64(v), dataType: arrow.PrimitiveTypes.Int64}
	case int32:
		return &LiteralExpr{value: int64(v), dataType: arrow.PrimitiveTypes.Int64}
	case int64:
		return &LiteralExpr{value: v, dataType: arrow.PrimitiveTypes.Int64}
	case float32:
		return &LiteralExpr{value: float64(v), dataType: arrow.PrimitiveTypes.Float64}
	case float64:
		return &LiteralExpr{value: v, dataType: arrow.PrimitiveTypes.Float64}
	case bool:
		return &LiteralExpr{value: v, dataType: arrow.FixedWidthTypes.Boolean}
	case time.Time:
		return &LiteralExpr{value: v.UTC().Truncate(time.Millisecond), dataType: series.TimestampType}
	default:
		return &LiteralExpr{value: fmt.Sprint(v), dataType: arrow.BinaryTypes.String}
	}
}

// DateLit creates a date literal holding the calendar day of t.
func DateLit(t time.Time) *LiteralExpr {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &LiteralExpr{value: day, dataType: arrow.FixedWidthTypes.Date32}
}

// Binary creates a binary operation
func Binary(left Expr, op BinaryOp, right Expr) *BinaryExpr {
	return &BinaryExpr{left: left, op: op, right: right}
}

// Case starts a conditional expression
func Case() *CaseExpr {
	return &CaseExpr{}
}

// If is a single-branch conditional
func If(condition, thenValue, elseValue Expr) *CaseExpr {
	return Case().When(condition, thenValue).Else(elseValue)
}

// Cast converts expr to dataType. Unrepresentable values become null
// unless strict is set.
func Cast(expr Expr, dataType arrow.DataType, strict bool) *CastExpr {
	return &CastExpr{expr: expr, dataType: dataType, strict: strict}
}

// IsIn tests membership of expr in values
func IsIn(expr Expr, values []any) *IsInExpr {
	return &IsInExpr{expr: expr, values: values}
}

// NotIn tests non-membership of expr in values
func NotIn(expr Expr, values []any) *IsInExpr {
	return &IsInExpr{expr: expr, values: values, negate: true}
}

// Alias names the output of expr
func Alias(expr Expr, name string) *AliasExpr {
	return &AliasExpr{expr: expr, name: name}
}

// OutputName returns the column name an expression produces when it is not
// aliased: the leftmost referenced column, or "literal" for constants.
func OutputName(e Expr) string {
	switch ex := e.(type) {
	case *AliasExpr:
		return ex.name
	case *ColumnExpr:
		return ex.name
	case *LiteralExpr:
		return "literal"
	case *BinaryExpr:
		return OutputName(ex.left)
	case *FunctionExpr:
		if len(ex.args) > 0 {
			return OutputName(ex.args[0])
		}
		return strings.ToLower(ex.fn.String())
	case *CaseExpr:
		if len(ex.whens) > 0 {
			return OutputName(ex.whens[0].value)
		}
		if ex.elseValue != nil {
			return OutputName(ex.elseValue)
		}
		return "literal"
	case *CastExpr:
		return OutputName(ex.expr)
	case *IsInExpr:
		return OutputName(ex.expr)
	case *AggregationExpr:
		return ex.OutputName()
	case *WindowExpr:
		return OutputName(ex.column)
	case *ParseTimeExpr:
		return OutputName(ex.expr)
	case *TimeBucketExpr:
		return OutputName(ex.expr)
	default:
		return e.String()
	}
}

// Columns returns the distinct column names an expression references, in
// first-seen order.
func Columns(e Expr) []string {
	seen := make(map[string]bool)
	var names []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch ex := e.(type) {
		case *ColumnExpr:
			if !seen[ex.name] {
				seen[ex.name] = true
				names = append(names, ex.name)
			}
		case *BinaryExpr:
			walk(ex.left)
			walk(ex.right)
		case *FunctionExpr:
			for _, a := range ex.args {
				walk(a)
			}
		case *CaseExpr:
			for _, w := range ex.whens {
				walk(w.condition)
				walk(w.value)
			}
			if ex.elseValue != nil {
				walk(ex.elseValue)
			}
		case *CastExpr:
			walk(ex.expr)
		case *IsInExpr:
			walk(ex.expr)
		case *AliasExpr:
			walk(ex.expr)
		case *AggregationExpr:
			walk(ex.column)
		case *WindowExpr:
			walk(ex.column)
			for _, p := range ex.spec.partitionBy {
				walk(Col(p))
			}
			for _, o := range ex.spec.orderBy {
				walk(Col(o.column))
			}
		case *ParseTimeExpr:
			walk(ex.expr)
		case *TimeBucketExpr:
			walk(ex.expr)
		}
	}
	walk(e)
	return names
}
