// Package compile lowers pipeline declarations to evaluable column
// expressions. When the schema of the data the expression will run
// against is known, type errors are reported at compile time; otherwise
// the checks involving unknown columns are left to evaluation.
package compile

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/pipeline"
)

// Compiler compiles declarations against an optional input schema.
type Compiler struct {
	schema *arrow.Schema
}

// New creates a compiler. A nil schema disables compile-time type checks.
func New(schema *arrow.Schema) *Compiler {
	return &Compiler{schema: schema}
}

// Schema returns the schema expressions are checked against.
func (c *Compiler) Schema() *arrow.Schema {
	return c.schema
}

var binaryOps = map[pipeline.Operator]expr.BinaryOp{
	pipeline.OpAdd:      expr.OpAdd,
	pipeline.OpSubtract: expr.OpSub,
	pipeline.OpMultiply: expr.OpMul,
	pipeline.OpDivide:   expr.OpDiv,
	pipeline.OpModulo:   expr.OpMod,
	pipeline.OpEq:       expr.OpEq,
	pipeline.OpNeq:      expr.OpNe,
	pipeline.OpLt:       expr.OpLt,
	pipeline.OpLte:      expr.OpLe,
	pipeline.OpGt:       expr.OpGt,
	pipeline.OpGte:      expr.OpGe,
	pipeline.OpAnd:      expr.OpAnd,
	pipeline.OpOr:       expr.OpOr,
	pipeline.OpConcat:   expr.OpConcat,
}

// Expression compiles e and type checks the result.
func (c *Compiler) Expression(e pipeline.Expression) (expr.Expr, error) {
	out, err := c.lower(e)
	if err != nil {
		return nil, err
	}
	if err := c.check(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Compiler) lower(e pipeline.Expression) (expr.Expr, error) {
	switch ex := e.(type) {
	case *pipeline.Column:
		if ex.Name == "" {
			return nil, dferrors.NewExpressionError("Column", "empty column name")
		}
		return expr.Col(ex.Name), nil
	case *pipeline.Literal:
		return Literal(ex.Value)
	case *pipeline.BinaryOp:
		op, ok := binaryOps[ex.Op]
		if !ok {
			return nil, dferrors.NewExpressionError(string(ex.Op), "unsupported operator")
		}
		left, err := c.lower(ex.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.lower(ex.Right)
		if err != nil {
			return nil, err
		}
		return expr.Binary(left, op, right), nil
	case *pipeline.Function:
		return c.function(ex)
	case *pipeline.Conditional:
		cond, err := c.lower(ex.Condition)
		if err != nil {
			return nil, err
		}
		then, err := c.lower(ex.Then)
		if err != nil {
			return nil, err
		}
		otherwise, err := c.lower(ex.Otherwise)
		if err != nil {
			return nil, err
		}
		return expr.If(cond, then, otherwise), nil
	case nil:
		return nil, dferrors.NewExpressionError("", "missing expression")
	}
	return nil, dferrors.NewExpressionError(fmt.Sprintf("%T", e), "unsupported expression")
}

// Literal lifts a scalar literal to a constant expression. List literals
// are only meaningful as Filter operands and are rejected here.
func Literal(v pipeline.LiteralValue) (expr.Expr, error) {
	switch v.Kind {
	case pipeline.LitDate:
		return expr.DateLit(v.Time), nil
	case pipeline.LitStringList, pipeline.LitIntegerList, pipeline.LitFloatList:
		return nil, dferrors.NewExpressionError("Literal",
			"%s literal is only allowed as an EQ or NEQ filter value", v.Kind)
	}
	return expr.Lit(v.Scalar()), nil
}

// check runs type inference and converts type errors to ExpressionErrors.
func (c *Compiler) check(e expr.Expr) error {
	if _, err := expr.TypeOf(e, c.schema); err != nil {
		var te *expr.TypeError
		if errors.As(err, &te) {
			return dferrors.NewExpressionError(te.Expr, "%s", te.Message)
		}
		return dferrors.NewExpressionError(e.String(), "%v", err)
	}
	return nil
}
