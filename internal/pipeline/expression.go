package pipeline

import (
	"fmt"
	"slices"
	"strings"
)

// Expression is a node of the declaration expression tree. Variants are
// Column, Literal, BinaryOp, Function and Conditional.
type Expression interface {
	fmt.Stringer
	isExpression()
}

// Operator is a binary operator name such as "ADD" or "GTE".
type Operator string

const (
	OpAdd      Operator = "ADD"
	OpSubtract Operator = "SUBTRACT"
	OpMultiply Operator = "MULTIPLY"
	OpDivide   Operator = "DIVIDE"
	OpModulo   Operator = "MODULO"
	OpEq       Operator = "EQ"
	OpNeq      Operator = "NEQ"
	OpLt       Operator = "LT"
	OpLte      Operator = "LTE"
	OpGt       Operator = "GT"
	OpGte      Operator = "GTE"
	OpAnd      Operator = "AND"
	OpOr       Operator = "OR"
	OpConcat   Operator = "CONCAT"
)

// Operators lists every operator in declaration order.
var Operators = []Operator{
	OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo,
	OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte,
	OpAnd, OpOr, OpConcat,
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	return slices.Contains(Operators, op)
}

// Column references a column by name.
type Column struct {
	Name string
}

// Literal is a constant.
type Literal struct {
	Value LiteralValue
}

// BinaryOp combines two expressions.
type BinaryOp struct {
	Left  Expression
	Op    Operator
	Right Expression
}

// Function calls a catalog function either positionally through Args or
// by parameter name through Named. Exactly one of the two is used.
type Function struct {
	Name  string
	Args  []Expression
	Named map[string]Expression
}

// IsNamed reports whether the call uses named parameters.
func (f *Function) IsNamed() bool {
	return f.Named != nil
}

// Conditional picks Then where Condition holds and Otherwise elsewhere.
type Conditional struct {
	Condition Expression
	Then      Expression
	Otherwise Expression
}

func (*Column) isExpression()      {}
func (*Literal) isExpression()     {}
func (*BinaryOp) isExpression()    {}
func (*Function) isExpression()    {}
func (*Conditional) isExpression() {}

func (c *Column) String() string {
	return "col(" + c.Name + ")"
}

func (l *Literal) String() string {
	return l.Value.String()
}

func (b *BinaryOp) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

func (f *Function) String() string {
	if f.IsNamed() {
		keys := make([]string, 0, len(f.Named))
		for k := range f.Named {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%s", k, f.Named[k])
		}
		return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ", "))
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ", "))
}

func (c *Conditional) String() string {
	return fmt.Sprintf("if(%s, %s, %s)", c.Condition, c.Then, c.Otherwise)
}
