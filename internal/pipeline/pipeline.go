// Package pipeline holds the declaration model of a transformation job: an
// ordered list of operations and the expression language used inside them.
// Values of this package are plain data; compilation lives in
// internal/compile and execution in internal/executor.
package pipeline

import (
	"fmt"
	"strings"
)

// Pipeline is an ordered, immutable sequence of operations.
type Pipeline struct {
	Operations []Operation
}

// Len returns the number of operations.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Operations)
}

func (p *Pipeline) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pipeline[%d]", p.Len()))
	for i, op := range p.Operations {
		sb.WriteString(fmt.Sprintf("\n  %d: %s", i, op.OpType()))
	}
	return sb.String()
}

// Operation is one declared step. The set of variants is closed.
type Operation interface {
	// OpType returns the declaration tag, e.g. "GroupByTime".
	OpType() string
	isOperation()
}

// Operation type tags as written in declarations.
const (
	TypeFilter        = "Filter"
	TypeSelect        = "Select"
	TypeGroupBy       = "GroupBy"
	TypeGroupByTime   = "GroupByTime"
	TypeSort          = "Sort"
	TypeSelfJoin      = "SelfJoin"
	TypeWithColumn    = "WithColumn"
	TypePivot         = "Pivot"
	TypePivotAdvanced = "PivotAdvanced"
	TypeWindow        = "Window"
	TypeRename        = "Rename"
)

// FilterCondition is the comparison a Filter applies.
type FilterCondition string

const (
	CondEq        FilterCondition = "EQ"
	CondEqMissing FilterCondition = "EQMISSING"
	CondNeq       FilterCondition = "NEQ"
	CondLt        FilterCondition = "LT"
	CondLte       FilterCondition = "LTE"
	CondGt        FilterCondition = "GT"
	CondGte       FilterCondition = "GTE"
	CondIsNull    FilterCondition = "ISNULL"
	CondIsNotNull FilterCondition = "ISNOTNULL"
)

var filterConditions = []FilterCondition{
	CondEq, CondEqMissing, CondNeq, CondLt, CondLte, CondGt, CondGte, CondIsNull, CondIsNotNull,
}

// NeedsValue reports whether the condition compares against a literal.
func (c FilterCondition) NeedsValue() bool {
	return c != CondIsNull && c != CondIsNotNull
}

// Filter keeps rows where Column satisfies Condition against Value.
type Filter struct {
	Column    string
	Condition FilterCondition
	// Value is nil for null tests.
	Value *LiteralValue
}

// Select projects to Columns in order.
type Select struct {
	Columns []string
}

// GroupBy groups by Columns and reduces each group with Aggregates.
type GroupBy struct {
	Columns    []string
	Aggregates []Aggregate
}

// GroupByTime buckets a time column and aggregates per bucket.
type GroupByTime struct {
	Spec TimeBucketSpec
}

// Sort orders rows by one column and optionally keeps the first Limit rows.
type Sort struct {
	Column     string
	Descending bool
	Limit      *int
}

// Join kinds accepted by SelfJoin.
const (
	JoinInner = "Inner"
	JoinLeft  = "Left"
	JoinRight = "Right"
	JoinOuter = "Outer"
	JoinCross = "Cross"
	JoinSemi  = "Semi"
	JoinAnti  = "Anti"
)

var joinTypes = []string{JoinInner, JoinLeft, JoinRight, JoinOuter, JoinCross, JoinSemi, JoinAnti}

// DefaultJoinSuffix is appended to right-hand names that collide.
const DefaultJoinSuffix = "_right"

// SelfJoin joins the current data with a snapshot of itself.
type SelfJoin struct {
	LeftOn  []string
	RightOn []string
	How     string
	Suffix  string
}

// WithColumn adds or replaces a computed column. An empty Name means the
// name the expression produces by default.
type WithColumn struct {
	Name       string
	Expression Expression
}

// Pivot spreads the distinct values of Columns into columns holding
// Function applied to Values.
type Pivot struct {
	Index    []string
	Columns  string
	Values   string
	Function AggFunction
}

// PivotAdvanced spreads Columns with several aggregates. Without Columns it
// is a plain group and aggregate.
type PivotAdvanced struct {
	Index   []string
	Columns string
	Values  []Aggregate
}

// Window appends a window function column.
type Window struct {
	Spec WindowSpec
}

// ColumnRename maps one column name to another.
type ColumnRename struct {
	OldName string
	NewName string
}

// Rename renames columns. Unmapped columns keep their names.
type Rename struct {
	Mappings []ColumnRename
}

func (*Filter) OpType() string        { return TypeFilter }
func (*Select) OpType() string        { return TypeSelect }
func (*GroupBy) OpType() string       { return TypeGroupBy }
func (*GroupByTime) OpType() string   { return TypeGroupByTime }
func (*Sort) OpType() string          { return TypeSort }
func (*SelfJoin) OpType() string      { return TypeSelfJoin }
func (*WithColumn) OpType() string    { return TypeWithColumn }
func (*Pivot) OpType() string         { return TypePivot }
func (*PivotAdvanced) OpType() string { return TypePivotAdvanced }
func (*Window) OpType() string        { return TypeWindow }
func (*Rename) OpType() string        { return TypeRename }

func (*Filter) isOperation()        {}
func (*Select) isOperation()        {}
func (*GroupBy) isOperation()       {}
func (*GroupByTime) isOperation()   {}
func (*Sort) isOperation()          {}
func (*SelfJoin) isOperation()      {}
func (*WithColumn) isOperation()    {}
func (*Pivot) isOperation()         {}
func (*PivotAdvanced) isOperation() {}
func (*Window) isOperation()        {}
func (*Rename) isOperation()        {}
