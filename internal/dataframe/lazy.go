package dataframe

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/series"
)

// LazyOperation represents a deferred operation on a DataFrame
type LazyOperation interface {
	// Apply runs the operation. df is borrowed and the result is owned by the caller.
	Apply(df *DataFrame, eval *expr.Evaluator) (*DataFrame, error)
	// Schema folds the operation over an input schema without touching data.
	// Columns whose type cannot be inferred are left out.
	Schema(input *arrow.Schema) *arrow.Schema
	String() string
}

// FilterOperation keeps the rows where a predicate is true
type FilterOperation struct {
	predicate expr.Expr
}

func (f *FilterOperation) Apply(df *DataFrame, eval *expr.Evaluator) (*DataFrame, error) {
	mask, err := eval.EvaluateBoolean(f.predicate, df.arrays())
	if err != nil {
		return nil, fmt.Errorf("evaluating filter predicate: %w", err)
	}
	defer mask.Release()
	return df.Filter(mask)
}

func (f *FilterOperation) Schema(input *arrow.Schema) *arrow.Schema {
	return input
}

func (f *FilterOperation) String() string {
	return fmt.Sprintf("filter(%s)", f.predicate.String())
}

// SelectOperation represents a column selection operation
type SelectOperation struct {
	columns []string
}

func (s *SelectOperation) Apply(df *DataFrame, _ *expr.Evaluator) (*DataFrame, error) {
	return df.Select(s.columns...)
}

func (s *SelectOperation) Schema(input *arrow.Schema) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(s.columns))
	for _, name := range s.columns {
		if found, ok := input.FieldsByName(name); ok && len(found) > 0 {
			fields = append(fields, found[0])
		}
	}
	return arrow.NewSchema(fields, nil)
}

func (s *SelectOperation) String() string {
	return fmt.Sprintf("select(%v)", s.columns)
}

// WithColumnOperation represents adding/modifying a column
type WithColumnOperation struct {
	name string
	expr expr.Expr
}

func (w *WithColumnOperation) Apply(df *DataFrame, eval *expr.Evaluator) (*DataFrame, error) {
	arr, err := eval.EvaluateN(w.expr, df.arrays(), df.Len())
	if err != nil {
		return nil, fmt.Errorf("evaluating column %s: %w", w.name, err)
	}
	return df.WithColumn(series.FromArray(w.name, arr))
}

func (w *WithColumnOperation) Schema(input *arrow.Schema) *arrow.Schema {
	dt, err := expr.TypeOf(w.expr, input)
	fields := make([]arrow.Field, 0, input.NumFields()+1)
	replaced := false
	for _, f := range input.Fields() {
		if f.Name != w.name {
			fields = append(fields, f)
			continue
		}
		replaced = true
		if err == nil && dt != nil {
			fields = append(fields, arrow.Field{Name: w.name, Type: dt, Nullable: true})
		}
	}
	if !replaced && err == nil && dt != nil {
		fields = append(fields, arrow.Field{Name: w.name, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func (w *WithColumnOperation) String() string {
	return fmt.Sprintf("with_column(%s, %s)", w.name, w.expr.String())
}

// RenameOperation renames columns, old name to new
type RenameOperation struct {
	mapping map[string]string
}

func (r *RenameOperation) Apply(df *DataFrame, _ *expr.Evaluator) (*DataFrame, error) {
	return df.Rename(r.mapping)
}

func (r *RenameOperation) Schema(input *arrow.Schema) *arrow.Schema {
	fields := slices.Clone(input.Fields())
	for i, f := range fields {
		if to, ok := r.mapping[f.Name]; ok {
			fields[i].Name = to
		}
	}
	return arrow.NewSchema(fields, nil)
}

func (r *RenameOperation) String() string {
	pairs := make([]string, 0, len(r.mapping))
	for from, to := range r.mapping {
		pairs = append(pairs, from+" -> "+to)
	}
	slices.Sort(pairs)
	return fmt.Sprintf("rename(%s)", strings.Join(pairs, ", "))
}

// SortOperation represents a sorting operation
type SortOperation struct {
	columns    []string
	descending []bool
}

func (s *SortOperation) Apply(df *DataFrame, _ *expr.Evaluator) (*DataFrame, error) {
	return df.SortBy(s.columns, s.descending)
}

func (s *SortOperation) Schema(input *arrow.Schema) *arrow.Schema {
	return input
}

func (s *SortOperation) String() string {
	directions := make([]string, len(s.columns))
	for i, col := range s.columns {
		if i < len(s.descending) && s.descending[i] {
			directions[i] = col + " DESC"
		} else {
			directions[i] = col + " ASC"
		}
	}
	return fmt.Sprintf("sort_by(%s)", strings.Join(directions, ", "))
}

// HeadOperation keeps the first n rows
type HeadOperation struct {
	n int
}

func (h *HeadOperation) Apply(df *DataFrame, _ *expr.Evaluator) (*DataFrame, error) {
	return df.Head(h.n), nil
}

func (h *HeadOperation) Schema(input *arrow.Schema) *arrow.Schema {
	return input
}

func (h *HeadOperation) String() string {
	return fmt.Sprintf("head(%d)", h.n)
}

// GroupByOperation represents a group by and aggregation operation
type GroupByOperation struct {
	groupByCols  []string
	aggregations []*expr.AggregationExpr
}

func (g *GroupByOperation) Apply(df *DataFrame, eval *expr.Evaluator) (*DataFrame, error) {
	gb, err := df.GroupBy(g.groupByCols...)
	if err != nil {
		return nil, err
	}
	return gb.Agg(eval, g.aggregations...)
}

func (g *GroupByOperation) Schema(input *arrow.Schema) *arrow.Schema {
	fields := (&SelectOperation{columns: g.groupByCols}).Schema(input).Fields()
	for _, agg := range g.aggregations {
		if dt, err := expr.TypeOf(agg, input); err == nil && dt != nil {
			fields = append(fields, arrow.Field{Name: agg.OutputName(), Type: dt, Nullable: true})
		}
	}
	return arrow.NewSchema(fields, nil)
}

func (g *GroupByOperation) String() string {
	aggStrs := make([]string, len(g.aggregations))
	for i, agg := range g.aggregations {
		aggStrs[i] = agg.String()
	}
	return fmt.Sprintf("group_by(%v).agg(%v)", g.groupByCols, aggStrs)
}

// CollectError reports the pending operation that failed during Collect
type CollectError struct {
	Position  int // index into the pending operations
	Operation LazyOperation
	Err       error
}

func (e *CollectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *CollectError) Unwrap() error { return e.Err }

// LazyFrame holds a source DataFrame and the operations still to apply to it
type LazyFrame struct {
	source     *DataFrame
	operations []LazyOperation
	eval       *expr.Evaluator
}

// Lazy starts a deferred plan over df. The LazyFrame takes ownership of df.
func (df *DataFrame) Lazy() *LazyFrame {
	return &LazyFrame{
		source: df,
		eval:   expr.NewEvaluator(df.mem),
	}
}

// WithEvaluator sets the evaluator used by Collect
func (lf *LazyFrame) WithEvaluator(eval *expr.Evaluator) *LazyFrame {
	return &LazyFrame{source: lf.source, operations: lf.operations, eval: eval}
}

func (lf *LazyFrame) with(op LazyOperation) *LazyFrame {
	ops := make([]LazyOperation, len(lf.operations), len(lf.operations)+1)
	copy(ops, lf.operations)
	return &LazyFrame{
		source:     lf.source,
		operations: append(ops, op),
		eval:       lf.eval,
	}
}

// Filter adds a filter operation to the lazy frame
func (lf *LazyFrame) Filter(predicate expr.Expr) *LazyFrame {
	return lf.with(&FilterOperation{predicate: predicate})
}

// Select adds a column projection to the lazy frame
func (lf *LazyFrame) Select(columns ...string) *LazyFrame {
	return lf.with(&SelectOperation{columns: columns})
}

// WithColumn adds a computed column, replacing one of the same name
func (lf *LazyFrame) WithColumn(name string, e expr.Expr) *LazyFrame {
	return lf.with(&WithColumnOperation{name: name, expr: e})
}

// Rename adds a rename of columns, old name to new
func (lf *LazyFrame) Rename(mapping map[string]string) *LazyFrame {
	return lf.with(&RenameOperation{mapping: mapping})
}

// Sort adds a stable sort by one column
func (lf *LazyFrame) Sort(column string, descending bool) *LazyFrame {
	return lf.SortBy([]string{column}, []bool{descending})
}

// SortBy adds a stable sort by several columns
func (lf *LazyFrame) SortBy(columns []string, descending []bool) *LazyFrame {
	return lf.with(&SortOperation{columns: columns, descending: descending})
}

// Head keeps the first n rows
func (lf *LazyFrame) Head(n int) *LazyFrame {
	return lf.with(&HeadOperation{n: n})
}

// GroupBy starts a grouped aggregation
func (lf *LazyFrame) GroupBy(columns ...string) *LazyGroupBy {
	return &LazyGroupBy{
		lazyFrame:   lf,
		groupByCols: columns,
	}
}

// LazyGroupBy represents a pending group by
type LazyGroupBy struct {
	lazyFrame   *LazyFrame
	groupByCols []string
}

// Agg adds the aggregation of each group
func (lgb *LazyGroupBy) Agg(aggregations ...*expr.AggregationExpr) *LazyFrame {
	return lgb.lazyFrame.with(&GroupByOperation{
		groupByCols:  lgb.groupByCols,
		aggregations: aggregations,
	})
}

// Operations returns the pending operations in order
func (lf *LazyFrame) Operations() []LazyOperation {
	return slices.Clone(lf.operations)
}

// Source returns the frame the plan starts from
func (lf *LazyFrame) Source() *DataFrame {
	return lf.source
}

// Schema returns the schema the plan will produce, folded from the source
// schema. Columns whose type cannot be inferred are left out.
func (lf *LazyFrame) Schema() *arrow.Schema {
	schema := lf.source.Schema()
	for _, op := range lf.operations {
		schema = op.Schema(schema)
	}
	return schema
}

// Collect applies the pending operations in order and returns the result,
// which the caller owns. Intermediate frames are released as they are
// replaced; the source is left untouched.
func (lf *LazyFrame) Collect() (*DataFrame, error) {
	current := lf.source.Clone()
	for i, op := range lf.operations {
		next, err := op.Apply(current, lf.eval)
		current.Release()
		if err != nil {
			return nil, &CollectError{Position: i, Operation: op, Err: err}
		}
		current = next
	}
	return current, nil
}

// String describes the plan
func (lf *LazyFrame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "LazyFrame[%dx%d]", lf.source.Len(), lf.source.Width())
	for _, op := range lf.operations {
		b.WriteString("\n  -> ")
		b.WriteString(op.String())
	}
	return b.String()
}

// Release releases the source DataFrame
func (lf *LazyFrame) Release() {
	if lf.source != nil {
		lf.source.Release()
	}
}
