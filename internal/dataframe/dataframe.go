// Package dataframe provides the eager columnar primitives pipelines run on
// and the deferred LazyFrame plan built from them.
package dataframe

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/series"
)

// DataFrame represents a table of data with typed columns. It owns one
// reference to each column; Release drops them.
type DataFrame struct {
	columns map[string]ISeries
	order   []string // Maintains column order
	mem     memory.Allocator
}

// New creates a new DataFrame from a slice of ISeries, taking ownership of them
func New(series ...ISeries) *DataFrame {
	return newFrame(memory.DefaultAllocator, series)
}

// NewChecked creates a DataFrame whose results are allocated from mem and
// rejects duplicate names and unequal lengths. On error the caller keeps
// ownership of series.
func NewChecked(mem memory.Allocator, series ...ISeries) (*DataFrame, error) {
	seen := make(map[string]bool, len(series))
	for _, s := range series {
		if seen[s.Name()] {
			return nil, fmt.Errorf("column %q: %w", s.Name(), dferrors.ErrDuplicateColumn)
		}
		seen[s.Name()] = true
		if s.Len() != series[0].Len() {
			return nil, fmt.Errorf("column %q has %d rows, %q has %d: %w",
				s.Name(), s.Len(), series[0].Name(), series[0].Len(), dferrors.ErrMismatchedLength)
		}
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return newFrame(mem, series), nil
}

func newFrame(mem memory.Allocator, series []ISeries) *DataFrame {
	columns := make(map[string]ISeries, len(series))
	order := make([]string, 0, len(series))

	for _, s := range series {
		name := s.Name()
		if _, exists := columns[name]; !exists {
			order = append(order, name)
		}
		columns[name] = s
	}

	return &DataFrame{
		columns: columns,
		order:   order,
		mem:     mem,
	}
}

// derive builds a frame sharing df's allocator from series the caller owns.
func (df *DataFrame) derive(series []ISeries) *DataFrame {
	return newFrame(df.mem, series)
}

// share returns a new reference to the column called name.
func (df *DataFrame) share(name string) ISeries {
	s := df.columns[name]
	return series.FromArray(name, s.Array())
}

// Allocator returns the allocator derived frames are built with.
func (df *DataFrame) Allocator() memory.Allocator {
	return df.mem
}

// Columns returns the names of all columns in order
func (df *DataFrame) Columns() []string {
	if len(df.order) == 0 {
		return []string{}
	}
	return append([]string(nil), df.order...)
}

// Len returns the number of rows
func (df *DataFrame) Len() int {
	if len(df.order) == 0 {
		return 0
	}
	return df.columns[df.order[0]].Len()
}

// Width returns the number of columns
func (df *DataFrame) Width() int {
	return len(df.order)
}

// Column returns the series for the given column name
func (df *DataFrame) Column(name string) (ISeries, bool) {
	s, exists := df.columns[name]
	return s, exists
}

// HasColumn checks if a column exists
func (df *DataFrame) HasColumn(name string) bool {
	_, exists := df.columns[name]
	return exists
}

// Schema returns the names and types of the columns in order
func (df *DataFrame) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(df.order))
	for i, name := range df.order {
		fields[i] = arrow.Field{Name: name, Type: df.columns[name].DataType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// arrays exposes the columns to an evaluator. The arrays are borrowed.
func (df *DataFrame) arrays() map[string]arrow.Array {
	out := make(map[string]arrow.Array, len(df.order))
	for _, name := range df.order {
		arr := df.columns[name].Array()
		arr.Release()
		out[name] = arr
	}
	return out
}

// Select returns a new DataFrame with only the specified columns, in the given order
func (df *DataFrame) Select(names ...string) (*DataFrame, error) {
	cols := make([]ISeries, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !df.HasColumn(name) {
			releaseAll(cols)
			return nil, dferrors.NewColumnNotFoundError("Select", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, df.share(name))
	}
	return df.derive(cols), nil
}

// Drop returns a new DataFrame without the specified columns
func (df *DataFrame) Drop(names ...string) *DataFrame {
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		if !slices.Contains(names, name) {
			cols = append(cols, df.share(name))
		}
	}
	return df.derive(cols)
}

// Rename returns a new DataFrame with columns renamed per mapping (old to
// new). Unmapped columns keep their names and position.
func (df *DataFrame) Rename(mapping map[string]string) (*DataFrame, error) {
	for old := range mapping {
		if !df.HasColumn(old) {
			return nil, dferrors.NewColumnNotFoundError("Rename", old)
		}
	}

	seen := make(map[string]bool, len(df.order))
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		target := name
		if to, ok := mapping[name]; ok {
			target = to
		}
		if seen[target] {
			releaseAll(cols)
			return nil, fmt.Errorf("rename to %q: %w", target, dferrors.ErrDuplicateColumn)
		}
		seen[target] = true
		cols = append(cols, series.FromArray(target, df.columns[name].Array()))
	}
	return df.derive(cols), nil
}

// WithColumn returns a new DataFrame with s added. A column of the same
// name is replaced in place. WithColumn takes ownership of s.
func (df *DataFrame) WithColumn(s ISeries) (*DataFrame, error) {
	if df.Width() > 0 && s.Len() != df.Len() {
		name, n := s.Name(), s.Len()
		s.Release()
		return nil, fmt.Errorf("column %q has %d rows, frame has %d: %w",
			name, n, df.Len(), dferrors.ErrMismatchedLength)
	}

	cols := make([]ISeries, 0, len(df.order)+1)
	replaced := false
	for _, name := range df.order {
		if name == s.Name() {
			cols = append(cols, s)
			replaced = true
			continue
		}
		cols = append(cols, df.share(name))
	}
	if !replaced {
		cols = append(cols, s)
	}
	return df.derive(cols), nil
}

// Filter keeps the rows where mask is true. Null mask entries drop the row.
func (df *DataFrame) Filter(mask *array.Boolean) (*DataFrame, error) {
	if mask.Len() != df.Len() {
		return nil, fmt.Errorf("mask has %d rows, frame has %d: %w", mask.Len(), df.Len(), dferrors.ErrMismatchedLength)
	}
	indices := make([]int, 0, mask.Len())
	for i := 0; i < mask.Len(); i++ {
		if mask.IsValid(i) && mask.Value(i) {
			indices = append(indices, i)
		}
	}
	if len(indices) == df.Len() {
		return df.Slice(0, df.Len()), nil
	}
	return df.Take(indices)
}

// Take gathers the given rows into a new DataFrame. A negative index yields
// a row of nulls.
func (df *DataFrame) Take(indices []int) (*DataFrame, error) {
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		arr := df.columns[name].Array()
		taken, err := series.Take(arr, indices, df.mem)
		arr.Release()
		if err != nil {
			releaseAll(cols)
			return nil, dferrors.NewUnsupportedTypeError("Take", name, arr.DataType().String())
		}
		cols = append(cols, series.FromArray(name, taken))
	}
	return df.derive(cols), nil
}

// Slice creates a new DataFrame containing rows from start (inclusive) to
// end (exclusive), clamped to the frame. The columns share memory with df.
func (df *DataFrame) Slice(start, end int) *DataFrame {
	length := df.Len()
	start = max(0, min(start, length))
	end = max(start, min(end, length))

	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		arr := df.columns[name].Array()
		cols = append(cols, series.FromArray(name, array.NewSlice(arr, int64(start), int64(end))))
		arr.Release()
	}
	return df.derive(cols)
}

// Head returns the first n rows
func (df *DataFrame) Head(n int) *DataFrame {
	return df.Slice(0, n)
}

// Sort returns a DataFrame stably sorted by column. Nulls come first in
// both directions.
func (df *DataFrame) Sort(column string, descending bool) (*DataFrame, error) {
	return df.SortBy([]string{column}, []bool{descending})
}

// SortBy sorts stably by several columns. Missing descending entries are
// ascending.
func (df *DataFrame) SortBy(columns []string, descending []bool) (*DataFrame, error) {
	comparators := make([]series.RowComparator, len(columns))
	for i, name := range columns {
		s, ok := df.columns[name]
		if !ok {
			return nil, dferrors.NewColumnNotFoundError("Sort", name)
		}
		arr := s.Array()
		defer arr.Release()
		desc := i < len(descending) && descending[i]
		cmp, err := series.Comparator(arr, desc)
		if err != nil {
			return nil, dferrors.NewUnsupportedTypeError("Sort", name, arr.DataType().String())
		}
		comparators[i] = cmp
	}

	order := series.MultiComparator(comparators...)
	indices := make([]int, df.Len())
	for i := range indices {
		indices[i] = i
	}
	slices.SortStableFunc(indices, func(a, b int) int { return order(a, b) })
	return df.Take(indices)
}

// Concat appends the rows of others below df. Every frame must have the
// same column names and types.
func (df *DataFrame) Concat(others ...*DataFrame) (*DataFrame, error) {
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		arrs := []arrow.Array{df.columns[name].Array()}
		for _, other := range others {
			s, ok := other.columns[name]
			if !ok || other.Width() != df.Width() {
				releaseArrays(arrs)
				releaseAll(cols)
				return nil, dferrors.NewColumnNotFoundError("Concat", name)
			}
			arrs = append(arrs, s.Array())
		}
		joined, err := series.Concat(arrs, df.mem)
		releaseArrays(arrs)
		if err != nil {
			releaseAll(cols)
			return nil, dferrors.NewTypeMismatchError("Concat", name, err.Error())
		}
		cols = append(cols, series.FromArray(name, joined))
	}
	return df.derive(cols), nil
}

// Clone returns a new frame sharing df's columns. The clone must be
// released independently.
func (df *DataFrame) Clone() *DataFrame {
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		cols = append(cols, df.share(name))
	}
	return df.derive(cols)
}

// Row returns the values of row i keyed by column name
func (df *DataFrame) Row(i int) map[string]any {
	row := make(map[string]any, len(df.order))
	for _, name := range df.order {
		arr := df.columns[name].Array()
		row[name] = series.ValueAt(arr, i)
		arr.Release()
	}
	return row
}

// String returns a string representation of the DataFrame
func (df *DataFrame) String() string {
	if len(df.columns) == 0 {
		return "DataFrame[empty]"
	}

	parts := []string{fmt.Sprintf("DataFrame[%dx%d]", df.Len(), df.Width())}

	for _, name := range df.order {
		parts = append(parts, fmt.Sprintf("  %s: %s", name, df.columns[name].DataType().String()))
	}

	return strings.Join(parts, "\n")
}

// Release releases the memory held by every column
func (df *DataFrame) Release() {
	for _, s := range df.columns {
		s.Release()
	}
	df.columns = map[string]ISeries{}
	df.order = nil
}

func releaseAll(cols []ISeries) {
	for _, s := range cols {
		s.Release()
	}
}

func releaseArrays(arrs []arrow.Array) {
	for _, a := range arrs {
		a.Release()
	}
}
