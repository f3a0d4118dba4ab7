// Package series provides named, nullable columns backed by Apache Arrow arrays
package series

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TimestampType is the instant type every temporal value is normalized to.
var TimestampType = arrow.FixedWidthTypes.Timestamp_ms.(*arrow.TimestampType)

// Scalar lists the Go types a Series can be built from.
type Scalar interface {
	string | int8 | int16 | int32 | int64 | float32 | float64 | bool | time.Time
}

// Series represents a named data column with an Apache Arrow backend
type Series struct {
	name  string
	array arrow.Array
}

// New creates a new Series from a slice of values
func New[T Scalar](name string, values []T, mem memory.Allocator) *Series {
	return NewNullable(name, values, nil, mem)
}

// NewNullable creates a Series where valid[i] == false marks a null.
// A nil valid slice means every value is present.
func NewNullable[T Scalar](name string, values []T, valid []bool, mem memory.Allocator) *Series {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	var arr arrow.Array

	switch v := any(values).(type) {
	case []string:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []int8:
		b := array.NewInt8Builder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []int16:
		b := array.NewInt16Builder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []int32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []float32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []bool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		appendAll(b, v, valid)
		arr = b.NewArray()
	case []time.Time:
		b := array.NewTimestampBuilder(mem, TimestampType)
		defer b.Release()
		for i, t := range v {
			if valid != nil && !valid[i] {
				b.AppendNull()
				continue
			}
			b.Append(arrow.Timestamp(t.UnixMilli()))
		}
		arr = b.NewArray()
	default:
		panic(fmt.Sprintf("unsupported type: %T", values))
	}

	return &Series{name: name, array: arr}
}

// NewDates creates a date32 Series from the calendar dates of values.
func NewDates(name string, values []time.Time, valid []bool, mem memory.Allocator) *Series {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	b := array.NewDate32Builder(mem)
	defer b.Release()
	for i, t := range values {
		if valid != nil && !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(arrow.Date32FromTime(t))
	}
	return &Series{name: name, array: b.NewArray()}
}

// Nulls creates a Series of n nulls of the given type.
func Nulls(name string, dt arrow.DataType, n int, mem memory.Allocator) *Series {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.AppendNulls(n)
	return &Series{name: name, array: b.NewArray()}
}

// FromArray wraps an existing array. The Series takes over the caller's reference.
func FromArray(name string, arr arrow.Array) *Series {
	return &Series{name: name, array: arr}
}

type appender[T any] interface {
	Append(T)
	AppendNull()
	Reserve(int)
}

func appendAll[T any](b appender[T], values []T, valid []bool) {
	b.Reserve(len(values))
	for i, v := range values {
		if valid != nil && !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
}

// Name returns the column name
func (s *Series) Name() string {
	return s.name
}

// Len returns the length of the series
func (s *Series) Len() int {
	return s.array.Len()
}

// DataType returns the Arrow data type
func (s *Series) DataType() arrow.DataType {
	return s.array.DataType()
}

// IsNull checks if the value at index is null
func (s *Series) IsNull(index int) bool {
	return s.array.IsNull(index)
}

// NullN returns the number of nulls
func (s *Series) NullN() int {
	return s.array.NullN()
}

// Rename returns a Series sharing the same data under a new name.
func (s *Series) Rename(name string) *Series {
	s.array.Retain()
	return &Series{name: name, array: s.array}
}

// Value returns the value at index as a Go scalar, nil for nulls.
// Integers widen to int64, floats to float64, temporal values to time.Time in UTC.
func (s *Series) Value(index int) any {
	if index < 0 || index >= s.array.Len() {
		return nil
	}
	return ValueAt(s.array, index)
}

// Values returns every value as a Go scalar, nil for nulls.
func (s *Series) Values() []any {
	result := make([]any, s.array.Len())
	for i := range result {
		result[i] = ValueAt(s.array, i)
	}
	return result
}

// GetAsString returns the value at index formatted as text, "" for nulls.
func (s *Series) GetAsString(index int) string {
	if index < 0 || index >= s.array.Len() {
		return ""
	}
	return FormatAt(s.array, index)
}

// String returns a string representation of the series
func (s *Series) String() string {
	return fmt.Sprintf("Series[%s]: %s (len=%d)", s.array.DataType(), s.name, s.Len())
}

// Array returns the underlying Arrow array (retains a reference)
func (s *Series) Array() arrow.Array {
	if s.array != nil {
		s.array.Retain()
		return s.array
	}
	return nil
}

// Release releases the underlying Arrow memory
func (s *Series) Release() {
	if s.array != nil {
		s.array.Release()
	}
}

// FormatValue renders a Go scalar the way writers and pivot headers show it.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
