package series

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

type valueArray[T any] interface {
	arrow.Array
	Value(int) T
}

type valueBuilder[T any] interface {
	array.Builder
	Append(T)
}

func gather[T any, A valueArray[T], B valueBuilder[T]](src A, b B, indices []int) arrow.Array {
	defer b.Release()
	b.Reserve(len(indices))
	for _, idx := range indices {
		if idx < 0 || src.IsNull(idx) {
			b.AppendNull()
			continue
		}
		b.Append(src.Value(idx))
	}
	return b.NewArray()
}

// Take gathers arr[indices[i]] into a new array. A negative index produces a null.
func Take(arr arrow.Array, indices []int, mem memory.Allocator) (arrow.Array, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	switch a := arr.(type) {
	case *array.String:
		return gather[string](a, array.NewStringBuilder(mem), indices), nil
	case *array.Int8:
		return gather[int8](a, array.NewInt8Builder(mem), indices), nil
	case *array.Int16:
		return gather[int16](a, array.NewInt16Builder(mem), indices), nil
	case *array.Int32:
		return gather[int32](a, array.NewInt32Builder(mem), indices), nil
	case *array.Int64:
		return gather[int64](a, array.NewInt64Builder(mem), indices), nil
	case *array.Uint64:
		return gather[uint64](a, array.NewUint64Builder(mem), indices), nil
	case *array.Float32:
		return gather[float32](a, array.NewFloat32Builder(mem), indices), nil
	case *array.Float64:
		return gather[float64](a, array.NewFloat64Builder(mem), indices), nil
	case *array.Boolean:
		return gather[bool](a, array.NewBooleanBuilder(mem), indices), nil
	case *array.Timestamp:
		b := array.NewTimestampBuilder(mem, a.DataType().(*arrow.TimestampType))
		return gather[arrow.Timestamp](a, b, indices), nil
	case *array.Date32:
		return gather[arrow.Date32](a, array.NewDate32Builder(mem), indices), nil
	case *array.Null:
		return array.NewNull(len(indices)), nil
	default:
		return nil, fmt.Errorf("take: unsupported array type %s", arr.DataType())
	}
}

// Concat concatenates arrays of identical type.
func Concat(arrs []arrow.Array, mem memory.Allocator) (arrow.Array, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return array.Concatenate(arrs, mem)
}

// AppendValue appends a Go scalar to b, converting it to the builder's type.
// A nil value appends a null.
func AppendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch bldr := b.(type) {
	case *array.StringBuilder:
		bldr.Append(FormatValue(v))
	case *array.Int8Builder:
		n, err := toInt(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		bldr.Append(int8(n))
	case *array.Int16Builder:
		n, err := toInt(v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		bldr.Append(int16(n))
	case *array.Int32Builder:
		n, err := toInt(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		bldr.Append(int32(n))
	case *array.Int64Builder:
		n, err := toInt(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		bldr.Append(n)
	case *array.Float32Builder:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		bldr.Append(float32(f))
	case *array.Float64Builder:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		bldr.Append(f)
	case *array.BooleanBuilder:
		bv, err := toBool(v)
		if err != nil {
			return err
		}
		bldr.Append(bv)
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cannot convert %T to timestamp", v)
		}
		ts, err := arrow.TimestampFromTime(t, bldr.Type().(*arrow.TimestampType).Unit)
		if err != nil {
			return err
		}
		bldr.Append(ts)
	case *array.Date32Builder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cannot convert %T to date", v)
		}
		bldr.Append(arrow.Date32FromTime(t))
	case *array.NullBuilder:
		bldr.AppendNull()
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

// Cast converts arr to dt element by element. Values that cannot be
// represented become null unless strict is set, in which case the first
// failure is returned.
func Cast(arr arrow.Array, dt arrow.DataType, strict bool, mem memory.Allocator) (arrow.Array, error) {
	if arrow.TypeEqual(arr.DataType(), dt) {
		arr.Retain()
		return arr, nil
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(arr.Len())

	for i := 0; i < arr.Len(); i++ {
		if err := AppendValue(b, ValueAt(arr, i)); err != nil {
			if strict {
				return nil, fmt.Errorf("casting %s to %s at row %d: %w", arr.DataType(), dt, i, err)
			}
			b.AppendNull()
		}
	}
	return b.NewArray(), nil
}

func toInt(v any, lo, hi int64) (int64, error) {
	var n int64
	switch val := v.(type) {
	case int64:
		n = val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) || val < float64(lo) || val > float64(hi) {
			return 0, fmt.Errorf("value %v out of range", val)
		}
		n = int64(val)
	case bool:
		if val {
			n = 1
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if ferr != nil {
				return 0, err
			}
			return toInt(f, lo, hi)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return n, nil
}

func toFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

func toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case string:
		return ParseBool(val)
	}
	return false, fmt.Errorf("cannot convert %T to bool", v)
}
