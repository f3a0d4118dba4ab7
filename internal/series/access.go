package series

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// IsInteger reports whether dt is a signed or unsigned integer type.
func IsInteger(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return true
	}
	return false
}

// IsFloat reports whether dt is a floating point type.
func IsFloat(dt arrow.DataType) bool {
	return dt.ID() == arrow.FLOAT32 || dt.ID() == arrow.FLOAT64
}

// IsNumeric reports whether dt is an integer or floating point type.
func IsNumeric(dt arrow.DataType) bool {
	return IsInteger(dt) || IsFloat(dt)
}

// IsTemporal reports whether dt is a timestamp or a date.
func IsTemporal(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return true
	}
	return false
}

// IsNullType reports whether dt is the typeless null type.
func IsNullType(dt arrow.DataType) bool {
	return dt == nil || dt.ID() == arrow.NULL
}

// ValueAt returns element i of arr as a Go scalar, nil for nulls.
func ValueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		return int64(a.Value(i))
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	case *array.Date64:
		return a.Value(i).ToTime().UTC()
	default:
		return nil
	}
}

// FormatAt renders element i of arr as text, "" for nulls. Dates print
// without a clock, timestamps as RFC 3339.
func FormatAt(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return ""
	}
	switch a := arr.(type) {
	case *array.Date32:
		return a.Value(i).ToTime().UTC().Format(time.DateOnly)
	case *array.Date64:
		return a.Value(i).ToTime().UTC().Format(time.DateOnly)
	}
	return FormatValue(ValueAt(arr, i))
}

// Float64Values extracts a numeric or boolean array as float64 values with a validity mask.
func Float64Values(arr arrow.Array) ([]float64, []bool, error) {
	n := arr.Len()
	values := make([]float64, n)
	valid := make([]bool, n)
	switch a := arr.(type) {
	case *array.Float64:
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = a.Value(i)
			}
		}
	case *array.Int64:
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = float64(a.Value(i))
			}
		}
	case *array.Null:
	default:
		if !IsNumeric(arr.DataType()) && arr.DataType().ID() != arrow.BOOL {
			return nil, nil, fmt.Errorf("expected numeric array, got %s", arr.DataType())
		}
		for i := 0; i < n; i++ {
			if valid[i] = arr.IsValid(i); valid[i] {
				values[i] = toFloat(ValueAt(arr, i))
			}
		}
	}
	return values, valid, nil
}

// Int64Values extracts an integer or boolean array as int64 values with a validity mask.
func Int64Values(arr arrow.Array) ([]int64, []bool, error) {
	n := arr.Len()
	values := make([]int64, n)
	valid := make([]bool, n)
	switch a := arr.(type) {
	case *array.Int64:
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = a.Value(i)
			}
		}
	case *array.Boolean:
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] && a.Value(i) {
				values[i] = 1
			}
		}
	case *array.Null:
	default:
		if !IsInteger(arr.DataType()) {
			return nil, nil, fmt.Errorf("expected integer array, got %s", arr.DataType())
		}
		for i := 0; i < n; i++ {
			if valid[i] = arr.IsValid(i); valid[i] {
				values[i] = ValueAt(arr, i).(int64)
			}
		}
	}
	return values, valid, nil
}

// EpochMillis extracts a timestamp or date array as milliseconds since the Unix epoch.
func EpochMillis(arr arrow.Array) ([]int64, []bool, error) {
	n := arr.Len()
	values := make([]int64, n)
	valid := make([]bool, n)
	switch a := arr.(type) {
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = toMillis(int64(a.Value(i)), unit)
			}
		}
	case *array.Date32:
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = int64(a.Value(i)) * millisPerDay
			}
		}
	case *array.Date64:
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = int64(a.Value(i))
			}
		}
	case *array.Null:
	default:
		return nil, nil, fmt.Errorf("expected temporal array, got %s", arr.DataType())
	}
	return values, valid, nil
}

func toMillis(v int64, unit arrow.TimeUnit) int64 {
	switch unit {
	case arrow.Second:
		return v * 1000
	case arrow.Microsecond:
		return floorDiv(v, 1000)
	case arrow.Nanosecond:
		return floorDiv(v, 1_000_000)
	default:
		return v
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// StringValues extracts a string array, or formats any other array as text.
func StringValues(arr arrow.Array) ([]string, []bool) {
	n := arr.Len()
	values := make([]string, n)
	valid := make([]bool, n)
	if a, ok := arr.(*array.String); ok {
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = a.Value(i)
			}
		}
		return values, valid
	}
	for i := 0; i < n; i++ {
		if valid[i] = arr.IsValid(i); valid[i] {
			values[i] = FormatAt(arr, i)
		}
	}
	return values, valid
}

// BoolValues extracts a boolean array with a validity mask.
func BoolValues(arr arrow.Array) ([]bool, []bool, error) {
	n := arr.Len()
	values := make([]bool, n)
	valid := make([]bool, n)
	switch a := arr.(type) {
	case *array.Boolean:
		for i := 0; i < n; i++ {
			if valid[i] = a.IsValid(i); valid[i] {
				values[i] = a.Value(i)
			}
		}
	case *array.Null:
	default:
		return nil, nil, fmt.Errorf("expected boolean array, got %s", arr.DataType())
	}
	return values, valid, nil
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case float64:
		return val
	case bool:
		if val {
			return 1
		}
		return 0
	}
	return math.NaN()
}

// ParseBool accepts the spellings CSV and JSON producers commonly emit.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	}
	return strconv.ParseBool(s)
}
