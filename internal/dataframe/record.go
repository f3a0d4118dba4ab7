package dataframe

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/series"
)

// FromRecord creates a DataFrame from the columns of rec, normalizing
// their types: small unsigned integers widen to int64, timestamps convert
// to milliseconds in UTC, date64 becomes date32 and large strings become
// strings. The record is not released.
func FromRecord(rec arrow.Record, mem memory.Allocator) (*DataFrame, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	cols := make([]ISeries, 0, rec.NumCols())
	for i, field := range rec.Schema().Fields() {
		arr, err := normalize(rec.Column(i), mem)
		if err != nil {
			releaseAll(cols)
			return nil, dferrors.NewUnsupportedTypeError("Read", field.Name, field.Type.String())
		}
		cols = append(cols, series.FromArray(field.Name, arr))
	}
	df, err := NewChecked(mem, cols...)
	if err != nil {
		releaseAll(cols)
		return nil, err
	}
	return df, nil
}

func normalize(arr arrow.Array, mem memory.Allocator) (arrow.Array, error) {
	var target arrow.DataType
	switch dt := arr.DataType().(type) {
	case *arrow.Uint8Type, *arrow.Uint16Type, *arrow.Uint32Type:
		target = arrow.PrimitiveTypes.Int64
	case *arrow.TimestampType:
		if dt.Unit != arrow.Millisecond || dt.TimeZone != "UTC" {
			target = series.TimestampType
		}
	case *arrow.Date64Type:
		target = arrow.FixedWidthTypes.Date32
	case *arrow.LargeStringType:
		target = arrow.BinaryTypes.String
	case *arrow.StringType, *arrow.BooleanType, *arrow.NullType,
		*arrow.Int8Type, *arrow.Int16Type, *arrow.Int32Type, *arrow.Int64Type, *arrow.Uint64Type,
		*arrow.Float32Type, *arrow.Float64Type, *arrow.Date32Type:
	default:
		return nil, dferrors.NewUnsupportedTypeError("Read", "", dt.String())
	}
	if target == nil {
		arr.Retain()
		return arr, nil
	}
	return series.Cast(arr, target, true, mem)
}

// ToRecord returns the frame as an Arrow record. The caller must release it.
func (df *DataFrame) ToRecord() arrow.Record {
	cols := make([]arrow.Array, len(df.order))
	for i, name := range df.order {
		cols[i] = df.columns[name].Array()
	}
	defer releaseArrays(cols)
	return array.NewRecord(df.Schema(), cols, int64(df.Len()))
}
