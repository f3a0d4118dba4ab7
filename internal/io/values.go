package io

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/pipeframe/internal/dataframe"
	"github.com/paveg/pipeframe/internal/series"
)

// columnSet accumulates row-oriented values by column, keeping the order
// in which column names first appear.
type columnSet struct {
	names  []string
	index  map[string]int
	values [][]any
	rows   int
}

func newColumnSet() *columnSet {
	return &columnSet{index: make(map[string]int)}
}

// set stores v for the current row. Columns first seen late are padded
// with nulls for the earlier rows.
func (c *columnSet) set(name string, v any) {
	i, ok := c.index[name]
	if !ok {
		i = len(c.names)
		c.index[name] = i
		c.names = append(c.names, name)
		c.values = append(c.values, make([]any, c.rows, c.rows+1))
	}
	col := c.values[i]
	if len(col) > c.rows {
		col[c.rows] = v
		return
	}
	c.values[i] = append(col, v)
}

// next closes the current row, padding columns it did not mention.
func (c *columnSet) next() {
	c.rows++
	for i, col := range c.values {
		if len(col) < c.rows {
			c.values[i] = append(col, nil)
		}
	}
}

func (c *columnSet) frame(mem memory.Allocator) (*dataframe.DataFrame, error) {
	cols := make([]dataframe.ISeries, 0, len(c.names))
	for i, name := range c.names {
		s, err := buildColumn(name, c.values[i], mem)
		if err != nil {
			releaseSeries(cols)
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		cols = append(cols, s)
	}
	return newFrame(mem, cols)
}

// newFrame builds a frame from cols, releasing them if they do not fit
// together.
func newFrame(mem memory.Allocator, cols []dataframe.ISeries) (*dataframe.DataFrame, error) {
	df, err := dataframe.NewChecked(mem, cols...)
	if err != nil {
		releaseSeries(cols)
		return nil, err
	}
	return df, nil
}

// checkEvery is how many rows row-oriented writers go between
// cancellation checks.
const checkEvery = 4096

// columnArrays returns a reference to every column of df in order.
func columnArrays(df *dataframe.DataFrame) []arrow.Array {
	names := df.Columns()
	arrs := make([]arrow.Array, len(names))
	for i, name := range names {
		s, _ := df.Column(name)
		arrs[i] = s.Array()
	}
	return arrs
}

func releaseArrays(arrs []arrow.Array) {
	for _, a := range arrs {
		a.Release()
	}
}

func releaseSeries(cols []dataframe.ISeries) {
	for _, c := range cols {
		c.Release()
	}
}

// inferType picks the narrowest type holding every non-null value:
// integers widen to float64 when mixed with floats, anything else mixed
// becomes utf8.
func inferType(values []any) arrow.DataType {
	var ints, floats, bools, times, seen int
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case int64:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		case time.Time:
			times++
		}
		seen++
	}
	switch {
	case seen == 0:
		return arrow.BinaryTypes.String
	case ints == seen:
		return arrow.PrimitiveTypes.Int64
	case ints+floats == seen:
		return arrow.PrimitiveTypes.Float64
	case bools == seen:
		return arrow.FixedWidthTypes.Boolean
	case times == seen:
		return series.TimestampType
	}
	return arrow.BinaryTypes.String
}

func buildColumn(name string, values []any, mem memory.Allocator) (*series.Series, error) {
	return buildTypedColumn(name, inferType(values), values, mem)
}

func buildTypedColumn(name string, dt arrow.DataType, values []any, mem memory.Allocator) (*series.Series, error) {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(len(values))
	for _, v := range values {
		if err := series.AppendValue(b, v); err != nil {
			return nil, err
		}
	}
	return series.FromArray(name, b.NewArray()), nil
}

// recordsFrame converts decoded record batches into one frame. With no
// batches the frame is empty but keeps schema.
func recordsFrame(schema *arrow.Schema, recs []arrow.Record, mem memory.Allocator) (*dataframe.DataFrame, error) {
	if len(recs) == 0 {
		cols := make([]arrow.Array, schema.NumFields())
		for i, f := range schema.Fields() {
			cols[i] = array.MakeArrayOfNull(mem, f.Type, 0)
		}
		rec := array.NewRecord(schema, cols, 0)
		for _, c := range cols {
			c.Release()
		}
		defer rec.Release()
		return dataframe.FromRecord(rec, mem)
	}

	frames := make([]*dataframe.DataFrame, 0, len(recs))
	defer func() {
		for _, f := range frames {
			f.Release()
		}
	}()
	for _, rec := range recs {
		df, err := dataframe.FromRecord(rec, mem)
		if err != nil {
			return nil, err
		}
		frames = append(frames, df)
	}
	if len(frames) == 1 {
		return frames[0].Clone(), nil
	}
	return frames[0].Concat(frames[1:]...)
}
