package io

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	jsoniter "github.com/json-iterator/go"
	"github.com/paveg/pipeframe/internal/dataframe"
	"github.com/paveg/pipeframe/internal/series"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONFormat selects between a JSON array and JSON Lines.
type JSONFormat int

const (
	// JSONArray is a single array of objects.
	JSONArray JSONFormat = iota
	// JSONLines is one object per line.
	JSONLines
)

// maxLineSize bounds a single JSON Lines record.
const maxLineSize = 16 << 20

// JSONOptions configures JSON reading and writing.
type JSONOptions struct {
	Format JSONFormat
}

// JSONReader reads JSON data and converts it to DataFrames
type JSONReader struct {
	reader  io.Reader
	options JSONOptions
	mem     memory.Allocator
}

// NewJSONReader creates a new JSON reader with the specified options
func NewJSONReader(reader io.Reader, options JSONOptions, mem memory.Allocator) *JSONReader {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &JSONReader{reader: reader, options: options, mem: mem}
}

// Read decodes every object into a row. Columns are ordered by first
// appearance and keys missing from an object are null. Integral numbers
// become int64 unless the column also holds fractions; nested arrays and
// objects are kept as their JSON text.
func (r *JSONReader) Read(ctx context.Context) (*dataframe.DataFrame, error) {
	cols := newColumnSet()
	var err error
	switch r.options.Format {
	case JSONArray:
		err = r.readArray(ctx, cols)
	case JSONLines:
		err = r.readLines(ctx, cols)
	default:
		return nil, fmt.Errorf("unsupported JSON format: %d", r.options.Format)
	}
	if err != nil {
		return nil, err
	}
	return cols.frame(r.mem)
}

func (r *JSONReader) readArray(ctx context.Context, cols *columnSet) error {
	iter := jsoniter.Parse(jsonAPI, r.reader, 4096)
	if next := iter.WhatIsNext(); next != jsoniter.ArrayValue {
		if iter.Error != nil && iter.Error != io.EOF {
			return fmt.Errorf("parsing JSON: %w", iter.Error)
		}
		return fmt.Errorf("parsing JSON: expected an array of objects")
	}
	for row := 0; iter.ReadArray(); row++ {
		if row%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := readObject(iter, cols); err != nil {
			return fmt.Errorf("parsing JSON element %d: %w", row, err)
		}
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return fmt.Errorf("parsing JSON: %w", iter.Error)
	}
	return nil
}

func (r *JSONReader) readLines(ctx context.Context, cols *columnSet) error {
	scanner := bufio.NewScanner(r.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	iter := jsoniter.ParseBytes(jsonAPI, nil)

	for line := 1; scanner.Scan(); line++ {
		if line%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		iter.ResetBytes(text)
		if err := readObject(iter, cols); err != nil {
			return fmt.Errorf("parsing JSON line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading JSON lines: %w", err)
	}
	return nil
}

// readObject reads one object as the next row of cols.
func readObject(iter *jsoniter.Iterator, cols *columnSet) error {
	if next := iter.WhatIsNext(); next != jsoniter.ObjectValue {
		if iter.Error != nil && iter.Error != io.EOF {
			return iter.Error
		}
		return fmt.Errorf("expected an object")
	}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		cols.set(field, readValue(it))
		return it.Error == nil
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return iter.Error
	}
	cols.next()
	return nil
}

func readValue(iter *jsoniter.Iterator) any {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		return nil
	case jsoniter.BoolValue:
		return iter.ReadBool()
	case jsoniter.StringValue:
		return iter.ReadString()
	case jsoniter.NumberValue:
		n := iter.ReadNumber()
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return string(iter.SkipAndReturnBytes())
	}
}

// JSONWriter writes DataFrames as JSON
type JSONWriter struct {
	writer  io.Writer
	options JSONOptions
}

// NewJSONWriter creates a new JSON writer with the specified options
func NewJSONWriter(writer io.Writer, options JSONOptions) *JSONWriter {
	return &JSONWriter{writer: writer, options: options}
}

// Write writes one object per row with keys in column order. Nulls and
// non-finite floats are written as null, dates as YYYY-MM-DD and
// timestamps in RFC 3339.
func (w *JSONWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	if w.options.Format != JSONArray && w.options.Format != JSONLines {
		return fmt.Errorf("unsupported JSON format: %d", w.options.Format)
	}
	names := df.Columns()
	arrs := columnArrays(df)
	defer releaseArrays(arrs)

	stream := jsoniter.NewStream(jsonAPI, w.writer, 4096)
	if w.options.Format == JSONArray {
		stream.WriteArrayStart()
	}
	for row := range df.Len() {
		if row%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if row > 0 && w.options.Format == JSONArray {
			stream.WriteMore()
		}
		stream.WriteObjectStart()
		for i, arr := range arrs {
			if i > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(names[i])
			writeValue(stream, arr, row)
		}
		stream.WriteObjectEnd()
		if w.options.Format == JSONLines {
			stream.WriteRaw("\n")
		}
		if stream.Buffered() > 64*1024 {
			if err := stream.Flush(); err != nil {
				return fmt.Errorf("writing JSON: %w", err)
			}
		}
	}
	if w.options.Format == JSONArray {
		stream.WriteArrayEnd()
		stream.WriteRaw("\n")
	}
	if stream.Error != nil {
		return fmt.Errorf("writing JSON: %w", stream.Error)
	}
	return stream.Flush()
}

func writeValue(stream *jsoniter.Stream, arr arrow.Array, i int) {
	if arr.IsNull(i) {
		stream.WriteNil()
		return
	}
	switch a := arr.(type) {
	case *array.Date32, *array.Date64, *array.Timestamp:
		stream.WriteString(series.FormatAt(arr, i))
		return
	case *array.Float32:
		writeFloat(stream, float64(a.Value(i)))
		return
	case *array.Float64:
		writeFloat(stream, a.Value(i))
		return
	}
	switch v := series.ValueAt(arr, i).(type) {
	case int64:
		stream.WriteInt64(v)
	case bool:
		stream.WriteBool(v)
	case string:
		stream.WriteString(v)
	default:
		stream.WriteString(series.FormatAt(arr, i))
	}
}

func writeFloat(stream *jsoniter.Stream, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		stream.WriteNil()
		return
	}
	stream.WriteFloat64(f)
}
