package io

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/linkedin/goavro/v2"
	"github.com/paveg/pipeframe/internal/dataframe"
	"github.com/paveg/pipeframe/internal/series"
)

// avroBatch is how many rows are appended to an OCF block at once.
const avroBatch = 1024

// AvroReader reads Avro object container files.
type AvroReader struct {
	reader io.Reader
	mem    memory.Allocator
}

// NewAvroReader creates a reader for Avro object container files
func NewAvroReader(reader io.Reader, mem memory.Allocator) *AvroReader {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &AvroReader{reader: reader, mem: mem}
}

type avroSchema struct {
	Type   any         `json:"type"`
	Fields []avroField `json:"fields"`
}

type avroField struct {
	Name string `json:"name"`
	Type any    `json:"type"`
}

// Read reads every record of the file. The writer schema must be a
// record; its fields become the columns, in order. Primitive and
// nullable primitive fields keep their type; anything else is typed from
// the decoded values.
func (r *AvroReader) Read(ctx context.Context) (*dataframe.DataFrame, error) {
	ocfr, err := goavro.NewOCFReader(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading Avro OCF: %w", err)
	}

	var schema avroSchema
	if err := jsonAPI.UnmarshalFromString(ocfr.Codec().Schema(), &schema); err != nil {
		return nil, fmt.Errorf("parsing Avro schema: %w", err)
	}
	if schema.Type != "record" {
		return nil, fmt.Errorf("avro schema has type %v, want record", schema.Type)
	}

	values := make([][]any, len(schema.Fields))
	for row := 0; ocfr.Scan(); row++ {
		if row%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		datum, err := ocfr.Read()
		if err != nil {
			return nil, fmt.Errorf("reading Avro record %d: %w", row, err)
		}
		record, ok := datum.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("avro record %d is %T, want a record", row, datum)
		}
		for i, f := range schema.Fields {
			values[i] = append(values[i], avroValue(record[f.Name]))
		}
	}
	if err := ocfr.Err(); err != nil {
		return nil, fmt.Errorf("reading Avro OCF: %w", err)
	}

	cols := make([]dataframe.ISeries, 0, len(schema.Fields))
	for i, f := range schema.Fields {
		dt := avroArrowType(f.Type)
		if dt == nil {
			dt = inferType(values[i])
		}
		s, err := buildTypedColumn(f.Name, dt, values[i], r.mem)
		if err != nil {
			releaseSeries(cols)
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		cols = append(cols, s)
	}
	return newFrame(r.mem, cols)
}

// avroValue converts a decoded Avro datum to the scalars columns are
// built from. Unions decode as a single-entry map keyed by branch name.
func avroValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if len(val) == 1 {
			for _, inner := range val {
				if _, nested := inner.(map[string]any); !nested {
					return avroValue(inner)
				}
			}
		}
		text, _ := jsonAPI.MarshalToString(val)
		return text
	case int32:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	case string:
		return val
	case bool:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC()
	default:
		text, _ := jsonAPI.MarshalToString(val)
		return text
	}
}

// avroArrowType maps a primitive or ["null", primitive] field type to a
// column type, or nil if it has no direct equivalent.
func avroArrowType(t any) arrow.DataType {
	switch typ := t.(type) {
	case string:
		switch typ {
		case "int":
			return arrow.PrimitiveTypes.Int32
		case "long":
			return arrow.PrimitiveTypes.Int64
		case "float":
			return arrow.PrimitiveTypes.Float32
		case "double":
			return arrow.PrimitiveTypes.Float64
		case "boolean":
			return arrow.FixedWidthTypes.Boolean
		case "string", "bytes":
			return arrow.BinaryTypes.String
		}
	case map[string]any:
		switch typ["logicalType"] {
		case "timestamp-millis", "timestamp-micros":
			return series.TimestampType
		case "date":
			return arrow.FixedWidthTypes.Date32
		}
		if _, logical := typ["logicalType"]; !logical {
			return avroArrowType(typ["type"])
		}
	case []any:
		var branch any
		for _, b := range typ {
			if b == "null" {
				continue
			}
			if branch != nil {
				return nil
			}
			branch = b
		}
		if branch != nil {
			return avroArrowType(branch)
		}
	}
	return nil
}

// AvroWriter writes Avro object container files.
type AvroWriter struct {
	writer io.Writer
	codec  string
}

// NewAvroWriter creates an Avro writer. The codec is null, deflate or
// snappy; empty means null.
func NewAvroWriter(writer io.Writer, codec string) *AvroWriter {
	return &AvroWriter{writer: writer, codec: codec}
}

// avroBranch is the Avro type of a column and the union branch name its
// values are tagged with.
type avroBranch struct {
	schema any
	name   string
}

func avroBranchFor(dt arrow.DataType) (avroBranch, error) {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32:
		return avroBranch{"int", "int"}, nil
	case arrow.INT64, arrow.UINT64:
		return avroBranch{"long", "long"}, nil
	case arrow.FLOAT32:
		return avroBranch{"float", "float"}, nil
	case arrow.FLOAT64:
		return avroBranch{"double", "double"}, nil
	case arrow.BOOL:
		return avroBranch{"boolean", "boolean"}, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return avroBranch{"string", "string"}, nil
	case arrow.TIMESTAMP:
		return avroBranch{map[string]any{"type": "long", "logicalType": "timestamp-millis"}, "long.timestamp-millis"}, nil
	case arrow.DATE32, arrow.DATE64:
		return avroBranch{map[string]any{"type": "int", "logicalType": "date"}, "int.date"}, nil
	case arrow.NULL:
		return avroBranch{"null", "null"}, nil
	}
	return avroBranch{}, fmt.Errorf("no Avro type for %s", dt)
}

// Write writes every row as a record named Row. Columns become nullable
// fields, so names must be valid Avro names.
func (w *AvroWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	codec, err := parseCompression(FormatAvro, w.codec,
		goavro.CompressionNullLabel, goavro.CompressionDeflateLabel, goavro.CompressionSnappyLabel)
	if err != nil {
		return err
	}

	names := df.Columns()
	arrs := columnArrays(df)
	defer releaseArrays(arrs)

	branches := make([]avroBranch, len(arrs))
	fields := make([]map[string]any, len(arrs))
	for i, arr := range arrs {
		b, err := avroBranchFor(arr.DataType())
		if err != nil {
			return fmt.Errorf("column %s: %w", names[i], err)
		}
		branches[i] = b
		if b.name == "null" {
			fields[i] = map[string]any{"name": names[i], "type": "null", "default": nil}
			continue
		}
		fields[i] = map[string]any{"name": names[i], "type": []any{"null", b.schema}, "default": nil}
	}
	schema, err := jsonAPI.MarshalToString(map[string]any{
		"type":      "record",
		"name":      "Row",
		"namespace": "pipeframe",
		"fields":    fields,
	})
	if err != nil {
		return fmt.Errorf("building Avro schema: %w", err)
	}

	ocfw, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w.writer,
		Schema:          schema,
		CompressionName: codec,
	})
	if err != nil {
		return fmt.Errorf("creating Avro writer: %w", err)
	}

	batch := make([]any, 0, avroBatch)
	for row := range df.Len() {
		if row%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		record := make(map[string]any, len(arrs))
		for i, arr := range arrs {
			record[names[i]] = avroDatum(branches[i], arr, row)
		}
		batch = append(batch, record)
		if len(batch) == avroBatch {
			if err := ocfw.Append(batch); err != nil {
				return fmt.Errorf("writing Avro records: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := ocfw.Append(batch); err != nil {
			return fmt.Errorf("writing Avro records: %w", err)
		}
	}
	return nil
}

func avroDatum(b avroBranch, arr arrow.Array, i int) any {
	v := series.ValueAt(arr, i)
	if v == nil || b.name == "null" {
		return nil
	}
	switch b.name {
	case "int":
		v = int32(v.(int64))
	case "float":
		v = float32(v.(float64))
	}
	return goavro.Union(b.name, v)
}
