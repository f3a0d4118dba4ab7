package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paveg/pipeframe/internal/dataframe"
)

var parquetCodecs = map[string]compress.Compression{
	"snappy": compress.Codecs.Snappy,
	"none":   compress.Codecs.Uncompressed,
	"gzip":   compress.Codecs.Gzip,
	"lz4":    compress.Codecs.Lz4Raw,
	"zstd":   compress.Codecs.Zstd,
}

// ParquetReader reads Parquet data and converts it to DataFrames
type ParquetReader struct {
	reader io.Reader
	mem    memory.Allocator
}

// NewParquetReader creates a new Parquet reader
func NewParquetReader(reader io.Reader, mem memory.Allocator) *ParquetReader {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &ParquetReader{reader: reader, mem: mem}
}

// Read reads the whole file. Parquet needs random access, so the input is
// buffered in memory first.
func (r *ParquetReader) Read(ctx context.Context) (*dataframe.DataFrame, error) {
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data),
		file.WithReadProps(parquet.NewReaderProperties(r.mem)))
	if err != nil {
		return nil, fmt.Errorf("creating parquet file reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, r.mem)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	defer table.Release()

	return tableFrame(table, r.mem)
}

// tableFrame converts a possibly chunked table into one frame.
func tableFrame(table arrow.Table, mem memory.Allocator) (*dataframe.DataFrame, error) {
	tr := array.NewTableReader(table, -1)
	defer tr.Release()

	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for tr.Next() {
		rec := tr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := tr.Err(); err != nil {
		return nil, err
	}
	return recordsFrame(table.Schema(), recs, mem)
}

// writeOnly hides Close, which the Parquet file writer calls on its sink.
type writeOnly struct{ io.Writer }

// ParquetWriter writes DataFrames to Parquet format
type ParquetWriter struct {
	writer      io.Writer
	compression string
}

// NewParquetWriter creates a new Parquet writer. An empty compression
// selects snappy.
func NewParquetWriter(writer io.Writer, compression string) *ParquetWriter {
	return &ParquetWriter{writer: writer, compression: compression}
}

// Write writes the DataFrame as a single row group.
func (w *ParquetWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	name, err := parseCompression(FormatParquet, w.compression, "snappy", "none", "gzip", "lz4", "zstd")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := df.ToRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(parquetCodecs[name]),
		parquet.WithAllocator(df.Allocator()),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(df.Allocator()),
	)

	writer, err := pqarrow.NewFileWriter(rec.Schema(), writeOnly{w.writer}, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing file writer: %w", err)
	}
	return nil
}
