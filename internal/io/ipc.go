package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/pipeframe/internal/dataframe"
)

// IPCReader reads the Arrow IPC file format.
type IPCReader struct {
	reader io.Reader
	mem    memory.Allocator
}

// NewIPCReader creates a reader for Arrow IPC files
func NewIPCReader(reader io.Reader, mem memory.Allocator) *IPCReader {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &IPCReader{reader: reader, mem: mem}
}

// Read reads every record batch of the file into one frame.
func (r *IPCReader) Read(ctx context.Context) (*dataframe.DataFrame, error) {
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	fr, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(r.mem))
	if err != nil {
		return nil, fmt.Errorf("opening IPC file: %w", err)
	}
	defer fr.Close()

	recs := make([]arrow.Record, 0, fr.NumRecords())
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for i := range fr.NumRecords() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := fr.RecordAt(i)
		if err != nil {
			return nil, fmt.Errorf("reading record batch %d: %w", i, err)
		}
		recs = append(recs, rec)
	}
	return recordsFrame(fr.Schema(), recs, r.mem)
}

// IPCWriter writes the Arrow IPC file format.
type IPCWriter struct {
	writer      io.Writer
	compression string
}

// NewIPCWriter creates an IPC writer. Compression is none, lz4 or zstd;
// empty means none.
func NewIPCWriter(writer io.Writer, compression string) *IPCWriter {
	return &IPCWriter{writer: writer, compression: compression}
}

// Write writes df as a single record batch.
func (w *IPCWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	name, err := parseCompression(FormatIPC, w.compression, "none", "lz4", "zstd")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := df.ToRecord()
	defer rec.Release()

	opts := []ipc.Option{ipc.WithSchema(rec.Schema()), ipc.WithAllocator(df.Allocator())}
	switch name {
	case "lz4":
		opts = append(opts, ipc.WithLZ4())
	case "zstd":
		opts = append(opts, ipc.WithZstd())
	}

	fw, err := ipc.NewFileWriter(w.writer, opts...)
	if err != nil {
		return fmt.Errorf("creating IPC writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("writing record batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing IPC writer: %w", err)
	}
	return nil
}
