// Package io reads input frames and writes results.
//
// Supported formats are CSV, JSON (an array of objects), JSON Lines,
// Parquet, the Arrow IPC file format and Avro object container files.
// Readers infer column types where the format carries none; every reader
// produces frames with the normalized column types of the dataframe package.
//
// Memory management: frames returned by Read and Decode are owned by the
// caller and must be released.
package io

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/pipeframe/internal/dataframe"
)

// Format names a serialization format.
type Format string

// Supported formats.
const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
	FormatIPC     Format = "ipc"
	FormatAvro    Format = "avro"
)

// Output destinations.
const (
	DestinationFile   = "file"
	DestinationStdout = "stdout"
	DestinationStderr = "stderr"
)

var extensions = map[string]Format{
	".csv":     FormatCSV,
	".tsv":     FormatCSV,
	".json":    FormatJSON,
	".jsonl":   FormatJSONL,
	".ndjson":  FormatJSONL,
	".parquet": FormatParquet,
	".pq":      FormatParquet,
	".arrow":   FormatIPC,
	".ipc":     FormatIPC,
	".feather": FormatIPC,
	".avro":    FormatAvro,
}

// ParseFormat validates a format name. Names are case-insensitive and
// "ndjson" is accepted for JSON Lines.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case FormatCSV, FormatJSON, FormatJSONL, FormatParquet, FormatIPC, FormatAvro:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	case "arrow", "feather":
		return FormatIPC, nil
	}
	return "", fmt.Errorf("unknown format %q", name)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("cannot infer format of %q from its extension", path)
}

// resolveFormat returns the explicit format if set, otherwise the one
// implied by path.
func resolveFormat(name, path string) (Format, error) {
	if name != "" {
		return ParseFormat(name)
	}
	return FormatFromPath(path)
}

// DataReader reads a whole frame.
type DataReader interface {
	Read(ctx context.Context) (*dataframe.DataFrame, error)
}

// DataWriter writes a whole frame.
type DataWriter interface {
	Write(ctx context.Context, df *dataframe.DataFrame) error
}

// InputOptions locates and describes an input.
type InputOptions struct {
	Path string
	// Format overrides the extension of Path.
	Format string
	// Delimiter separates CSV fields. Zero means comma, or tab for .tsv.
	Delimiter rune
	// HasHeader reports whether the first CSV record names the columns.
	HasHeader bool
	Allocator memory.Allocator
}

// OutputOptions locates and describes an output.
type OutputOptions struct {
	// Destination is file, stdout or stderr. Empty means file.
	Destination string
	Path        string
	// Format overrides the extension of Path. Console destinations
	// default to CSV.
	Format string
	// Compression applies to Parquet (none, snappy, gzip, lz4, zstd),
	// IPC (none, lz4, zstd) and Avro (null, deflate, snappy).
	Compression string
	Delimiter   rune
	// Stdout and Stderr replace the process streams when set.
	Stdout, Stderr io.Writer
}

// CSVOptions configures CSV reading and writing.
type CSVOptions struct {
	Delimiter rune
	Header    bool
}

// DefaultCSVOptions returns comma separated values with a header row.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Delimiter: ',', Header: true}
}

// Read opens opts.Path and decodes it.
func Read(ctx context.Context, opts InputOptions) (*dataframe.DataFrame, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("input path is required")
	}
	format, err := resolveFormat(opts.Format, opts.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	if opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(opts.Path), ".tsv") {
		opts.Delimiter = '\t'
	}
	df, err := Decode(ctx, f, format, opts)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", opts.Path, err)
	}
	return df, nil
}

// Decode reads a frame in the given format from r. Only the CSV and
// allocator fields of opts are used.
func Decode(ctx context.Context, r io.Reader, format Format, opts InputOptions) (*dataframe.DataFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mem := opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var reader DataReader
	switch format {
	case FormatCSV:
		csvOpts := CSVOptions{Delimiter: opts.Delimiter, Header: opts.HasHeader}
		if csvOpts.Delimiter == 0 {
			csvOpts.Delimiter = ','
		}
		reader = NewCSVReader(r, csvOpts, mem)
	case FormatJSON:
		reader = NewJSONReader(r, JSONOptions{Format: JSONArray}, mem)
	case FormatJSONL:
		reader = NewJSONReader(r, JSONOptions{Format: JSONLines}, mem)
	case FormatParquet:
		reader = NewParquetReader(r, mem)
	case FormatIPC:
		reader = NewIPCReader(r, mem)
	case FormatAvro:
		reader = NewAvroReader(r, mem)
	default:
		return nil, fmt.Errorf("unsupported input format %q", format)
	}
	return reader.Read(ctx)
}

// Write encodes df to the destination described by opts.
func Write(ctx context.Context, df *dataframe.DataFrame, opts OutputOptions) error {
	var (
		w      io.Writer
		format Format
		err    error
	)
	switch strings.ToLower(opts.Destination) {
	case DestinationStdout, DestinationStderr:
		w = console(opts.Stdout, os.Stdout)
		if strings.EqualFold(opts.Destination, DestinationStderr) {
			w = console(opts.Stderr, os.Stderr)
		}
		format = FormatCSV
		if opts.Format != "" {
			if format, err = ParseFormat(opts.Format); err != nil {
				return err
			}
		}
		return Encode(ctx, w, df, format, opts)
	case "", DestinationFile:
	default:
		return fmt.Errorf("unknown output destination %q", opts.Destination)
	}

	if opts.Path == "" {
		return fmt.Errorf("output path is required for a file destination")
	}
	if format, err = resolveFormat(opts.Format, opts.Path); err != nil {
		return err
	}
	if opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(opts.Path), ".tsv") {
		opts.Delimiter = '\t'
	}
	f, err := os.Create(opts.Path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := Encode(ctx, f, df, format, opts); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", opts.Path, err)
	}
	return f.Close()
}

func console(w io.Writer, fallback *os.File) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// Encode writes df to w in the given format.
func Encode(ctx context.Context, w io.Writer, df *dataframe.DataFrame, format Format, opts OutputOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var writer DataWriter
	switch format {
	case FormatCSV:
		csvOpts := CSVOptions{Delimiter: opts.Delimiter, Header: true}
		if csvOpts.Delimiter == 0 {
			csvOpts.Delimiter = ','
		}
		writer = NewCSVWriter(w, csvOpts)
	case FormatJSON:
		writer = NewJSONWriter(w, JSONOptions{Format: JSONArray})
	case FormatJSONL:
		writer = NewJSONWriter(w, JSONOptions{Format: JSONLines})
	case FormatParquet:
		writer = NewParquetWriter(w, opts.Compression)
	case FormatIPC:
		writer = NewIPCWriter(w, opts.Compression)
	case FormatAvro:
		writer = NewAvroWriter(w, opts.Compression)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
	return writer.Write(ctx, df)
}

// parseCompression matches name against the codecs a format supports.
// Empty selects the first one.
func parseCompression(format Format, name string, supported ...string) (string, error) {
	if name == "" {
		return supported[0], nil
	}
	name = strings.ToLower(name)
	for _, s := range supported {
		if s == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%s does not support compression %q, want one of %s",
		format, name, strings.Join(supported, ", "))
}
