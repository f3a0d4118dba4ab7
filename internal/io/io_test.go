package io_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paveg/pipeframe/internal/io"
	"github.com/paveg/pipeframe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want io.Format
	}{
		{"logs.csv", io.FormatCSV},
		{"logs.TSV", io.FormatCSV},
		{"logs.json", io.FormatJSON},
		{"logs.jsonl", io.FormatJSONL},
		{"logs.ndjson", io.FormatJSONL},
		{"out/result.parquet", io.FormatParquet},
		{"result.arrow", io.FormatIPC},
		{"result.avro", io.FormatAvro},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := io.FormatFromPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := io.FormatFromPath("logs.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot infer format")
}

func TestParseFormat(t *testing.T) {
	f, err := io.ParseFormat(" JSONL ")
	require.NoError(t, err)
	assert.Equal(t, io.FormatJSONL, f)

	f, err = io.ParseFormat("feather")
	require.NoError(t, err)
	assert.Equal(t, io.FormatIPC, f)

	_, err = io.ParseFormat("xlsx")
	require.EqualError(t, err, `unknown format "xlsx"`)
}

func TestReadWriteFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"out.csv", "out.tsv", "out.json", "out.jsonl", "out.parquet", "out.arrow", "out.avro"} {
		t.Run(name, func(t *testing.T) {
			df := testutil.CreateRequestLog(nil)
			defer df.Release()

			path := filepath.Join(dir, name)
			require.NoError(t, io.Write(ctx, df, io.OutputOptions{Path: path}))

			back, err := io.Read(ctx, io.InputOptions{Path: path, HasHeader: true})
			require.NoError(t, err)
			defer back.Release()

			assert.Equal(t, df.Columns(), back.Columns())
			assert.Equal(t, df.Len(), back.Len())
			assert.Equal(t, testutil.ColumnValues(t, df, "status_code"), testutil.ColumnValues(t, back, "status_code"))
		})
	}

	t.Run("tsv uses tabs", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "out.tsv"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "request_id\tendpoint\t")
	})

	t.Run("explicit format overrides the extension", func(t *testing.T) {
		mem := testutil.SetupMemoryTest(t)
		defer mem.Release()

		path := filepath.Join(dir, "lines.txt")
		require.NoError(t, os.WriteFile(path, []byte("{\"a\": 1}\n{\"a\": 2}\n"), 0o600))

		df, err := io.Read(ctx, io.InputOptions{Path: path, Format: "jsonl", Allocator: mem.Allocator})
		require.NoError(t, err)
		defer df.Release()
		testutil.AssertColumnValues(t, df, "a", int64(1), int64(2))
	})
}

func TestReadWriteErrors(t *testing.T) {
	ctx := context.Background()

	df := testutil.CreateRequestLog(nil)
	defer df.Release()

	_, err := io.Read(ctx, io.InputOptions{})
	require.EqualError(t, err, "input path is required")

	_, err = io.Read(ctx, io.InputOptions{Path: filepath.Join(t.TempDir(), "missing.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening input")

	err = io.Write(ctx, df, io.OutputOptions{Destination: "s3"})
	require.EqualError(t, err, `unknown output destination "s3"`)

	err = io.Write(ctx, df, io.OutputOptions{Destination: io.DestinationFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output path is required")

	err = io.Write(ctx, df, io.OutputOptions{Path: filepath.Join(t.TempDir(), "out.xlsx")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot infer format")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = io.Write(cancelled, df, io.OutputOptions{Path: filepath.Join(t.TempDir(), "out.csv")})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteConsole(t *testing.T) {
	ctx := context.Background()
	df := testutil.CreateRequestLog(nil)
	defer df.Release()

	var stdout, stderr bytes.Buffer
	opts := io.OutputOptions{Destination: io.DestinationStdout, Stdout: &stdout, Stderr: &stderr}
	require.NoError(t, io.Write(ctx, df, opts))
	assert.True(t, strings.HasPrefix(stdout.String(), "request_id,endpoint,"), "got %q", stdout.String())
	assert.Zero(t, stderr.Len())

	stdout.Reset()
	opts.Destination = io.DestinationStderr
	opts.Format = "jsonl"
	require.NoError(t, io.Write(ctx, df, opts))
	assert.Zero(t, stdout.Len())
	assert.Equal(t, df.Len(), strings.Count(stderr.String(), "\n"))
}
