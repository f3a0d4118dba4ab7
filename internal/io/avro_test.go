package io_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/linkedin/goavro/v2"
	"github.com/paveg/pipeframe/internal/dataframe"
	"github.com/paveg/pipeframe/internal/io"
	"github.com/paveg/pipeframe/internal/series"
	"github.com/paveg/pipeframe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvroRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, codec := range []string{"", "null", "deflate", "snappy"} {
		t.Run("codec "+codec, func(t *testing.T) {
			mem := testutil.SetupMemoryTest(t)
			defer mem.Release()

			df := testutil.CreateRequestLog(mem.Allocator, testutil.WithNulls())
			defer df.Release()

			var buf bytes.Buffer
			require.NoError(t, io.NewAvroWriter(&buf, codec).Write(ctx, df))

			back, err := io.NewAvroReader(&buf, mem.Allocator).Read(ctx)
			require.NoError(t, err)
			defer back.Release()

			testutil.AssertDataFrameEqual(t, df, back)
		})
	}
}

func TestAvroNarrowTypes(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	ctx := context.Background()

	df := dataframe.New(
		series.New("small", []int32{1, -2}, mem.Allocator),
		series.New("ratio", []float32{0.5, 1.5}, mem.Allocator),
		series.NewDates("day", []time.Time{day(2024, time.January, 15), day(2024, time.February, 29)}, nil, mem.Allocator),
	)
	defer df.Release()

	var buf bytes.Buffer
	require.NoError(t, io.NewAvroWriter(&buf, "").Write(ctx, df))

	back, err := io.NewAvroReader(&buf, mem.Allocator).Read(ctx)
	require.NoError(t, err)
	defer back.Release()

	assert.Equal(t, arrow.PrimitiveTypes.Int32, back.Schema().Field(0).Type)
	assert.Equal(t, arrow.PrimitiveTypes.Float32, back.Schema().Field(1).Type)
	assert.Equal(t, arrow.FixedWidthTypes.Date32, back.Schema().Field(2).Type)
	testutil.AssertDataFrameEqual(t, df, back)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestAvroReaderForeignSchema(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	schema := `{
		"type": "record", "name": "Event",
		"fields": [
			{"name": "id", "type": "long"},
			{"name": "kind", "type": {"type": "enum", "name": "Kind", "symbols": ["A", "B"]}},
			{"name": "tags", "type": {"type": "array", "items": "string"}}
		]
	}`
	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Schema: schema})
	require.NoError(t, err)
	require.NoError(t, w.Append([]any{
		map[string]any{"id": int64(7), "kind": "A", "tags": []any{"x", "y"}},
		map[string]any{"id": int64(8), "kind": "B", "tags": []any{}},
	}))

	df, err := io.NewAvroReader(&buf, mem.Allocator).Read(context.Background())
	require.NoError(t, err)
	defer df.Release()

	assert.Equal(t, []string{"id", "kind", "tags"}, df.Columns())
	testutil.AssertColumnValues(t, df, "id", int64(7), int64(8))
	testutil.AssertColumnValues(t, df, "kind", "A", "B")
	testutil.AssertColumnValues(t, df, "tags", `["x","y"]`, `[]`)
}

func TestAvroWriterErrors(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	ctx := context.Background()

	df := testutil.CreateRequestLog(mem.Allocator)
	defer df.Release()

	err := io.NewAvroWriter(&bytes.Buffer{}, "zstd").Write(ctx, df)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want one of null, deflate, snappy")

	renamed, err := df.Rename(map[string]string{"endpoint": "end/point"})
	require.NoError(t, err)
	defer renamed.Release()
	require.Error(t, io.NewAvroWriter(&bytes.Buffer{}, "").Write(ctx, renamed))
}
