// Package testutil provides fixtures and assertions shared by the package
// tests: a checked allocator, a small request-log DataFrame and frame
// comparisons by value.
package testutil

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/pipeframe/internal/dataframe"
	"github.com/paveg/pipeframe/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// defaultRowCount is the default number of rows in test DataFrames.
	defaultRowCount = 6
)

// RequestLogStart is the timestamp of the first request-log row. Rows are
// one minute apart.
var RequestLogStart = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// TestMemoryContext provides a checked allocator that fails the test when
// allocations outlive it.
type TestMemoryContext struct {
	Allocator *memory.CheckedAllocator
	tb        testing.TB
}

// Release asserts that every allocation has been freed.
func (tmc *TestMemoryContext) Release() {
	tmc.Allocator.AssertSize(tmc.tb, 0)
}

// SetupMemoryTest creates a checked allocator for a test.
//
// Example usage:
//
//	mem := testutil.SetupMemoryTest(t)
//	defer mem.Release()
func SetupMemoryTest(tb testing.TB) *TestMemoryContext {
	tb.Helper()
	return &TestMemoryContext{
		Allocator: memory.NewCheckedAllocator(memory.NewGoAllocator()),
		tb:        tb,
	}
}

// TestDataFrameOption configures test DataFrame creation.
type TestDataFrameOption func(*testDataFrameConfig)

type testDataFrameConfig struct {
	includeNulls bool
	rowCount     int
}

// WithNulls makes every fourth response time null.
func WithNulls() TestDataFrameOption {
	return func(cfg *testDataFrameConfig) {
		cfg.includeNulls = true
	}
}

// WithRowCount sets the number of rows in test data.
func WithRowCount(count int) TestDataFrameOption {
	return func(cfg *testDataFrameConfig) {
		cfg.rowCount = count
	}
}

// CreateRequestLog creates a request log with columns request_id (int64),
// endpoint (utf8), status_code (int64), response_time_ms (float64) and
// ts (timestamp).
//
// Example usage:
//
//	df := testutil.CreateRequestLog(mem.Allocator, testutil.WithRowCount(10))
//	defer df.Release()
func CreateRequestLog(allocator memory.Allocator, opts ...TestDataFrameOption) *dataframe.DataFrame {
	cfg := &testDataFrameConfig{rowCount: defaultRowCount}
	for _, opt := range opts {
		opt(cfg)
	}

	n := cfg.rowCount
	ids := make([]int64, n)
	stamps := make([]time.Time, n)
	var valid []bool
	if cfg.includeNulls {
		valid = make([]bool, n)
	}
	for i := range n {
		ids[i] = int64(i + 1)
		stamps[i] = RequestLogStart.Add(time.Duration(i) * time.Minute)
		if valid != nil {
			valid[i] = i%4 != 3
		}
	}

	return dataframe.New(
		series.New("request_id", ids, allocator),
		series.New("endpoint", cycle([]string{"/a", "/b", "/a", "/c", "/b", "/a"}, n), allocator),
		series.New("status_code", cycle([]int64{200, 404, 500, 200, 503, 201}, n), allocator),
		series.NewNullable("response_time_ms", cycle([]float64{12.5, 80, 230, 15, 410, 9.5}, n), valid, allocator),
		series.New("ts", stamps, allocator),
	)
}

func cycle[T any](base []T, n int) []T {
	out := make([]T, n)
	for i := range n {
		out[i] = base[i%len(base)]
	}
	return out
}

// ColumnValues returns the values of a column as Go scalars, nil for nulls.
func ColumnValues(tb testing.TB, df *dataframe.DataFrame, name string) []any {
	tb.Helper()
	col, ok := df.Column(name)
	require.True(tb, ok, "column %s should exist", name)

	arr := col.Array()
	defer arr.Release()
	values := make([]any, arr.Len())
	for i := range values {
		values[i] = series.ValueAt(arr, i)
	}
	return values
}

// AssertColumnValues checks the values of one column in row order.
func AssertColumnValues(tb testing.TB, df *dataframe.DataFrame, name string, expected ...any) {
	tb.Helper()
	assert.Equal(tb, expected, ColumnValues(tb, df, name), "column %s", name)
}

// AssertDataFrameEqual checks that two frames hold the same columns, in
// the same order, with the same types and values.
func AssertDataFrameEqual(tb testing.TB, expected, actual *dataframe.DataFrame) {
	tb.Helper()

	require.NotNil(tb, expected, "expected DataFrame should not be nil")
	require.NotNil(tb, actual, "actual DataFrame should not be nil")

	assert.Equal(tb, expected.Len(), actual.Len(), "DataFrame lengths should match")
	require.Equal(tb, expected.Columns(), actual.Columns(), "DataFrame columns should match")
	assert.True(tb, expected.Schema().Equal(actual.Schema()), "schemas should match: %s vs %s", expected.Schema(), actual.Schema())

	for _, name := range expected.Columns() {
		assert.Equal(tb, ColumnValues(tb, expected, name), ColumnValues(tb, actual, name), "column %s data should match", name)
	}
}

// AssertDataFrameHasColumns verifies the column names of a frame in order.
func AssertDataFrameHasColumns(tb testing.TB, df *dataframe.DataFrame, expectedColumns ...string) {
	tb.Helper()
	require.NotNil(tb, df, "DataFrame should not be nil")
	assert.Equal(tb, expectedColumns, df.Columns())
}
