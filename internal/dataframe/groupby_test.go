//nolint:testpackage // requires internal access to unexported types and functions
package dataframe

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataFrameGroupBy(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := New(
		series.New("category", []string{"A", "B", "A", "B", "A"}, mem),
		series.New("value", []int64{10, 20, 30, 40, 50}, mem),
	)
	defer df.Release()

	gb, err := df.GroupBy("category")
	require.NoError(t, err)
	assert.Equal(t, []string{"category"}, gb.Keys())
	assert.Equal(t, [][]int{{0, 2, 4}, {1, 3}}, gb.Groups())

	_, err = df.GroupBy("missing")
	assert.ErrorIs(t, err, dferrors.ErrColumnNotFound)
}

func TestGroupByAgg(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	df := requestLog(mem)
	defer df.Release()

	gb, err := df.GroupBy("endpoint")
	require.NoError(t, err)
	result, err := gb.Agg(expr.NewEvaluator(mem),
		expr.Count(expr.Col("status")),
		expr.Sum(expr.Col("ms")).As("total_ms"),
		expr.Max(expr.Col("status")),
	)
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, []string{"endpoint", "status_COUNT", "total_ms", "status_MAX"}, result.Columns())
	assert.Equal(t, []any{"/a", "/b", "/c"}, columnValues(t, result, "endpoint"), "groups in first-appearance order")
	assert.Equal(t, []any{int64(2), int64(1), int64(0)}, columnValues(t, result, "status_COUNT"))
	assert.Equal(t, []any{52.5, 3.0, 7.0}, columnValues(t, result, "total_ms"))
	assert.Equal(t, []any{int64(500), int64(404), nil}, columnValues(t, result, "status_MAX"))
}

func TestGroupByNullKeysFormOneGroup(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := New(
		series.NewNullable("k", []string{"x", "", "x", ""}, []bool{true, false, true, false}, mem),
		series.New("v", []int64{1, 2, 3, 4}, mem),
	)
	defer df.Release()

	gb, err := df.GroupBy("k")
	require.NoError(t, err)
	result, err := gb.Agg(expr.NewEvaluator(mem), expr.Sum(expr.Col("v")))
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, []any{"x", nil}, columnValues(t, result, "k"))
	assert.Equal(t, []any{int64(4), int64(6)}, columnValues(t, result, "v_SUM"))
}

func TestGroupByWithoutKeys(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := requestLog(mem)
	defer df.Release()

	gb, err := df.GroupBy()
	require.NoError(t, err)
	result, err := gb.Agg(expr.NewEvaluator(mem), expr.Mean(expr.Col("ms")))
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, 1, result.Len())
	assert.Equal(t, []any{15.625}, columnValues(t, result, "ms_MEAN"))
}

func TestGroupByDuplicateOutputName(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := requestLog(mem)
	defer df.Release()

	gb, err := df.GroupBy("endpoint")
	require.NoError(t, err)
	_, err = gb.Agg(expr.NewEvaluator(mem), expr.Sum(expr.Col("ms")), expr.Sum(expr.Col("ms")))
	assert.ErrorIs(t, err, dferrors.ErrDuplicateColumn)
}

func TestGroupByParallelMatchesSequential(t *testing.T) {
	mem := memory.NewGoAllocator()
	n := 3000
	keys := make([]string, n)
	vals := make([]int64, n)
	for i := range keys {
		keys[i] = []string{"a", "b", "c"}[i%3]
		vals[i] = int64(i)
	}
	df := New(series.New("k", keys, mem), series.New("v", vals, mem))
	defer df.Release()

	aggs := []*expr.AggregationExpr{
		expr.Sum(expr.Col("v")),
		expr.Min(expr.Col("v")),
		expr.Max(expr.Col("v")),
		expr.NewAggregation(expr.Col("v"), expr.AggStd, 1),
	}

	gb, err := df.GroupBy("k")
	require.NoError(t, err)
	sequential, err := gb.Agg(expr.NewEvaluator(mem), aggs...)
	require.NoError(t, err)
	defer sequential.Release()

	pool := parallel.NewWorkerPool(4)
	defer pool.Close()
	concurrent, err := gb.Agg(expr.NewEvaluator(mem).WithPool(pool, 100), aggs...)
	require.NoError(t, err)
	defer concurrent.Release()

	for _, name := range sequential.Columns() {
		assert.Equal(t, columnValues(t, sequential, name), columnValues(t, concurrent, name), name)
	}
}

func TestGroupByAggregateError(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := requestLog(mem)
	defer df.Release()

	gb, err := df.GroupBy("status")
	require.NoError(t, err)
	_, err = gb.Agg(expr.NewEvaluator(mem), expr.Sum(expr.Col("endpoint")))
	assert.Error(t, err)
}
