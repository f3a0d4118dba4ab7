//nolint:testpackage // requires internal access to unexported types and functions
package expr

import (
	"context"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// windowBatch holds two services whose rows are interleaved and out of
// timestamp order.
func windowBatch(mem memory.Allocator) map[string]arrow.Array {
	return batch(
		series.New("service", []string{"api", "web", "api", "web", "api"}, mem),
		series.New("ts", []int64{3, 1, 1, 2, 2}, mem),
		series.NewNullable("ms", []int64{30, 100, 10, 200, 0}, []bool{true, true, true, true, false}, mem),
	)
}

func byService() *WindowSpec {
	return NewWindowSpec().PartitionBy("service").OrderBy("ts", false)
}

func TestWindowFunctions(t *testing.T) {
	mem := memory.NewGoAllocator()
	eval := NewEvaluator(mem)
	columns := windowBatch(mem)

	tests := []struct {
		name     string
		expr     Expr
		expected []any
	}{
		// api in ts order: rows 2 (10), 4 (null), 0 (30); web: rows 1 (100), 3 (200)
		{"cumsum", Window(WinCumSum, Col("ms"), byService()), []any{int64(40), int64(100), int64(10), int64(300), int64(10)}},
		{"sum over partition", Window(WinSum, Col("ms"), byService()), []any{int64(40), int64(300), int64(40), int64(300), int64(40)}},
		{"bounded sum", Window(WinSum, Col("ms"), byService().Rows(1, 0)), []any{int64(30), int64(100), int64(10), int64(300), int64(10)}},
		{"mean over partition", Window(WinMean, Col("ms"), byService()), []any{20.0, 150.0, 20.0, 150.0, 20.0}},
		{"count", Window(WinCount, Col("ms"), byService()), []any{int64(2), int64(2), int64(2), int64(2), int64(2)}},
		{"min", Window(WinMin, Col("ms"), byService()), []any{int64(10), int64(100), int64(10), int64(100), int64(10)}},
		{"first", Window(WinFirst, Col("ms"), byService()), []any{int64(10), int64(100), int64(10), int64(100), int64(10)}},
		{"last", Window(WinLast, Col("ms"), byService()), []any{int64(30), int64(200), int64(30), int64(200), int64(30)}},
		{"rolling mean", Window(WinRollingMean, Col("ms"), byService().Rows(1, 1)), []any{30.0, 150.0, 10.0, 150.0, 20.0}},
		{"row number", Window(WinRowNumber, Col("ms"), byService()), []any{int64(3), int64(1), int64(1), int64(2), int64(2)}},
		{"lag", Window(WinLag, Col("ms"), byService()), []any{nil, nil, nil, int64(100), int64(10)}},
		{"lead with default", Window(WinLead, Col("ms"), byService()).Shift(1, int64(0)), []any{int64(0), int64(200), nil, int64(0), int64(30)}},
		{"lag offset two", Window(WinLag, Col("ms"), byService()).Shift(2, nil), []any{int64(10), nil, nil, nil, nil}},
		{"unbounded frame", Window(WinSum, Col("ms"), byService().Rows(math.MaxInt, math.MaxInt)), []any{int64(40), int64(300), int64(40), int64(300), int64(40)}},
		{"unbounded following", Window(WinSum, Col("ms"), byService().Rows(0, math.MaxInt)), []any{int64(30), int64(300), int64(40), int64(200), int64(30)}},
		{"lead past the partition", Window(WinLead, Col("ms"), byService()).Shift(math.MaxInt, int64(-1)), []any{int64(-1), int64(-1), int64(-1), int64(-1), int64(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eval.Evaluate(tt.expr, columns)
			require.NoError(t, err)
			defer result.Release()
			assert.Equal(t, tt.expected, values(result))
		})
	}
}

func TestWindowRank(t *testing.T) {
	mem := memory.NewGoAllocator()
	eval := NewEvaluator(mem)
	columns := batch(
		series.New("g", []string{"a", "a", "a", "a"}, mem),
		series.New("score", []int64{5, 9, 5, 1}, mem),
	)
	spec := func() *WindowSpec { return NewWindowSpec().PartitionBy("g").OrderBy("score", true) }

	rank, err := eval.Evaluate(Window(WinRank, Col("score"), spec()), columns)
	require.NoError(t, err)
	defer rank.Release()
	assert.Equal(t, []any{int64(2), int64(1), int64(2), int64(4)}, values(rank))

	dense, err := eval.Evaluate(Window(WinDenseRank, Col("score"), spec()), columns)
	require.NoError(t, err)
	defer dense.Release()
	assert.Equal(t, []any{int64(2), int64(1), int64(2), int64(3)}, values(dense))

	rows, err := eval.Evaluate(Window(WinRowNumber, Col("score"), spec()), columns)
	require.NoError(t, err)
	defer rows.Release()
	assert.Equal(t, []any{int64(2), int64(1), int64(3), int64(4)}, values(rows), "ties keep input order")
}

func TestWindowNullsSortFirst(t *testing.T) {
	mem := memory.NewGoAllocator()
	eval := NewEvaluator(mem)
	columns := batch(series.NewNullable("k", []int64{2, 0, 1}, []bool{true, false, true}, mem))

	for _, desc := range []bool{false, true} {
		result, err := eval.Evaluate(Window(WinRowNumber, Col("k"), NewWindowSpec().OrderBy("k", desc)), columns)
		require.NoError(t, err)
		assert.Equal(t, int64(1), series.ValueAt(result, 1))
		result.Release()
	}
}

func TestWindowParallelMatchesSequential(t *testing.T) {
	mem := memory.NewGoAllocator()
	n := 2000
	groups := make([]string, n)
	order := make([]int64, n)
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		groups[i] = []string{"a", "b", "c", "d"}[i%4]
		order[i] = int64((i * 7919) % n)
		vals[i] = float64(i % 13)
	}
	columns := batch(
		series.New("g", groups, mem),
		series.New("o", order, mem),
		series.New("v", vals, mem),
	)
	expr := Window(WinRollingMean, Col("v"), NewWindowSpec().PartitionBy("g").OrderBy("o", false).Rows(2, 1))

	sequential, err := NewEvaluator(mem).Evaluate(expr, columns)
	require.NoError(t, err)
	defer sequential.Release()

	pool := parallel.NewWorkerPool(4)
	defer pool.Close()
	concurrent, err := NewEvaluator(mem).WithPool(pool, 100).Evaluate(expr, columns)
	require.NoError(t, err)
	defer concurrent.Release()

	assert.Equal(t, values(sequential), values(concurrent))
}

func TestWindowClosedPool(t *testing.T) {
	mem := memory.NewGoAllocator()
	columns := windowBatch(mem)

	pool := parallel.NewWorkerPool(4)
	pool.Close()

	_, err := NewEvaluator(mem).WithPool(pool, 1).Evaluate(Window(WinSum, Col("ms"), byService()), columns)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindowMissingPartitionColumn(t *testing.T) {
	mem := memory.NewGoAllocator()
	eval := NewEvaluator(mem)
	_, err := eval.Evaluate(Window(WinSum, Col("ms"), NewWindowSpec().PartitionBy("nope")), windowBatch(mem))
	assert.Error(t, err)
}

func TestLookupWindowFunc(t *testing.T) {
	fn, ok := LookupWindowFunc("RollingMean")
	require.True(t, ok)
	assert.Equal(t, WinRollingMean, fn)
	assert.True(t, fn.IsFrame())
	assert.False(t, WinLag.IsFrame())

	_, ok = LookupWindowFunc("median")
	assert.False(t, ok)
}
