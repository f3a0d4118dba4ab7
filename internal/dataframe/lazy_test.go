//nolint:testpackage // requires internal access to unexported types and functions
package dataframe

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyFrameCollect(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	lf := requestLog(mem).Lazy()
	defer lf.Release()

	result, err := lf.
		Filter(expr.Binary(expr.Col("status"), expr.OpGe, expr.Lit(400))).
		WithColumn("slow", expr.Binary(expr.Col("ms"), expr.OpGt, expr.Lit(10))).
		Rename(map[string]string{"endpoint": "path"}).
		Select("path", "status", "slow").
		Collect()
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, []string{"path", "status", "slow"}, result.Columns())
	assert.Equal(t, []any{"/b", "/a"}, columnValues(t, result, "path"))
	assert.Equal(t, []any{false, true}, columnValues(t, result, "slow"))
	assert.Equal(t, 4, lf.Source().Len(), "source is untouched")
}

func TestLazyFrameIsImmutable(t *testing.T) {
	mem := memory.NewGoAllocator()
	base := requestLog(mem).Lazy()
	defer base.Release()

	sorted := base.Sort("ms", true)
	limited := sorted.Head(1)
	assert.Empty(t, base.Operations())
	assert.Len(t, sorted.Operations(), 1)
	assert.Len(t, limited.Operations(), 2)

	result, err := limited.Collect()
	require.NoError(t, err)
	defer result.Release()
	assert.Equal(t, []any{40.0}, columnValues(t, result, "ms"))
}

func TestLazyFrameGroupBy(t *testing.T) {
	mem := memory.NewGoAllocator()
	lf := requestLog(mem).Lazy()
	defer lf.Release()

	result, err := lf.GroupBy("endpoint").Agg(expr.Count(expr.Col("endpoint"))).Collect()
	require.NoError(t, err)
	defer result.Release()
	assert.Equal(t, []any{"/a", "/b", "/c"}, columnValues(t, result, "endpoint"))
	assert.Equal(t, []any{int64(2), int64(1), int64(1)}, columnValues(t, result, "endpoint_COUNT"))
}

func TestLazyFrameSchema(t *testing.T) {
	mem := memory.NewGoAllocator()
	lf := requestLog(mem).Lazy().
		WithColumn("ratio", expr.Binary(expr.Col("ms"), expr.OpDiv, expr.Col("status"))).
		WithColumn("mystery", expr.Col("not_there")).
		Rename(map[string]string{"ms": "latency"}).
		GroupBy("endpoint").
		Agg(expr.Sum(expr.Col("latency")), expr.Count(expr.Col("ratio")))
	defer lf.Release()

	schema := lf.Schema()
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"endpoint", "latency_SUM", "ratio_COUNT"}, names)
	assert.Equal(t, arrow.FLOAT64, schema.Field(1).Type.ID())
	assert.Equal(t, arrow.INT64, schema.Field(2).Type.ID())
}

func TestLazyFrameCollectError(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	lf := requestLog(mem).Lazy()
	defer lf.Release()

	_, err := lf.Head(3).Select("missing").Collect()
	require.Error(t, err)

	var collectErr *CollectError
	require.True(t, errors.As(err, &collectErr))
	assert.Equal(t, 1, collectErr.Position)
	assert.ErrorIs(t, err, dferrors.ErrColumnNotFound)
}

func TestLazyFrameString(t *testing.T) {
	mem := memory.NewGoAllocator()
	lf := requestLog(mem).Lazy().Filter(expr.Binary(expr.Col("status"), expr.OpEq, expr.Lit(200))).Head(5)
	defer lf.Release()

	assert.Equal(t, "LazyFrame[4x3]\n  -> filter((col(status) == lit(200)))\n  -> head(5)", lf.String())
}
