//nolint:testpackage // requires internal access to unexported types and functions
package executor

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/paveg/pipeframe/internal/dataframe"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/monitoring"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/pipeline"
	"github.com/paveg/pipeframe/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ops(operations ...pipeline.Operation) *pipeline.Pipeline {
	return &pipeline.Pipeline{Operations: operations}
}

func literal(v pipeline.LiteralValue) *pipeline.LiteralValue { return &v }

func count(column string) pipeline.Aggregate {
	return pipeline.Aggregate{Column: column, Function: pipeline.AggFunction{Name: "COUNT"}}
}

// runPipeline runs p over the request log and fails the test if any
// allocation outlives the result.
func runPipeline(t *testing.T, p *pipeline.Pipeline, opts Options) (*dataframe.DataFrame, error) {
	t.Helper()
	mem := testutil.SetupMemoryTest(t)
	t.Cleanup(mem.Release)
	opts.Allocator = mem.Allocator
	df, err := New(opts).Run(context.Background(), p, testutil.CreateRequestLog(mem.Allocator))
	if df != nil {
		t.Cleanup(df.Release)
	}
	return df, err
}

func requestLog(t *testing.T) *dataframe.DataFrame {
	t.Helper()
	df := testutil.CreateRequestLog(memory.NewGoAllocator())
	t.Cleanup(df.Release)
	return df
}

func TestRunFilter(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.Filter{
		Column:    "status_code",
		Condition: pipeline.CondGte,
		Value:     literal(pipeline.IntegerValue(400)),
	}), Options{})
	require.NoError(t, err)

	testutil.AssertColumnValues(t, df, "status_code", int64(404), int64(500), int64(503))
	testutil.AssertColumnValues(t, df, "request_id", int64(2), int64(3), int64(5))
}

func TestRunFilterIsIdempotent(t *testing.T) {
	filter := &pipeline.Filter{Column: "response_time_ms", Condition: pipeline.CondLt, Value: literal(pipeline.FloatValue(100))}

	once, err := runPipeline(t, ops(filter), Options{})
	require.NoError(t, err)
	twice, err := runPipeline(t, ops(filter, filter), Options{})
	require.NoError(t, err)

	assert.LessOrEqual(t, once.Len(), requestLog(t).Len())
	testutil.AssertDataFrameEqual(t, once, twice)
	for _, v := range testutil.ColumnValues(t, once, "response_time_ms") {
		assert.Less(t, v.(float64), 100.0)
	}
}

func TestRunFilterMembership(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.Filter{
		Column:    "endpoint",
		Condition: pipeline.CondNeq,
		Value:     literal(pipeline.StringList([]string{"/a", "/c"})),
	}), Options{})
	require.NoError(t, err)
	testutil.AssertColumnValues(t, df, "endpoint", "/b", "/b")
}

func TestRunSelectAndRename(t *testing.T) {
	df, err := runPipeline(t, ops(
		&pipeline.Select{Columns: []string{"status_code", "endpoint"}},
		&pipeline.Rename{Mappings: []pipeline.ColumnRename{{OldName: "endpoint", NewName: "path"}}},
	), Options{})
	require.NoError(t, err)

	testutil.AssertDataFrameHasColumns(t, df, "status_code", "path")
	testutil.AssertColumnValues(t, df, "path", "/a", "/b", "/a", "/c", "/b", "/a")
}

func TestRunGroupBy(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.GroupBy{
		Columns:    []string{"endpoint"},
		Aggregates: []pipeline.Aggregate{count("request_id")},
	}), Options{})
	require.NoError(t, err)

	testutil.AssertDataFrameHasColumns(t, df, "endpoint", "request_id_COUNT")
	testutil.AssertColumnValues(t, df, "endpoint", "/a", "/b", "/c")
	testutil.AssertColumnValues(t, df, "request_id_COUNT", int64(3), int64(2), int64(1))
}

func TestRunSortWithLimit(t *testing.T) {
	limit := 2
	df, err := runPipeline(t, ops(&pipeline.Sort{Column: "response_time_ms", Descending: true, Limit: &limit}), Options{})
	require.NoError(t, err)
	testutil.AssertColumnValues(t, df, "response_time_ms", 410.0, 230.0)
}

func TestRunWithColumn(t *testing.T) {
	slow := &pipeline.WithColumn{
		Name: "slow",
		Expression: &pipeline.BinaryOp{
			Left:  &pipeline.Column{Name: "response_time_ms"},
			Op:    pipeline.OpGt,
			Right: &pipeline.Literal{Value: pipeline.IntegerValue(100)},
		},
	}
	unnamed := &pipeline.WithColumn{
		Expression: &pipeline.BinaryOp{
			Left:  &pipeline.Column{Name: "status_code"},
			Op:    pipeline.OpDivide,
			Right: &pipeline.Literal{Value: pipeline.IntegerValue(100)},
		},
	}

	first, err := runPipeline(t, ops(slow, unnamed), Options{})
	require.NoError(t, err)
	second, err := runPipeline(t, ops(slow, unnamed), Options{})
	require.NoError(t, err)

	testutil.AssertColumnValues(t, first, "slow", false, false, true, false, true, false)
	testutil.AssertColumnValues(t, first, "status_code", 2.0, 4.04, 5.0, 2.0, 5.03, 2.01)
	testutil.AssertDataFrameEqual(t, first, second)
}

func TestRunWindowRowNumber(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.Window{Spec: pipeline.WindowSpec{
		Column:      "request_id",
		Function:    pipeline.WindowFunction{Type: "rownumber"},
		PartitionBy: []string{"endpoint"},
		OrderBy:     []string{"ts"},
		Name:        "n",
	}}), Options{})
	require.NoError(t, err)
	testutil.AssertColumnValues(t, df, "n", int64(1), int64(1), int64(2), int64(1), int64(2), int64(3))
}

func TestRunWindowLag(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.Window{Spec: pipeline.WindowSpec{
		Column: "status_code",
		Function: pipeline.WindowFunction{
			Type:         "lag",
			Offset:       1,
			DefaultValue: literal(pipeline.IntegerValue(0)),
		},
		PartitionBy: []string{"endpoint"},
		OrderBy:     []string{"ts"},
		Bounds:      &pipeline.Bounds{Preceding: 2},
		Name:        "previous",
	}}), Options{})
	require.NoError(t, err)
	testutil.AssertColumnValues(t, df, "previous", int64(0), int64(0), int64(200), int64(0), int64(404), int64(500))
}

func TestRunWindowOnWorkerPool(t *testing.T) {
	pool := parallel.NewWorkerPool(4)
	defer pool.Close()

	window := &pipeline.Window{Spec: pipeline.WindowSpec{
		Column:      "response_time_ms",
		Function:    pipeline.WindowFunction{Type: "cumsum"},
		PartitionBy: []string{"endpoint"},
		OrderBy:     []string{"ts"},
		Name:        "running",
	}}

	sequential, err := runPipeline(t, ops(window), Options{})
	require.NoError(t, err)
	pooled, err := runPipeline(t, ops(window), Options{Pool: pool, ParallelThreshold: 1})
	require.NoError(t, err)

	testutil.AssertDataFrameEqual(t, sequential, pooled)
}

func TestRunWindowUnboundedFrame(t *testing.T) {
	window := func(bounds *pipeline.Bounds) *pipeline.Window {
		return &pipeline.Window{Spec: pipeline.WindowSpec{
			Column:      "response_time_ms",
			Function:    pipeline.WindowFunction{Type: "sum"},
			PartitionBy: []string{"endpoint"},
			OrderBy:     []string{"ts"},
			Bounds:      bounds,
			Name:        "total",
		}}
	}

	whole, err := runPipeline(t, ops(window(nil)), Options{})
	require.NoError(t, err)
	unbounded, err := runPipeline(t, ops(window(&pipeline.Bounds{Preceding: math.MaxInt, Following: math.MaxInt})), Options{})
	require.NoError(t, err)

	testutil.AssertDataFrameEqual(t, whole, unbounded)
}

func TestRunWindowOnClosedPool(t *testing.T) {
	pool := parallel.NewWorkerPool(4)
	pool.Close()

	df, err := runPipeline(t, ops(&pipeline.Window{Spec: pipeline.WindowSpec{
		Column:      "response_time_ms",
		Function:    pipeline.WindowFunction{Type: "cumsum"},
		PartitionBy: []string{"endpoint"},
		OrderBy:     []string{"ts"},
		Name:        "running",
	}}), Options{Pool: pool, ParallelThreshold: 1})
	require.Error(t, err)
	assert.Nil(t, df)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "operation 0 (Window) failed")
}

func TestRunGroupByTime(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.GroupByTime{Spec: pipeline.TimeBucketSpec{
		TimeColumn: "ts",
		Every:      5,
		Unit:       "Minutes",
		Aggregates: []pipeline.Aggregate{count("request_id")},
	}}), Options{})
	require.NoError(t, err)

	start := testutil.RequestLogStart
	testutil.AssertDataFrameHasColumns(t, df, "ts", "request_id_COUNT")
	testutil.AssertColumnValues(t, df, "ts", start, start.Add(5*time.Minute))
	testutil.AssertColumnValues(t, df, "request_id_COUNT", int64(5), int64(1))
}

func TestRunGroupByTimeWithOutputColumn(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.GroupByTime{Spec: pipeline.TimeBucketSpec{
		TimeColumn:       "ts",
		Every:            1,
		Unit:             "Hours",
		OutputColumn:     "hour",
		AdditionalGroups: []string{"endpoint"},
		Aggregates:       []pipeline.Aggregate{count("request_id")},
	}}), Options{})
	require.NoError(t, err)

	testutil.AssertDataFrameHasColumns(t, df, "hour", "endpoint", "request_id_COUNT")
	testutil.AssertColumnValues(t, df, "endpoint", "/a", "/b", "/c")
}

func TestRunSelfJoin(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	p := ops(&pipeline.SelfJoin{
		LeftOn:  []string{"endpoint"},
		RightOn: []string{"endpoint"},
		How:     pipeline.JoinInner,
	})
	got, err := New(Options{Allocator: mem.Allocator}).Run(context.Background(), p, testutil.CreateRequestLog(mem.Allocator))
	require.NoError(t, err)
	defer got.Release()

	left := testutil.CreateRequestLog(mem.Allocator)
	defer left.Release()
	right := testutil.CreateRequestLog(mem.Allocator)
	defer right.Release()
	want, err := left.Join(right, &dataframe.JoinOptions{
		How:     dataframe.InnerJoin,
		LeftOn:  []string{"endpoint"},
		RightOn: []string{"endpoint"},
		Suffix:  pipeline.DefaultJoinSuffix,
	})
	require.NoError(t, err)
	defer want.Release()

	assert.Equal(t, 14, got.Len())
	assert.True(t, got.HasColumn("request_id_right"))
	testutil.AssertDataFrameEqual(t, want, got)
}

func TestRunPivot(t *testing.T) {
	df, err := runPipeline(t, ops(
		&pipeline.Filter{Column: "endpoint", Condition: pipeline.CondNeq, Value: literal(pipeline.StringValue("/c"))},
		&pipeline.Pivot{
			Index:    []string{"endpoint"},
			Columns:  "status_code",
			Values:   "response_time_ms",
			Function: pipeline.AggFunction{Name: "SUM"},
		},
	), Options{})
	require.NoError(t, err)

	testutil.AssertDataFrameHasColumns(t, df, "endpoint", "200", "404", "500", "503", "201")
	testutil.AssertColumnValues(t, df, "endpoint", "/a", "/b")
	testutil.AssertColumnValues(t, df, "200", 12.5, nil)
}

func TestRunPivotAdvancedWithoutColumns(t *testing.T) {
	df, err := runPipeline(t, ops(&pipeline.PivotAdvanced{
		Index:  []string{"endpoint"},
		Values: []pipeline.Aggregate{count("request_id")},
	}), Options{})
	require.NoError(t, err)
	testutil.AssertDataFrameHasColumns(t, df, "endpoint", "request_id_COUNT")
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		p       *pipeline.Pipeline
		message string
		kind    dferrors.Kind
		index   int
	}{
		{
			name: "unknown column surfaces at collect",
			p: ops(
				&pipeline.Select{Columns: []string{"endpoint", "status_code"}},
				&pipeline.Filter{Column: "missing", Condition: pipeline.CondEq, Value: literal(pipeline.IntegerValue(1))},
			),
			message: "operation 1 (Filter) failed: ",
			kind:    dferrors.KindExecution,
			index:   1,
		},
		{
			name: "deferred failure attributed before a barrier",
			p: ops(
				&pipeline.Sort{Column: "missing"},
				&pipeline.GroupByTime{Spec: pipeline.TimeBucketSpec{TimeColumn: "ts", Every: 1, Unit: "Hours"}},
			),
			message: "operation 0 (Sort) failed: ",
			kind:    dferrors.KindExecution,
			index:   0,
		},
		{
			name: "type mismatch at compile time",
			p: ops(&pipeline.WithColumn{Name: "bad", Expression: &pipeline.BinaryOp{
				Left:  &pipeline.Column{Name: "endpoint"},
				Op:    pipeline.OpAdd,
				Right: &pipeline.Literal{Value: pipeline.IntegerValue(1)},
			}}),
			message: "operation 0 (WithColumn) failed: expression error",
			kind:    dferrors.KindExpression,
		},
		{
			name: "cross join with keys",
			p: ops(
				&pipeline.Select{Columns: []string{"endpoint"}},
				&pipeline.SelfJoin{How: pipeline.JoinCross, LeftOn: []string{"endpoint"}, RightOn: []string{"endpoint"}},
			),
			message: "operation 1 (SelfJoin) failed: SelfJoin: a Cross join takes no left_on or right_on columns",
			kind:    dferrors.KindOperation,
			index:   1,
		},
		{
			name:    "unequal join keys",
			p:       ops(&pipeline.SelfJoin{How: pipeline.JoinLeft, LeftOn: []string{"endpoint"}}),
			message: "operation 0 (SelfJoin) failed: SelfJoin: left_on has 1 columns but right_on has 0",
			kind:    dferrors.KindOperation,
		},
		{
			name:    "filter without value",
			p:       ops(&pipeline.Filter{Column: "status_code", Condition: pipeline.CondGt}),
			message: "operation 0 (Filter) failed: Filter: condition GT needs a filter value",
			kind:    dferrors.KindOperation,
		},
		{
			name:    "rename of an unknown column",
			p:       ops(&pipeline.Rename{Mappings: []pipeline.ColumnRename{{OldName: "nope", NewName: "yes"}}}),
			message: "operation 0 (Rename) failed: execution error",
			kind:    dferrors.KindExecution,
		},
		{
			name: "bucket interval out of range",
			p: ops(&pipeline.GroupByTime{Spec: pipeline.TimeBucketSpec{
				TimeColumn: "ts", Every: 1 << 61, Unit: "Seconds",
				Aggregates: []pipeline.Aggregate{count("request_id")},
			}}),
			message: "operation 0 (GroupByTime) failed: GroupByTime: every 2305843009213693952 Seconds exceeds the supported range",
			kind:    dferrors.KindOperation,
		},
		{
			name: "strict timestamp parsing",
			p: ops(
				&pipeline.WithColumn{Name: "stamp", Expression: &pipeline.Column{Name: "endpoint"}},
				&pipeline.GroupByTime{Spec: pipeline.TimeBucketSpec{
					TimeColumn: "stamp", Every: 1, Unit: "Days", Strict: true,
					Aggregates: []pipeline.Aggregate{count("request_id")},
				}},
			),
			message: "operation 1 (GroupByTime) failed: execution error",
			kind:    dferrors.KindExecution,
			index:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df, err := New(Options{}).Run(context.Background(), tt.p, testutil.CreateRequestLog(memory.NewGoAllocator()))
			require.Error(t, err)
			assert.Nil(t, df)

			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, tt.kind, dferrors.KindOf(err))

			var step *dferrors.StepError
			require.True(t, errors.As(err, &step))
			assert.Equal(t, tt.index, step.Index)
			assert.Equal(t, tt.p.Operations[tt.index].OpType(), step.Type)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{Allocator: mem.Allocator}).Run(ctx, ops(&pipeline.Select{Columns: []string{"ts"}}), testutil.CreateRequestLog(mem.Allocator))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "operation 0 (Select) failed")
}

type rejectAll struct{}

func (rejectAll) Validate(*dataframe.DataFrame) error { return errors.New("column status_code is required") }

func TestRunValidation(t *testing.T) {
	_, err := runPipeline(t, ops(), Options{Validator: rejectAll{}})
	require.Error(t, err)
	assert.Equal(t, dferrors.KindExecution, dferrors.KindOf(err))
	assert.Contains(t, err.Error(), "validating result: column status_code is required")
}

type seenColumns struct{ columns []string }

func (v *seenColumns) Validate(df *dataframe.DataFrame) error {
	v.columns = df.Columns()
	return nil
}

func TestRunValidatesResult(t *testing.T) {
	seen := &seenColumns{}
	df, err := runPipeline(t, ops(&pipeline.Select{Columns: []string{"status_code", "endpoint"}}), Options{Validator: seen})
	require.NoError(t, err)
	assert.Equal(t, []string{"status_code", "endpoint"}, seen.columns)
	assert.Equal(t, seen.columns, df.Columns())
}

func TestRunEmptyPipeline(t *testing.T) {
	df, err := runPipeline(t, ops(), Options{})
	require.NoError(t, err)
	testutil.AssertDataFrameEqual(t, requestLog(t), df)
}

func TestRunMetricsAndLogging(t *testing.T) {
	reg := prometheus.NewRegistry()
	var buf bytes.Buffer

	_, err := runPipeline(t, ops(
		&pipeline.Filter{Column: "status_code", Condition: pipeline.CondLt, Value: literal(pipeline.IntegerValue(500))},
		&pipeline.SelfJoin{How: pipeline.JoinSemi, LeftOn: []string{"request_id"}, RightOn: []string{"request_id"}},
		&pipeline.Select{Columns: []string{"request_id"}},
	), Options{Metrics: monitoring.NewMetrics(reg), Logger: log.NewLogfmtLogger(&buf)})
	require.NoError(t, err)

	want := `
# HELP pipeframe_materializations_total Total number of times a deferred plan was collected, by reason.
# TYPE pipeframe_materializations_total counter
pipeframe_materializations_total{reason="final"} 1
pipeframe_materializations_total{reason="snapshot"} 1
`
	require.NoError(t, promtest.GatherAndCompare(reg, bytes.NewBufferString(want), "pipeframe_materializations_total"))

	families, err := reg.Gather()
	require.NoError(t, err)
	var operations float64
	for _, mf := range families {
		if mf.GetName() == "pipeframe_operations_total" {
			for _, m := range mf.GetMetric() {
				operations += m.GetCounter().GetValue()
			}
		}
	}
	assert.InDelta(t, 3, operations, 0)

	out := buf.String()
	assert.Contains(t, out, `msg="executing operation" index=1 type=SelfJoin`)
	assert.Contains(t, out, `msg="pipeline finished" operations=3 rows=4`)
}

func TestCheck(t *testing.T) {
	schema := requestLog(t).Schema()
	exec := New(Options{})

	t.Run("valid pipeline", func(t *testing.T) {
		err := exec.Check(context.Background(), ops(
			&pipeline.GroupByTime{Spec: pipeline.TimeBucketSpec{
				TimeColumn: "ts", Every: 15, Unit: "Minutes",
				Aggregates: []pipeline.Aggregate{count("request_id")},
			}},
			&pipeline.Sort{Column: "request_id_COUNT", Descending: true},
		), schema)
		assert.NoError(t, err)
	})

	t.Run("type error", func(t *testing.T) {
		err := exec.Check(context.Background(), ops(&pipeline.Filter{
			Column: "endpoint", Condition: pipeline.CondGt, Value: literal(pipeline.IntegerValue(3)),
		}), schema)
		require.Error(t, err)
		assert.Equal(t, dferrors.KindExpression, dferrors.KindOf(err))
	})

	t.Run("columns after a pivot are not checked", func(t *testing.T) {
		err := exec.Check(context.Background(), ops(
			&pipeline.Pivot{Index: []string{"endpoint"}, Columns: "status_code", Values: "response_time_ms", Function: pipeline.AggFunction{Name: "MEAN"}},
			&pipeline.Filter{Column: "404", Condition: pipeline.CondGt, Value: literal(pipeline.FloatValue(50))},
		), schema)
		assert.NoError(t, err)
	})

	t.Run("unknown column", func(t *testing.T) {
		err := exec.Check(context.Background(), ops(&pipeline.Select{Columns: []string{"nope"}}), schema)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "operation 0 (Select) failed")
	})
}

func TestPlanAttributesPendingSteps(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	operations := []pipeline.Operation{&pipeline.Select{}, &pipeline.Sort{}}
	df := testutil.CreateRequestLog(mem.Allocator)
	plan := newPlan(df, expr.NewEvaluator(mem.Allocator), operations)
	defer plan.Release()

	plan.extend(0, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame { return lf.Select("endpoint") })
	plan.extend(1, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame { return lf.Sort("endpoint", false).Head(2) })
	assert.Equal(t, []int{0, 1, 1}, plan.origins)
	assert.Equal(t, 3, plan.Pending())
	assert.Equal(t, []string{"endpoint"}, fieldNames(plan))

	forced, err := plan.force()
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Len())
	assert.Equal(t, 0, plan.Pending())
}

func fieldNames(p *Plan) []string {
	var names []string
	for _, f := range p.Schema().Fields() {
		names = append(names, f.Name)
	}
	return names
}
