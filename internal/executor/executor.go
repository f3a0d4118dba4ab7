// Package executor applies a pipeline of operations to a DataFrame.
//
// Most operations only extend a deferred plan. GroupByTime, SelfJoin, Pivot
// and PivotAdvanced with a pivot column need the data itself and force the
// plan first; everything pending is collected once more at the end of the
// run. Each operation is compiled against the schema the plan will have at
// that point, so type errors surface before any data is touched.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/paveg/pipeframe/internal/compile"
	"github.com/paveg/pipeframe/internal/dataframe"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/monitoring"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/pipeline"
)

// DefaultParallelThreshold is the row count above which window partitions
// and aggregates are evaluated on the worker pool.
const DefaultParallelThreshold = 10000

// Validator checks the materialized result of a run.
type Validator interface {
	Validate(df *dataframe.DataFrame) error
}

// Options configures an Executor. Zero values are usable: no logging, no
// metrics, no validation and sequential evaluation.
type Options struct {
	Logger            log.Logger
	Metrics           *monitoring.Metrics
	Validator         Validator
	Pool              *parallel.WorkerPool
	ParallelThreshold int
	Allocator         memory.Allocator
}

// Executor runs pipelines. It is safe for concurrent use; every run owns
// its own plan.
type Executor struct {
	logger    log.Logger
	metrics   *monitoring.Metrics
	validator Validator
	pool      *parallel.WorkerPool
	threshold int
	mem       memory.Allocator
}

// New creates an Executor.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	threshold := opts.ParallelThreshold
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	mem := opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Executor{
		logger:    logger,
		metrics:   opts.Metrics,
		validator: opts.Validator,
		pool:      opts.Pool,
		threshold: threshold,
		mem:       mem,
	}
}

func (e *Executor) evaluator() *expr.Evaluator {
	eval := expr.NewEvaluator(e.mem)
	if e.pool != nil {
		eval = eval.WithPool(e.pool, e.threshold)
	}
	return eval
}

// Run applies p to input in order and returns the materialized result,
// which the caller owns. Run takes ownership of input. Failures are
// StepErrors naming the index and type of the operation that failed, or
// an ExecutionError when the result is rejected by the Validator.
func (e *Executor) Run(ctx context.Context, p *pipeline.Pipeline, input *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	start := time.Now()
	r := &run{exec: e, plan: newPlan(input, e.evaluator(), p.Operations)}
	defer r.plan.Release()

	if err := r.apply(ctx, p); err != nil {
		return nil, err
	}

	df, err := r.materialize(monitoring.ReasonFinal)
	if err != nil {
		return nil, err
	}
	if e.validator != nil {
		if err := e.validator.Validate(df); err != nil {
			level.Error(e.logger).Log("msg", "result validation failed", "err", err)
			return nil, dferrors.NewExecutionError(fmt.Errorf("validating result: %w", err))
		}
	}
	level.Info(e.logger).Log(
		"msg", "pipeline finished",
		"operations", p.Len(),
		"rows", df.Len(),
		"columns", df.Width(),
		"duration", time.Since(start),
	)
	return df.Clone(), nil
}

// Check compiles p against schema without reading data. The pipeline runs
// on an empty frame of that schema, so unknown columns are reported too. After a pivot the
// output columns depend on the data, so later operations are compiled
// without type information.
func (e *Executor) Check(ctx context.Context, p *pipeline.Pipeline, schema *arrow.Schema) error {
	empty, err := emptyFrame(schema, e.mem)
	if err != nil {
		return dferrors.NewExecutionError(err)
	}
	r := &run{exec: e, plan: newPlan(empty, e.evaluator(), p.Operations), dryRun: true}
	defer r.plan.Release()
	if err := r.apply(ctx, p); err != nil {
		return err
	}
	if r.untyped {
		return nil
	}
	_, err = r.materialize(monitoring.ReasonFinal)
	return err
}

func emptyFrame(schema *arrow.Schema, mem memory.Allocator) (*dataframe.DataFrame, error) {
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = array.MakeArrayOfNull(mem, f.Type, 0)
	}
	rec := array.NewRecord(schema, cols, 0)
	defer rec.Release()
	for _, c := range cols {
		c.Release()
	}
	return dataframe.FromRecord(rec, mem)
}

// run is the state of one pipeline run.
type run struct {
	exec *Executor
	plan *Plan
	// dryRun stops touching data once the schema is no longer known.
	dryRun  bool
	untyped bool
}

func (r *run) apply(ctx context.Context, p *pipeline.Pipeline) error {
	for i, op := range p.Operations {
		if err := ctx.Err(); err != nil {
			return stepError(i, op, dferrors.NewExecutionError(err))
		}
		level.Debug(r.exec.logger).Log("msg", "executing operation", "index", i, "type", op.OpType())

		err := r.exec.metrics.RecordOperation(op.OpType(), func() error {
			return r.step(i, op)
		})
		if err != nil {
			err = stepError(i, op, err)
			level.Debug(r.exec.logger).Log("msg", "operation failed", "index", i, "type", op.OpType(), "err", err)
			return err
		}
	}
	return nil
}

// compiler returns a compiler checking against the current plan schema.
func (r *run) compiler() *compile.Compiler {
	if r.untyped {
		return compile.New(nil)
	}
	return compile.New(r.plan.Schema())
}

// materialize forces the plan and records why.
func (r *run) materialize(reason string) (*dataframe.DataFrame, error) {
	pending := r.plan.Pending()
	df, err := r.plan.force()
	if err != nil {
		return nil, err
	}
	if pending > 0 || reason != monitoring.ReasonFinal {
		r.exec.metrics.RecordMaterialization(reason, df.Len())
		level.Debug(r.exec.logger).Log("msg", "materialized plan", "reason", reason, "steps", pending, "rows", df.Len())
	}
	return df, nil
}
