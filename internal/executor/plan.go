package executor

import (
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/pipeframe/internal/dataframe"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/pipeline"
)

// Plan is the dataset threaded through a run: a deferred LazyFrame over the
// last materialized frame. Each pending lazy step remembers the index of the
// operation that added it, so failures surfacing at Collect are attributed
// to that operation.
type Plan struct {
	lazy    *dataframe.LazyFrame
	eval    *expr.Evaluator
	origins []int
	ops     []pipeline.Operation
}

func newPlan(df *dataframe.DataFrame, eval *expr.Evaluator, ops []pipeline.Operation) *Plan {
	return &Plan{lazy: df.Lazy().WithEvaluator(eval), eval: eval, ops: ops}
}

// Schema returns the schema the plan will produce.
func (p *Plan) Schema() *arrow.Schema {
	return p.lazy.Schema()
}

// Pending returns the number of deferred steps.
func (p *Plan) Pending() int {
	return len(p.origins)
}

// extend appends the steps added by build and tags them with index.
func (p *Plan) extend(index int, build func(*dataframe.LazyFrame) *dataframe.LazyFrame) {
	before := len(p.lazy.Operations())
	p.lazy = build(p.lazy)
	for range len(p.lazy.Operations()) - before {
		p.origins = append(p.origins, index)
	}
}

// force collects the pending steps and restarts the plan from the result.
// The returned frame is owned by the plan.
func (p *Plan) force() (*dataframe.DataFrame, error) {
	if p.Pending() == 0 {
		return p.lazy.Source(), nil
	}
	df, err := p.lazy.Collect()
	if err != nil {
		return nil, p.attribute(err)
	}
	p.replace(df)
	return df, nil
}

// replace makes df the new source of the plan, dropping pending steps.
func (p *Plan) replace(df *dataframe.DataFrame) {
	p.lazy.Release()
	p.lazy = df.Lazy().WithEvaluator(p.eval)
	p.origins = p.origins[:0]
}

// attribute maps a Collect failure back to the operation that produced the
// failing step.
func (p *Plan) attribute(err error) error {
	var ce *dataframe.CollectError
	if !errors.As(err, &ce) || ce.Position >= len(p.origins) {
		return dferrors.NewExecutionError(err)
	}
	index := p.origins[ce.Position]
	return stepError(index, p.ops[index], dferrors.NewExecutionError(ce.Err))
}

// Release drops the plan's reference to its source frame.
func (p *Plan) Release() {
	p.lazy.Release()
}

func stepError(index int, op pipeline.Operation, err error) error {
	var se *dferrors.StepError
	if errors.As(err, &se) {
		return err
	}
	return &dferrors.StepError{Index: index, Type: op.OpType(), Err: err}
}
