package executor

import (
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/paveg/pipeframe/internal/compile"
	"github.com/paveg/pipeframe/internal/dataframe"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/monitoring"
	"github.com/paveg/pipeframe/internal/pipeline"
)

// step compiles operation i and applies it to the plan.
func (r *run) step(i int, op pipeline.Operation) error {
	c := r.compiler()

	switch op := op.(type) {
	case *pipeline.Filter:
		predicate, err := c.Filter(op)
		if err != nil {
			return err
		}
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.Filter(predicate)
		})

	case *pipeline.Select:
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.Select(op.Columns...)
		})

	case *pipeline.GroupBy:
		aggs, err := c.Aggregates(op.Aggregates)
		if err != nil {
			return err
		}
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.GroupBy(op.Columns...).Agg(aggs...)
		})

	case *pipeline.GroupByTime:
		name, bucket, err := c.TimeBucket(op.Spec)
		if err != nil {
			return err
		}
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.WithColumn(name, bucket)
		})
		aggs, err := r.compiler().Aggregates(op.Spec.Aggregates)
		if err != nil {
			return err
		}
		if r.untyped {
			return nil
		}
		if _, err := r.materialize(monitoring.ReasonBarrier); err != nil {
			return err
		}
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.GroupBy(op.Spec.GroupKeys()...).Agg(aggs...)
		})

	case *pipeline.Sort:
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			lf = lf.Sort(op.Column, op.Descending)
			if op.Limit != nil {
				lf = lf.Head(*op.Limit)
			}
			return lf
		})

	case *pipeline.SelfJoin:
		opts, err := joinOptions(op)
		if err != nil {
			return err
		}
		if r.untyped {
			return nil
		}
		return r.selfJoin(opts)

	case *pipeline.WithColumn:
		compiled, err := c.Expression(op.Expression)
		if err != nil {
			return err
		}
		name := op.Name
		if name == "" {
			name = expr.OutputName(compiled)
		}
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.WithColumn(name, compiled)
		})

	case *pipeline.Rename:
		mapping := make(map[string]string, len(op.Mappings))
		for _, m := range op.Mappings {
			if _, dup := mapping[m.OldName]; dup {
				return dferrors.NewOperationError(pipeline.TypeRename, "column %q is renamed twice", m.OldName)
			}
			mapping[m.OldName] = m.NewName
		}
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.Rename(mapping)
		})

	case *pipeline.Window:
		if compile.BoundsIgnored(op.Spec) {
			level.Debug(r.exec.logger).Log("msg", "ignoring bounds", "index", i, "function", op.Spec.Function.Type)
		}
		compiled, err := c.Window(op.Spec)
		if err != nil {
			return err
		}
		r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
			return lf.WithColumn(op.Spec.Name, compiled)
		})

	case *pipeline.Pivot:
		agg, err := c.Aggregate(pipeline.Aggregate{Column: op.Values, Function: op.Function})
		if err != nil {
			return err
		}
		return r.pivot(dataframe.PivotOptions{
			Index:   op.Index,
			Columns: op.Columns,
			Values:  []*expr.AggregationExpr{agg},
		})

	case *pipeline.PivotAdvanced:
		if len(op.Values) == 0 {
			return dferrors.NewOperationError(pipeline.TypePivotAdvanced, "needs at least one value aggregate")
		}
		aggs, err := c.Aggregates(op.Values)
		if err != nil {
			return err
		}
		if op.Columns == "" {
			r.extend(i, func(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
				return lf.GroupBy(op.Index...).Agg(aggs...)
			})
			return nil
		}
		return r.pivot(dataframe.PivotOptions{
			Index:   op.Index,
			Columns: op.Columns,
			Values:  aggs,
			Prefix:  true,
		})

	default:
		return dferrors.NewOperationError(fmt.Sprintf("%T", op), "unsupported operation")
	}
	return nil
}

// extend defers the steps built for operation i unless the schema is no
// longer tracked.
func (r *run) extend(i int, build func(*dataframe.LazyFrame) *dataframe.LazyFrame) {
	if r.untyped {
		return
	}
	r.plan.extend(i, build)
}

func joinOptions(op *pipeline.SelfJoin) (*dataframe.JoinOptions, error) {
	how, err := dataframe.ParseJoinType(op.How)
	if err != nil {
		return nil, dferrors.NewOperationError(pipeline.TypeSelfJoin, "%v", err)
	}
	if how == dataframe.CrossJoin {
		if len(op.LeftOn) > 0 || len(op.RightOn) > 0 {
			return nil, dferrors.NewOperationError(pipeline.TypeSelfJoin, "a Cross join takes no left_on or right_on columns")
		}
	} else {
		if len(op.LeftOn) == 0 {
			return nil, dferrors.NewOperationError(pipeline.TypeSelfJoin, "a %s join needs join columns", how)
		}
		if len(op.LeftOn) != len(op.RightOn) {
			return nil, dferrors.NewOperationError(pipeline.TypeSelfJoin,
				"left_on has %d columns but right_on has %d", len(op.LeftOn), len(op.RightOn))
		}
	}
	suffix := op.Suffix
	if suffix == "" {
		suffix = pipeline.DefaultJoinSuffix
	}
	return &dataframe.JoinOptions{How: how, LeftOn: op.LeftOn, RightOn: op.RightOn, Suffix: suffix}, nil
}

// selfJoin joins a materialized snapshot of the plan with itself.
func (r *run) selfJoin(opts *dataframe.JoinOptions) error {
	left, err := r.materialize(monitoring.ReasonSnapshot)
	if err != nil {
		return err
	}
	right := left.Clone()
	defer right.Release()

	joined, err := left.Join(right, opts)
	if err != nil {
		return dferrors.NewExecutionError(err)
	}
	r.plan.replace(joined)
	return nil
}

// pivot forces the plan and reshapes the result. The spread columns depend
// on the data, so a dry run stops tracking the schema afterwards.
func (r *run) pivot(opts dataframe.PivotOptions) error {
	if r.untyped {
		return nil
	}
	df, err := r.materialize(monitoring.ReasonBarrier)
	if err != nil {
		return err
	}
	pivoted, err := df.Pivot(opts, r.plan.eval)
	if err != nil {
		return dferrors.NewExecutionError(err)
	}
	r.plan.replace(pivoted)
	if r.dryRun {
		r.untyped = true
	}
	return nil
}
