package dataframe

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/series"
)

// JoinType represents the type of join operation
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
	RightJoin
	OuterJoin
	CrossJoin
	SemiJoin
	AntiJoin
)

var joinTypeNames = []string{"Inner", "Left", "Right", "Outer", "Cross", "Semi", "Anti"}

func (j JoinType) String() string {
	if int(j) < len(joinTypeNames) {
		return joinTypeNames[j]
	}
	return fmt.Sprintf("JoinType(%d)", int(j))
}

// ParseJoinType accepts join kind names case-insensitively
func ParseJoinType(s string) (JoinType, error) {
	for i, name := range joinTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return JoinType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown join type %q (want one of %s)", s, strings.Join(joinTypeNames, ", "))
}

// DefaultJoinSuffix is appended to right column names that collide with
// output names.
const DefaultJoinSuffix = "_right"

// JoinOptions specifies parameters for join operations
type JoinOptions struct {
	How     JoinType
	LeftOn  []string
	RightOn []string
	Suffix  string
}

// Join combines df with right on equal key values. Null keys never match.
// Key columns take the left value, or the right value on rows without a left
// match; right key columns are not repeated. Semi and anti joins return left
// columns only and a cross join returns the cartesian product.
func (df *DataFrame) Join(right *DataFrame, opts *JoinOptions) (*DataFrame, error) {
	if err := validateJoin(df, right, opts); err != nil {
		return nil, err
	}
	suffix := opts.Suffix
	if suffix == "" {
		suffix = DefaultJoinSuffix
	}

	if opts.How == CrossJoin {
		leftIdx, rightIdx := crossIndices(df.Len(), right.Len())
		return df.assemble(right, leftIdx, rightIdx, nil, nil, suffix)
	}

	leftKeys, rightKeys, release, err := joinKeys(df, right, opts)
	if err != nil {
		return nil, err
	}
	defer release()

	switch opts.How {
	case SemiJoin, AntiJoin:
		matches := probe(leftKeys, df.Len(), buildIndex(rightKeys, right.Len()))
		var keep []int
		for row, m := range matches {
			if (len(m) > 0) == (opts.How == SemiJoin) {
				keep = append(keep, row)
			}
		}
		return df.Take(keep)
	case RightJoin:
		matches := probe(rightKeys, right.Len(), buildIndex(leftKeys, df.Len()))
		var leftIdx, rightIdx []int
		for row, m := range matches {
			if len(m) == 0 {
				leftIdx = append(leftIdx, -1)
				rightIdx = append(rightIdx, row)
				continue
			}
			for _, l := range m {
				leftIdx = append(leftIdx, l)
				rightIdx = append(rightIdx, row)
			}
		}
		return df.assemble(right, leftIdx, rightIdx, opts.LeftOn, opts.RightOn, suffix)
	}

	matches := probe(leftKeys, df.Len(), buildIndex(rightKeys, right.Len()))
	var leftIdx, rightIdx []int
	matched := make([]bool, right.Len())
	for row, m := range matches {
		if len(m) == 0 {
			if opts.How != InnerJoin {
				leftIdx = append(leftIdx, row)
				rightIdx = append(rightIdx, -1)
			}
			continue
		}
		for _, r := range m {
			leftIdx = append(leftIdx, row)
			rightIdx = append(rightIdx, r)
			matched[r] = true
		}
	}
	if opts.How == OuterJoin {
		for r, ok := range matched {
			if !ok {
				leftIdx = append(leftIdx, -1)
				rightIdx = append(rightIdx, r)
			}
		}
	}
	return df.assemble(right, leftIdx, rightIdx, opts.LeftOn, opts.RightOn, suffix)
}

func validateJoin(left, right *DataFrame, opts *JoinOptions) error {
	if opts == nil {
		return dferrors.NewInvalidInputError("Join", "join options are required")
	}
	if opts.How == CrossJoin {
		if len(opts.LeftOn) > 0 || len(opts.RightOn) > 0 {
			return dferrors.NewInvalidInputError("Join", "cross join takes no key columns")
		}
		return nil
	}
	if len(opts.LeftOn) == 0 || len(opts.LeftOn) != len(opts.RightOn) {
		return dferrors.NewInvalidInputError("Join",
			fmt.Sprintf("%s join needs equal, non-empty key lists (got %d left, %d right)", opts.How, len(opts.LeftOn), len(opts.RightOn)))
	}
	for _, name := range opts.LeftOn {
		if !left.HasColumn(name) {
			return dferrors.NewColumnNotFoundError("Join", name)
		}
	}
	for _, name := range opts.RightOn {
		if !right.HasColumn(name) {
			return dferrors.NewColumnNotFoundError("Join", name)
		}
	}
	return nil
}

// joinKeys returns the key arrays of both sides. Pairs that mix integer and
// floating point columns are compared as float64.
func joinKeys(left, right *DataFrame, opts *JoinOptions) ([]arrow.Array, []arrow.Array, func(), error) {
	leftKeys := make([]arrow.Array, len(opts.LeftOn))
	rightKeys := make([]arrow.Array, len(opts.RightOn))
	var owned []arrow.Array
	release := func() { releaseArrays(owned) }

	for i := range opts.LeftOn {
		l := left.columns[opts.LeftOn[i]].Array()
		r := right.columns[opts.RightOn[i]].Array()
		owned = append(owned, l, r)

		lt, rt := l.DataType(), r.DataType()
		if series.IsNumeric(lt) && series.IsNumeric(rt) && series.IsFloat(lt) != series.IsFloat(rt) {
			lf, err := series.Cast(l, arrow.PrimitiveTypes.Float64, false, left.mem)
			if err != nil {
				release()
				return nil, nil, nil, err
			}
			rf, err := series.Cast(r, arrow.PrimitiveTypes.Float64, false, left.mem)
			if err != nil {
				lf.Release()
				release()
				return nil, nil, nil, err
			}
			owned = append(owned, lf, rf)
			l, r = lf, rf
		} else if !joinCompatible(lt, rt) {
			release()
			return nil, nil, nil, dferrors.NewTypeMismatchError("Join", lt.String(), rt.String())
		}
		leftKeys[i], rightKeys[i] = l, r
	}
	return leftKeys, rightKeys, release, nil
}

func joinCompatible(lt, rt arrow.DataType) bool {
	switch {
	case series.IsNullType(lt) || series.IsNullType(rt):
		return true
	case series.IsNumeric(lt) && series.IsNumeric(rt):
		return true
	case series.IsTemporal(lt) && series.IsTemporal(rt):
		return true
	}
	return arrow.TypeEqual(lt, rt)
}

func hasNullKey(keys []arrow.Array, row int) bool {
	for _, k := range keys {
		if k.IsNull(row) {
			return true
		}
	}
	return false
}

type joinIndex struct {
	index *series.GroupIndex
	rows  [][]int
}

func buildIndex(keys []arrow.Array, n int) *joinIndex {
	idx := &joinIndex{index: series.NewGroupIndex()}
	var buf []byte
	for row := 0; row < n; row++ {
		if hasNullKey(keys, row) {
			continue
		}
		buf = series.EncodeRow(buf[:0], keys, row)
		id, isNew := idx.index.Insert(buf)
		if isNew {
			idx.rows = append(idx.rows, nil)
		}
		idx.rows[id] = append(idx.rows[id], row)
	}
	return idx
}

// probe returns, for every row of keys, the matching rows of idx.
func probe(keys []arrow.Array, n int, idx *joinIndex) [][]int {
	matches := make([][]int, n)
	var buf []byte
	for row := 0; row < n; row++ {
		if hasNullKey(keys, row) {
			continue
		}
		buf = series.EncodeRow(buf[:0], keys, row)
		if id, ok := idx.index.Lookup(buf); ok {
			matches[row] = idx.rows[id]
		}
	}
	return matches
}

func crossIndices(nl, nr int) ([]int, []int) {
	leftIdx := make([]int, 0, nl*nr)
	rightIdx := make([]int, 0, nl*nr)
	for l := 0; l < nl; l++ {
		for r := 0; r < nr; r++ {
			leftIdx = append(leftIdx, l)
			rightIdx = append(rightIdx, r)
		}
	}
	return leftIdx, rightIdx
}

// assemble gathers the joined rows: left columns, with key columns
// coalesced from the right side, then the right columns that are not keys.
func (df *DataFrame) assemble(right *DataFrame, leftIdx, rightIdx []int, leftOn, rightOn []string, suffix string) (*DataFrame, error) {
	left, err := df.Take(leftIdx)
	if err != nil {
		return nil, err
	}
	defer left.Release()
	taken, err := right.Take(rightIdx)
	if err != nil {
		return nil, err
	}
	defer taken.Release()

	coalesce := make(map[string]string, len(leftOn))
	for i, name := range leftOn {
		coalesce[name] = rightOn[i]
	}

	cols := make([]ISeries, 0, left.Width()+taken.Width())
	used := make(map[string]bool, left.Width()+taken.Width())
	for _, name := range left.order {
		used[name] = true
		other, ok := coalesce[name]
		if !ok {
			cols = append(cols, left.share(name))
			continue
		}
		merged, err := coalesceKey(left.columns[name], taken.columns[other], leftIdx, df)
		if err != nil {
			releaseAll(cols)
			return nil, err
		}
		cols = append(cols, series.FromArray(name, merged))
	}

	for _, name := range taken.order {
		if slices.Contains(rightOn, name) {
			continue
		}
		target := name
		for used[target] {
			target += suffix
		}
		used[target] = true
		cols = append(cols, series.FromArray(target, taken.columns[name].Array()))
	}
	return df.derive(cols), nil
}

// coalesceKey takes the left key where the row had a left match, else the
// right key converted to the left key's type.
func coalesceKey(leftKey, rightKey ISeries, leftIdx []int, df *DataFrame) (arrow.Array, error) {
	l := leftKey.Array()
	defer l.Release()
	r := rightKey.Array()
	defer r.Release()

	dt := l.DataType()
	if series.IsNullType(dt) {
		dt = r.DataType()
	}
	b := array.NewBuilder(df.mem, dt)
	defer b.Release()
	b.Reserve(len(leftIdx))
	for i, li := range leftIdx {
		v := series.ValueAt(l, i)
		if li < 0 {
			v = series.ValueAt(r, i)
		}
		if err := series.AppendValue(b, v); err != nil {
			return nil, dferrors.NewTypeMismatchError("Join", l.DataType().String(), r.DataType().String())
		}
	}
	return b.NewArray(), nil
}
