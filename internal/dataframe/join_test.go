//nolint:testpackage // requires internal access to unexported types and functions
package dataframe

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinFrames(mem memory.Allocator) (*DataFrame, *DataFrame) {
	left := New(
		series.NewNullable("id", []int64{1, 2, 3, 0}, []bool{true, true, true, false}, mem),
		series.New("name", []string{"Alice", "Bob", "Charlie", "Nobody"}, mem),
	)
	right := New(
		series.NewNullable("id", []int64{2, 4, 1, 0}, []bool{true, true, true, false}, mem),
		series.New("name", []string{"Engineering", "Sales", "HR", "Void"}, mem),
	)
	return left, right
}

func TestJoinKinds(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	left, right := joinFrames(mem)
	defer left.Release()
	defer right.Release()

	tests := []struct {
		how     JoinType
		columns []string
		ids     []any
		names   []any
		right   []any
	}{
		{InnerJoin, []string{"id", "name", "name_right"},
			[]any{int64(1), int64(2)}, []any{"Alice", "Bob"}, []any{"HR", "Engineering"}},
		{LeftJoin, []string{"id", "name", "name_right"},
			[]any{int64(1), int64(2), int64(3), nil}, []any{"Alice", "Bob", "Charlie", "Nobody"}, []any{"HR", "Engineering", nil, nil}},
		{RightJoin, []string{"id", "name", "name_right"},
			[]any{int64(2), int64(4), int64(1), nil}, []any{"Bob", nil, "Alice", nil}, []any{"Engineering", "Sales", "HR", "Void"}},
		{OuterJoin, []string{"id", "name", "name_right"},
			[]any{int64(1), int64(2), int64(3), nil, int64(4), nil},
			[]any{"Alice", "Bob", "Charlie", "Nobody", nil, nil},
			[]any{"HR", "Engineering", nil, nil, "Sales", "Void"}},
		{SemiJoin, []string{"id", "name"}, []any{int64(1), int64(2)}, []any{"Alice", "Bob"}, nil},
		{AntiJoin, []string{"id", "name"}, []any{int64(3), nil}, []any{"Charlie", "Nobody"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.how.String(), func(t *testing.T) {
			result, err := left.Join(right, &JoinOptions{How: tt.how, LeftOn: []string{"id"}, RightOn: []string{"id"}})
			require.NoError(t, err)
			defer result.Release()

			assert.Equal(t, tt.columns, result.Columns())
			assert.Equal(t, tt.ids, columnValues(t, result, "id"))
			assert.Equal(t, tt.names, columnValues(t, result, "name"))
			if tt.right != nil {
				assert.Equal(t, tt.right, columnValues(t, result, "name_right"))
			}
		})
	}
}

func TestCrossJoin(t *testing.T) {
	mem := memory.NewGoAllocator()
	left := New(series.New("a", []int64{1, 2}, mem))
	defer left.Release()
	right := New(series.New("a", []string{"x", "y", "z"}, mem))
	defer right.Release()

	result, err := left.Join(right, &JoinOptions{How: CrossJoin, Suffix: "_r"})
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, []string{"a", "a_r"}, result.Columns())
	assert.Equal(t, []any{int64(1), int64(1), int64(1), int64(2), int64(2), int64(2)}, columnValues(t, result, "a"))
	assert.Equal(t, []any{"x", "y", "z", "x", "y", "z"}, columnValues(t, result, "a_r"))

	_, err = left.Join(right, &JoinOptions{How: CrossJoin, LeftOn: []string{"a"}, RightOn: []string{"a"}})
	assert.Error(t, err)
}

func TestJoinDifferentKeyNames(t *testing.T) {
	mem := memory.NewGoAllocator()
	employees := New(
		series.New("id", []int64{1, 2, 3}, mem),
		series.New("manager_id", []int64{0, 1, 1}, mem),
		series.New("name", []string{"Ada", "Ben", "Cy"}, mem),
	)
	defer employees.Release()

	// self join: each employee next to their manager
	result, err := employees.Join(employees, &JoinOptions{How: InnerJoin, LeftOn: []string{"manager_id"}, RightOn: []string{"id"}})
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, []string{"id", "manager_id", "name", "manager_id_right", "name_right"}, result.Columns())
	assert.Equal(t, []any{"Ben", "Cy"}, columnValues(t, result, "name"))
	assert.Equal(t, []any{"Ada", "Ada"}, columnValues(t, result, "name_right"))
}

func TestJoinMixedNumericKeys(t *testing.T) {
	mem := memory.NewGoAllocator()
	left := New(series.New("k", []int64{1, 2}, mem))
	defer left.Release()
	right := New(series.New("k", []float64{2.0, 3.5}, mem), series.New("v", []string{"two", "three"}, mem))
	defer right.Release()

	result, err := left.Join(right, &JoinOptions{How: InnerJoin, LeftOn: []string{"k"}, RightOn: []string{"k"}})
	require.NoError(t, err)
	defer result.Release()
	assert.Equal(t, []any{int64(2)}, columnValues(t, result, "k"))
	assert.Equal(t, []any{"two"}, columnValues(t, result, "v"))
}

func TestJoinValidation(t *testing.T) {
	mem := memory.NewGoAllocator()
	left, right := joinFrames(mem)
	defer left.Release()
	defer right.Release()

	_, err := left.Join(right, &JoinOptions{How: InnerJoin})
	assert.Error(t, err)

	_, err = left.Join(right, &JoinOptions{How: InnerJoin, LeftOn: []string{"id"}, RightOn: []string{"id", "name"}})
	assert.Error(t, err)

	_, err = left.Join(right, &JoinOptions{How: LeftJoin, LeftOn: []string{"nope"}, RightOn: []string{"id"}})
	assert.ErrorIs(t, err, dferrors.ErrColumnNotFound)

	_, err = left.Join(right, &JoinOptions{How: InnerJoin, LeftOn: []string{"id"}, RightOn: []string{"name"}})
	assert.Error(t, err, "int and string keys")
}

func TestParseJoinType(t *testing.T) {
	how, err := ParseJoinType("outer")
	require.NoError(t, err)
	assert.Equal(t, OuterJoin, how)

	how, err = ParseJoinType("Semi")
	require.NoError(t, err)
	assert.Equal(t, SemiJoin, how)

	_, err = ParseJoinType("sideways")
	assert.Error(t, err)
}
