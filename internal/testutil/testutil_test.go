//nolint:testpackage // requires internal access to unexported types and functions
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequestLog(t *testing.T) {
	mem := SetupMemoryTest(t)
	defer mem.Release()

	t.Run("default shape", func(t *testing.T) {
		df := CreateRequestLog(mem.Allocator)
		defer df.Release()

		AssertDataFrameHasColumns(t, df, "request_id", "endpoint", "status_code", "response_time_ms", "ts")
		assert.Equal(t, defaultRowCount, df.Len())
		AssertColumnValues(t, df, "status_code", int64(200), int64(404), int64(500), int64(200), int64(503), int64(201))
		assert.Equal(t, RequestLogStart.Add(2*time.Minute), ColumnValues(t, df, "ts")[2])
	})

	t.Run("row count cycles values", func(t *testing.T) {
		df := CreateRequestLog(mem.Allocator, WithRowCount(8))
		defer df.Release()

		endpoints := ColumnValues(t, df, "endpoint")
		require.Len(t, endpoints, 8)
		assert.Equal(t, "/a", endpoints[6])
		assert.Equal(t, int64(8), ColumnValues(t, df, "request_id")[7])
	})

	t.Run("nulls", func(t *testing.T) {
		df := CreateRequestLog(mem.Allocator, WithNulls())
		defer df.Release()

		times := ColumnValues(t, df, "response_time_ms")
		assert.Nil(t, times[3])
		assert.InDelta(t, 12.5, times[0], 0)
	})
}

func TestAssertDataFrameEqual(t *testing.T) {
	mem := SetupMemoryTest(t)
	defer mem.Release()

	a := CreateRequestLog(mem.Allocator)
	defer a.Release()
	b := a.Clone()
	defer b.Release()

	AssertDataFrameEqual(t, a, b)
}

func TestCycle(t *testing.T) {
	assert.Equal(t, []int{1, 2, 1, 2, 1}, cycle([]int{1, 2}, 5))
	assert.Empty(t, cycle([]int{1}, 0))
}
