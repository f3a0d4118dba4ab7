package series

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// RowComparator orders two rows of the same array.
type RowComparator func(i, j int) int

// Comparator returns a three-way comparison over the rows of arr. Nulls
// sort before every value in both directions.
func Comparator(arr arrow.Array, descending bool) (RowComparator, error) {
	dt := arr.DataType()
	var compare func(i, j int) int
	switch {
	case IsNullType(dt):
		return func(i, j int) int { return 0 }, nil
	case IsInteger(dt):
		values, _, err := Int64Values(arr)
		if err != nil {
			return nil, err
		}
		compare = func(i, j int) int { return cmp.Compare(values[i], values[j]) }
	case IsFloat(dt):
		values, _, err := Float64Values(arr)
		if err != nil {
			return nil, err
		}
		compare = func(i, j int) int { return cmp.Compare(values[i], values[j]) }
	case IsTemporal(dt):
		values, _, err := EpochMillis(arr)
		if err != nil {
			return nil, err
		}
		compare = func(i, j int) int { return cmp.Compare(values[i], values[j]) }
	case dt.ID() == arrow.STRING:
		values, _ := StringValues(arr)
		compare = func(i, j int) int { return strings.Compare(values[i], values[j]) }
	case dt.ID() == arrow.BOOL:
		values, _, err := BoolValues(arr)
		if err != nil {
			return nil, err
		}
		compare = func(i, j int) int {
			switch {
			case values[i] == values[j]:
				return 0
			case !values[i]:
				return -1
			}
			return 1
		}
	default:
		return nil, fmt.Errorf("cannot order values of type %s", dt)
	}

	return func(i, j int) int {
		iNull, jNull := arr.IsNull(i), arr.IsNull(j)
		switch {
		case iNull && jNull:
			return 0
		case iNull:
			return -1
		case jNull:
			return 1
		}
		c := compare(i, j)
		if descending {
			return -c
		}
		return c
	}, nil
}

// MultiComparator chains comparators, the first non-zero result wins.
func MultiComparator(comparators ...RowComparator) RowComparator {
	return func(i, j int) int {
		for _, c := range comparators {
			if r := c(i, j); r != 0 {
				return r
			}
		}
		return 0
	}
}
