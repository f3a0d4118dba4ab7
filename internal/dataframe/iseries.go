package dataframe

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// ISeries is a named column a DataFrame can hold. Array returns a new
// reference the caller must release.
type ISeries interface {
	Name() string
	Len() int
	DataType() arrow.DataType
	IsNull(index int) bool
	NullN() int
	String() string
	Array() arrow.Array
	Release()
	GetAsString(index int) string
}
