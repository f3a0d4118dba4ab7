// Package errors defines the error kinds surfaced by pipeline runs.
// DataFrameError carries failures of the columnar backend; the pipeline
// kinds (ParseError, ExpressionError, OperationError, ExecutionError) and
// StepError attribute a failure to the declared operation that caused it.
package errors

import (
	"fmt"
)

// DataFrameError represents a failure inside a DataFrame or expression primitive
type DataFrameError struct {
	Op      string // Primitive name (e.g., "Sort", "Filter", "Join")
	Column  string // Column name if applicable
	Message string // Human-readable error description
	Cause   error  // Underlying error cause
}

// Error implements the error interface
func (e *DataFrameError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Column != "" {
		return fmt.Sprintf("%s operation failed on column '%s': %s", e.Op, e.Column, msg)
	}
	return fmt.Sprintf("%s operation failed: %s", e.Op, msg)
}

// Unwrap returns the underlying cause for error wrapping support
func (e *DataFrameError) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same primitive and message, ignoring the column
// when the target leaves it empty.
func (e *DataFrameError) Is(target error) bool {
	df, ok := target.(*DataFrameError)
	if !ok {
		return false
	}
	if df.Column != "" && df.Column != e.Column {
		return false
	}
	return (df.Op == "" || e.Op == df.Op) && e.Message == df.Message
}

// NewColumnNotFoundError creates an error for operations on non-existent columns
func NewColumnNotFoundError(op, column string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Column:  column,
		Message: ErrColumnNotFound.Message,
	}
}

// NewInvalidInputError creates an error for invalid operation inputs
func NewInvalidInputError(op, message string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Message: message,
	}
}

// NewUnsupportedTypeError creates an error for unsupported data types
func NewUnsupportedTypeError(op, column, typeName string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Column:  column,
		Message: fmt.Sprintf("unsupported type: %s", typeName),
	}
}

// NewTypeMismatchError creates an error for operands whose types cannot be combined
func NewTypeMismatchError(op, left, right string) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Message: fmt.Sprintf("incompatible types %s and %s", left, right),
	}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *DataFrameError {
	return &DataFrameError{
		Op:      op,
		Message: "internal error occurred",
		Cause:   cause,
	}
}

// Predefined error variables for common cases, matched with errors.Is.
var (
	// ErrColumnNotFound matches any reference to a missing column
	ErrColumnNotFound = &DataFrameError{
		Message: "column does not exist",
	}

	// ErrMismatchedLength indicates length mismatches in operations
	ErrMismatchedLength = &DataFrameError{
		Op:      "validation",
		Message: "arrays must have the same length",
	}

	// ErrDuplicateColumn indicates two columns would share a name
	ErrDuplicateColumn = &DataFrameError{
		Message: "duplicate column name",
	}
)
