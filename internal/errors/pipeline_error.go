package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindUnknown is any error not produced by this module
	KindUnknown Kind = iota
	// KindParse marks a malformed declaration
	KindParse
	// KindExpression marks an expression that cannot be compiled
	KindExpression
	// KindOperation marks an operation that cannot run with its parameters
	KindOperation
	// KindExecution marks a failure while touching data
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindExpression:
		return "ExpressionError"
	case KindOperation:
		return "OperationError"
	case KindExecution:
		return "ExecutionError"
	default:
		return "UnknownError"
	}
}

// ParseError reports a malformed declaration at a document path
// such as "operations[2].function.type".
type ParseError struct {
	Path    string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Cause)
		}
	}
	if e.Path == "" {
		return "parse error: " + msg
	}
	return fmt.Sprintf("parse error at %s: %s", e.Path, msg)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// NewParseError creates a ParseError at path.
func NewParseError(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// ExpressionError reports an expression the compiler cannot lower:
// unsupported operator or function, arity or type mismatch, unresolved literal kind.
type ExpressionError struct {
	Expr    string // operator or function name
	Message string
}

func (e *ExpressionError) Error() string {
	if e.Expr == "" {
		return "expression error: " + e.Message
	}
	return fmt.Sprintf("expression error in %s: %s", e.Expr, e.Message)
}

// NewExpressionError creates an ExpressionError for the named operator or function.
func NewExpressionError(expr, format string, args ...any) *ExpressionError {
	return &ExpressionError{Expr: expr, Message: fmt.Sprintf(format, args...)}
}

// OperationError reports an operation that cannot run with the given parameters.
type OperationError struct {
	Op      string
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// NewOperationError creates an OperationError for operation type op.
func NewOperationError(op, format string, args ...any) *OperationError {
	return &OperationError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps a runtime failure from the backend.
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	return "execution error: " + e.Cause.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// NewExecutionError wraps cause unless it already carries a pipeline kind.
func NewExecutionError(cause error) error {
	if cause == nil {
		return nil
	}
	if KindOf(cause) != KindUnknown && KindOf(cause) != KindExecution {
		return cause
	}
	var exec *ExecutionError
	if stderrors.As(cause, &exec) {
		return cause
	}
	return &ExecutionError{Cause: cause}
}

// StepError attributes err to the operation at Index of variant Type.
type StepError struct {
	Index int
	Type  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("operation %d (%s) failed: %v", e.Index, e.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// KindOf walks the chain of err and returns the first pipeline kind found.
// Backend DataFrameErrors count as execution failures.
func KindOf(err error) Kind {
	var (
		parse *ParseError
		expr  *ExpressionError
		op    *OperationError
		exec  *ExecutionError
		df    *DataFrameError
	)
	switch {
	case err == nil:
		return KindUnknown
	case stderrors.As(err, &parse):
		return KindParse
	case stderrors.As(err, &expr):
		return KindExpression
	case stderrors.As(err, &op):
		return KindOperation
	case stderrors.As(err, &exec), stderrors.As(err, &df):
		return KindExecution
	}
	return KindUnknown
}
