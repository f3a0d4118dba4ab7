// Package validation checks pipeline results against a declared schema:
// column presence, data type, allowed values and numeric ranges. Each
// rule is a Validator; a schema composes them and reports the first
// violation.
package validation

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/pipeframe/internal/dataframe"
	"github.com/paveg/pipeframe/internal/series"
)

// Validator checks one rule.
type Validator interface {
	Validate() error
}

// Rule names reported in ValidationErrors.
const (
	RuleRequired = "required"
	RuleDType    = "dtype"
	RuleAllow    = "allow"
	RuleRange    = "range"
)

// ValidationError reports the first schema violation found.
type ValidationError struct {
	Column  string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for column %q (%s): %s", e.Column, e.Rule, e.Message)
}

func violation(column, rule, format string, args ...any) *ValidationError {
	return &ValidationError{Column: column, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// dtypes maps declared type names to Arrow type IDs.
var dtypes = map[string]arrow.Type{
	"int8":     arrow.INT8,
	"int16":    arrow.INT16,
	"int32":    arrow.INT32,
	"int64":    arrow.INT64,
	"uint8":    arrow.UINT8,
	"uint16":   arrow.UINT16,
	"uint32":   arrow.UINT32,
	"uint64":   arrow.UINT64,
	"float32":  arrow.FLOAT32,
	"float64":  arrow.FLOAT64,
	"boolean":  arrow.BOOL,
	"utf8":     arrow.STRING,
	"date":     arrow.DATE32,
	"datetime": arrow.TIMESTAMP,
}

// ValidDType reports whether name is a declarable column type.
func ValidDType(name string) bool {
	_, ok := dtypes[strings.ToLower(name)]
	return ok
}

// ColumnValidator checks that a required column exists.
type ColumnValidator struct {
	df     *dataframe.DataFrame
	column string
}

// NewColumnValidator creates a presence check for column.
func NewColumnValidator(df *dataframe.DataFrame, column string) *ColumnValidator {
	return &ColumnValidator{df: df, column: column}
}

// Validate reports a missing column.
func (v *ColumnValidator) Validate() error {
	if !v.df.HasColumn(v.column) {
		return violation(v.column, RuleRequired, "missing required column")
	}
	return nil
}

// TypeValidator checks the data type of a column.
type TypeValidator struct {
	col   dataframe.ISeries
	dtype string
}

// NewTypeValidator creates a type check of col against the declared dtype.
func NewTypeValidator(col dataframe.ISeries, dtype string) *TypeValidator {
	return &TypeValidator{col: col, dtype: dtype}
}

// Validate reports a type mismatch or an unknown declared type.
func (v *TypeValidator) Validate() error {
	want, ok := dtypes[strings.ToLower(v.dtype)]
	if !ok {
		return violation(v.col.Name(), RuleDType, "unknown dtype %q", v.dtype)
	}
	if got := v.col.DataType(); got.ID() != want {
		return violation(v.col.Name(), RuleDType, "expected %s, got %s", v.dtype, got)
	}
	return nil
}

// AllowValidator checks that every non-null value is one of a set.
type AllowValidator struct {
	col     dataframe.ISeries
	allowed map[any]bool
}

// NewAllowValidator creates a membership check of col against allowed.
func NewAllowValidator(col dataframe.ISeries, allowed []any) *AllowValidator {
	set := make(map[any]bool, len(allowed))
	for _, v := range allowed {
		set[allowKey(v)] = true
	}
	return &AllowValidator{col: col, allowed: set}
}

// allowKey compares numbers by value regardless of their Go type.
func allowKey(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

// Validate reports the first value outside the allowed set.
func (v *AllowValidator) Validate() error {
	arr := v.col.Array()
	defer arr.Release()
	for i := range arr.Len() {
		value := series.ValueAt(arr, i)
		if value == nil {
			continue
		}
		if !v.allowed[allowKey(value)] {
			return violation(v.col.Name(), RuleAllow, "value %s at row %d is not allowed", series.FormatValue(value), i)
		}
	}
	return nil
}

// RangeValidator checks numeric values against inclusive bounds.
type RangeValidator struct {
	col      dataframe.ISeries
	min, max *float64
}

// NewRangeValidator creates a bounds check. A nil bound is not checked.
func NewRangeValidator(col dataframe.ISeries, minValue, maxValue *float64) *RangeValidator {
	return &RangeValidator{col: col, min: minValue, max: maxValue}
}

// Validate reports the first value below min or above max.
func (v *RangeValidator) Validate() error {
	if !series.IsNumeric(v.col.DataType()) {
		return violation(v.col.Name(), RuleRange, "min and max need a numeric column, got %s", v.col.DataType())
	}
	arr := v.col.Array()
	defer arr.Release()
	values, valid, err := series.Float64Values(arr)
	if err != nil {
		return violation(v.col.Name(), RuleRange, "%v", err)
	}
	for i, x := range values {
		if !valid[i] {
			continue
		}
		if v.min != nil && x < *v.min {
			return violation(v.col.Name(), RuleRange, "value %v at row %d is below min %v", x, i, *v.min)
		}
		if v.max != nil && x > *v.max {
			return violation(v.col.Name(), RuleRange, "value %v at row %d is above max %v", x, i, *v.max)
		}
	}
	return nil
}

// CompoundValidator runs validators in order and stops at the first failure.
type CompoundValidator struct {
	validators []Validator
}

// NewCompoundValidator combines validators.
func NewCompoundValidator(validators ...Validator) *CompoundValidator {
	return &CompoundValidator{validators: validators}
}

// Validate returns the first violation.
func (v *CompoundValidator) Validate() error {
	for _, validator := range v.validators {
		if err := validator.Validate(); err != nil {
			return err
		}
	}
	return nil
}
