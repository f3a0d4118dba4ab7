package validation

import (
	"github.com/paveg/pipeframe/internal/dataframe"
)

// Column declares the expected shape of one input column.
type Column struct {
	Name     string   `mapstructure:"name"`
	DType    string   `mapstructure:"dtype"`
	Required bool     `mapstructure:"required"`
	Allow    []any    `mapstructure:"allow"`
	Min      *float64 `mapstructure:"min"`
	Max      *float64 `mapstructure:"max"`
}

// Schema declares the expected input columns. Columns not declared are
// not checked.
type Schema struct {
	Columns []Column `mapstructure:"columns"`
}

// Validator builds the checks of s against df. Absent optional columns
// are skipped.
func (s *Schema) Validator(df *dataframe.DataFrame) Validator {
	var validators []Validator
	for _, c := range s.Columns {
		if c.Required {
			validators = append(validators, NewColumnValidator(df, c.Name))
		}
		col, ok := df.Column(c.Name)
		if !ok {
			continue
		}
		if c.DType != "" {
			validators = append(validators, NewTypeValidator(col, c.DType))
		}
		if len(c.Allow) > 0 {
			validators = append(validators, NewAllowValidator(col, c.Allow))
		}
		if c.Min != nil || c.Max != nil {
			validators = append(validators, NewRangeValidator(col, c.Min, c.Max))
		}
	}
	return NewCompoundValidator(validators...)
}

// Validate checks df against s and returns the first violation.
func (s *Schema) Validate(df *dataframe.DataFrame) error {
	if s == nil {
		return nil
	}
	return s.Validator(df).Validate()
}

// ValidateSchema checks df against schema and returns the first violation
// as a *ValidationError. A nil schema accepts everything.
func ValidateSchema(df *dataframe.DataFrame, schema *Schema) error {
	return schema.Validate(df)
}
