package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LiteralKind is the variant a LiteralValue holds.
type LiteralKind int

const (
	LitNull LiteralKind = iota
	LitString
	LitInteger
	LitFloat
	LitBoolean
	LitDate
	LitDateTime
	LitStringList
	LitIntegerList
	LitFloatList
)

var literalKindNames = []string{
	"Null", "String", "Integer", "Float", "Boolean", "Date", "DateTime",
	"StringList", "IntegerList", "FloatList",
}

func (k LiteralKind) String() string {
	if int(k) < len(literalKindNames) {
		return literalKindNames[k]
	}
	return fmt.Sprintf("LiteralKind(%d)", int(k))
}

// IsList reports whether k is one of the list kinds.
func (k LiteralKind) IsList() bool {
	return k >= LitStringList
}

// LiteralValue is a tagged constant. Times are UTC with millisecond precision.
type LiteralValue struct {
	Kind    LiteralKind
	Str     string
	Int     int64
	Float   float64
	Bool    bool
	Time    time.Time
	Strings []string
	Ints    []int64
	Floats  []float64
}

// Constructors used by decoders and tests.
func NullValue() LiteralValue { return LiteralValue{Kind: LitNull} }
func StringValue(s string) LiteralValue { return LiteralValue{Kind: LitString, Str: s} }
func IntegerValue(i int64) LiteralValue { return LiteralValue{Kind: LitInteger, Int: i} }
func FloatValue(f float64) LiteralValue { return LiteralValue{Kind: LitFloat, Float: f} }
func BooleanValue(b bool) LiteralValue { return LiteralValue{Kind: LitBoolean, Bool: b} }
func StringList(s []string) LiteralValue { return LiteralValue{Kind: LitStringList, Strings: s} }
func IntegerList(i []int64) LiteralValue { return LiteralValue{Kind: LitIntegerList, Ints: i} }
func FloatList(f []float64) LiteralValue { return LiteralValue{Kind: LitFloatList, Floats: f} }

// DateValue holds the calendar day of t.
func DateValue(t time.Time) LiteralValue {
	return LiteralValue{Kind: LitDate, Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// DateTimeValue holds t normalized to UTC milliseconds.
func DateTimeValue(t time.Time) LiteralValue {
	return LiteralValue{Kind: LitDateTime, Time: t.UTC().Truncate(time.Millisecond)}
}

// IsNull reports whether the value is the null literal.
func (v LiteralValue) IsNull() bool {
	return v.Kind == LitNull
}

// Scalar returns the Go value of a scalar kind: nil, string, int64,
// float64, bool or time.Time.
func (v LiteralValue) Scalar() any {
	switch v.Kind {
	case LitString:
		return v.Str
	case LitInteger:
		return v.Int
	case LitFloat:
		return v.Float
	case LitBoolean:
		return v.Bool
	case LitDate, LitDateTime:
		return v.Time
	default:
		return nil
	}
}

// Items returns the elements of a list kind.
func (v LiteralValue) Items() []any {
	var out []any
	switch v.Kind {
	case LitStringList:
		for _, s := range v.Strings {
			out = append(out, s)
		}
	case LitIntegerList:
		for _, i := range v.Ints {
			out = append(out, i)
		}
	case LitFloatList:
		for _, f := range v.Floats {
			out = append(out, f)
		}
	}
	return out
}

// AsFloat converts a numeric literal to float64.
func (v LiteralValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case LitInteger:
		return float64(v.Int), true
	case LitFloat:
		return v.Float, true
	}
	return 0, false
}

func (v LiteralValue) String() string {
	switch v.Kind {
	case LitNull:
		return "null"
	case LitString:
		return strconv.Quote(v.Str)
	case LitInteger:
		return strconv.FormatInt(v.Int, 10)
	case LitFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case LitBoolean:
		return strconv.FormatBool(v.Bool)
	case LitDate:
		return v.Time.Format(time.DateOnly)
	case LitDateTime:
		return v.Time.Format(time.RFC3339Nano)
	}
	items := v.Items()
	parts := make([]string, len(items))
	for i, item := range items {
		if s, ok := item.(string); ok {
			parts[i] = strconv.Quote(s)
		} else {
			parts[i] = fmt.Sprint(item)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
