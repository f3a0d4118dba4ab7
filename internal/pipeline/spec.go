package pipeline

import (
	"fmt"
	"slices"
	"strings"
)

// Aggregate functions accepted in declarations.
var aggregateFunctions = []string{
	"MIN", "MAX", "SUM", "MEAN", "MEDIAN", "STD", "VAR", "COUNT", "FIRST", "LAST", "NUNIQUE",
}

// AggFunction is a reduction name. Ddof is only set for STD and VAR when the
// declaration gives one.
type AggFunction struct {
	Name string
	Ddof *int
}

func (f AggFunction) String() string {
	if f.Ddof != nil {
		return fmt.Sprintf("%s(%d)", f.Name, *f.Ddof)
	}
	return f.Name
}

// Aggregate reduces Column with Function. Alias defaults to
// "<column>_<FUNCTION>".
type Aggregate struct {
	Column   string
	Function AggFunction
	Alias    string
}

// OutputName returns the alias or its default.
func (a Aggregate) OutputName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Column + "_" + a.Function.Name
}

// Window function names, lower case.
var windowFunctions = []string{
	"sum", "min", "max", "mean", "count", "first", "last", "cumsum",
	"rank", "denserank", "rownumber", "lag", "lead", "rollingmean",
}

// WindowFunction names the function of a Window and its lag/lead
// parameters.
type WindowFunction struct {
	Type string
	// Offset is the lag/lead distance, 1 when not declared.
	Offset       int
	DefaultValue *LiteralValue
}

// IsShift reports whether the function is lag or lead.
func (f WindowFunction) IsShift() bool {
	return f.Type == "lag" || f.Type == "lead"
}

// Bounds limits a frame to rows around the current one.
type Bounds struct {
	Preceding int
	Following int
}

// WindowSpec declares a window column.
type WindowSpec struct {
	Column      string
	Function    WindowFunction
	PartitionBy []string
	OrderBy     []string
	// Descending holds at most len(OrderBy) entries; missing ones are ascending.
	Descending []bool
	Bounds     *Bounds
	Name       string
}

// IsDescending reports the direction of the i-th order key.
func (w WindowSpec) IsDescending(i int) bool {
	return i < len(w.Descending) && w.Descending[i]
}

// Time units accepted by GroupByTime.
var timeUnits = []string{"Seconds", "Minutes", "Hours", "Days", "Weeks", "Months", "Quarters", "Years"}

// TimeBucketSpec declares time bucketing followed by aggregation.
type TimeBucketSpec struct {
	TimeColumn        string
	Every             int
	Unit              string
	OutputColumn      string
	TimestampFormat   string
	TimestampTimezone string
	Strict            bool
	AdditionalGroups  []string
	Aggregates        []Aggregate
}

// BucketColumn returns the name of the bucket column.
func (t TimeBucketSpec) BucketColumn() string {
	if t.OutputColumn != "" {
		return t.OutputColumn
	}
	return t.TimeColumn
}

// GroupKeys returns the bucket column followed by the additional groups.
func (t TimeBucketSpec) GroupKeys() []string {
	return append([]string{t.BucketColumn()}, t.AdditionalGroups...)
}

func lookupName(name string, names []string, fold func(string) string) (string, bool) {
	key := fold(strings.TrimSpace(name))
	idx := slices.IndexFunc(names, func(n string) bool { return fold(n) == key })
	if idx < 0 {
		return "", false
	}
	return names[idx], true
}
