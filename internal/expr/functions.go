package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/grafana/regexp"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/series"
)

// Func identifies a scalar function of the catalog
type Func int

const (
	FuncConcat Func = iota
	FuncLower
	FuncUpper
	FuncTrim
	FuncReplace
	FuncSubstring
	FuncContains
	FuncRegexMatch
	FuncAbs
	FuncRound
	FuncFloor
	FuncCeil
	FuncSqrt
	FuncToInt
	FuncIsNull
	FuncIsNotNull
	FuncYear
	FuncMonth
	FuncDay
	FuncHour
	FuncMinute
	FuncSecond
	FuncDatePart
)

var funcNames = []string{
	"CONCAT", "LOWER", "UPPER", "TRIM", "REPLACE", "SUBSTRING", "CONTAINS",
	"REGEX_MATCH", "ABS", "ROUND", "FLOOR", "CEIL", "SQRT", "TOINT", "ISNULL",
	"ISNOTNULL", "YEAR", "MONTH", "DAY", "HOUR", "MINUTE", "SECOND", "DATEPART",
}

var funcAliases = map[string]Func{
	"REGEXMATCH": FuncRegexMatch,
}

func (f Func) String() string {
	if int(f) < len(funcNames) {
		return funcNames[f]
	}
	return fmt.Sprintf("Func(%d)", int(f))
}

// LookupFunc resolves a catalog name, case-insensitively.
func LookupFunc(name string) (Func, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range funcNames {
		if n == upper {
			return Func(i), true
		}
	}
	f, ok := funcAliases[upper]
	return f, ok
}

// IsTemporal reports whether f extracts a calendar field.
func (f Func) IsTemporal() bool {
	return f >= FuncYear && f <= FuncDatePart
}

var partOfFunc = map[Func]DatePart{
	FuncYear:   PartYear,
	FuncMonth:  PartMonth,
	FuncDay:    PartDay,
	FuncHour:   PartHour,
	FuncMinute: PartMinute,
	FuncSecond: PartSecond,
}

// FuncOptions carries the constant parameters of a function call. Only the
// fields the function reads are meaningful.
type FuncOptions struct {
	Separator   string
	Chars       string
	Pattern     *regexp.Regexp
	Substring   string
	Replacement string
	Literal     bool
	ReplaceAll  bool
	Start       int
	// Length of the substring, -1 for the rest of the string.
	Length   int
	Decimals int
	IntSize  int
	Part     DatePart
	Parser   *TimeParser
}

// FunctionExpr applies a catalog function to its arguments
type FunctionExpr struct {
	fn   Func
	args []Expr
	opts FuncOptions
}

// Function creates a function call
func Function(fn Func, args []Expr, opts FuncOptions) *FunctionExpr {
	if fn == FuncSubstring && opts.Length == 0 {
		opts.Length = -1
	}
	if fn == FuncToInt && opts.IntSize == 0 {
		opts.IntSize = 64
	}
	if part, ok := partOfFunc[fn]; ok {
		opts.Part = part
	}
	return &FunctionExpr{fn: fn, args: args, opts: opts}
}

func (f *FunctionExpr) Type() ExprType {
	return ExprFunction
}

func (f *FunctionExpr) String() string {
	args := make([]string, len(f.args))
	for i, a := range f.args {
		args[i] = a.String()
	}
	if f.fn == FuncDatePart {
		args = append(args, fmt.Sprintf("%q", f.opts.Part))
	}
	return fmt.Sprintf("%s(%s)", f.fn, strings.Join(args, ", "))
}

func (f *FunctionExpr) Func() Func {
	return f.fn
}

func (f *FunctionExpr) Args() []Expr {
	return f.args
}

func (f *FunctionExpr) Options() FuncOptions {
	return f.opts
}

func (e *Evaluator) evaluateFunction(f *FunctionExpr, columns map[string]arrow.Array, n int) (arrow.Array, error) {
	if len(f.args) == 0 {
		return nil, dferrors.NewInvalidInputError(f.fn.String(), "function needs at least one argument")
	}

	args := make([]arrow.Array, 0, len(f.args))
	defer func() {
		for _, a := range args {
			a.Release()
		}
	}()
	for _, a := range f.args {
		arr, err := e.evaluate(a, columns, n)
		if err != nil {
			return nil, err
		}
		args = append(args, arr)
	}

	input := args[0]
	switch f.fn {
	case FuncConcat:
		return e.concatStrings(args, f.opts.Separator), nil
	case FuncLower:
		return e.mapString(input, func(s string) string { return strings.ToLower(s) }), nil
	case FuncUpper:
		return e.mapString(input, func(s string) string { return strings.ToUpper(s) }), nil
	case FuncTrim:
		if f.opts.Chars == "" {
			return e.mapString(input, strings.TrimSpace), nil
		}
		return e.mapString(input, func(s string) string { return strings.Trim(s, f.opts.Chars) }), nil
	case FuncReplace:
		return e.mapString(input, replacer(f.opts)), nil
	case FuncSubstring:
		return e.mapString(input, func(s string) string { return substring(s, f.opts.Start, f.opts.Length) }), nil
	case FuncContains:
		return e.matchString(input, func(s string) bool { return strings.Contains(s, f.opts.Substring) }), nil
	case FuncRegexMatch:
		if f.opts.Pattern == nil {
			return nil, dferrors.NewInvalidInputError(f.fn.String(), "missing pattern")
		}
		return e.matchString(input, f.opts.Pattern.MatchString), nil
	case FuncAbs:
		return e.abs(input)
	case FuncRound:
		scale := math.Pow(10, float64(f.opts.Decimals))
		return e.mapFloat(input, f.fn, func(v float64) float64 { return math.Round(v*scale) / scale })
	case FuncFloor:
		return e.mapFloat(input, f.fn, math.Floor)
	case FuncCeil:
		return e.mapFloat(input, f.fn, math.Ceil)
	case FuncSqrt:
		return e.mapFloat(input, f.fn, math.Sqrt)
	case FuncToInt:
		dt, err := intType(f.opts.IntSize)
		if err != nil {
			return nil, err
		}
		return series.Cast(input, dt, false, e.mem)
	case FuncIsNull, FuncIsNotNull:
		b := array.NewBooleanBuilder(e.mem)
		defer b.Release()
		b.Reserve(input.Len())
		for i := 0; i < input.Len(); i++ {
			b.Append(input.IsNull(i) == (f.fn == FuncIsNull))
		}
		return b.NewArray(), nil
	default:
		if f.fn.IsTemporal() {
			return e.datePart(input, f.opts)
		}
		return nil, dferrors.NewUnsupportedTypeError("Function", "", f.fn.String())
	}
}

func intType(size int) (arrow.DataType, error) {
	switch size {
	case 8:
		return arrow.PrimitiveTypes.Int8, nil
	case 16:
		return arrow.PrimitiveTypes.Int16, nil
	case 32:
		return arrow.PrimitiveTypes.Int32, nil
	case 64, 0:
		return arrow.PrimitiveTypes.Int64, nil
	}
	return nil, dferrors.NewInvalidInputError("TOINT", fmt.Sprintf("unsupported integer size %d", size))
}

func (e *Evaluator) mapString(arr arrow.Array, fn func(string) string) arrow.Array {
	values, valid := series.StringValues(arr)
	b := array.NewStringBuilder(e.mem)
	defer b.Release()
	b.Reserve(len(values))
	for i, v := range values {
		if !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(fn(v))
	}
	return b.NewArray()
}

func (e *Evaluator) matchString(arr arrow.Array, fn func(string) bool) arrow.Array {
	values, valid := series.StringValues(arr)
	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	b.Reserve(len(values))
	for i, v := range values {
		if !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(fn(v))
	}
	return b.NewArray()
}

func (e *Evaluator) concatStrings(args []arrow.Array, sep string) arrow.Array {
	n := args[0].Len()
	columns := make([][]string, len(args))
	masks := make([][]bool, len(args))
	for i, a := range args {
		columns[i], masks[i] = series.StringValues(a)
	}

	b := array.NewStringBuilder(e.mem)
	defer b.Release()
	b.Reserve(n)
	parts := make([]string, len(args))
row:
	for row := 0; row < n; row++ {
		for i := range args {
			if !masks[i][row] {
				b.AppendNull()
				continue row
			}
			parts[i] = columns[i][row]
		}
		b.Append(strings.Join(parts, sep))
	}
	return b.NewArray()
}

func replacer(opts FuncOptions) func(string) string {
	if opts.Literal || opts.Pattern == nil {
		count := 1
		if opts.ReplaceAll {
			count = -1
		}
		return func(s string) string { return strings.Replace(s, opts.Substring, opts.Replacement, count) }
	}
	re := opts.Pattern
	if opts.ReplaceAll {
		return func(s string) string { return re.ReplaceAllString(s, opts.Replacement) }
	}
	return func(s string) string {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil {
			return s
		}
		expanded := re.ExpandString(nil, opts.Replacement, s, loc)
		return s[:loc[0]] + string(expanded) + s[loc[1]:]
	}
}

func substring(s string, start, length int) string {
	runes := []rune(s)
	if start < 0 {
		start += len(runes)
		if start < 0 {
			start = 0
		}
	}
	if start >= len(runes) {
		return ""
	}
	end := len(runes)
	if length >= 0 && start+length < end {
		end = start + length
	}
	return string(runes[start:end])
}

func (e *Evaluator) abs(arr arrow.Array) (arrow.Array, error) {
	dt := arr.DataType()
	switch {
	case series.IsInteger(dt):
		values, valid, err := series.Int64Values(arr)
		if err != nil {
			return nil, err
		}
		b := array.NewInt64Builder(e.mem)
		defer b.Release()
		b.Reserve(len(values))
		for i, v := range values {
			if !valid[i] {
				b.AppendNull()
				continue
			}
			if v < 0 {
				v = -v
			}
			b.Append(v)
		}
		return b.NewArray(), nil
	case series.IsFloat(dt):
		return e.mapFloat(arr, FuncAbs, math.Abs)
	}
	return nil, dferrors.NewUnsupportedTypeError(FuncAbs.String(), "", dt.String())
}

func (e *Evaluator) mapFloat(arr arrow.Array, fn Func, op func(float64) float64) (arrow.Array, error) {
	if !series.IsNumeric(arr.DataType()) {
		return nil, dferrors.NewUnsupportedTypeError(fn.String(), "", arr.DataType().String())
	}
	values, valid, err := series.Float64Values(arr)
	if err != nil {
		return nil, err
	}
	b := array.NewFloat64Builder(e.mem)
	defer b.Release()
	b.Reserve(len(values))
	for i, v := range values {
		if !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(op(v))
	}
	return b.NewArray(), nil
}

// instants converts a temporal array, or a string array parsed with parser,
// to epoch milliseconds. Unparsable strings become null unless the parser
// is strict.
func instants(arr arrow.Array, parser *TimeParser) ([]int64, []bool, error) {
	if series.IsTemporal(arr.DataType()) {
		return series.EpochMillis(arr)
	}
	if arr.DataType().ID() != arrow.STRING {
		return nil, nil, dferrors.NewUnsupportedTypeError("ParseTime", "", arr.DataType().String())
	}
	if parser == nil {
		var err error
		if parser, err = NewTimeParser("", "", false); err != nil {
			return nil, nil, err
		}
	}

	values, valid := series.StringValues(arr)
	out := make([]int64, len(values))
	for i, s := range values {
		if !valid[i] {
			continue
		}
		t, err := parser.Parse(s)
		if err != nil {
			if parser.strict {
				return nil, nil, dferrors.NewInvalidInputError("ParseTime", err.Error())
			}
			valid[i] = false
			continue
		}
		out[i] = t.UnixMilli()
	}
	return out, valid, nil
}

func (e *Evaluator) datePart(arr arrow.Array, opts FuncOptions) (arrow.Array, error) {
	ms, valid, err := instants(arr, opts.Parser)
	if err != nil {
		return nil, err
	}
	loc := opts.Parser.location()

	b := array.NewInt64Builder(e.mem)
	defer b.Release()
	b.Reserve(len(ms))
	for i, v := range ms {
		if !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(extractPart(v, opts.Part, loc))
	}
	return b.NewArray(), nil
}
