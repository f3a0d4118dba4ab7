package compile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/expr"
	"github.com/paveg/pipeframe/internal/pipeline"
)

type paramKind int

const (
	paramExpr paramKind = iota
	paramString
	paramInt
	paramBool
)

func (k paramKind) String() string {
	switch k {
	case paramString:
		return "string"
	case paramInt:
		return "integer"
	case paramBool:
		return "boolean"
	}
	return "expression"
}

type param struct {
	name     string
	kind     paramKind
	required bool
}

var (
	columnParam   = param{name: "column", kind: paramExpr, required: true}
	formatParam   = param{name: "timestamp_format", kind: paramString}
	timezoneParam = param{name: "timestamp_timezone", kind: paramString}
)

// signatures lists the parameters of each catalog function in positional
// order. CONCAT is variadic and handled separately.
var signatures = map[expr.Func][]param{
	expr.FuncLower: {columnParam},
	expr.FuncUpper: {columnParam},
	expr.FuncTrim:  {columnParam, {name: "chars", kind: paramString}},
	expr.FuncReplace: {
		columnParam,
		{name: "pattern", kind: paramString, required: true},
		{name: "replacement", kind: paramString, required: true},
		{name: "literal", kind: paramBool},
		{name: "all", kind: paramBool},
	},
	expr.FuncSubstring: {
		columnParam,
		{name: "start", kind: paramInt, required: true},
		{name: "length", kind: paramInt},
	},
	expr.FuncContains:   {columnParam, {name: "value", kind: paramString, required: true}},
	expr.FuncRegexMatch: {columnParam, {name: "pattern", kind: paramString, required: true}},
	expr.FuncAbs:        {columnParam},
	expr.FuncRound:      {columnParam, {name: "decimals", kind: paramInt}},
	expr.FuncFloor:      {columnParam},
	expr.FuncCeil:       {columnParam},
	expr.FuncSqrt:       {columnParam},
	expr.FuncToInt:      {columnParam, {name: "size", kind: paramInt}},
	expr.FuncIsNull:     {columnParam},
	expr.FuncIsNotNull:  {columnParam},
	expr.FuncYear:       {columnParam, formatParam, timezoneParam},
	expr.FuncMonth:      {columnParam, formatParam, timezoneParam},
	expr.FuncDay:        {columnParam, formatParam, timezoneParam},
	expr.FuncHour:       {columnParam, formatParam, timezoneParam},
	expr.FuncMinute:     {columnParam, formatParam, timezoneParam},
	expr.FuncSecond:     {columnParam, formatParam, timezoneParam},
	expr.FuncDatePart: {
		columnParam,
		{name: "part", kind: paramString, required: true},
		formatParam,
		timezoneParam,
	},
}

// bound holds the arguments of a call after matching them to parameters.
type bound struct {
	fn     expr.Func
	exprs  map[string]expr.Expr
	consts map[string]pipeline.LiteralValue
}

func (b *bound) str(name string) (string, bool) {
	v, ok := b.consts[name]
	return v.Str, ok
}

func (b *bound) integer(name string) (int64, bool) {
	v, ok := b.consts[name]
	return v.Int, ok
}

func (b *bound) boolean(name string) bool {
	return b.consts[name].Bool
}

func (c *Compiler) function(f *pipeline.Function) (expr.Expr, error) {
	fn, ok := expr.LookupFunc(f.Name)
	if !ok {
		return nil, dferrors.NewExpressionError(f.Name, "unknown function")
	}
	if fn == expr.FuncConcat {
		return c.concat(f)
	}

	b, err := c.bind(fn, f)
	if err != nil {
		return nil, err
	}
	opts, err := options(b)
	if err != nil {
		return nil, err
	}
	return expr.Function(fn, []expr.Expr{b.exprs["column"]}, opts), nil
}

// bind matches positional or named arguments to the signature of fn.
func (c *Compiler) bind(fn expr.Func, f *pipeline.Function) (*bound, error) {
	params := signatures[fn]
	b := &bound{fn: fn, exprs: make(map[string]expr.Expr), consts: make(map[string]pipeline.LiteralValue)}

	args := make(map[string]pipeline.Expression, len(params))
	if f.IsNamed() {
		for name, arg := range f.Named {
			if !hasParam(params, name) {
				return nil, dferrors.NewExpressionError(fn.String(), "unknown parameter %q", name)
			}
			args[name] = arg
		}
	} else {
		if len(f.Args) > len(params) {
			return nil, dferrors.NewExpressionError(fn.String(), "takes at most %d arguments, got %d", len(params), len(f.Args))
		}
		for i, arg := range f.Args {
			args[params[i].name] = arg
		}
	}

	for _, p := range params {
		arg, ok := args[p.name]
		if !ok {
			if p.required {
				return nil, dferrors.NewExpressionError(fn.String(), "missing required parameter %q", p.name)
			}
			continue
		}
		if p.kind == paramExpr {
			e, err := c.exprParam(arg, f.IsNamed())
			if err != nil {
				return nil, err
			}
			b.exprs[p.name] = e
			continue
		}
		v, err := constParam(fn, p, arg)
		if err != nil {
			return nil, err
		}
		b.consts[p.name] = v
	}
	return b, nil
}

// exprParam compiles an expression argument. In named calls a string
// literal names a column.
func (c *Compiler) exprParam(arg pipeline.Expression, named bool) (expr.Expr, error) {
	if lit, ok := arg.(*pipeline.Literal); ok && named && lit.Value.Kind == pipeline.LitString {
		return expr.Col(lit.Value.Str), nil
	}
	return c.lower(arg)
}

func constParam(fn expr.Func, p param, arg pipeline.Expression) (pipeline.LiteralValue, error) {
	lit, ok := arg.(*pipeline.Literal)
	want := map[paramKind]pipeline.LiteralKind{
		paramString: pipeline.LitString,
		paramInt:    pipeline.LitInteger,
		paramBool:   pipeline.LitBoolean,
	}[p.kind]
	if !ok || lit.Value.Kind != want {
		return pipeline.LiteralValue{}, dferrors.NewExpressionError(fn.String(),
			"parameter %q must be a %s literal, got %s", p.name, p.kind, arg)
	}
	return lit.Value, nil
}

func hasParam(params []param, name string) bool {
	for _, p := range params {
		if p.name == name {
			return true
		}
	}
	return false
}

// options turns constant arguments into evaluation options.
func options(b *bound) (expr.FuncOptions, error) {
	fn := b.fn
	var opts expr.FuncOptions
	switch fn {
	case expr.FuncTrim:
		opts.Chars, _ = b.str("chars")
	case expr.FuncReplace:
		pattern, _ := b.str("pattern")
		opts.Replacement, _ = b.str("replacement")
		opts.Literal = b.boolean("literal")
		opts.ReplaceAll = b.boolean("all")
		if opts.Literal {
			opts.Substring = pattern
			break
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return opts, dferrors.NewExpressionError(fn.String(), "invalid pattern %q: %v", pattern, err)
		}
		opts.Pattern = re
	case expr.FuncRegexMatch:
		pattern, _ := b.str("pattern")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return opts, dferrors.NewExpressionError(fn.String(), "invalid pattern %q: %v", pattern, err)
		}
		opts.Pattern = re
	case expr.FuncContains:
		opts.Substring, _ = b.str("value")
	case expr.FuncSubstring:
		start, _ := b.integer("start")
		opts.Start = int(start)
		opts.Length = -1
		if length, ok := b.integer("length"); ok {
			if length <= 0 {
				return opts, dferrors.NewExpressionError(fn.String(), "length must be positive, got %d", length)
			}
			opts.Length = int(length)
		}
	case expr.FuncRound:
		decimals, _ := b.integer("decimals")
		opts.Decimals = int(decimals)
	case expr.FuncToInt:
		opts.IntSize = 64
		if size, ok := b.integer("size"); ok {
			switch size {
			case 8, 16, 32, 64:
				opts.IntSize = int(size)
			default:
				return opts, dferrors.NewExpressionError(fn.String(), "size must be 8, 16, 32 or 64, got %d", size)
			}
		}
	}

	if fn.IsTemporal() {
		format, _ := b.str("timestamp_format")
		tz, _ := b.str("timestamp_timezone")
		parser, err := expr.NewTimeParser(format, tz, false)
		if err != nil {
			return opts, dferrors.NewExpressionError(fn.String(), "%v", err)
		}
		opts.Parser = parser
		if fn == expr.FuncDatePart {
			name, _ := b.str("part")
			part, err := expr.ParseDatePart(name)
			if err != nil {
				return opts, dferrors.NewExpressionError(fn.String(), "%v", err)
			}
			opts.Part = part
		}
	}
	return opts, nil
}

// concat compiles CONCAT(a, b, ...) and the named form
// CONCAT{column1, column2, ..., separator}.
func (c *Compiler) concat(f *pipeline.Function) (expr.Expr, error) {
	var args []expr.Expr
	var opts expr.FuncOptions

	if !f.IsNamed() {
		for _, a := range f.Args {
			e, err := c.lower(a)
			if err != nil {
				return nil, err
			}
			args = append(args, e)
		}
	} else {
		columns := make(map[int]pipeline.Expression)
		for name, arg := range f.Named {
			if name == "separator" {
				v, err := constParam(expr.FuncConcat, param{name: name, kind: paramString}, arg)
				if err != nil {
					return nil, err
				}
				opts.Separator = v.Str
				continue
			}
			idx, err := strconv.Atoi(strings.TrimPrefix(name, "column"))
			if !strings.HasPrefix(name, "column") || err != nil || idx < 1 {
				return nil, dferrors.NewExpressionError(expr.FuncConcat.String(), "unknown parameter %q", name)
			}
			columns[idx] = arg
		}
		for i := 1; i <= len(columns); i++ {
			arg, ok := columns[i]
			if !ok {
				return nil, dferrors.NewExpressionError(expr.FuncConcat.String(), "missing parameter %q", fmt.Sprintf("column%d", i))
			}
			e, err := c.exprParam(arg, true)
			if err != nil {
				return nil, err
			}
			args = append(args, e)
		}
	}

	if len(args) == 0 {
		return nil, dferrors.NewExpressionError(expr.FuncConcat.String(), "needs at least one argument")
	}
	return expr.Function(expr.FuncConcat, args, opts), nil
}
