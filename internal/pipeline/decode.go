package pipeline

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	dferrors "github.com/paveg/pipeframe/internal/errors"
)

// DecodeFile reads a declaration document, choosing the syntax by extension.
func DecodeFile(path string) (*Pipeline, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &dferrors.ParseError{Cause: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline %s: %w", path, err)
	}
	return Decode(data, format)
}

// Decode parses a document and returns the pipeline under its
// "operations" key. Other top-level keys are ignored.
func Decode(data []byte, format Format) (*Pipeline, error) {
	doc, err := ParseDocument(data, format)
	if err != nil {
		return nil, err
	}
	return FromOperations(doc["operations"])
}

// FromOperations decodes the value of an "operations" key from a tree
// produced by ParseDocument. A nil value is an empty pipeline.
func FromOperations(raw any) (*Pipeline, error) {
	if raw == nil {
		return &Pipeline{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, dferrors.NewParseError("operations", "expected an array of tables, got %s", describe(raw))
	}
	p := &Pipeline{Operations: make([]Operation, 0, len(items))}
	for i, item := range items {
		op, err := decodeOperation(item, fmt.Sprintf("operations[%d]", i))
		if err != nil {
			return nil, err
		}
		p.Operations = append(p.Operations, op)
	}
	return p, nil
}

type (
	filterBody struct {
		Column    string `mapstructure:"column"`
		Condition string `mapstructure:"condition"`
		Filter    any    `mapstructure:"filter"`
	}
	selectBody struct {
		Columns []string `mapstructure:"columns"`
	}
	groupByBody struct {
		Columns   []string `mapstructure:"columns"`
		Aggregate []any    `mapstructure:"aggregate"`
	}
	timeBucketBody struct {
		TimeColumn        string   `mapstructure:"time_column"`
		Every             int      `mapstructure:"every"`
		Unit              string   `mapstructure:"unit"`
		OutputColumn      string   `mapstructure:"output_column"`
		TimestampFormat   string   `mapstructure:"timestamp_format"`
		TimestampTimezone string   `mapstructure:"timestamp_timezone"`
		Strict            bool     `mapstructure:"strict"`
		AdditionalGroups  []string `mapstructure:"additional_groups"`
		Aggregate         []any    `mapstructure:"aggregate"`
	}
	sortBody struct {
		Column string `mapstructure:"column"`
		Order  string `mapstructure:"order"`
		Limit  *int   `mapstructure:"limit"`
	}
	joinBody struct {
		LeftOn  []string `mapstructure:"left_on"`
		RightOn []string `mapstructure:"right_on"`
		How     string   `mapstructure:"how"`
		Suffix  *string  `mapstructure:"suffix"`
	}
	withColumnBody struct {
		Name       string `mapstructure:"name"`
		Expression any    `mapstructure:"expression"`
	}
	pivotBody struct {
		Index             []string `mapstructure:"index"`
		Columns           string   `mapstructure:"columns"`
		Values            string   `mapstructure:"values"`
		AggregateFunction any      `mapstructure:"aggregate_function"`
	}
	pivotAdvancedBody struct {
		Index   []string `mapstructure:"index"`
		Columns string   `mapstructure:"columns"`
		Values  []any    `mapstructure:"values"`
	}
	windowBody struct {
		Column      string   `mapstructure:"column"`
		Function    any      `mapstructure:"function"`
		PartitionBy []string `mapstructure:"partition_by"`
		OrderBy     []string `mapstructure:"order_by"`
		Descending  []bool   `mapstructure:"descending"`
		Bounds      *struct {
			Preceding int `mapstructure:"preceding"`
			Following int `mapstructure:"following"`
		} `mapstructure:"bounds"`
		Name string `mapstructure:"name"`
	}
	renameBody struct {
		Mappings []struct {
			OldName string `mapstructure:"old_name"`
			NewName string `mapstructure:"new_name"`
		} `mapstructure:"mappings"`
	}
	aggregateBody struct {
		Column   string `mapstructure:"column"`
		Function any    `mapstructure:"function"`
		Alias    string `mapstructure:"alias"`
	}
	windowFunctionBody struct {
		Type   string `mapstructure:"type"`
		Params *struct {
			Offset       *int `mapstructure:"offset"`
			DefaultValue any  `mapstructure:"default_value"`
		} `mapstructure:"params"`
	}
)

var operationTypes = []string{
	TypeFilter, TypeSelect, TypeGroupBy, TypeGroupByTime, TypeSort, TypeSelfJoin,
	TypeWithColumn, TypePivot, TypePivotAdvanced, TypeWindow, TypeRename,
}

func decodeOperation(raw any, path string) (Operation, error) {
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, dferrors.NewParseError(path, "expected a table, got %s", describe(raw))
	}
	tag, body, err := splitTag(table, path)
	if err != nil {
		return nil, err
	}
	opType, ok := lookupName(tag, operationTypes, strings.ToLower)
	if !ok {
		return nil, dferrors.NewParseError(path+".type", "unknown operation type %q", tag)
	}

	switch opType {
	case TypeFilter:
		return decodeFilter(body, path)
	case TypeSelect:
		var b selectBody
		if err := decodeBody(body, &b, path, "columns"); err != nil {
			return nil, err
		}
		return &Select{Columns: b.Columns}, nil
	case TypeGroupBy:
		var b groupByBody
		if err := decodeBody(body, &b, path, "columns", "aggregate"); err != nil {
			return nil, err
		}
		aggs, err := decodeAggregates(b.Aggregate, path+".aggregate")
		if err != nil {
			return nil, err
		}
		return &GroupBy{Columns: b.Columns, Aggregates: aggs}, nil
	case TypeGroupByTime:
		return decodeGroupByTime(body, path)
	case TypeSort:
		return decodeSort(body, path)
	case TypeSelfJoin:
		return decodeSelfJoin(body, path)
	case TypeWithColumn:
		var b withColumnBody
		if err := decodeBody(body, &b, path, "expression"); err != nil {
			return nil, err
		}
		e, err := decodeExpression(b.Expression, path+".expression")
		if err != nil {
			return nil, err
		}
		return &WithColumn{Name: b.Name, Expression: e}, nil
	case TypePivot:
		var b pivotBody
		if err := decodeBody(body, &b, path, "index", "columns", "values", "aggregate_function"); err != nil {
			return nil, err
		}
		fn, err := decodeAggFunction(b.AggregateFunction, path+".aggregate_function")
		if err != nil {
			return nil, err
		}
		return &Pivot{Index: b.Index, Columns: b.Columns, Values: b.Values, Function: fn}, nil
	case TypePivotAdvanced:
		var b pivotAdvancedBody
		if err := decodeBody(body, &b, path, "index", "values"); err != nil {
			return nil, err
		}
		aggs, err := decodeAggregates(b.Values, path+".values")
		if err != nil {
			return nil, err
		}
		return &PivotAdvanced{Index: b.Index, Columns: b.Columns, Values: aggs}, nil
	case TypeWindow:
		return decodeWindow(body, path)
	default: // TypeRename
		var b renameBody
		if err := decodeBody(body, &b, path, "mappings"); err != nil {
			return nil, err
		}
		op := &Rename{Mappings: make([]ColumnRename, len(b.Mappings))}
		for i, m := range b.Mappings {
			mpath := fmt.Sprintf("%s.mappings[%d]", path, i)
			if m.OldName == "" {
				return nil, dferrors.NewParseError(mpath+".old_name", "required")
			}
			if m.NewName == "" {
				return nil, dferrors.NewParseError(mpath+".new_name", "required")
			}
			op.Mappings[i] = ColumnRename{OldName: m.OldName, NewName: m.NewName}
		}
		return op, nil
	}
}

func decodeFilter(body map[string]any, path string) (Operation, error) {
	var b filterBody
	if err := decodeBody(body, &b, path, "column", "condition"); err != nil {
		return nil, err
	}
	cond := FilterCondition(strings.ToUpper(strings.TrimSpace(b.Condition)))
	if !slices.Contains(filterConditions, cond) {
		return nil, dferrors.NewParseError(path+".condition", "unknown filter condition %q", b.Condition)
	}
	op := &Filter{Column: b.Column, Condition: cond}
	if !cond.NeedsValue() {
		return op, nil
	}
	if _, ok := body["filter"]; !ok {
		return nil, dferrors.NewParseError(path+".filter", "required for condition %s", cond)
	}
	v, err := decodeLiteral(b.Filter, path+".filter")
	if err != nil {
		return nil, err
	}
	op.Value = &v
	return op, nil
}

func decodeGroupByTime(body map[string]any, path string) (Operation, error) {
	var b timeBucketBody
	if err := decodeBody(body, &b, path, "time_column", "every", "unit", "aggregate"); err != nil {
		return nil, err
	}
	if b.Every <= 0 {
		return nil, dferrors.NewParseError(path+".every", "must be positive, got %d", b.Every)
	}
	unit, ok := lookupName(b.Unit, timeUnits, strings.ToLower)
	if !ok {
		return nil, dferrors.NewParseError(path+".unit", "unknown time unit %q", b.Unit)
	}
	aggs, err := decodeAggregates(b.Aggregate, path+".aggregate")
	if err != nil {
		return nil, err
	}
	return &GroupByTime{Spec: TimeBucketSpec{
		TimeColumn:        b.TimeColumn,
		Every:             b.Every,
		Unit:              unit,
		OutputColumn:      b.OutputColumn,
		TimestampFormat:   b.TimestampFormat,
		TimestampTimezone: b.TimestampTimezone,
		Strict:            b.Strict,
		AdditionalGroups:  b.AdditionalGroups,
		Aggregates:        aggs,
	}}, nil
}

func decodeSort(body map[string]any, path string) (Operation, error) {
	var b sortBody
	if err := decodeBody(body, &b, path, "column"); err != nil {
		return nil, err
	}
	op := &Sort{Column: b.Column, Limit: b.Limit}
	switch strings.ToLower(strings.TrimSpace(b.Order)) {
	case "", "asc":
	case "desc":
		op.Descending = true
	default:
		return nil, dferrors.NewParseError(path+".order", "expected asc or desc, got %q", b.Order)
	}
	if b.Limit != nil && *b.Limit < 0 {
		return nil, dferrors.NewParseError(path+".limit", "must not be negative, got %d", *b.Limit)
	}
	return op, nil
}

func decodeSelfJoin(body map[string]any, path string) (Operation, error) {
	var b joinBody
	if err := decodeBody(body, &b, path, "how"); err != nil {
		return nil, err
	}
	how, ok := lookupName(b.How, joinTypes, strings.ToLower)
	if !ok {
		return nil, dferrors.NewParseError(path+".how", "unknown join type %q", b.How)
	}
	op := &SelfJoin{LeftOn: b.LeftOn, RightOn: b.RightOn, How: how, Suffix: DefaultJoinSuffix}
	if b.Suffix != nil {
		if *b.Suffix == "" {
			return nil, dferrors.NewParseError(path+".suffix", "must not be empty")
		}
		op.Suffix = *b.Suffix
	}
	return op, nil
}

func decodeWindow(body map[string]any, path string) (Operation, error) {
	var b windowBody
	if err := decodeBody(body, &b, path, "column", "function", "name"); err != nil {
		return nil, err
	}
	if len(b.Descending) > len(b.OrderBy) {
		return nil, dferrors.NewParseError(path+".descending",
			"has %d entries but order_by has %d", len(b.Descending), len(b.OrderBy))
	}
	fn, err := decodeWindowFunction(b.Function, path+".function")
	if err != nil {
		return nil, err
	}
	spec := WindowSpec{
		Column:      b.Column,
		Function:    fn,
		PartitionBy: b.PartitionBy,
		OrderBy:     b.OrderBy,
		Descending:  b.Descending,
		Name:        b.Name,
	}
	if b.Bounds != nil {
		if b.Bounds.Preceding < 0 || b.Bounds.Following < 0 {
			return nil, dferrors.NewParseError(path+".bounds", "preceding and following must not be negative")
		}
		spec.Bounds = &Bounds{Preceding: b.Bounds.Preceding, Following: b.Bounds.Following}
	}
	return &Window{Spec: spec}, nil
}

func decodeWindowFunction(raw any, path string) (WindowFunction, error) {
	table, ok := raw.(map[string]any)
	if !ok {
		return WindowFunction{}, dferrors.NewParseError(path, "expected a table with a type, got %s", describe(raw))
	}
	var b windowFunctionBody
	if err := decodeBody(table, &b, path, "type"); err != nil {
		return WindowFunction{}, err
	}
	name, ok := lookupName(b.Type, windowFunctions, strings.ToLower)
	if !ok {
		return WindowFunction{}, dferrors.NewParseError(path+".type", "unknown window function %q", b.Type)
	}
	fn := WindowFunction{Type: name, Offset: 1}
	if b.Params == nil {
		return fn, nil
	}
	if b.Params.Offset != nil {
		if *b.Params.Offset <= 0 {
			return fn, dferrors.NewParseError(path+".params.offset", "must be positive, got %d", *b.Params.Offset)
		}
		fn.Offset = *b.Params.Offset
	}
	if b.Params.DefaultValue != nil {
		v, err := decodeLiteral(b.Params.DefaultValue, path+".params.default_value")
		if err != nil {
			return fn, err
		}
		fn.DefaultValue = &v
	}
	return fn, nil
}

func decodeAggregates(raw []any, path string) ([]Aggregate, error) {
	out := make([]Aggregate, len(raw))
	for i, item := range raw {
		apath := fmt.Sprintf("%s[%d]", path, i)
		table, ok := item.(map[string]any)
		if !ok {
			return nil, dferrors.NewParseError(apath, "expected a table, got %s", describe(item))
		}
		var b aggregateBody
		if err := decodeBody(table, &b, apath, "column", "function"); err != nil {
			return nil, err
		}
		fn, err := decodeAggFunction(b.Function, apath+".function")
		if err != nil {
			return nil, err
		}
		out[i] = Aggregate{Column: b.Column, Function: fn, Alias: b.Alias}
	}
	return out, nil
}

// decodeAggFunction accepts "SUM" or, for STD and VAR, { STD = <ddof> }.
func decodeAggFunction(raw any, path string) (AggFunction, error) {
	switch v := raw.(type) {
	case string:
		name, ok := lookupName(v, aggregateFunctions, strings.ToUpper)
		if !ok {
			return AggFunction{}, dferrors.NewParseError(path, "unknown aggregate function %q", v)
		}
		return AggFunction{Name: name}, nil
	case map[string]any:
		if len(v) != 1 {
			return AggFunction{}, dferrors.NewParseError(path, "expected a single function entry, got %d", len(v))
		}
		for key, arg := range v {
			name, ok := lookupName(key, aggregateFunctions, strings.ToUpper)
			if !ok {
				return AggFunction{}, dferrors.NewParseError(path, "unknown aggregate function %q", key)
			}
			if name != "STD" && name != "VAR" {
				return AggFunction{}, dferrors.NewParseError(path+"."+key, "%s takes no parameter", name)
			}
			ddof, ok := arg.(int64)
			if !ok || ddof < 0 {
				return AggFunction{}, dferrors.NewParseError(path+"."+key, "ddof must be a non-negative integer, got %s", describe(arg))
			}
			d := int(ddof)
			return AggFunction{Name: name, Ddof: &d}, nil
		}
	}
	return AggFunction{}, dferrors.NewParseError(path, "expected a function name, got %s", describe(raw))
}

var expressionTypes = []string{"Column", "Literal", "BinaryOp", "Function", "Conditional"}

func decodeExpression(raw any, path string) (Expression, error) {
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, dferrors.NewParseError(path, "expected an expression table, got %s", describe(raw))
	}
	tag, body, err := splitTag(table, path)
	if err != nil {
		return nil, err
	}
	kind, ok := lookupName(tag, expressionTypes, strings.ToLower)
	if !ok {
		return nil, dferrors.NewParseError(path+".type", "unknown expression type %q", tag)
	}

	switch kind {
	case "Column":
		var b struct {
			Value string `mapstructure:"value"`
		}
		if err := decodeBody(body, &b, path, "value"); err != nil {
			return nil, err
		}
		return &Column{Name: b.Value}, nil
	case "Literal":
		var b struct {
			Value any `mapstructure:"value"`
		}
		if err := decodeBody(body, &b, path); err != nil {
			return nil, err
		}
		v, err := decodeLiteral(b.Value, path+".value")
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil
	case "BinaryOp":
		var b struct {
			Left  any    `mapstructure:"left"`
			Op    string `mapstructure:"op"`
			Right any    `mapstructure:"right"`
		}
		if err := decodeBody(body, &b, path, "left", "op", "right"); err != nil {
			return nil, err
		}
		left, err := decodeExpression(b.Left, path+".left")
		if err != nil {
			return nil, err
		}
		right, err := decodeExpression(b.Right, path+".right")
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Left: left, Op: Operator(strings.ToUpper(strings.TrimSpace(b.Op))), Right: right}, nil
	case "Function":
		return decodeFunction(body, path)
	default: // Conditional
		var b struct {
			Condition any `mapstructure:"condition"`
			Then      any `mapstructure:"then"`
			Otherwise any `mapstructure:"otherwise"`
		}
		if err := decodeBody(body, &b, path, "condition", "then", "otherwise"); err != nil {
			return nil, err
		}
		c := &Conditional{}
		for _, part := range []struct {
			raw  any
			name string
			dst  *Expression
		}{{b.Condition, "condition", &c.Condition}, {b.Then, "then", &c.Then}, {b.Otherwise, "otherwise", &c.Otherwise}} {
			e, err := decodeExpression(part.raw, path+"."+part.name)
			if err != nil {
				return nil, err
			}
			*part.dst = e
		}
		return c, nil
	}
}

// decodeFunction accepts { name = "ABS", args = [...] } and the named form
// { name = { ABS = { column = "x" } } }.
func decodeFunction(body map[string]any, path string) (Expression, error) {
	var b struct {
		Name any   `mapstructure:"name"`
		Args []any `mapstructure:"args"`
	}
	if err := decodeBody(body, &b, path, "name"); err != nil {
		return nil, err
	}

	switch name := b.Name.(type) {
	case string:
		fn := &Function{Name: strings.ToUpper(strings.TrimSpace(name)), Args: make([]Expression, len(b.Args))}
		for i, a := range b.Args {
			e, err := decodeExpression(a, fmt.Sprintf("%s.args[%d]", path, i))
			if err != nil {
				return nil, err
			}
			fn.Args[i] = e
		}
		return fn, nil
	case map[string]any:
		if len(name) != 1 {
			return nil, dferrors.NewParseError(path+".name", "expected a single function entry, got %d", len(name))
		}
		if _, ok := body["args"]; ok {
			return nil, dferrors.NewParseError(path+".args", "cannot be combined with named parameters")
		}
		for key, raw := range name {
			ppath := path + ".name." + key
			params, ok := raw.(map[string]any)
			if !ok {
				return nil, dferrors.NewParseError(ppath, "expected a table of parameters, got %s", describe(raw))
			}
			fn := &Function{Name: strings.ToUpper(strings.TrimSpace(key)), Named: make(map[string]Expression, len(params))}
			for param, value := range params {
				e, err := decodeParam(value, ppath+"."+param)
				if err != nil {
					return nil, err
				}
				fn.Named[param] = e
			}
			return fn, nil
		}
	}
	return nil, dferrors.NewParseError(path+".name", "expected a function name, got %s", describe(b.Name))
}

// decodeParam reads a named parameter: an expression table or a literal.
func decodeParam(raw any, path string) (Expression, error) {
	if table, ok := raw.(map[string]any); ok {
		if _, tagged := table["type"]; tagged {
			return decodeExpression(table, path)
		}
	}
	v, err := decodeLiteral(raw, path)
	if err != nil {
		return nil, err
	}
	return &Literal{Value: v}, nil
}

func decodeLiteral(raw any, path string) (LiteralValue, error) {
	switch v := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(v), nil
	case int64:
		return IntegerValue(v), nil
	case float64:
		return FloatValue(v), nil
	case bool:
		return BooleanValue(v), nil
	case localDate:
		return DateValue(v.Time), nil
	case time.Time:
		return DateTimeValue(v), nil
	case []any:
		return decodeList(v, path)
	case map[string]any:
		return decodeTemporal(v, path)
	}
	return LiteralValue{}, dferrors.NewParseError(path, "unsupported literal %s", describe(raw))
}

func decodeList(items []any, path string) (LiteralValue, error) {
	if len(items) == 0 {
		return LiteralValue{}, dferrors.NewParseError(path, "cannot infer the element type of an empty list")
	}
	var strs []string
	var ints []int64
	var floats []float64
	hasFloat := false
	for i, item := range items {
		switch v := item.(type) {
		case string:
			strs = append(strs, v)
		case int64:
			ints = append(ints, v)
			floats = append(floats, float64(v))
		case float64:
			hasFloat = true
			floats = append(floats, v)
		default:
			return LiteralValue{}, dferrors.NewParseError(fmt.Sprintf("%s[%d]", path, i), "unsupported list element %s", describe(item))
		}
	}
	switch {
	case len(strs) == len(items):
		return StringList(strs), nil
	case len(strs) > 0:
		return LiteralValue{}, dferrors.NewParseError(path, "list mixes strings and numbers")
	case hasFloat:
		return FloatList(floats), nil
	default:
		return IntegerList(ints), nil
	}
}

// decodeTemporal reads { date = "2024-01-31" } or { datetime = "..." }.
func decodeTemporal(table map[string]any, path string) (LiteralValue, error) {
	if len(table) != 1 {
		return LiteralValue{}, dferrors.NewParseError(path, "expected a date or datetime table")
	}
	for key, raw := range table {
		switch key {
		case "date":
			switch v := raw.(type) {
			case localDate:
				return DateValue(v.Time), nil
			case time.Time:
				return DateValue(v), nil
			case string:
				t, err := time.Parse(time.DateOnly, v)
				if err != nil {
					return LiteralValue{}, &dferrors.ParseError{Path: path + ".date", Message: "invalid date", Cause: err}
				}
				return DateValue(t), nil
			}
		case "datetime":
			switch v := raw.(type) {
			case time.Time:
				return DateTimeValue(v), nil
			case localDate:
				return DateTimeValue(v.Time), nil
			case string:
				t, err := parseDateTime(v)
				if err != nil {
					return LiteralValue{}, &dferrors.ParseError{Path: path + ".datetime", Message: "invalid datetime", Cause: err}
				}
				return DateTimeValue(t), nil
			}
		default:
			return LiteralValue{}, dferrors.NewParseError(path+"."+key, "unknown literal table key")
		}
		return LiteralValue{}, dferrors.NewParseError(path+"."+key, "expected a string, got %s", describe(raw))
	}
	return LiteralValue{}, nil
}

func parseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if local, lerr := time.ParseInLocation(layout, s, time.UTC); lerr == nil {
			return local, nil
		}
	}
	return time.Time{}, err
}

// splitTag separates the "type" discriminator from the rest of a table.
func splitTag(table map[string]any, path string) (string, map[string]any, error) {
	raw, ok := table["type"]
	if !ok {
		return "", nil, dferrors.NewParseError(path+".type", "missing type")
	}
	tag, ok := raw.(string)
	if !ok {
		return "", nil, dferrors.NewParseError(path+".type", "expected a string, got %s", describe(raw))
	}
	body := make(map[string]any, len(table)-1)
	for k, v := range table {
		if k != "type" {
			body[k] = v
		}
	}
	return tag, body, nil
}

// decodeBody decodes a table into out, rejecting keys out does not declare
// and keys in required that the table lacks.
func decodeBody(body map[string]any, out any, path string, required ...string) error {
	for _, key := range required {
		if _, ok := body[key]; !ok {
			return dferrors.NewParseError(join(path, key), "required")
		}
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: &md,
		Result:   out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(body); err != nil {
		return &dferrors.ParseError{Path: path, Message: "invalid field", Cause: err}
	}
	if len(md.Unused) > 0 {
		slices.Sort(md.Unused)
		return dferrors.NewParseError(join(path, md.Unused[0]), "unknown field")
	}
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
