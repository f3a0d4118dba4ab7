//nolint:testpackage // requires internal access to unexported types and functions
package pipeline

import (
	"errors"
	"testing"
	"time"

	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requestPipeline = `
[[operations]]
type = "Filter"
column = "status_code"
condition = "GTE"
filter = 400

[[operations]]
type = "WithColumn"
name = "slow"
expression = { type = "BinaryOp", left = { type = "Column", value = "response_time_ms" }, op = "GT", right = { type = "Literal", value = 100 } }

[[operations]]
type = "GroupBy"
columns = ["endpoint"]
aggregate = [
  { column = "request_id", function = "COUNT" },
  { column = "response_time_ms", function = { STD = 0 }, alias = "jitter" },
]

[[operations]]
type = "Sort"
column = "request_id_COUNT"
order = "DESC"
limit = 10

[[operations]]
type = "Rename"
mappings = [{ old_name = "endpoint", new_name = "path" }]
`

func TestDecodeTOML(t *testing.T) {
	p, err := Decode([]byte(requestPipeline), FormatTOML)
	require.NoError(t, err)
	require.Equal(t, 5, p.Len())

	filter, ok := p.Operations[0].(*Filter)
	require.True(t, ok)
	assert.Equal(t, "status_code", filter.Column)
	assert.Equal(t, CondGte, filter.Condition)
	assert.Equal(t, IntegerValue(400), *filter.Value)

	with := p.Operations[1].(*WithColumn)
	assert.Equal(t, "slow", with.Name)
	assert.Equal(t, "(col(response_time_ms) GT 100)", with.Expression.String())

	group := p.Operations[2].(*GroupBy)
	assert.Equal(t, []string{"endpoint"}, group.Columns)
	require.Len(t, group.Aggregates, 2)
	assert.Equal(t, "request_id_COUNT", group.Aggregates[0].OutputName())
	assert.Equal(t, "STD", group.Aggregates[1].Function.Name)
	require.NotNil(t, group.Aggregates[1].Function.Ddof)
	assert.Equal(t, 0, *group.Aggregates[1].Function.Ddof)
	assert.Equal(t, "jitter", group.Aggregates[1].OutputName())

	sort := p.Operations[3].(*Sort)
	assert.True(t, sort.Descending)
	require.NotNil(t, sort.Limit)
	assert.Equal(t, 10, *sort.Limit)

	rename := p.Operations[4].(*Rename)
	assert.Equal(t, []ColumnRename{{OldName: "endpoint", NewName: "path"}}, rename.Mappings)
}

func TestDecodeWindowAndTimeBucket(t *testing.T) {
	doc := `
[[operations]]
type = "Window"
column = "latency"
partition_by = ["endpoint"]
order_by = ["ts", "latency"]
descending = [true]
function = { type = "Lag", params = { offset = 2, default_value = 0 } }
bounds = { preceding = 3 }
name = "prev_latency"

[[operations]]
type = "GroupByTime"
time_column = "ts"
every = 5
unit = "minutes"
timestamp_format = "%Y-%m-%d %H:%M:%S"
timestamp_timezone = "Europe/Berlin"
additional_groups = ["endpoint"]
aggregate = [{ column = "latency", function = "MEAN" }]
`
	p, err := Decode([]byte(doc), FormatTOML)
	require.NoError(t, err)

	win := p.Operations[0].(*Window).Spec
	assert.Equal(t, "lag", win.Function.Type)
	assert.Equal(t, 2, win.Function.Offset)
	assert.Equal(t, IntegerValue(0), *win.Function.DefaultValue)
	assert.True(t, win.IsDescending(0))
	assert.False(t, win.IsDescending(1))
	assert.Equal(t, &Bounds{Preceding: 3}, win.Bounds)

	bucket := p.Operations[1].(*GroupByTime).Spec
	assert.Equal(t, "Minutes", bucket.Unit)
	assert.Equal(t, 5, bucket.Every)
	assert.Equal(t, []string{"ts", "endpoint"}, bucket.GroupKeys())
	assert.Equal(t, "Europe/Berlin", bucket.TimestampTimezone)
}

func TestDecodeNamedFunctionParameters(t *testing.T) {
	doc := `
[[operations]]
type = "WithColumn"
name = "clean"
expression = { type = "Function", name = { REPLACE = { column = "path", pattern = "/+$", replacement = "", all = true } } }
`
	p, err := Decode([]byte(doc), FormatTOML)
	require.NoError(t, err)

	fn := p.Operations[0].(*WithColumn).Expression.(*Function)
	assert.True(t, fn.IsNamed())
	assert.Equal(t, "REPLACE", fn.Name)
	assert.Equal(t, &Literal{Value: StringValue("path")}, fn.Named["column"])
	assert.Equal(t, &Literal{Value: BooleanValue(true)}, fn.Named["all"])
}

func TestDecodeLiterals(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want LiteralValue
	}{
		{"native date", `[[operations]]
type = "Filter"
column = "day"
condition = "GT"
filter = 2024-01-31`, DateValue(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))},
		{"native datetime", `[[operations]]
type = "Filter"
column = "ts"
condition = "LT"
filter = 2024-01-31T10:00:00.123456+02:00`, DateTimeValue(time.Date(2024, 1, 31, 8, 0, 0, 123000000, time.UTC))},
		{"native local datetime", `[[operations]]
type = "Filter"
column = "ts"
condition = "GTE"
filter = 2024-01-31T10:00:00`, DateTimeValue(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC))},
		{"date table", `[[operations]]
type = "Filter"
column = "day"
condition = "EQ"
filter = { date = "2024-02-29" }`, DateValue(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))},
		{"integer list", `[[operations]]
type = "Filter"
column = "status"
condition = "EQ"
filter = [200, 204]`, IntegerList([]int64{200, 204})},
		{"promoted float list", `[[operations]]
type = "Filter"
column = "ratio"
condition = "NEQ"
filter = [1, 2.5]`, FloatList([]float64{1, 2.5})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.doc), FormatTOML)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *p.Operations[0].(*Filter).Value)
		})
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	yamlDoc := `
operations:
  - type: Filter
    column: day
    condition: GTE
    filter: 2024-03-01
  - type: Select
    columns: [day, total]
  - type: SelfJoin
    how: left
    left_on: [id]
    right_on: [parent_id]
`
	p, err := Decode([]byte(yamlDoc), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())
	assert.Equal(t, DateValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), *p.Operations[0].(*Filter).Value)
	join := p.Operations[2].(*SelfJoin)
	assert.Equal(t, JoinLeft, join.How)
	assert.Equal(t, DefaultJoinSuffix, join.Suffix)

	jsonDoc := `{"operations": [
		{"type": "Filter", "column": "ts", "condition": "LT", "filter": {"datetime": "2024-01-31T10:00:00Z"}},
		{"type": "WithColumn", "expression": {"type": "Literal"}},
		{"type": "Pivot", "index": ["region"], "columns": "quarter", "values": "amount", "aggregate_function": "sum"}
	]}`
	p, err = Decode([]byte(jsonDoc), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, DateTimeValue(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)), *p.Operations[0].(*Filter).Value)
	assert.Equal(t, &Literal{Value: NullValue()}, p.Operations[1].(*WithColumn).Expression)
	assert.Equal(t, AggFunction{Name: "SUM"}, p.Operations[2].(*Pivot).Function)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"unknown operation", `[[operations]]
type = "Explode"`, "operations[0].type"},
		{"unknown field", `[[operations]]
type = "Select"
columns = ["a"]
colums = ["b"]`, "operations[0].colums"},
		{"missing filter value", `[[operations]]
type = "Filter"
column = "a"
condition = "GT"`, "operations[0].filter"},
		{"bad condition", `[[operations]]
type = "Filter"
column = "a"
condition = "LIKE"
filter = "x"`, "operations[0].condition"},
		{"unknown window function", `[[operations]]
type = "Select"
columns = ["a"]

[[operations]]
type = "Select"
columns = ["a"]

[[operations]]
type = "Window"
column = "a"
name = "m"
function = { type = "median" }`, "operations[2].function.type"},
		{"too many directions", `[[operations]]
type = "Window"
column = "a"
name = "r"
order_by = ["a"]
descending = [true, false]
function = { type = "rank" }`, "operations[0].descending"},
		{"mixed list", `[[operations]]
type = "Filter"
column = "a"
condition = "EQ"
filter = ["x", 1]`, "operations[0].filter"},
		{"nested expression", `[[operations]]
type = "WithColumn"
expression = { type = "BinaryOp", left = { type = "Column" }, op = "ADD", right = { type = "Literal", value = 1 } }`, "operations[0].expression.left.value"},
		{"ddof on sum", `[[operations]]
type = "GroupBy"
columns = ["a"]
aggregate = [{ column = "b", function = { SUM = 1 } }]`, "operations[0].aggregate[0].function.SUM"},
		{"zero every", `[[operations]]
type = "GroupByTime"
time_column = "ts"
every = 0
unit = "Hours"
aggregate = []`, "operations[0].every"},
		{"bounds typo", `[[operations]]
type = "Window"
column = "a"
name = "s"
function = { type = "sum" }
bounds = { preceeding = 1 }`, "operations[0].bounds.preceeding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc), FormatTOML)
			require.Error(t, err)

			var parseErr *dferrors.ParseError
			require.True(t, errors.As(err, &parseErr), err.Error())
			assert.Equal(t, tt.path, parseErr.Path)
			assert.Equal(t, dferrors.KindParse, dferrors.KindOf(err))
		})
	}
}

func TestDecodeWindowFunctionMessage(t *testing.T) {
	_, err := Decode([]byte(`[[operations]]
type = "Window"
column = "a"
name = "m"
function = { type = "median" }`), FormatTOML)
	require.Error(t, err)
	assert.Equal(t, `parse error at operations[0].function.type: unknown window function "median"`, err.Error())
}

func TestDecodeEmptyAndInvalidDocuments(t *testing.T) {
	p, err := Decode([]byte(`title = "nothing to do"`), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())

	_, err = Decode([]byte(`operations = "Filter"`), FormatTOML)
	assert.Error(t, err)

	_, err = Decode([]byte(`{"operations": [`), FormatJSON)
	assert.Equal(t, dferrors.KindParse, dferrors.KindOf(err))
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{
		"job.toml": FormatTOML,
		"job.yml":  FormatYAML,
		"job.YAML": FormatYAML,
		"job.json": FormatJSON,
	} {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := FormatFromPath("job")
	assert.Error(t, err)
	_, err = FormatFromPath("job.ini")
	assert.Error(t, err)
}
