package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paveg/pipeframe/internal/config"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	dfio "github.com/paveg/pipeframe/internal/io"
	"github.com/paveg/pipeframe/internal/pipeline"
	"github.com/paveg/pipeframe/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobTOML = `
[input]
path = "logs.jsonl"

[output]
destination = "file"
path = "out.parquet"
compression = "zstd"

[schema]
columns = [
  { name = "status_code", dtype = "Int64", required = true, min = 100, max = 599 },
  { name = "endpoint", allow = ["/a", "/b"] },
]

[engine]
parallel_threshold = 5000
worker_pool_size = 2

[logging]
level = "debug"
format = "json"

[[operations]]
type = "Filter"
column = "status_code"
condition = "GTE"
filter = 400

[[operations]]
type = "Select"
columns = ["endpoint", "status_code"]
`

func TestConfig_DefaultValues(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, config.DefaultParallelThreshold, cfg.Engine.ParallelThreshold)
	assert.Equal(t, 0, cfg.Engine.WorkerPoolSize) // 0 means one worker per CPU
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "logfmt", cfg.Logging.Format)
	assert.Equal(t, ",", cfg.Input.Delimiter)
	assert.True(t, cfg.Input.HasHeader)
	assert.Nil(t, cfg.Schema)
	require.NotNil(t, cfg.Pipeline)
	assert.Equal(t, 0, cfg.Pipeline.Len())
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load([]byte(jobTOML), pipeline.FormatTOML)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "logs.jsonl", cfg.Input.Path)
	assert.True(t, cfg.Input.HasHeader, "defaults survive partial sections")
	assert.Equal(t, "zstd", cfg.Output.Compression)
	assert.Equal(t, 5000, cfg.Engine.ParallelThreshold)
	assert.Equal(t, 2, cfg.Engine.WorkerPoolSize)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.NotNil(t, cfg.Schema)
	require.Len(t, cfg.Schema.Columns, 2)
	status := cfg.Schema.Columns[0]
	assert.True(t, status.Required)
	require.NotNil(t, status.Min)
	require.NotNil(t, status.Max)
	assert.InDelta(t, 100, *status.Min, 0)
	assert.InDelta(t, 599, *status.Max, 0)
	assert.Equal(t, []any{"/a", "/b"}, cfg.Schema.Columns[1].Allow)

	require.Equal(t, 2, cfg.Pipeline.Len())
	assert.Equal(t, pipeline.TypeFilter, cfg.Pipeline.Operations[0].OpType())
	assert.Equal(t, pipeline.TypeSelect, cfg.Pipeline.Operations[1].OpType())
}

func TestLoadFormats(t *testing.T) {
	yamlDoc := `
input:
  path: in.csv
  delimiter: ";"
output:
  destination: stdout
  format: jsonl
operations:
  - type: Select
    columns: [a]
`
	jsonDoc := `{
  "input": {"path": "in.csv", "delimiter": ";"},
  "output": {"destination": "stdout", "format": "jsonl"},
  "operations": [{"type": "Select", "columns": ["a"]}]
}`

	dir := t.TempDir()
	for name, doc := range map[string]string{"job.yaml": yamlDoc, "job.json": jsonDoc} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

			cfg, err := config.LoadFromFile(path)
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			in := cfg.InputOptions(nil)
			assert.Equal(t, ';', in.Delimiter)
			assert.Equal(t, "in.csv", in.Path)

			out := cfg.OutputOptions()
			assert.Equal(t, dfio.DestinationStdout, out.Destination)
			assert.Equal(t, "jsonl", out.Format)
			assert.Equal(t, 1, cfg.Pipeline.Len())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{name: "unknown section", doc: "[inputs]\npath = \"x.csv\"\n", path: "inputs"},
		{name: "unknown field", doc: "[input]\npath = \"x.csv\"\nheader = true\n", path: "input.header"},
		{name: "section is not a table", doc: "engine = 3\n", path: "engine"},
		{name: "wrong field type", doc: "[engine]\nparallel_threshold = \"many\"\n", path: "engine"},
		{name: "bad operation", doc: "[[operations]]\ntype = \"Explode\"\ncolumn = \"a\"\n", path: "operations[0].type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load([]byte(tt.doc), pipeline.FormatTOML)
			require.Error(t, err)
			var pe *dferrors.ParseError
			require.True(t, errors.As(err, &pe), "got %T: %v", err, err)
			assert.Contains(t, pe.Path, tt.path)
		})
	}

	_, err := config.LoadFromFile("job.ini")
	require.Error(t, err)

	_, err = config.LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(*config.Config)
		expectedError string
	}{
		{
			name:   "valid config",
			modify: func(*config.Config) {},
		},
		{
			name:          "negative parallel threshold",
			modify:        func(c *config.Config) { c.Engine.ParallelThreshold = -1 },
			expectedError: "engine.parallel_threshold must be positive, got -1",
		},
		{
			name:          "negative worker pool size",
			modify:        func(c *config.Config) { c.Engine.WorkerPoolSize = -1 },
			expectedError: "engine.worker_pool_size must be non-negative, got -1",
		},
		{
			name:          "unknown log level",
			modify:        func(c *config.Config) { c.Logging.Level = "verbose" },
			expectedError: `logging.level must be one of debug, info, warn, error, got "verbose"`,
		},
		{
			name:          "unknown log format",
			modify:        func(c *config.Config) { c.Logging.Format = "xml" },
			expectedError: `logging.format must be logfmt or json, got "xml"`,
		},
		{
			name:          "file output without path",
			modify:        func(c *config.Config) { c.Output.Destination = "file" },
			expectedError: "output.path is required for a file destination",
		},
		{
			name:          "unknown destination",
			modify:        func(c *config.Config) { c.Output.Destination = "s3" },
			expectedError: `output.destination must be one of file, stdout, stderr, got "s3"`,
		},
		{
			name:          "output extension without format",
			modify:        func(c *config.Config) { c.Output.Path = "out.xlsx" },
			expectedError: "output.format",
		},
		{
			name:          "unknown input format",
			modify:        func(c *config.Config) { c.Input.Format = "xml" },
			expectedError: "input.format",
		},
		{
			name:          "long delimiter",
			modify:        func(c *config.Config) { c.Input.Delimiter = "||" },
			expectedError: `input.delimiter must be a single character, got "||"`,
		},
		{
			name: "unknown schema dtype",
			modify: func(c *config.Config) {
				c.Schema = &validation.Schema{Columns: []validation.Column{{Name: "a", DType: "decimal"}}}
			},
			expectedError: `schema.columns[0].dtype: unknown dtype "decimal"`,
		},
		{
			name: "inverted range",
			modify: func(c *config.Config) {
				lo, hi := 5.0, 1.0
				c.Schema = &validation.Schema{Columns: []validation.Column{{Name: "a", Min: &lo, Max: &hi}}}
			},
			expectedError: "schema.columns[0]: min 5 is greater than max 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.expectedError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "warn")
	t.Setenv(config.EnvLogFormat, "json")
	t.Setenv(config.EnvParallelThreshold, "250")
	t.Setenv(config.EnvWorkerPoolSize, "3")

	cfg := config.NewConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 250, cfg.Engine.ParallelThreshold)
	assert.Equal(t, 3, cfg.Engine.WorkerPoolSize)

	t.Setenv(config.EnvWorkerPoolSize, "lots")
	err := cfg.LoadFromEnv()
	require.EqualError(t, err, `PIPEFRAME_WORKER_POOL_SIZE: invalid integer "lots"`)
}

func TestOutputDestinationDefaults(t *testing.T) {
	cfg := config.NewConfig()
	assert.Equal(t, dfio.DestinationStdout, cfg.OutputOptions().Destination)

	cfg.Output.Path = "out.csv"
	assert.Equal(t, dfio.DestinationFile, cfg.OutputOptions().Destination)
}

func TestWarnings(t *testing.T) {
	cfg := config.NewConfig()
	assert.Contains(t, cfg.Warnings(), "no operations declared, the input is written unchanged")

	cfg.Engine.WorkerPoolSize = 1 << 16
	warnings := cfg.Warnings()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "exceeds 2x CPU count")
}
