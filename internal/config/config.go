// Package config loads the job document that drives a pipeframe run: where
// to read and write, the schema the result must satisfy, engine and logging
// settings, and the operations to apply.
package config

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-viper/mapstructure/v2"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	dfio "github.com/paveg/pipeframe/internal/io"
	"github.com/paveg/pipeframe/internal/logging"
	"github.com/paveg/pipeframe/internal/pipeline"
	"github.com/paveg/pipeframe/internal/validation"
)

// Default configuration values
const (
	DefaultParallelThreshold = 10000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = logging.FormatLogfmt
)

// Environment variables applied by LoadFromEnv.
const (
	EnvLogLevel          = "PIPEFRAME_LOG_LEVEL"
	EnvLogFormat         = "PIPEFRAME_LOG_FORMAT"
	EnvParallelThreshold = "PIPEFRAME_PARALLEL_THRESHOLD"
	EnvWorkerPoolSize    = "PIPEFRAME_WORKER_POOL_SIZE"
)

// Config is a job document.
type Config struct {
	Input   InputConfig        `mapstructure:"input"`
	Output  OutputConfig       `mapstructure:"output"`
	Schema  *validation.Schema `mapstructure:"schema"`
	Engine  EngineConfig       `mapstructure:"engine"`
	Logging LoggingConfig      `mapstructure:"logging"`

	// Pipeline holds the decoded operations.
	Pipeline *pipeline.Pipeline `mapstructure:"-"`
}

// InputConfig locates the input frame.
type InputConfig struct {
	Path      string `mapstructure:"path"`
	Format    string `mapstructure:"format"` // inferred from the extension when empty
	Delimiter string `mapstructure:"delimiter"`
	HasHeader bool   `mapstructure:"has_header"`
}

// OutputConfig locates the result.
type OutputConfig struct {
	Destination string `mapstructure:"destination"` // file, stdout or stderr
	Path        string `mapstructure:"path"`
	Format      string `mapstructure:"format"`
	Compression string `mapstructure:"compression"`
	Delimiter   string `mapstructure:"delimiter"`
}

// EngineConfig tunes evaluation.
type EngineConfig struct {
	ParallelThreshold int `mapstructure:"parallel_threshold"` // rows from which work uses the pool
	WorkerPoolSize    int `mapstructure:"worker_pool_size"`   // 0 = runtime.NumCPU()
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		Input: InputConfig{
			Delimiter: ",",
			HasHeader: true,
		},
		Engine: EngineConfig{
			ParallelThreshold: DefaultParallelThreshold,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Pipeline: &pipeline.Pipeline{},
	}
}

// LoadFromFile loads a job document, choosing TOML, YAML or JSON by
// extension. Fields the document omits keep their defaults.
func LoadFromFile(filename string) (Config, error) {
	format, err := pipeline.FormatFromPath(filename)
	if err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", filename, err)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}
	cfg, err := Load(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Load decodes a job document. Unknown sections and fields are
// ParseErrors naming their path.
func Load(data []byte, format pipeline.Format) (Config, error) {
	doc, err := pipeline.ParseDocument(data, format)
	if err != nil {
		return Config{}, err
	}

	cfg := NewConfig()
	sections := map[string]any{
		"input":   &cfg.Input,
		"output":  &cfg.Output,
		"engine":  &cfg.Engine,
		"logging": &cfg.Logging,
	}
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		raw := doc[key]
		switch key {
		case "operations":
			p, err := pipeline.FromOperations(raw)
			if err != nil {
				return Config{}, err
			}
			cfg.Pipeline = p
		case "schema":
			cfg.Schema = &validation.Schema{}
			if err := decodeSection(key, raw, cfg.Schema); err != nil {
				return Config{}, err
			}
		default:
			out, ok := sections[key]
			if !ok {
				return Config{}, dferrors.NewParseError(key, "unknown section")
			}
			if err := decodeSection(key, raw, out); err != nil {
				return Config{}, err
			}
		}
	}
	return cfg, nil
}

// decodeSection decodes one top-level table over the defaults in out.
func decodeSection(path string, raw, out any) error {
	if _, ok := raw.(map[string]any); !ok {
		return dferrors.NewParseError(path, "expected a table")
	}
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: &md,
		Result:   out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return &dferrors.ParseError{Path: path, Message: "invalid field", Cause: err}
	}
	if len(md.Unused) > 0 {
		slices.Sort(md.Unused)
		return dferrors.NewParseError(path+"."+md.Unused[0], "unknown field")
	}
	return nil
}

// LoadFromEnv applies the PIPEFRAME_* environment variables over c.
func (c *Config) LoadFromEnv() error {
	if val := os.Getenv(EnvLogLevel); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv(EnvLogFormat); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv(EnvParallelThreshold); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvParallelThreshold, val)
		}
		c.Engine.ParallelThreshold = parsed
	}
	if val := os.Getenv(EnvWorkerPoolSize); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvWorkerPoolSize, val)
		}
		c.Engine.WorkerPoolSize = parsed
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Input.Format != "" {
		if _, err := dfio.ParseFormat(c.Input.Format); err != nil {
			return fmt.Errorf("input.format: %w", err)
		}
	} else if c.Input.Path != "" {
		if _, err := dfio.FormatFromPath(c.Input.Path); err != nil {
			return fmt.Errorf("input.format: %w", err)
		}
	}
	if err := checkDelimiter("input.delimiter", c.Input.Delimiter); err != nil {
		return err
	}

	switch c.outputDestination() {
	case dfio.DestinationFile:
		if c.Output.Path == "" {
			return fmt.Errorf("output.path is required for a file destination")
		}
		if c.Output.Format == "" {
			if _, err := dfio.FormatFromPath(c.Output.Path); err != nil {
				return fmt.Errorf("output.format: %w", err)
			}
		}
	case dfio.DestinationStdout, dfio.DestinationStderr:
	default:
		return fmt.Errorf("output.destination must be one of file, stdout, stderr, got %q", c.Output.Destination)
	}
	if c.Output.Format != "" {
		if _, err := dfio.ParseFormat(c.Output.Format); err != nil {
			return fmt.Errorf("output.format: %w", err)
		}
	}
	if err := checkDelimiter("output.delimiter", c.Output.Delimiter); err != nil {
		return err
	}

	if c.Engine.ParallelThreshold <= 0 {
		return fmt.Errorf("engine.parallel_threshold must be positive, got %d", c.Engine.ParallelThreshold)
	}
	if c.Engine.WorkerPoolSize < 0 {
		return fmt.Errorf("engine.worker_pool_size must be non-negative, got %d", c.Engine.WorkerPoolSize)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if f := strings.ToLower(c.Logging.Format); f != logging.FormatLogfmt && f != logging.FormatJSON {
		return fmt.Errorf("logging.format must be logfmt or json, got %q", c.Logging.Format)
	}

	if c.Schema != nil {
		for i, col := range c.Schema.Columns {
			if col.Name == "" {
				return fmt.Errorf("schema.columns[%d].name is required", i)
			}
			if col.DType != "" && !validation.ValidDType(col.DType) {
				return fmt.Errorf("schema.columns[%d].dtype: unknown dtype %q", i, col.DType)
			}
			if col.Min != nil && col.Max != nil && *col.Min > *col.Max {
				return fmt.Errorf("schema.columns[%d]: min %v is greater than max %v", i, *col.Min, *col.Max)
			}
		}
	}
	return nil
}

func checkDelimiter(path, d string) error {
	if d != "" && utf8.RuneCountInString(d) != 1 {
		return fmt.Errorf("%s must be a single character, got %q", path, d)
	}
	return nil
}

// Warnings reports settings that are valid but likely unintended.
func (c *Config) Warnings() []string {
	var warnings []string
	cpus := runtime.NumCPU()
	if c.Engine.WorkerPoolSize > cpus*2 {
		warnings = append(warnings, fmt.Sprintf(
			"worker pool size (%d) exceeds 2x CPU count (%d), may cause contention",
			c.Engine.WorkerPoolSize, cpus))
	}
	if c.Pipeline == nil || c.Pipeline.Len() == 0 {
		warnings = append(warnings, "no operations declared, the input is written unchanged")
	}
	return warnings
}

// outputDestination defaults to a file when a path is set and stdout
// otherwise.
func (c *Config) outputDestination() string {
	d := strings.ToLower(c.Output.Destination)
	if d != "" {
		return d
	}
	if c.Output.Path != "" {
		return dfio.DestinationFile
	}
	return dfio.DestinationStdout
}

// InputOptions returns the reader options for the input section.
func (c *Config) InputOptions(mem memory.Allocator) dfio.InputOptions {
	return dfio.InputOptions{
		Path:      c.Input.Path,
		Format:    c.Input.Format,
		Delimiter: firstRune(c.Input.Delimiter),
		HasHeader: c.Input.HasHeader,
		Allocator: mem,
	}
}

// OutputOptions returns the writer options for the output section.
func (c *Config) OutputOptions() dfio.OutputOptions {
	return dfio.OutputOptions{
		Destination: c.outputDestination(),
		Path:        c.Output.Path,
		Format:      c.Output.Format,
		Compression: c.Output.Compression,
		Delimiter:   firstRune(c.Output.Delimiter),
	}
}

// LoggingOptions returns the logger options for the logging section.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Logging.Level, Format: c.Logging.Format}
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return 0
	}
	return r
}
